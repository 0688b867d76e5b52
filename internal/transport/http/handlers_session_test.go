package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"evault/internal/events"
	jwttoken "evault/internal/jwt_token"
	"evault/internal/ledger"
	"evault/internal/session/models"
	sessionservice "evault/internal/session/service"
	"evault/internal/session/store"
	"evault/pkg/domain"
)

type SessionHandlerSuite struct {
	suite.Suite
	ledger      *ledger.Ledger
	broadcaster *events.Broadcaster
	router      http.Handler
	jwt         *jwttoken.JWTService
	parent      domain.Identity
	token       string
}

func TestSessionHandlerSuite(t *testing.T) {
	suite.Run(t, new(SessionHandlerSuite))
}

func (s *SessionHandlerSuite) SetupTest() {
	logger := slog.New(slog.DiscardHandler)
	s.ledger = ledger.New()
	s.broadcaster = events.NewBroadcaster()
	s.parent = domain.Identity{0xAA, 0x01}
	s.ledger.Fund(s.parent, 10_000_000)

	svc := sessionservice.New(store.NewInMemoryStore(), s.ledger, "handler-test-kek",
		sessionservice.WithLogger(logger),
		sessionservice.WithBroadcaster(s.broadcaster),
	)
	s.jwt = jwttoken.NewJWTService("handler-test-secret", "evault", "evault-api")

	var err error
	s.token, err = s.jwt.GenerateAccessToken(s.parent.String(), time.Hour)
	s.Require().NoError(err)

	s.router = NewRouter(RouterConfig{
		Sessions:  NewHandler(svc, logger),
		Events:    NewEventsHandler(s.broadcaster),
		Validator: jwttoken.NewJWTServiceAdapter(s.jwt),
		Logger:    logger,
	})
}

func (s *SessionHandlerSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// createSession drives POST /session/create and returns the decoded result.
func (s *SessionHandlerSuite) createSession(maxDeposit uint64) CreateSessionResponse {
	w := s.do(http.MethodPost, "/session/create", s.token, CreateSessionRequest{
		DurationSeconds: 3600,
		MaxDeposit:      maxDeposit,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp CreateSessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (s *SessionHandlerSuite) TestAuthRequired() {
	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodPost, "/session/create"},
		{http.MethodPost, "/session/approve"},
		{http.MethodDelete, "/session/revoke"},
		{http.MethodGet, "/session/status"},
		{http.MethodPost, "/session/deposit"},
		{http.MethodPost, "/session/trade"},
	} {
		s.Run(tc.method+" "+tc.path, func() {
			w := s.do(tc.method, tc.path, "", nil)
			s.Equal(http.StatusUnauthorized, w.Code)
		})
	}
}

func (s *SessionHandlerSuite) TestCreate() {
	s.Run("returns the session and setup envelope", func() {
		resp := s.createSession(100_000)
		s.Equal(models.StatusCreated, resp.Session.Status)
		s.Equal(s.parent, resp.Session.ParentIdentity)
		s.Contains(resp.Session.Device, "Firefox")
		s.False(resp.Envelope.CreateVault.Vault.IsZero())
	})

	s.Run("rejects malformed body", func() {
		req := httptest.NewRequest(http.MethodPost, "/session/create", strings.NewReader("{not json"))
		req.Header.Set("Authorization", "Bearer "+s.token)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("rejects zero max_deposit", func() {
		w := s.do(http.MethodPost, "/session/create", s.token, CreateSessionRequest{
			DurationSeconds: 3600,
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *SessionHandlerSuite) TestLifecycleFlow() {
	created := s.createSession(100_000)
	id := created.Session.ID.String()

	w := s.do(http.MethodPost, "/session/approve", s.token, SessionIDRequest{SessionID: id})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var approved SessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &approved))
	s.Equal(models.StatusActive, approved.Session.Status)
	s.Require().NotNil(approved.Session.VaultRef)

	w = s.do(http.MethodPost, "/session/deposit", s.token, DepositRequest{
		SessionID: id, Trades: 2, Priority: "medium",
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var funded SessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &funded))
	s.Equal(uint64(20_000), funded.Session.TotalDeposited)

	w = s.do(http.MethodPost, "/session/trade", s.token, TradeRequest{SessionID: id, Fee: 10_000})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/session/status?session_id="+id, s.token, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var status SessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &status))
	s.Equal(uint64(10_000), status.Session.TotalSpent)

	w = s.do(http.MethodDelete, "/session/revoke", s.token, SessionIDRequest{SessionID: id})
	s.Require().Equal(http.StatusOK, w.Code)
	var revoked SessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &revoked))
	s.Equal(models.StatusRevoked, revoked.Session.Status)
}

func (s *SessionHandlerSuite) TestStatusHidesForeignSessions() {
	created := s.createSession(50_000)

	otherToken, err := s.jwt.GenerateAccessToken(domain.Identity{0xBB}.String(), time.Hour)
	s.Require().NoError(err)

	w := s.do(http.MethodGet, "/session/status?session_id="+created.Session.ID.String(), otherToken, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *SessionHandlerSuite) TestApproveUnfundedParent() {
	poor := domain.Identity{0xBB, 0x07}
	poorToken, err := s.jwt.GenerateAccessToken(poor.String(), time.Hour)
	s.Require().NoError(err)

	w := s.do(http.MethodPost, "/session/create", poorToken, CreateSessionRequest{
		DurationSeconds: 3600,
		MaxDeposit:      50_000,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var created CreateSessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &created))

	// No ledger balance means the vault rent cannot be paid.
	w = s.do(http.MethodPost, "/session/approve", poorToken, SessionIDRequest{
		SessionID: created.Session.ID.String(),
	})
	s.Equal(http.StatusConflict, w.Code)

	// Funding the account unblocks the retried approve.
	w = s.do(http.MethodPost, "/account/fund", poorToken, FundRequest{Amount: 25_000})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var funded FundResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &funded))
	s.Equal(poor, funded.Identity)
	s.Equal(uint64(25_000), funded.Balance)

	w = s.do(http.MethodPost, "/session/approve", poorToken, SessionIDRequest{
		SessionID: created.Session.ID.String(),
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var approved SessionResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &approved))
	s.Equal(models.StatusActive, approved.Session.Status)
}

func (s *SessionHandlerSuite) TestFund() {
	s.Run("rejects zero amount", func() {
		w := s.do(http.MethodPost, "/account/fund", s.token, FundRequest{})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("credits the authenticated parent", func() {
		before := s.ledger.BalanceOf(s.parent)
		w := s.do(http.MethodPost, "/account/fund", s.token, FundRequest{Amount: 7_500})
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

		var resp FundResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal(s.parent, resp.Identity)
		s.Equal(before+7_500, resp.Balance)
	})

	s.Run("requires auth", func() {
		w := s.do(http.MethodPost, "/account/fund", "", FundRequest{Amount: 1})
		s.Equal(http.StatusUnauthorized, w.Code)
	})
}

func (s *SessionHandlerSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"status":"ok"`)
}

func (s *SessionHandlerSuite) TestEventsStream() {
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/session/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+s.token)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.router.ServeHTTP(w, req)
	}()

	s.Eventually(func() bool { return s.broadcaster.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	s.broadcaster.Publish(events.SessionEvent{
		Type:    events.TypeCreated,
		Session: models.Session{ID: domain.NewSessionID()},
	})

	// Give the handler a beat to flush, then hang up.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.FailNow("events handler did not stop on disconnect")
	}

	body := w.Body.String()
	s.Contains(body, fmt.Sprintf("event: %s", events.TypeCreated))
	s.Contains(body, `"type":"created"`)
}
