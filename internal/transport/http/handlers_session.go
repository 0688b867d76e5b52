// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// the session service, and encode; business rules live below.
package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mssola/useragent"

	"evault/internal/deposit"
	"evault/internal/platform/middleware"
	"evault/internal/session/models"
	sessionservice "evault/internal/session/service"
	"evault/pkg/domain"
	dErrors "evault/pkg/domain-errors"
	"evault/pkg/platform/httputil"
	"evault/pkg/requestcontext"
)

// SessionService is the surface the handlers need from the session layer.
type SessionService interface {
	Create(ctx context.Context, p sessionservice.CreateParams) (*sessionservice.CreateResult, error)
	Activate(ctx context.Context, id domain.SessionID) (*models.Session, error)
	Revoke(ctx context.Context, id domain.SessionID, parent domain.Identity) (*models.Session, error)
	Get(ctx context.Context, id domain.SessionID) (*models.Session, error)
	ScheduleDeposit(ctx context.Context, id domain.SessionID, p sessionservice.DepositParams) (*models.Session, error)
	Trade(ctx context.Context, id domain.SessionID, fee uint64) (*models.Session, error)
	Fund(ctx context.Context, parent domain.Identity, amount uint64) (uint64, error)
}

// Handler handles the session endpoints.
type Handler struct {
	sessions SessionService
	logger   *slog.Logger
}

func NewHandler(sessions SessionService, logger *slog.Logger) *Handler {
	return &Handler{sessions: sessions, logger: logger}
}

// authedParent pulls the parent identity the auth middleware validated.
func (h *Handler) authedParent(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	raw := middleware.GetParentIdentity(r.Context())
	if raw == "" {
		h.logger.ErrorContext(r.Context(), "parent identity missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return domain.Identity{}, false
	}
	parent, err := domain.ParseIdentity(raw)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "malformed parent identity in token"))
		return domain.Identity{}, false
	}
	return parent, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parent, ok := h.authedParent(w, r)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.sessions.Create(ctx, sessionservice.CreateParams{
		Parent:     parent,
		Duration:   time.Duration(req.DurationSeconds) * time.Second,
		MaxDeposit: req.MaxDeposit,
		Device:     deviceLabel(requestcontext.UserAgent(ctx)),
	})
	if err != nil {
		h.writeServiceError(ctx, w, err, "create session")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, CreateSessionResponse{
		Session:  result.Session,
		Envelope: result.Envelope,
	})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parent, ok := h.authedParent(w, r)
	if !ok {
		return
	}

	id, ok := h.decodeSessionID(w, r)
	if !ok {
		return
	}
	if !h.requireParent(w, r, id, parent) {
		return
	}

	session, err := h.sessions.Activate(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, err, "activate session")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SessionResponse{Session: session})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parent, ok := h.authedParent(w, r)
	if !ok {
		return
	}

	id, ok := h.decodeSessionID(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Revoke(ctx, id, parent)
	if err != nil {
		h.writeServiceError(ctx, w, err, "revoke session")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SessionResponse{Session: session})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parent, ok := h.authedParent(w, r)
	if !ok {
		return
	}

	id, err := domain.ParseSessionID(r.URL.Query().Get("session_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid session_id"))
		return
	}

	session, err := h.sessions.Get(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, err, "get session")
		return
	}
	if session.ParentIdentity != parent {
		// Don't leak existence of other parents' sessions.
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SessionResponse{Session: session})
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parent, ok := h.authedParent(w, r)
	if !ok {
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	id, err := domain.ParseSessionID(req.SessionID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid session_id"))
		return
	}
	priority, err := deposit.ParsePriority(req.Priority)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.sessions.ScheduleDeposit(ctx, id, sessionservice.DepositParams{
		Parent:   parent,
		Trades:   req.Trades,
		Priority: priority,
	})
	if err != nil {
		h.writeServiceError(ctx, w, err, "schedule deposit")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SessionResponse{Session: session})
}

func (h *Handler) handleTrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parent, ok := h.authedParent(w, r)
	if !ok {
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	id, err := domain.ParseSessionID(req.SessionID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid session_id"))
		return
	}
	if !h.requireParent(w, r, id, parent) {
		return
	}

	session, err := h.sessions.Trade(ctx, id, req.Fee)
	if err != nil {
		h.writeServiceError(ctx, w, err, "execute trade")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SessionResponse{Session: session})
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parent, ok := h.authedParent(w, r)
	if !ok {
		return
	}

	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	balance, err := h.sessions.Fund(ctx, parent, req.Amount)
	if err != nil {
		h.writeServiceError(ctx, w, err, "fund account")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FundResponse{Identity: parent, Balance: balance})
}

// decodeSessionID reads a session ID from the request body.
func (h *Handler) decodeSessionID(w http.ResponseWriter, r *http.Request) (domain.SessionID, bool) {
	var req SessionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return domain.SessionID{}, false
	}
	id, err := domain.ParseSessionID(req.SessionID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid session_id"))
		return domain.SessionID{}, false
	}
	return id, true
}

// requireParent rejects operations against sessions owned by someone else,
// answering not-found so session IDs cannot be probed.
func (h *Handler) requireParent(w http.ResponseWriter, r *http.Request, id domain.SessionID, parent domain.Identity) bool {
	session, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(r.Context(), w, err, "load session")
		return false
	}
	if session.ParentIdentity != parent {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session not found"))
		return false
	}
	return true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "session operation failed",
			"operation", op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

// deviceLabel reduces a User-Agent to a short human-readable device string
// for the mirror row.
func deviceLabel(rawUA string) string {
	if rawUA == "" {
		return ""
	}
	ua := useragent.New(rawUA)
	name, _ := ua.Browser()
	os := ua.OS()
	switch {
	case name != "" && os != "":
		return fmt.Sprintf("%s on %s", name, os)
	case name != "":
		return name
	default:
		return os
	}
}
