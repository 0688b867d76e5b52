package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"evault/pkg/domain"
)

type AuditSuite struct {
	suite.Suite
	ctx context.Context
}

func TestAuditSuite(t *testing.T) {
	suite.Run(t, new(AuditSuite))
}

func (s *AuditSuite) SetupTest() {
	s.ctx = context.Background()
}

type captureSink struct {
	mu     sync.Mutex
	values [][]byte
}

func (c *captureSink) Produce(_ context.Context, _, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, value)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

func (s *AuditSuite) TestWorkerPersistsEvents() {
	store := NewInMemoryStore()
	inbox := make(chan Event, 8)
	worker := NewWorker(store, inbox, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	sessionID := domain.NewSessionID()
	publisher := NewPublisher(inbox)
	publisher.Emit(s.ctx, Event{
		SessionID:      sessionID,
		ParentIdentity: "parent",
		Action:         ActionSessionCreated,
		Outcome:        OutcomeSuccess,
	})
	publisher.Emit(s.ctx, Event{
		SessionID: sessionID,
		Action:    ActionSessionRevoked,
		Outcome:   OutcomeSuccess,
	})

	s.Eventually(func() bool {
		events, err := store.ListBySession(s.ctx, sessionID)
		return err == nil && len(events) == 2
	}, time.Second, 10*time.Millisecond)

	events, err := store.ListBySession(s.ctx, sessionID)
	s.Require().NoError(err)
	s.Equal(ActionSessionCreated, events[0].Action)
	s.Equal(ActionSessionRevoked, events[1].Action)
	s.False(events[0].Timestamp.IsZero(), "publisher should stamp events")

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

type flakyStore struct {
	*InMemoryStore
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) Append(ctx context.Context, event Event) error {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return f.InMemoryStore.Append(ctx, event)
}

func (s *AuditSuite) TestWorkerSurvivesStoreFailures() {
	store := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 1}
	inbox := make(chan Event, 8)
	worker := NewWorker(store, inbox, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	sessionID := domain.NewSessionID()
	inbox <- Event{SessionID: sessionID, Action: ActionSessionCreated} // lost to the outage
	inbox <- Event{SessionID: sessionID, Action: ActionSessionRevoked}

	s.Eventually(func() bool {
		events, err := store.ListBySession(s.ctx, sessionID)
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)

	events, err := store.ListBySession(s.ctx, sessionID)
	s.Require().NoError(err)
	s.Equal(ActionSessionRevoked, events[0].Action)

	// The worker is still running; only cancellation stops it.
	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

func (s *AuditSuite) TestWorkerForwardsToSink() {
	store := NewInMemoryStore()
	sink := &captureSink{}
	inbox := make(chan Event, 8)
	worker := NewWorker(store, inbox, slog.New(slog.DiscardHandler), WithSink(sink))

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	inbox <- Event{
		Timestamp: time.Now(),
		SessionID: domain.NewSessionID(),
		Action:    ActionSessionCleaned,
		Outcome:   OutcomeSuccess,
	}

	s.Eventually(func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var decoded Event
	s.Require().NoError(json.Unmarshal(sink.values[0], &decoded))
	s.Equal(ActionSessionCleaned, decoded.Action)
}

func (s *AuditSuite) TestPublisherDropsWhenInboxFull() {
	inbox := make(chan Event, 1)
	publisher := NewPublisher(inbox)

	publisher.Emit(s.ctx, Event{Action: ActionSessionCreated})
	publisher.Emit(s.ctx, Event{Action: ActionSessionActive}) // dropped, no worker draining

	s.Len(inbox, 1)
}

func (s *AuditSuite) TestListRecent() {
	store := NewInMemoryStore()
	for i := 0; i < 5; i++ {
		s.Require().NoError(store.Append(s.ctx, Event{
			SessionID: domain.NewSessionID(),
			Action:    ActionDepositExecuted,
		}))
	}

	events, err := store.ListRecent(s.ctx, 3)
	s.Require().NoError(err)
	s.Len(events, 3)

	all, err := store.ListRecent(s.ctx, 100)
	s.Require().NoError(err)
	s.Len(all, 5)
}
