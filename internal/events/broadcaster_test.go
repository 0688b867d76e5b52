package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"evault/internal/session/models"
	"evault/pkg/domain"
)

type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster()
}

func (s *BroadcasterSuite) event(t Type) SessionEvent {
	return SessionEvent{
		Type: t,
		Session: models.Session{
			ID:     domain.NewSessionID(),
			Status: models.StatusCreated,
		},
	}
}

func (s *BroadcasterSuite) receive(ch <-chan SessionEvent) SessionEvent {
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		s.FailNow("no event delivered")
		return SessionEvent{}
	}
}

func (s *BroadcasterSuite) TestFanOut() {
	first, cancelFirst := s.broadcaster.Subscribe()
	defer cancelFirst()
	second, cancelSecond := s.broadcaster.Subscribe()
	defer cancelSecond()
	s.Equal(2, s.broadcaster.SubscriberCount())

	published := s.event(TypeCreated)
	s.broadcaster.Publish(published)

	s.Equal(published.Session.ID, s.receive(first).Session.ID)
	s.Equal(published.Session.ID, s.receive(second).Session.ID)
}

func (s *BroadcasterSuite) TestSlowSubscriberDrops() {
	b := NewBroadcaster(WithSubscriberBuffer(2))
	ch, cancel := b.Subscribe()
	defer cancel()

	for range 5 {
		b.Publish(s.event(TypeActive))
	}

	// Only the buffered two are delivered; the rest were dropped, and the
	// publisher never blocked.
	s.Len(ch, 2)
	s.receive(ch)
	s.receive(ch)
	select {
	case ev, ok := <-ch:
		if ok {
			s.FailNowf("unexpected event", "got %v", ev.Type)
		}
	default:
	}
}

func (s *BroadcasterSuite) TestCancel() {
	ch, cancel := s.broadcaster.Subscribe()
	cancel()
	s.Zero(s.broadcaster.SubscriberCount())

	// Cancel closes the channel and is safe to call twice.
	_, ok := <-ch
	s.False(ok)
	cancel()

	// Publishing after cancel delivers to no one and does not panic.
	s.broadcaster.Publish(s.event(TypeRevoked))
}

func (s *BroadcasterSuite) TestClose() {
	ch, cancel := s.broadcaster.Subscribe()
	defer cancel()

	s.broadcaster.Close()
	_, ok := <-ch
	s.False(ok)
	s.Zero(s.broadcaster.SubscriberCount())

	// Subscribing after close yields an already-closed channel.
	late, lateCancel := s.broadcaster.Subscribe()
	defer lateCancel()
	_, ok = <-late
	s.False(ok)

	s.broadcaster.Close()
}
