package services

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// GridAlert is an unresolved power-grid incident.
type GridAlert struct {
	Error string
}

// AlertEventKind discriminates broadcast events.
type AlertEventKind int

const (
	EventGridError AlertEventKind = iota
	EventGridResolved
)

// AlertEvent is what sessions receive on their alert channel.
type AlertEvent struct {
	Kind  AlertEventKind
	Alert GridAlert
}

// AlertStore tracks which client ids have a live session, remembers the
// current unresolved incident for replay, and fans broadcast events out to
// every subscriber. Each subscriber owns a buffered channel; a subscriber
// whose buffer is full when an event arrives is lag-kicked: its channel is
// closed and the session treats that as fatal. The registration itself
// belongs to the session and survives the kick until the session
// unsubscribes, so a meter cannot reconnect while its old session is still
// tearing down.
type AlertStore struct {
	mu          sync.Mutex
	capacity    int
	alert       *GridAlert
	subscribers map[uint64]chan AlertEvent
}

// NewAlertStore creates a store whose per-subscriber channels hold up to
// capacity undelivered events. Capacities below 2 are raised to 2 so that an
// error and its resolution can always be in flight together.
func NewAlertStore(capacity int) *AlertStore {
	if capacity < 2 {
		capacity = 2
	}
	return &AlertStore{
		capacity:    capacity,
		subscribers: make(map[uint64]chan AlertEvent),
	}
}

// Subscribe registers cid and returns the standing alert (if any) for
// immediate replay plus the session's receive channel. ok is false when cid
// already has a live session.
func (s *AlertStore) Subscribe(cid uint64) (replay *GridAlert, ch <-chan AlertEvent, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscribers[cid]; exists {
		return nil, nil, false
	}

	events := make(chan AlertEvent, s.capacity)
	s.subscribers[cid] = events

	if s.alert != nil {
		alert := *s.alert
		replay = &alert
	}
	return replay, events, true
}

// Unsubscribe removes cid from the active set. Idempotent; safe to call
// after a lag-kick already closed the subscriber's channel.
func (s *AlertStore) Unsubscribe(cid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[cid]; ok {
		delete(s.subscribers, cid)
		if ch != nil {
			close(ch)
		}
	}
}

// BroadcastError publishes a new grid incident and records it as the
// standing alert for replay to future subscribers.
func (s *AlertStore) BroadcastError(msg string) {
	alert := GridAlert{Error: msg}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alert = &alert
	s.publish(AlertEvent{Kind: EventGridError, Alert: alert})
}

// BroadcastResolved publishes the all-clear and forgets the standing alert.
func (s *AlertStore) BroadcastResolved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alert = nil
	s.publish(AlertEvent{Kind: EventGridResolved})
}

// publish delivers to every subscriber in insertion-independent order but
// per-subscriber FIFO. Caller holds s.mu. Nobody listening is fine.
func (s *AlertStore) publish(event AlertEvent) {
	for cid, ch := range s.subscribers {
		if ch == nil {
			// Already kicked; the entry stays until the session
			// unsubscribes on teardown.
			continue
		}
		select {
		case ch <- event:
		default:
			// Subscriber is not draining its channel; kick it so the
			// session notices and terminates.
			log.WithField("cid", cid).Warn("alert subscriber lagging, disconnecting")
			close(ch)
			s.subscribers[cid] = nil
		}
	}
}

// ActiveSessions reports how many meters are currently subscribed.
func (s *AlertStore) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// CurrentAlert returns a copy of the standing alert, if any.
func (s *AlertStore) CurrentAlert() *GridAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alert == nil {
		return nil
	}
	alert := *s.alert
	return &alert
}
