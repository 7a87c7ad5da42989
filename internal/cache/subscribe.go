package cache

import "sync"

// EventKind tags a store notification.
type EventKind string

const (
	EventOperationAdded     EventKind = "operation_added"
	EventOperationConfirmed EventKind = "operation_confirmed"
	EventOperationRejected  EventKind = "operation_rejected"
	EventGroundTruth        EventKind = "ground_truth"
	EventSynced             EventKind = "synced"
)

// subscribers fans a store's events out to registered callbacks. Callbacks
// receive the event kind and the store's fresh render; they run outside the
// store lock and must not be assumed to run on any particular goroutine.
type subscribers[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(EventKind, T)
}

// add registers fn and returns its unsubscribe function.
func (s *subscribers[T]) add(fn func(EventKind, T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(EventKind, T))
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// notify invokes every callback with the event and payload.
func (s *subscribers[T]) notify(kind EventKind, payload T) {
	s.mu.Lock()
	fns := make([]func(EventKind, T), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(kind, payload)
	}
}

// clear drops all subscribers.
func (s *subscribers[T]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = nil
}
