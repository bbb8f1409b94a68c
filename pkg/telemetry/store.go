package telemetry

import (
	"context"
	"sync"

	"k8s.io/klog/v2"
)

// Store holds the latest snapshot and fans new ones out to subscribers.
type Store struct {
	mu     sync.RWMutex
	latest Snapshot
	subs   map[uint64]chan Snapshot
	next   uint64
}

func NewStore() *Store {
	return &Store{subs: make(map[uint64]chan Snapshot)}
}

func (s *Store) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Publish replaces the latest snapshot. A subscriber that is not keeping
// up loses its oldest pending snapshot, never the newest.
func (s *Store) Publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	for id, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
			klog.V(5).InfoS("Subscriber lagging, dropped oldest snapshot", "subscriber", id)
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Subscribe returns a channel of published snapshots and a function that
// unsubscribes and closes it.
func (s *Store) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// WaitFor blocks until a published snapshot satisfies pred, starting with
// the latest one.
func (s *Store) WaitFor(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	ch, cancel := s.Subscribe(1)
	defer cancel()
	if latest := s.Latest(); !latest.IsZero() && pred(latest) {
		return latest, nil
	}
	for {
		select {
		case snap := <-ch:
			if pred(snap) {
				return snap, nil
			}
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}
