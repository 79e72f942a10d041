package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// watchBuffer bounds the per-watcher event queue. A consumer that falls
// further behind blocks writers, which is the intended backpressure.
const watchBuffer = 128

// MemoryStore is an in-process Store with the same notification semantics
// as the etcd-backed store. It backs the agent tests.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	watchers []*memWatcher
}

type memWatcher struct {
	prefix string
	ch     chan Event
	done   <-chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get retrieves the record stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Set stores the record under key and notifies matching watchers before
// returning. Notification runs outside the lock, so per-key event order
// matches write order only for a single writer.
func (s *MemoryStore) Set(ctx context.Context, key string, rec Record) error {
	s.mu.Lock()
	s.records[key] = rec.Clone()
	watchers := s.matching(key)
	s.mu.Unlock()

	return s.notify(ctx, watchers, Event{Key: key, Op: OpSet})
}

// Delete removes the record under key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, key)
	watchers := s.matching(key)
	s.mu.Unlock()

	return s.notify(ctx, watchers, Event{Key: key, Op: OpDelete})
}

// Scan returns all records under prefix, sorted by key.
func (s *MemoryStore) Scan(_ context.Context, prefix string) ([]KeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]KeyRecord, 0)
	for key, rec := range s.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, KeyRecord{Key: key, Record: rec.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

// Watch returns change events for keys under prefix, starting from the
// moment of the call.
func (s *MemoryStore) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	w := &memWatcher{
		prefix: prefix,
		ch:     make(chan Event, watchBuffer),
		done:   ctx.Done(),
	}

	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	out := make(chan Event)
	go func() {
		defer close(out)
		defer s.remove(w)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-w.ch:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// matching must be called with mu held.
func (s *MemoryStore) matching(key string) []*memWatcher {
	var out []*memWatcher
	for _, w := range s.watchers {
		if strings.HasPrefix(key, w.prefix) {
			out = append(out, w)
		}
	}
	return out
}

// notify delivers ev to each watcher queue in turn. Delivery blocks when a
// queue is full, so a stalled consumer throttles writers instead of
// growing an unbounded buffer.
func (s *MemoryStore) notify(ctx context.Context, watchers []*memWatcher, ev Event) error {
	for _, w := range watchers {
		select {
		case w.ch <- ev:
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *MemoryStore) remove(target *memWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.watchers {
		if w == target {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			return
		}
	}
}
