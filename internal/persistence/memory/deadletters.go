package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/healthassistant/internal/deadletter"
)

// DeadLetters is an in-memory deadletter.Store.
type DeadLetters struct {
	mu      sync.Mutex
	entries map[string]deadletter.Entry
}

// NewDeadLetters constructs an empty store.
func NewDeadLetters() *DeadLetters {
	return &DeadLetters{entries: make(map[string]deadletter.Entry)}
}

func (s *DeadLetters) Add(_ context.Context, entry deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if e.DeviceID == entry.DeviceID && e.EventID == entry.EventID && e.QuarantinedAt == nil {
			e.Reason = entry.Reason
			s.entries[id] = e
			return nil
		}
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *DeadLetters) Due(_ context.Context, now time.Time, limit int) ([]deadletter.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []deadletter.Entry
	for _, e := range s.sorted() {
		if e.QuarantinedAt == nil && !e.NextRetryAt.After(now) {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *DeadLetters) Resolve(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *DeadLetters) Reschedule(_ context.Context, id, reason string, attemptAt, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	e.RetryCount++
	e.Reason = reason
	e.LastAttemptAt = &attemptAt
	e.NextRetryAt = next
	s.entries[id] = e
	return nil
}

func (s *DeadLetters) Quarantine(_ context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	e.Reason = reason
	e.QuarantinedAt = &at
	s.entries[id] = e
	return nil
}

func (s *DeadLetters) Backlog(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.QuarantinedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *DeadLetters) List(_ context.Context, after *deadletter.Cursor, limit int) ([]deadletter.Entry, *deadletter.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []deadletter.Entry
	for _, e := range s.sorted() {
		if after != nil && !afterCursor(e, *after) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	var next *deadletter.Cursor
	if limit > 0 && len(out) == limit {
		last := out[len(out)-1]
		next = &deadletter.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return out, next, nil
}

// Get returns the entry with id, for tests.
func (s *DeadLetters) Get(id string) (deadletter.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *DeadLetters) sorted() []deadletter.Entry {
	out := make([]deadletter.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func afterCursor(e deadletter.Entry, c deadletter.Cursor) bool {
	if !e.CreatedAt.Equal(c.CreatedAt) {
		return e.CreatedAt.After(c.CreatedAt)
	}
	return e.ID > c.ID
}
