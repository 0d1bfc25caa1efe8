// Package telemetry holds the live telemetry state of the fleet. It keeps
// the latest sample per robot plus a short ring of recent samples, with TTL
// eviction for robots that stop reporting.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
)

type entry struct {
	latest    domain.Telemetry
	updatedAt time.Time

	ring   []domain.Telemetry
	next   int
	filled bool
}

// Store is a thread-safe in-memory telemetry store, keyed by robot ID.
// A background goroutine (Run) periodically evicts robots that have not
// reported within the configured TTL.
type Store struct {
	mu       sync.RWMutex
	data     map[string]*entry
	ttl      time.Duration
	ringSize int
	now      func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL and per-robot ring capacity.
func New(ttl time.Duration, ringSize int) *Store {
	if ringSize <= 0 {
		ringSize = 1
	}
	return &Store{
		data:     make(map[string]*entry),
		ttl:      ttl,
		ringSize: ringSize,
		now:      time.Now,
	}
}

// Put stores a sample as the robot's latest telemetry and appends it to the
// recent-sample ring.
func (s *Store) Put(sample domain.Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[sample.RobotID]
	if !ok {
		e = &entry{ring: make([]domain.Telemetry, s.ringSize)}
		s.data[sample.RobotID] = e
	}
	e.latest = sample
	e.updatedAt = s.now()
	e.ring[e.next] = sample
	e.next++
	if e.next == len(e.ring) {
		e.next = 0
		e.filled = true
	}
}

// Latest returns the most recent sample for the robot and whether one exists.
// The sample may be stale if TTL has elapsed.
func (s *Store) Latest(robotID string) (domain.Telemetry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[robotID]
	if !ok {
		return domain.Telemetry{}, false
	}
	return e.latest, true
}

// Recent returns up to n recent samples for the robot in chronological order.
func (s *Store) Recent(robotID string, n int) []domain.Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[robotID]
	if !ok {
		return nil
	}

	var samples []domain.Telemetry
	if e.filled {
		samples = append(samples, e.ring[e.next:]...)
		samples = append(samples, e.ring[:e.next]...)
	} else {
		samples = append(samples, e.ring[:e.next]...)
	}
	if n > 0 && len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	return samples
}

// List returns the latest sample of every robot still within the TTL.
// Stale entries that have not yet been evicted are excluded.
func (s *Store) List() []domain.Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]domain.Telemetry, 0, len(s.data))
	for _, e := range s.data {
		if e.updatedAt.After(cutoff) {
			out = append(out, e.latest)
		}
	}
	return out
}

// Count returns the number of robots currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes robots whose last sample is older than now minus TTL.
// It returns the IDs of the robots removed.
func (s *Store) Evict(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	var removed []string
	for id, e := range s.data {
		if !e.updatedAt.After(cutoff) {
			delete(s.data, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Forget drops all stored samples for a robot, for use when it is deregistered.
func (s *Store) Forget(robotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, robotID)
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// interval (minimum 1 second) so stale robots drop out promptly. Run blocks
// until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if ids := s.Evict(now); len(ids) > 0 {
				slog.Debug("telemetry: evicted stale robots", "count", len(ids))
			}
		}
	}
}
