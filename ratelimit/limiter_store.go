package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientStore holds a token bucket per client key. It is bounded: a new
// client pushes out the least recently seen one of a random sample.
type clientStore struct {
	mu      sync.Mutex
	clients map[uint64]*client
	max     int

	limit rate.Limit
	burst int

	now func() time.Time
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func newClientStore(max, perMinute int) *clientStore {
	s := &clientStore{
		clients: make(map[uint64]*client),
		max:     max,
		burst:   perMinute,
		now:     time.Now,
	}

	if perMinute > 0 {
		s.limit = rate.Every(time.Minute / time.Duration(perMinute))
	}

	return s
}

// allow takes a token from the bucket of key, creating the bucket on first
// sight.
func (s *clientStore) allow(key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	c, ok := s.clients[key]
	if !ok {
		if len(s.clients) >= s.max {
			s.evict()
		}

		c = &client{bucket: rate.NewLimiter(s.limit, s.burst)}
		s.clients[key] = c
	}

	c.lastSeen = now

	return c.bucket.AllowN(now, 1)
}

// evict drops the stalest client of a sample. Map order is random, so the
// sample is too.
func (s *clientStore) evict() {
	var (
		stalest uint64
		seen    time.Time
		n       int
	)

	for k, c := range s.clients {
		if n == 0 || c.lastSeen.Before(seen) {
			stalest, seen = k, c.lastSeen
		}

		if n++; n >= evictSample {
			break
		}
	}

	if n > 0 {
		delete(s.clients, stalest)
	}
}

// expire drops clients idle for longer than idle and returns how many went.
func (s *clientStore) expire(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)

	var n int
	for k, c := range s.clients {
		if c.lastSeen.Before(cutoff) {
			delete(s.clients, k)
			n++
		}
	}

	return n
}

func (s *clientStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

const evictSample = 100
