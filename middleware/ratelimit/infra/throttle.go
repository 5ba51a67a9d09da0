package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"apikey-gateway/middleware/ratelimit/domain"
)

// LogThrottle é um token bucket por chave (x/time/rate) com cache e limpeza periódica.
//
// O middleware consulta o throttle antes de logar uma rejeição: uma chave estourando
// o limite milhares de vezes por segundo gera poucas linhas de log.
type LogThrottle struct {
	mu           sync.Mutex
	entries      map[domain.Key]*throttleEntry
	every        rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type ThrottleOption func(*LogThrottle)

func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(s *LogThrottle) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) ThrottleOption {
	return func(s *LogThrottle) { s.cleanupEvery = d }
}

// NewLogThrottle permite `burst` logs imediatos por chave e depois um a cada `interval`.
func NewLogThrottle(interval time.Duration, burst int, opts ...ThrottleOption) *LogThrottle {
	s := &LogThrottle{
		entries:      make(map[domain.Key]*throttleEntry),
		every:        rate.Every(interval),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implementa domain.LimiterStore. O bucket da chave é criado no primeiro uso.
func (s *LogThrottle) Get(key domain.Key) domain.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.every, s.burst)
	s.entries[key] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup descarta buckets sem uso há mais de idleTTL.
func (s *LogThrottle) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *LogThrottle) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
