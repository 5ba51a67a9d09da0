package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apikey-gateway/middleware/ratelimit/domain"
)

func TestLogThrottle_GetSameKeyReturnsSameLimiter(t *testing.T) {
	s := NewLogThrottle(time.Minute, 1)

	l1 := s.Get(domain.Key("k"))
	l2 := s.Get(domain.Key("k"))
	assert.Same(t, l1, l2)
}

func TestLogThrottle_BurstThenQuiet(t *testing.T) {
	s := NewLogThrottle(time.Hour, 2)

	lim := s.Get(domain.Key("k"))
	require.True(t, lim.Allow())
	require.True(t, lim.Allow())
	require.False(t, lim.Allow(), "third log within the interval must be suppressed")

	// outra chave tem o próprio bucket.
	require.True(t, s.Get(domain.Key("other")).Allow())
}

func TestLogThrottle_CleanupRemovesIdleEntries(t *testing.T) {
	s := NewLogThrottle(time.Minute, 1, WithIdleTTL(2*time.Millisecond), WithCleanupEvery(0))

	before := s.Get(domain.Key("k"))
	time.Sleep(4 * time.Millisecond)

	s.Cleanup()

	after := s.Get(domain.Key("k"))
	assert.NotSame(t, before, after, "expected limiter to be recreated after cleanup")
}
