package infra

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSemaphore_TryAcquireUpToCapacity(t *testing.T) {
	s := NewSemaphore(2)

	require.True(t, s.TryAcquire())
	require.True(t, s.TryAcquire())
	require.False(t, s.TryAcquire(), "third acquire must fail fast")
	assert.Equal(t, 2, s.Outstanding())
	assert.Equal(t, 0, s.Available())

	s.Release()
	assert.Equal(t, 1, s.Available())
	require.True(t, s.TryAcquire())
}

func TestSemaphore_ZeroCapacityRejectsEverything(t *testing.T) {
	s := NewSemaphore(0)
	for i := 0; i < 3; i++ {
		require.False(t, s.TryAcquire())
	}
	assert.Equal(t, 0, s.Outstanding())

	neg := NewSemaphore(-5)
	assert.Equal(t, 0, neg.Capacity())
}

func TestSemaphore_ResizeDownKeepsHolders(t *testing.T) {
	s := NewSemaphore(3)
	for i := 0; i < 3; i++ {
		require.True(t, s.TryAcquire())
	}

	s.Resize(1)
	assert.Equal(t, 1, s.Capacity())
	assert.Equal(t, 3, s.Outstanding(), "resize must not revoke held permits")
	assert.Equal(t, 0, s.Available())
	require.False(t, s.TryAcquire())

	s.Release()
	s.Release()
	require.False(t, s.TryAcquire(), "outstanding=1 already fills capacity=1")

	s.Release()
	require.True(t, s.TryAcquire())
}

func TestSemaphore_ResizeUpAdmitsMore(t *testing.T) {
	s := NewSemaphore(1)
	require.True(t, s.TryAcquire())
	require.False(t, s.TryAcquire())

	s.Resize(2)
	require.True(t, s.TryAcquire())
}

func TestSemaphore_ReleaseWithoutAcquirePanics(t *testing.T) {
	s := NewSemaphore(1)
	require.Panics(t, s.Release)
	assert.Equal(t, 0, s.Outstanding())
}

func TestSemaphore_ConcurrentNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	s := NewSemaphore(capacity)

	var inside, peak atomic.Int64
	var g errgroup.Group
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			for j := 0; j < 200; j++ {
				if !s.TryAcquire() {
					continue
				}
				n := inside.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				inside.Add(-1)
				s.Release()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, peak.Load(), int64(capacity))
	assert.Equal(t, 0, s.Outstanding())
}

func TestSemaphore_ResizeWhileAcquiring(t *testing.T) {
	const maxCapacity = 4
	s := NewSemaphore(maxCapacity)

	stop := make(chan struct{})
	var inside, peak atomic.Int64
	var workers errgroup.Group
	for i := 0; i < 32; i++ {
		workers.Go(func() error {
			for j := 0; j < 500; j++ {
				if !s.TryAcquire() {
					continue
				}
				n := inside.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				inside.Add(-1)
				s.Release()
			}
			return nil
		})
	}

	var resizer errgroup.Group
	resizer.Go(func() error {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return nil
			default:
			}
			if i%2 == 0 {
				s.Resize(0)
			} else {
				s.Resize(maxCapacity)
			}
		}
	})

	require.NoError(t, workers.Wait())
	close(stop)
	require.NoError(t, resizer.Wait())

	assert.LessOrEqual(t, peak.Load(), int64(maxCapacity))
	assert.Equal(t, 0, s.Outstanding())
	assert.GreaterOrEqual(t, s.Available(), 0)
}
