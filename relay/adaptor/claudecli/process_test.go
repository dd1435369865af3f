package claudecli

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterruptMarksProcessDead(t *testing.T) {
	t.Parallel()

	p := newProcess("sonnet")
	require.False(t, p.isDead())
	p.Interrupt()
	require.True(t, p.isDead())
}

// Interrupt runs from a cancellation watcher while another goroutine owns the
// process for dispatch, so liveness flips must be safe under contention.
func TestInterruptConcurrentWithLivenessChecks(t *testing.T) {
	t.Parallel()

	p := newProcess("sonnet")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Interrupt()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.isDead()
			p.markDead()
		}()
	}
	wg.Wait()
	require.True(t, p.isDead())
}
