package claudecli

import (
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/config"
	"github.com/cheaprelay/cheaprelay/common/logger"
)

// backfillDelta splits the incoming conversation against a process's context
// log: the shared prefix is already in the process, the tail minus the final
// user turn must be replayed, and the final turn is the actual dispatch.
func backfillDelta(contextLog, incoming []messageDigest) (backfill []messageDigest, final messageDigest) {
	if len(incoming) == 0 {
		return nil, messageDigest{}
	}
	final = incoming[len(incoming)-1]
	head := incoming[:len(incoming)-1]

	lcp := commonPrefixLen(contextLog, head)
	return head[lcp:], final
}

// warmPool pre-spawns one long-running subprocess per enabled claude-cli
// model and tracks what each has seen so repeated conversations only pay for
// the delta. An idle timer stops the pool when unused.
type warmPool struct {
	mu        sync.Mutex
	procs     map[string]*process
	stopped   bool
	idleTimer *time.Timer
}

func newWarmPool() *warmPool {
	return &warmPool{procs: make(map[string]*process)}
}

// Prewarm spawns processes for the given models. Spawn failures are logged
// and tolerated; dispatch will retry or fall through to other modes.
func (w *warmPool) Prewarm(models []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	for _, m := range models {
		if _, ok := w.procs[m]; ok {
			continue
		}
		proc := newProcess(m)
		if err := proc.Acquire(); err != nil {
			logger.Logger.Warn("warm pool prewarm failed",
				zap.String("model", m), zap.Error(err))
			continue
		}
		proc.Release()
		w.procs[m] = proc
	}
	w.resetIdleTimerLocked()
}

// Get returns the pool's process for a model, spawning its slot on demand.
// Returns nil when the pool is stopped.
func (w *warmPool) Get(modelID string) *process {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	proc, ok := w.procs[modelID]
	if !ok {
		proc = newProcess(modelID)
		w.procs[modelID] = proc
	}
	w.resetIdleTimerLocked()
	return proc
}

// Stop kills every pooled process. Used on shutdown, on provider
// reconfiguration, and by the idle timer.
func (w *warmPool) Stop() {
	w.mu.Lock()
	procs := w.procs
	w.procs = make(map[string]*process)
	w.stopped = true
	if w.idleTimer != nil {
		w.idleTimer.Stop()
		w.idleTimer = nil
	}
	w.mu.Unlock()

	for _, proc := range procs {
		proc.Kill()
	}
	logger.Logger.Info("warm pool stopped", zap.Int("processes", len(procs)))
}

// resetIdleTimerLocked (re)arms the idle shutdown. The pool restarts lazily:
// stopped is cleared so the next Get respawns.
func (w *warmPool) resetIdleTimerLocked() {
	w.stopped = false
	if w.idleTimer != nil {
		w.idleTimer.Stop()
	}
	w.idleTimer = time.AfterFunc(config.WarmPoolIdleTimeout, func() {
		logger.Logger.Info("warm pool idle timeout reached")
		w.Stop()
	})
}
