package game

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimerNotStarted is returned when pausing or resuming a timer that
	// was never started.
	ErrTimerNotStarted = errors.New("timer not started")
	// ErrTimerPaused is returned when pausing an already paused timer.
	ErrTimerPaused = errors.New("timer already paused")
	// ErrTimerRunning is returned when resuming a timer that is not paused.
	ErrTimerRunning = errors.New("timer already running")
)

// Timer is a cancellable, pausable one-shot timer. The callback fires at most
// once, on its own goroutine; after Cancel it never fires. Resuming schedules
// a fresh underlying timer with the residual duration, so after any number of
// pause/resume cycles the total running time until firing still equals the
// configured interval. A pending Timer never keeps the process alive.
type Timer struct {
	mu        sync.Mutex
	interval  time.Duration
	fn        func()
	timer     *time.Timer
	started   bool
	paused    bool
	fired     bool
	cancelled bool
	elapsed   time.Duration
	startedAt time.Time
}

// NewTimer creates a timer that will run fn once interval has elapsed after
// Start.
func NewTimer(interval time.Duration, fn func()) *Timer {
	return &Timer{interval: interval, fn: fn}
}

// Start schedules the timer. Starting twice is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	t.startedAt = time.Now()
	t.timer = time.AfterFunc(t.interval, t.fire)
}

func (t *Timer) fire() {
	t.mu.Lock()
	if t.fired || t.cancelled || t.paused {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.fn()
}

// Cancel stops the timer. Idempotent, and safe to call before Start.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Pause stops the countdown, remembering how much of the interval has already
// run.
func (t *Timer) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return ErrTimerNotStarted
	}
	if t.paused {
		return ErrTimerPaused
	}
	t.elapsed += time.Since(t.startedAt)
	t.paused = true
	t.timer.Stop()
	return nil
}

// Resume continues a paused countdown with the residual duration.
func (t *Timer) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return ErrTimerNotStarted
	}
	if !t.paused {
		return ErrTimerRunning
	}
	t.paused = false
	t.startedAt = time.Now()
	t.timer = time.AfterFunc(t.interval-t.elapsed, t.fire)
	return nil
}

// Remaining returns the time left until the timer fires. The second return is
// false if the timer was never started.
func (t *Timer) Remaining() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0, false
	}
	elapsed := t.elapsed
	if !t.paused {
		elapsed += time.Since(t.startedAt)
	}
	return t.interval - elapsed, true
}
