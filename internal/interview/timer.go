package interview

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	DefaultMaxDurationMinutes = 15
	warnLeadMinutes           = 2
)

// Timer is the per-call interview clock. It always measures wall clock
// against a fixed start, so polling it on every message never drifts.
type Timer struct {
	start      time.Time
	maxMinutes float64
	warnAt     float64
	now        func() time.Time

	mu       sync.Mutex
	warned   bool
	exceeded bool
}

// NewTimer starts a timer at now(). A non-positive maxMinutes falls back to
// DefaultMaxDurationMinutes. now may be nil.
func NewTimer(maxMinutes int, now func() time.Time) *Timer {
	if maxMinutes <= 0 {
		maxMinutes = DefaultMaxDurationMinutes
	}
	if now == nil {
		now = time.Now
	}
	warnAt := float64(maxMinutes - warnLeadMinutes)
	if warnAt < 0 {
		warnAt = 0
	}
	return &Timer{
		start:      now(),
		maxMinutes: float64(maxMinutes),
		warnAt:     warnAt,
		now:        now,
	}
}

func (t *Timer) StartTime() time.Time { return t.start }

func (t *Timer) MaxDuration() time.Duration {
	return time.Duration(t.maxMinutes * float64(time.Minute))
}

func (t *Timer) ElapsedMinutes() float64 {
	return t.now().Sub(t.start).Minutes()
}

func (t *Timer) RemainingMinutes() float64 {
	return math.Max(0, t.maxMinutes-t.ElapsedMinutes())
}

// HasExceededTime latches: once true it stays true.
func (t *Timer) HasExceededTime() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.exceeded && t.ElapsedMinutes() >= t.maxMinutes {
		t.exceeded = true
	}
	return t.exceeded
}

// ShouldWarn reports true on the first call made at or after the warning
// threshold and false on every call after that.
func (t *Timer) ShouldWarn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.warned || t.ElapsedMinutes() < t.warnAt {
		return false
	}
	t.warned = true
	return true
}

func (t *Timer) WarningMessage() string {
	n := int(math.Round(t.RemainingMinutes()))
	if n <= 1 {
		return "Just a heads up, we have about one minute remaining in this interview."
	}
	return fmt.Sprintf("Just a heads up, we have about %d minutes remaining in this interview.", n)
}

func (t *Timer) TimeUpMessage() string {
	return "We've reached the end of our time for today. Thank you so much for your answers, your feedback will be ready shortly. Goodbye!"
}
