package congruency

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Completer interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

type Config struct {
	WindowStartMinutes float64
	WindowEndMinutes   float64
	MinTurns           int
	Timeout            time.Duration
	// ExtremeConfidence must be strictly exceeded for a verdict to end a call.
	ExtremeConfidence float64
}

func DefaultConfig() Config {
	return Config{
		WindowStartMinutes: 2,
		WindowEndMinutes:   3,
		MinTurns:           4,
		Timeout:            8 * time.Second,
		ExtremeConfidence:  0.9,
	}
}

type Decision struct {
	Analysis   Analysis
	FailedOpen bool
	CheckedAt  time.Time
}

func (d Decision) ShouldEnd() bool {
	return d.Analysis.Recommendation == RecommendEndGracefully
}

// Gate is the one-shot early-termination check for a single call. The
// not-due -> checked transition is a compare-and-swap, so no amount of
// polling can run the check twice.
type Gate struct {
	completer Completer
	cfg       Config
	now       func() time.Time
	log       logrus.FieldLogger

	checked   atomic.Bool
	checkedAt atomic.Pointer[time.Time]
}

func NewGate(c Completer, cfg Config, now func() time.Time, log logrus.FieldLogger) *Gate {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Gate{completer: c, cfg: cfg, now: now, log: log}
}

func (g *Gate) Checked() bool { return g.checked.Load() }

// CheckedAt is nil until the check has run.
func (g *Gate) CheckedAt() *time.Time { return g.checkedAt.Load() }

func (g *Gate) Eligible(elapsedMinutes float64, turns int) bool {
	return !g.checked.Load() &&
		elapsedMinutes >= g.cfg.WindowStartMinutes &&
		elapsedMinutes < g.cfg.WindowEndMinutes &&
		turns >= g.cfg.MinTurns
}

// Evaluate runs the check if the call is eligible and it has not run yet.
// ran reports whether this invocation performed the check. Provider faults
// fail open: the call is treated as congruent.
func (g *Gate) Evaluate(ctx context.Context, elapsedMinutes float64, in Input) (d Decision, ran bool) {
	if !g.Eligible(elapsedMinutes, len(in.Conversation)) {
		return Decision{}, false
	}
	if !g.checked.CompareAndSwap(false, true) {
		return Decision{}, false
	}
	at := g.now()
	g.checkedAt.Store(&at)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	log := g.log.WithField("elapsed_minutes", elapsedMinutes)
	answer, err := g.completer.CompleteJSON(ctx, systemPrompt(Quick), userPrompt(in))
	if err != nil {
		log.WithError(err).Warn("congruency check failed, continuing session")
		return Decision{Analysis: congruentDefault(), FailedOpen: true, CheckedAt: at}, true
	}
	a, err := ParseVerdict(answer, g.cfg.ExtremeConfidence)
	if err != nil {
		log.WithError(err).Warn("congruency verdict rejected, continuing session")
		return Decision{Analysis: congruentDefault(), FailedOpen: true, CheckedAt: at}, true
	}

	log.WithFields(logrus.Fields{
		"is_congruent":   a.IsCongruent,
		"confidence":     a.Confidence,
		"recommendation": a.Recommendation,
		"extreme":        a.IsExtremelyIncompatible,
	}).Info("congruency check complete")
	return Decision{Analysis: a, CheckedAt: at}, true
}

// Reviewer runs the thorough variant outside of a live call. Unlike the gate
// it reports provider faults to the caller.
type Reviewer struct {
	completer Completer
	cfg       Config
}

func NewReviewer(c Completer, cfg Config) *Reviewer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Reviewer{completer: c, cfg: cfg}
}

func (r *Reviewer) Review(ctx context.Context, in Input) (Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	answer, err := r.completer.CompleteJSON(ctx, systemPrompt(Thorough), userPrompt(in))
	if err != nil {
		return Analysis{}, err
	}
	return ParseVerdict(answer, r.cfg.ExtremeConfidence)
}
