package congruency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yoockh/mockcall/internal/logger"
)

type stubCompleter struct {
	answer string
	err    error
	calls  atomic.Int32
	system string
	user   string
}

func (s *stubCompleter) CompleteJSON(_ context.Context, system, user string) (string, error) {
	s.calls.Add(1)
	s.system, s.user = system, user
	return s.answer, s.err
}

func turns(n int) []Turn {
	out := make([]Turn, n)
	for i := range out {
		out[i] = Turn{Role: "user", Content: "answer"}
		if i%2 == 0 {
			out[i].Role = "agent"
		}
	}
	return out
}

const extremeVerdict = `{"is_congruent":false,"confidence":0.95,"recommendation":"end_gracefully",
"is_extremely_incompatible":true,"overlap_percent":2,
"skill_match":{"matched":[],"missing":["Go","Kubernetes"],"transferable":["teamwork"]}}`

func newTestGate(c Completer) *Gate {
	return NewGate(c, DefaultConfig(), nil, logger.Discard())
}

func TestGateEligibility(t *testing.T) {
	g := newTestGate(&stubCompleter{})

	require.False(t, g.Eligible(1.99, 6))
	require.True(t, g.Eligible(2, 4))
	require.True(t, g.Eligible(2.99, 10))
	require.False(t, g.Eligible(3, 10))
	require.False(t, g.Eligible(2.5, 3))
}

func TestGateRunsOnce(t *testing.T) {
	t.Run(`repeated polling inside the window`, func(t *testing.T) {
		c := &stubCompleter{answer: `{"is_congruent":true,"confidence":0.8,"recommendation":"continue"}`}
		g := newTestGate(c)

		in := Input{ResumeText: "Go developer", JobTitle: "Backend Engineer", Conversation: turns(4)}
		_, ran := g.Evaluate(context.Background(), 2.1, in)
		require.True(t, ran)
		for _, m := range []float64{2.2, 2.5, 2.9} {
			_, ran = g.Evaluate(context.Background(), m, in)
			require.False(t, ran)
		}
		require.EqualValues(t, 1, c.calls.Load())
		require.True(t, g.Checked())
		require.NotNil(t, g.CheckedAt())
	})

	t.Run(`concurrent polling`, func(t *testing.T) {
		c := &stubCompleter{answer: extremeVerdict}
		g := newTestGate(c)
		in := Input{Conversation: turns(5)}

		var wg sync.WaitGroup
		var ran atomic.Int32
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := g.Evaluate(context.Background(), 2.5, in); ok {
					ran.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, ran.Load())
		require.EqualValues(t, 1, c.calls.Load())
	})

	t.Run(`not eligible does not consume the check`, func(t *testing.T) {
		c := &stubCompleter{answer: extremeVerdict}
		g := newTestGate(c)
		_, ran := g.Evaluate(context.Background(), 2.5, Input{Conversation: turns(2)})
		require.False(t, ran)
		require.False(t, g.Checked())
		require.Nil(t, g.CheckedAt())

		_, ran = g.Evaluate(context.Background(), 2.6, Input{Conversation: turns(4)})
		require.True(t, ran)
	})
}

func TestGateDecision(t *testing.T) {
	in := Input{ResumeText: "Pastry chef, 10 years of laminated doughs", JobTitle: "Kernel Engineer", Conversation: turns(6)}

	t.Run(`confident extreme mismatch ends`, func(t *testing.T) {
		d, ran := newTestGate(&stubCompleter{answer: extremeVerdict}).Evaluate(context.Background(), 2.5, in)
		require.True(t, ran)
		require.True(t, d.ShouldEnd())
		require.True(t, d.Analysis.IsExtremelyIncompatible)
		require.Equal(t, []string{"Go", "Kubernetes"}, d.Analysis.MissingSkills)
	})

	t.Run(`extreme flag below confidence is cleared`, func(t *testing.T) {
		answer := strings.Replace(extremeVerdict, `"confidence":0.95`, `"confidence":0.9`, 1)
		d, _ := newTestGate(&stubCompleter{answer: answer}).Evaluate(context.Background(), 2.5, in)
		require.False(t, d.Analysis.IsExtremelyIncompatible)
		require.False(t, d.ShouldEnd())
	})

	t.Run(`provider error fails open`, func(t *testing.T) {
		d, ran := newTestGate(&stubCompleter{err: errors.New("deadline exceeded")}).Evaluate(context.Background(), 2.5, in)
		require.True(t, ran)
		require.True(t, d.FailedOpen)
		require.True(t, d.Analysis.IsCongruent)
		require.False(t, d.ShouldEnd())
	})

	t.Run(`malformed verdict fails open`, func(t *testing.T) {
		d, _ := newTestGate(&stubCompleter{answer: "I think they are a good fit"}).Evaluate(context.Background(), 2.5, in)
		require.True(t, d.FailedOpen)
		require.False(t, d.ShouldEnd())
	})

	t.Run(`quick prompt carries the inputs`, func(t *testing.T) {
		c := &stubCompleter{answer: extremeVerdict}
		newTestGate(c).Evaluate(context.Background(), 2.5, in)
		require.Contains(t, c.system, "lenient")
		require.Contains(t, c.user, "Kernel Engineer")
		require.Contains(t, c.user, "Pastry chef")
		require.Contains(t, c.user, "Candidate: answer")
	})

	t.Run(`slow provider times out`, func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Timeout = 10 * time.Millisecond
		g := NewGate(blockingCompleter{}, cfg, nil, logger.Discard())
		d, ran := g.Evaluate(context.Background(), 2.5, in)
		require.True(t, ran)
		require.True(t, d.FailedOpen)
	})
}

type blockingCompleter struct{}

func (blockingCompleter) CompleteJSON(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestReviewer(t *testing.T) {
	c := &stubCompleter{answer: `{"is_congruent":true,"confidence":0.6,"recommendation":"continue","overlap_percent":55}`}
	a, err := NewReviewer(c, DefaultConfig()).Review(context.Background(), Input{JobTitle: "SRE"})
	require.NoError(t, err)
	require.Equal(t, 55, a.OverlapPercent)
	require.Contains(t, c.system, "40 and 70 percent")

	_, err = NewReviewer(&stubCompleter{err: errors.New("down")}, DefaultConfig()).Review(context.Background(), Input{})
	require.Error(t, err)
}
