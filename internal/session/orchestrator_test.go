package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/mockcall/internal/congruency"
	"github.com/yoockh/mockcall/internal/logger"
	"github.com/yoockh/mockcall/internal/models"
	"github.com/yoockh/mockcall/internal/providers/llm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeSender struct {
	mu     sync.Mutex
	frames []any
	closed bool
	err    error
}

func (s *fakeSender) Send(_ context.Context, f any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) responses() []ResponseFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ResponseFrame
	for _, f := range s.frames {
		if r, ok := f.(ResponseFrame); ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *fakeSender) last() ResponseFrame {
	r := s.responses()
	if len(r) == 0 {
		return ResponseFrame{}
	}
	return r[len(r)-1]
}

type fakeGenerator struct {
	chunks []string
	err    error
	block  bool

	calls    atomic.Int32
	canceled atomic.Int32
	mu       sync.Mutex
	reqs     []llm.ChatRequest
}

func (g *fakeGenerator) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan string, <-chan error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()

	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(out)
		if g.block {
			<-ctx.Done()
			g.canceled.Add(1)
			errs <- ctx.Err()
			return
		}
		for _, c := range g.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				g.canceled.Add(1)
				errs <- ctx.Err()
				return
			}
		}
		if g.err != nil {
			errs <- g.err
		}
	}()
	return out, errs
}

func (g *fakeGenerator) lastRequest() llm.ChatRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reqs[len(g.reqs)-1]
}

type fakeCompleter struct {
	answer string
	err    error
	calls  atomic.Int32
}

func (c *fakeCompleter) CompleteJSON(context.Context, string, string) (string, error) {
	c.calls.Add(1)
	return c.answer, c.err
}

type fakeRestorer struct {
	mu   sync.Mutex
	reqs []RestoreRequest
}

func (r *fakeRestorer) ScheduleRestore(_ context.Context, req RestoreRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *fakeRestorer) scheduled() []RestoreRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RestoreRequest(nil), r.reqs...)
}

type fakeEvents struct {
	mu    sync.Mutex
	types []string
}

func (e *fakeEvents) Record(_ context.Context, ev *models.CallEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, ev.Type)
	return nil
}

func (e *fakeEvents) recorded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.types...)
}

const (
	extremeVerdict  = `{"is_congruent":false,"confidence":0.95,"recommendation":"end_gracefully","is_extremely_incompatible":true,"overlap_percent":2,"skill_match":{"matched":[],"missing":["patient care","phlebotomy"],"transferable":[]}}`
	softVerdict     = `{"is_congruent":false,"confidence":0.93,"recommendation":"end_gracefully","is_extremely_incompatible":false,"overlap_percent":8}`
	noisyVerdict    = `{"is_congruent":false,"confidence":0.7,"recommendation":"end_gracefully","is_extremely_incompatible":true}`
	congruentAnswer = `{"is_congruent":true,"confidence":0.9,"recommendation":"continue","is_extremely_incompatible":false}`
)

type harness struct {
	o        *Orchestrator
	clock    *fakeClock
	sender   *fakeSender
	gen      *fakeGenerator
	comp     *fakeCompleter
	restorer *fakeRestorer
	events   *fakeEvents

	// armed watchdog, captured instead of a real timer
	watchdogAfter time.Duration
	watchdog      func()
}

func newHarness(t *testing.T, verdict string) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		sender:   &fakeSender{},
		gen:      &fakeGenerator{chunks: []string{"Great, ", "tell me more."}},
		comp:     &fakeCompleter{answer: verdict},
		restorer: &fakeRestorer{},
		events:   &fakeEvents{},
	}
	log := logger.Discard()
	o, err := New(Deps{
		Call: &models.CallContext{
			CallID:         "call_123",
			UserID:         "user_1",
			InterviewID:    "interview_1",
			ResumeText:     "Registered nurse, ten years of ICU patient care.",
			JobTitle:       "Senior Kubernetes Platform Engineer",
			JobDescription: "Operate multi-region Kubernetes clusters, write Go operators.",
			Language:       "en-US",
		},
		Sender:    h.sender,
		Generator: h.gen,
		Gate:      congruency.NewGate(h.comp, congruency.DefaultConfig(), h.clock.Now, log),
		Restorer:  h.restorer,
		Events:    h.events,
		Agents:    Agents{Default: "agent_multi", Spanish: "agent_es"},
		Config:    Config{MaxMinutes: 15},
		Log:       log,
		Now:       h.clock.Now,
		AfterFunc: func(d time.Duration, f func()) func() bool {
			h.watchdogAfter, h.watchdog = d, f
			return func() bool { return true }
		},
	})
	require.NoError(t, err)
	h.o = o
	t.Cleanup(func() { o.Close(ReasonClientHangup) })
	return h
}

func frame(t *testing.T, typ InteractionType, id int, transcript ...Utterance) []byte {
	t.Helper()
	m := map[string]any{"interaction_type": typ, "transcript": transcript}
	if id >= 0 {
		m["response_id"] = id
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func agent(s string) Utterance { return Utterance{Role: SpeakerAgent, Content: s} }
func user(s string) Utterance  { return Utterance{Role: SpeakerUser, Content: s} }

func waitTurn(o *Orchestrator) {
	o.turnMu.Lock()
	done := o.turnDone
	o.turnMu.Unlock()
	if done != nil {
		<-done
	}
}

func TestOrchestratorCongruency(t *testing.T) {
	ctx := context.Background()

	t.Run(`unrelated resume ends the call on the third turn at minute two and a half`, func(t *testing.T) {
		h := newHarness(t, extremeVerdict)

		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 0)))
		waitTurn(h.o)

		h.clock.Advance(time.Minute)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1,
			agent("Hi, thanks for joining. Tell me about yourself."),
			user("I've been a nurse in the ICU for ten years."))))
		waitTurn(h.o)

		h.clock.Advance(90 * time.Second)
		err := h.o.Handle(ctx, frame(t, InteractionResponseRequired, 2,
			agent("Hi, thanks for joining. Tell me about yourself."),
			user("I've been a nurse in the ICU for ten years."),
			agent("How have you worked with container orchestration?"),
			user("I haven't, I mostly work with patients.")))
		require.ErrorIs(t, err, ErrClosed)

		last := h.sender.last()
		require.Equal(t, ClosingExtremeMismatch, last.Content)
		require.True(t, last.EndCall)
		require.True(t, last.ContentComplete)
		require.Equal(t, 2, last.ResponseID)

		restores := h.restorer.scheduled()
		require.Len(t, restores, 1)
		require.Equal(t, "call_123", restores[0].CallID)
		require.Equal(t, "user_1", restores[0].UserID)
		require.Equal(t, 1, restores[0].Amount)

		require.Equal(t, StateClosed, h.o.State())
		require.Equal(t, ReasonCongruency, h.o.Reason())
		require.EqualValues(t, 1, h.comp.calls.Load())

		require.ErrorIs(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 3, user("hello?"))), ErrClosed)
		require.Len(t, h.restorer.scheduled(), 1)

		h.o.Wait()
		require.ElementsMatch(t, []string{models.CallEventCongruencyChecked, models.CallEventTerminated}, h.events.recorded())
	})

	t.Run(`confident soft mismatch uses the softer line and still restores`, func(t *testing.T) {
		h := newHarness(t, softVerdict)
		h.clock.Advance(150 * time.Second)
		err := h.o.Handle(ctx, frame(t, InteractionResponseRequired, 4,
			agent("a"), user("b"), agent("c"), user("d")))
		require.ErrorIs(t, err, ErrClosed)
		require.Equal(t, ClosingMismatch, h.sender.last().Content)
		require.NotContains(t, h.sender.last().Content, "credit")
		require.Len(t, h.restorer.scheduled(), 1)
	})

	t.Run(`low confidence extreme flag does not end the call`, func(t *testing.T) {
		h := newHarness(t, noisyVerdict)
		h.clock.Advance(150 * time.Second)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 4,
			agent("a"), user("b"), agent("c"), user("d"))))
		waitTurn(h.o)

		require.EqualValues(t, 1, h.comp.calls.Load())
		require.Empty(t, h.restorer.scheduled())
		require.Equal(t, StateConversing, h.o.State())
		require.False(t, h.sender.last().EndCall)
	})

	t.Run(`provider failure fails open`, func(t *testing.T) {
		h := newHarness(t, "")
		h.comp.err = errors.New("deadline exceeded")
		h.clock.Advance(150 * time.Second)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 4,
			agent("a"), user("b"), agent("c"), user("d"))))
		waitTurn(h.o)
		require.Equal(t, StateConversing, h.o.State())
		require.Empty(t, h.restorer.scheduled())
	})

	t.Run(`gate runs once under repeated eligible polling`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		h.clock.Advance(2 * time.Minute)
		tr := []Utterance{agent("a"), user("b"), agent("c"), user("d")}
		for i := 0; i < 5; i++ {
			tr = append(tr, agent("q"), user("r"))
			require.NoError(t, h.o.Handle(ctx, frame(t, InteractionUpdateOnly, -1, tr...)))
			h.clock.Advance(5 * time.Second)
		}
		require.EqualValues(t, 1, h.comp.calls.Load())
	})

	t.Run(`too few turns inside the window skips the check`, func(t *testing.T) {
		h := newHarness(t, extremeVerdict)
		h.clock.Advance(150 * time.Second)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1, agent("a"), user("b"))))
		waitTurn(h.o)
		require.Zero(t, h.comp.calls.Load())
	})
}

func TestOrchestratorTimer(t *testing.T) {
	ctx := context.Background()

	t.Run(`time limit ends the call without restoring credit`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		h.clock.Advance(15 * time.Minute)
		err := h.o.Handle(ctx, frame(t, InteractionResponseRequired, 9, agent("a"), user("b")))
		require.ErrorIs(t, err, ErrClosed)

		last := h.sender.last()
		require.Equal(t, h.o.Timer().TimeUpMessage(), last.Content)
		require.True(t, last.EndCall)
		require.Empty(t, h.restorer.scheduled())
		require.Equal(t, ReasonTimeLimit, h.o.Reason())
		require.Zero(t, h.gen.calls.Load())
	})

	t.Run(`watchdog ends a silent call at the hard limit`, func(t *testing.T) {
		h := newHarness(t, extremeVerdict)
		require.NoError(t, h.o.Start(ctx))
		require.Equal(t, 15*time.Minute, h.watchdogAfter)
		require.NotNil(t, h.watchdog)

		h.clock.Advance(15 * time.Minute)
		h.watchdog()

		select {
		case <-h.o.Done():
		default:
			t.Fatal("session still open after the hard limit")
		}
		last := h.sender.last()
		require.Equal(t, h.o.Timer().TimeUpMessage(), last.Content)
		require.True(t, last.EndCall)
		require.True(t, last.ContentComplete)
		require.Empty(t, h.restorer.scheduled())
		require.Equal(t, ReasonTimeLimit, h.o.Reason())
		require.Zero(t, h.gen.calls.Load())
		require.Zero(t, h.comp.calls.Load())
		require.ErrorIs(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1, agent("a"), user("b"))), ErrClosed)
	})

	t.Run(`watchdog cancels a reply in flight`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		h.gen.block = true
		require.NoError(t, h.o.Start(ctx))
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 4, agent("a"), user("b"))))

		h.clock.Advance(15 * time.Minute)
		h.watchdog()

		require.EqualValues(t, 1, h.gen.canceled.Load())
		last := h.sender.last()
		require.True(t, last.EndCall)
		require.Equal(t, 4, last.ResponseID)
		require.Equal(t, StateClosed, h.o.State())
	})

	t.Run(`warning is spoken once ahead of the next reply`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		h.clock.Advance(13 * time.Minute)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1, agent("a"), user("b"))))
		waitTurn(h.o)

		first := h.sender.responses()[0]
		require.Contains(t, first.Content, "2 minutes remaining")
		require.Contains(t, h.gen.lastRequest().System, "Time is almost up")

		h.clock.Advance(10 * time.Second)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 2, agent("a"), user("b"), agent("c"), user("d"))))
		waitTurn(h.o)
		warnings := 0
		for _, r := range h.sender.responses() {
			if strings.HasPrefix(r.Content, "Just a heads up") {
				warnings++
			}
		}
		require.Equal(t, 1, warnings)
	})
}

func TestOrchestratorTurns(t *testing.T) {
	ctx := context.Background()

	t.Run(`reply streams chunks then completes`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 7, agent("hello"), user("hi"))))
		waitTurn(h.o)

		rs := h.sender.responses()
		require.Len(t, rs, 3)
		assert.Equal(t, "Great, ", rs[0].Content)
		assert.Equal(t, "tell me more.", rs[1].Content)
		assert.True(t, rs[2].ContentComplete)
		for _, r := range rs {
			assert.Equal(t, 7, r.ResponseID)
			assert.False(t, r.EndCall)
		}

		req := h.gen.lastRequest()
		require.Len(t, req.Messages, 2)
		assert.Equal(t, llm.RoleAssistant, req.Messages[0].Role)
		assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	})

	t.Run(`opening turn nudges the model to greet`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 0)))
		waitTurn(h.o)
		req := h.gen.lastRequest()
		require.Len(t, req.Messages, 1)
		require.Equal(t, openingNudge, req.Messages[0].Content)
	})

	t.Run(`generation failure degrades to an apology`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		h.gen.chunks = nil
		h.gen.err = errors.New("upstream 503")
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 3, agent("a"), user("b"))))
		waitTurn(h.o)

		last := h.sender.last()
		require.Equal(t, apologyLine, last.Content)
		require.True(t, last.ContentComplete)
		require.False(t, last.EndCall)
		require.Equal(t, StateConversing, h.o.State())
	})

	t.Run(`new utterance cancels the in-flight reply`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		h.gen.block = true
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1, agent("a"), user("b"))))
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionUpdateOnly, -1, agent("a"), user("b"), user("actually, wait"))))

		require.EqualValues(t, 1, h.gen.canceled.Load())
		require.Empty(t, h.sender.responses())
		require.Equal(t, 3, h.o.Turns())
	})

	t.Run(`partial utterance is replaced by the full one`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionUpdateOnly, -1,
			agent("Tell me about yourself."), user("I"))))
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1,
			agent("Tell me about yourself."), user("I have ten years of experience with Go."))))
		waitTurn(h.o)

		require.Equal(t, 2, h.o.Turns())
		msgs := h.gen.lastRequest().Messages
		require.Len(t, msgs, 2)
		require.Equal(t, llm.RoleUser, msgs[1].Role)
		require.Equal(t, "I have ten years of experience with Go.", msgs[1].Content)
		require.Equal(t, "I have ten years of experience with Go.", h.o.congruencyInput().Conversation[1].Content)
	})

	t.Run(`growing utterance cancels the in-flight reply`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		h.gen.block = true
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1, agent("a"), user("I"))))
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionUpdateOnly, -1, agent("a"), user("I think so"))))

		require.EqualValues(t, 1, h.gen.canceled.Load())
		require.Equal(t, 2, h.o.Turns())
	})

	t.Run(`finished entries are not rewritten`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionUpdateOnly, -1, agent("a"), user("b"), agent("c"))))
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionUpdateOnly, -1, agent("a"), user("changed"), agent("c2"))))

		in := h.o.congruencyInput().Conversation
		require.Equal(t, "b", in[1].Content)
		require.Equal(t, "c2", in[2].Content)
	})

	t.Run(`agent revision does not cancel the reply`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		h.gen.block = true
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1, user("hi"), agent("Hel"))))
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionUpdateOnly, -1, user("hi"), agent("Hello there"))))
		require.Zero(t, h.gen.canceled.Load())
	})

	t.Run(`history only grows`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionUpdateOnly, -1, agent("a"), user("b"), agent("c"))))
		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionUpdateOnly, -1, agent("a"))))
		require.Equal(t, 3, h.o.Turns())
	})

	t.Run(`malformed frames are dropped without closing`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		for _, raw := range []string{`{`, `{"interaction_type":"dance"}`, `{"interaction_type":"response_required"}`, `{"interaction_type":"update_only","transcript":[{"role":"robot","content":"x"}]}`} {
			require.NoError(t, h.o.Handle(ctx, []byte(raw)))
		}
		require.Empty(t, h.sender.responses())
		require.NotEqual(t, StateClosed, h.o.State())
	})

	t.Run(`ping is echoed`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		require.NoError(t, h.o.Handle(ctx, []byte(`{"interaction_type":"ping_pong","timestamp":1700000000000}`)))
		h.sender.mu.Lock()
		defer h.sender.mu.Unlock()
		require.Equal(t, PingPongFrame{ResponseType: "ping_pong", Timestamp: 1700000000000}, h.sender.frames[0])
	})

	t.Run(`handshake language selects the agent and prompt language`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		require.Equal(t, "agent_multi", h.o.AgentID())
		require.NoError(t, h.o.Handle(ctx, []byte(`{"interaction_type":"config","language":"es-MX","persona":"friendly"}`)))
		require.Equal(t, "agent_es", h.o.AgentID())

		require.NoError(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1, agent("Hola"), user("Hola"))))
		waitTurn(h.o)
		require.Contains(t, h.gen.lastRequest().System, "Spanish")
	})
}

func TestOrchestratorLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run(`start acknowledges with config`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		require.NoError(t, h.o.Start(ctx))
		require.Equal(t, StateConfigExchanged, h.o.State())
		h.sender.mu.Lock()
		require.Equal(t, configFrame(), h.sender.frames[0])
		h.sender.mu.Unlock()
	})

	t.Run(`client disconnect releases state without restoring`, func(t *testing.T) {
		h := newHarness(t, extremeVerdict)
		require.NoError(t, h.o.Start(ctx))
		h.o.Close(ReasonClientHangup)

		select {
		case <-h.o.Done():
		default:
			t.Fatal("session not released")
		}
		require.ErrorIs(t, h.o.Handle(ctx, frame(t, InteractionResponseRequired, 1, user("b"))), ErrClosed)
		require.Empty(t, h.restorer.scheduled())
		require.Equal(t, ReasonClientHangup, h.o.Reason())
		h.sender.mu.Lock()
		require.True(t, h.sender.closed)
		h.sender.mu.Unlock()

		h.o.Wait()
		require.ElementsMatch(t, []string{models.CallEventConnected, models.CallEventTerminated}, h.events.recorded())
	})

	t.Run(`termination happens once across paths`, func(t *testing.T) {
		h := newHarness(t, congruentAnswer)
		h.o.Shutdown()
		h.o.Shutdown()
		h.o.Close(ReasonTransportError)

		ends := 0
		for _, r := range h.sender.responses() {
			if r.EndCall {
				ends++
			}
		}
		require.Equal(t, 1, ends)
		require.Equal(t, ReasonShutdown, h.o.Reason())
	})

	t.Run(`incomplete call context is refused`, func(t *testing.T) {
		_, err := New(Deps{Call: &models.CallContext{CallID: "c"}, Sender: &fakeSender{}, Generator: &fakeGenerator{}})
		require.Error(t, err)
	})
}
