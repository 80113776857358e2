// Package session runs one live interview call: it bridges the voice
// transport and the completion service, keeps the interview clock and
// applies the early-termination gate.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/mockcall/internal/congruency"
	"github.com/yoockh/mockcall/internal/interview"
	"github.com/yoockh/mockcall/internal/logger"
	"github.com/yoockh/mockcall/internal/models"
	"github.com/yoockh/mockcall/internal/providers/llm"
)

type State int32

const (
	StateConnecting State = iota
	StateConfigExchanged
	StateConversing
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConfigExchanged:
		return "config_exchanged"
	case StateConversing:
		return "conversing"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	ReasonCongruency      = "congruency_mismatch"
	ReasonTimeLimit       = "time_limit"
	ReasonClientHangup    = "client_disconnect"
	ReasonTransportError  = "transport_error"
	ReasonShutdown        = "shutdown"
	ReasonReplaced        = "replaced"
	restoreReason         = "early termination: resume does not match the target job"
	shutdownLine          = "I'm sorry, we need to end our session here. Thank you for your time today."
	openingNudge          = "(The call has just connected. Greet the candidate briefly and ask your first question.)"
	reminderNudge         = "(The candidate has been quiet for a while. Check in gently and repeat or rephrase your last question.)"
	wrapUpInstruction     = "\n\nTime is almost up. Start wrapping up: ask at most one more short question, then thank the candidate."
	defaultSideEffectWait = 5 * time.Second
)

var ErrClosed = errors.New("session closed")

// Sender delivers outbound frames to the voice transport. Implementations
// must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, frame any) error
	Close() error
}

type Generator interface {
	StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan string, <-chan error)
}

// Checker is the one-shot early-termination gate.
type Checker interface {
	Evaluate(ctx context.Context, elapsedMinutes float64, in congruency.Input) (congruency.Decision, bool)
}

type RestoreRequest struct {
	UserID      string `json:"user_id"`
	CallID      string `json:"call_id"`
	InterviewID string `json:"interview_id"`
	Amount      int    `json:"amount"`
	Reason      string `json:"reason"`
}

// CreditRestorer hands a restoration off to a retryable background task.
type CreditRestorer interface {
	ScheduleRestore(ctx context.Context, req RestoreRequest) error
}

type EventRecorder interface {
	Record(ctx context.Context, ev *models.CallEvent) error
}

type Config struct {
	MaxMinutes  int
	Temperature float32
	MaxTokens   int32
	// SideEffectTimeout bounds the closing line, restore hand-off and event writes.
	SideEffectTimeout time.Duration
}

type Deps struct {
	Call      *models.CallContext
	Sender    Sender
	Generator Generator
	Gate      Checker
	Restorer  CreditRestorer
	Events    EventRecorder
	Agents    Agents
	Config    Config
	Log       logrus.FieldLogger
	Now       func() time.Time
	// AfterFunc arms the hard-limit watchdog and returns its stop func.
	// Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)
}

// Orchestrator owns all mutable state of one call. Inbound frames enter
// through Handle and are processed strictly in arrival order; reply
// generation runs on its own goroutine so a newer utterance can cancel it.
type Orchestrator struct {
	call     *models.CallContext
	sender   Sender
	gen      Generator
	gate     Checker
	restorer CreditRestorer
	events   EventRecorder
	agents   Agents
	cfg      Config
	log      *logrus.Entry
	now      func() time.Time
	timer    *interview.Timer

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu             sync.Mutex
	history        []Utterance
	language       string
	agentID        string
	lastResponseID int
	pendingWarning string
	wrappingUp     bool

	state atomic.Int32

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
	turnDone   chan struct{}

	endOnce   sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	reason    atomic.Value // string

	afterFunc    func(time.Duration, func()) func() bool
	stopWatchdog func() bool
	wg           sync.WaitGroup
}

func New(d Deps) (*Orchestrator, error) {
	if d.Call == nil || !d.Call.Valid() {
		return nil, errors.New("session: call context is incomplete")
	}
	if d.Sender == nil || d.Generator == nil || d.Gate == nil {
		return nil, errors.New("session: sender, generator and gate are required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.AfterFunc == nil {
		d.AfterFunc = func(dur time.Duration, f func()) func() bool {
			return time.AfterFunc(dur, f).Stop
		}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Config.MaxMinutes <= 0 {
		d.Config.MaxMinutes = interview.DefaultMaxDurationMinutes
	}
	if d.Config.SideEffectTimeout <= 0 {
		d.Config.SideEffectTimeout = defaultSideEffectWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		call:     d.Call,
		sender:   d.Sender,
		gen:      d.Generator,
		gate:     d.Gate,
		restorer: d.Restorer,
		events:   d.Events,
		agents:   d.Agents,
		cfg:      d.Config,
		log: logger.ForCall(d.Log, d.Call.CallID).WithFields(logrus.Fields{
			"user_id":      d.Call.UserID,
			"interview_id": d.Call.InterviewID,
		}),
		now:        d.Now,
		timer:      interview.NewTimer(d.Config.MaxMinutes, d.Now),
		baseCtx:    ctx,
		baseCancel: cancel,
		language:   d.Call.Language,
		closed:     make(chan struct{}),
		afterFunc:  d.AfterFunc,
	}
	o.agentID = o.agents.ForLanguage(o.language)
	o.reason.Store("")
	return o, nil
}

func (o *Orchestrator) CallID() string          { return o.call.CallID }
func (o *Orchestrator) State() State            { return State(o.state.Load()) }
func (o *Orchestrator) Reason() string          { return o.reason.Load().(string) }
func (o *Orchestrator) Timer() *interview.Timer { return o.timer }

// Done is closed once the session has released its state.
func (o *Orchestrator) Done() <-chan struct{} { return o.closed }

func (o *Orchestrator) AgentID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.agentID
}

func (o *Orchestrator) Turns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.history)
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closed:
		return true
	default:
		return false
	}
}

// Start acknowledges the connection and arms the hard time limit.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.sender.Send(ctx, configFrame()); err != nil {
		return err
	}
	o.state.CompareAndSwap(int32(StateConnecting), int32(StateConfigExchanged))
	o.stopWatchdog = o.afterFunc(o.timer.MaxDuration(), o.expire)
	o.record(models.CallEventConnected, "", map[string]any{
		"agent_id": o.AgentID(),
		"language": o.language,
	})
	o.log.WithField("agent_id", o.AgentID()).Info("call connected")
	return nil
}

// Handle processes one raw inbound frame. Malformed frames are logged and
// dropped. ErrClosed tells the transport to stop reading.
func (o *Orchestrator) Handle(ctx context.Context, raw []byte) error {
	if o.isClosed() {
		return ErrClosed
	}
	in, err := ParseInbound(raw)
	if err != nil {
		o.log.WithError(err).Warn("dropping inbound frame")
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isClosed() || o.State() == StateEnding {
		return ErrClosed
	}

	switch in.InteractionType {
	case InteractionPingPong:
		o.sendBounded(ctx, PingPongFrame{ResponseType: "ping_pong", Timestamp: in.Timestamp})
		return nil
	case InteractionConfig:
		if lang := strings.TrimSpace(in.Language); lang != "" {
			o.language = lang
			o.agentID = o.agents.ForLanguage(lang)
		}
		o.state.CompareAndSwap(int32(StateConnecting), int32(StateConfigExchanged))
		o.log.WithFields(logrus.Fields{"language": o.language, "persona": in.Persona}).Debug("handshake config received")
		return nil
	}

	if !o.state.CompareAndSwap(int32(StateConfigExchanged), int32(StateConversing)) {
		o.state.CompareAndSwap(int32(StateConnecting), int32(StateConversing))
	}
	if in.ResponseID != nil {
		o.lastResponseID = *in.ResponseID
	}
	if o.syncHistory(in.Transcript) {
		o.cancelTurn()
	}

	if o.timer.HasExceededTime() {
		o.terminate(ReasonTimeLimit, o.timer.TimeUpMessage(), false)
		return ErrClosed
	}
	if o.timer.ShouldWarn() {
		o.pendingWarning = o.timer.WarningMessage()
		o.wrappingUp = true
		o.record(models.CallEventTimeWarning, "", map[string]any{"remaining_minutes": o.timer.RemainingMinutes()})
	}

	if d, ran := o.gate.Evaluate(ctx, o.timer.ElapsedMinutes(), o.congruencyInput()); ran {
		o.record(models.CallEventCongruencyChecked, "", map[string]any{
			"is_congruent":   d.Analysis.IsCongruent,
			"confidence":     d.Analysis.Confidence,
			"recommendation": string(d.Analysis.Recommendation),
			"extreme":        d.Analysis.IsExtremelyIncompatible,
			"failed_open":    d.FailedOpen,
			"matched_skills": d.Analysis.MatchedSkills,
			"missing_skills": d.Analysis.MissingSkills,
			"transferable":   d.Analysis.TransferableSkills,
		})
		if d.ShouldEnd() {
			line := ClosingMismatch
			if d.Analysis.IsExtremelyIncompatible {
				line = ClosingExtremeMismatch
			}
			o.terminate(ReasonCongruency, line, true)
			return ErrClosed
		}
	}

	if in.wantsReply() {
		o.cancelTurn()
		o.startTurn(*in.ResponseID, in.InteractionType == InteractionReminderRequired)
	}
	return nil
}

// syncHistory brings history up to date with the inbound transcript and
// reports whether the candidate said something new. Finished entries are
// never rewritten; only the trailing entry may still be growing, so its
// content is replaced when the transcript revises it in place.
func (o *Orchestrator) syncHistory(transcript []Utterance) bool {
	n := len(o.history)
	if len(transcript) < n || len(transcript) == 0 {
		return false
	}
	newUser := false
	if n > 0 {
		last, in := &o.history[n-1], transcript[n-1]
		if in.Role == last.Role && in.Content != last.Content {
			last.Content = in.Content
			newUser = in.Role == SpeakerUser
		}
	}
	for _, u := range transcript[n:] {
		o.history = append(o.history, u)
		if u.Role == SpeakerUser {
			newUser = true
		}
	}
	return newUser
}

func (o *Orchestrator) congruencyInput() congruency.Input {
	turns := make([]congruency.Turn, 0, len(o.history))
	for _, u := range o.history {
		turns = append(turns, congruency.Turn{Role: u.Role, Content: u.Content})
	}
	return congruency.Input{
		ResumeText:     o.call.ResumeText,
		JobTitle:       o.call.JobTitle,
		JobDescription: o.call.JobDescription,
		Conversation:   turns,
	}
}

func (o *Orchestrator) chatRequest(reminder bool) llm.ChatRequest {
	system := SystemPrompt(o.call, o.language, o.cfg.MaxMinutes)
	if o.wrappingUp {
		system += wrapUpInstruction
	}

	msgs := make([]llm.Message, 0, len(o.history)+1)
	for _, u := range o.history {
		if strings.TrimSpace(u.Content) == "" {
			continue
		}
		role := llm.RoleAssistant
		if u.Role == SpeakerUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: u.Content})
	}
	switch {
	case len(msgs) == 0:
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: openingNudge})
	case reminder:
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: reminderNudge})
	}
	return llm.ChatRequest{
		System:      system,
		Messages:    msgs,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}
}

func (o *Orchestrator) startTurn(responseID int, reminder bool) {
	req := o.chatRequest(reminder)
	lead := o.pendingWarning
	o.pendingWarning = ""

	ctx, cancel := context.WithCancel(o.baseCtx)
	done := make(chan struct{})
	o.turnMu.Lock()
	o.turnCancel, o.turnDone = cancel, done
	o.turnMu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				o.log.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("reply turn panicked")
			}
		}()
		o.runTurn(ctx, responseID, req, lead)
	}()
}

func (o *Orchestrator) runTurn(ctx context.Context, id int, req llm.ChatRequest, lead string) {
	log := o.log.WithField("response_id", id)
	if lead != "" && !o.sendTurn(ctx, responseFrame(id, lead+" ", false, false)) {
		return
	}

	chunks, errs := o.gen.StreamChat(ctx, req)
	ok := true
	for c := range chunks {
		if !ok || c == "" {
			continue
		}
		ok = o.sendTurn(ctx, responseFrame(id, c, false, false))
	}
	err, _ := <-errs

	if ctx.Err() != nil || o.isClosed() {
		log.Debug("reply turn abandoned")
		return
	}
	if err != nil {
		log.WithError(err).Warn("reply generation failed, sending apology")
		o.sendTurn(ctx, responseFrame(id, apologyLine, true, false))
		return
	}
	if ok {
		o.sendTurn(ctx, responseFrame(id, "", true, false))
	}
}

func (o *Orchestrator) sendTurn(ctx context.Context, f ResponseFrame) bool {
	if ctx.Err() != nil || o.isClosed() {
		return false
	}
	if err := o.sender.Send(ctx, f); err != nil {
		o.log.WithError(err).Warn("send failed")
		return false
	}
	return true
}

func (o *Orchestrator) sendBounded(parent context.Context, frame any) {
	ctx, cancel := context.WithTimeout(parent, o.cfg.SideEffectTimeout)
	defer cancel()
	if err := o.sender.Send(ctx, frame); err != nil {
		o.log.WithError(err).Warn("send failed")
	}
}

// cancelTurn stops any in-flight reply and waits for its goroutine, so no
// stale chunk can follow whatever is sent next.
func (o *Orchestrator) cancelTurn() {
	o.turnMu.Lock()
	cancel, done := o.turnCancel, o.turnDone
	o.turnCancel, o.turnDone = nil, nil
	o.turnMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// terminate speaks the closing line with end_call and closes the session.
// It runs at most once per call whichever path gets there first.
func (o *Orchestrator) terminate(reason, line string, restore bool) {
	o.endOnce.Do(func() {
		o.state.Store(int32(StateEnding))
		o.cancelTurn()
		o.log.WithField("reason", reason).Info("ending call")

		// the call's own context may already be gone
		o.sendBounded(context.Background(), responseFrame(o.lastResponseID, line, true, true))
		if restore {
			o.scheduleRestore()
		}
		o.close(reason)
	})
}

func (o *Orchestrator) scheduleRestore() {
	log := o.log.WithField("idempotency_ref", o.call.CallID)
	if o.restorer == nil {
		log.Error("no credit restorer configured, credit not restored")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SideEffectTimeout)
	defer cancel()
	err := o.restorer.ScheduleRestore(ctx, RestoreRequest{
		UserID:      o.call.UserID,
		CallID:      o.call.CallID,
		InterviewID: o.call.InterviewID,
		Amount:      1,
		Reason:      restoreReason,
	})
	if err != nil {
		log.WithError(err).Error("failed to schedule credit restore")
		return
	}
	log.Info("credit restore scheduled")
}

// expire fires at the hard time limit regardless of conversational state.
func (o *Orchestrator) expire() {
	o.cancelTurn()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.terminate(ReasonTimeLimit, o.timer.TimeUpMessage(), false)
}

// Shutdown ends the call with a short closing line; used when the process
// is going away.
func (o *Orchestrator) Shutdown() {
	o.cancelTurn()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.terminate(ReasonShutdown, shutdownLine, false)
}

// Close releases the session without speaking. The transport calls it when
// the socket goes away.
func (o *Orchestrator) Close(reason string) {
	o.endOnce.Do(func() {
		o.close(reason)
	})
}

func (o *Orchestrator) close(reason string) {
	o.closeOnce.Do(func() {
		o.reason.Store(reason)
		o.record(models.CallEventTerminated, reason, map[string]any{
			"elapsed_minutes": o.timer.ElapsedMinutes(),
		})
		o.state.Store(int32(StateClosed))
		close(o.closed)
		if o.stopWatchdog != nil {
			o.stopWatchdog()
		}
		o.cancelTurn()
		o.baseCancel()
		if err := o.sender.Close(); err != nil {
			o.log.WithError(err).Debug("transport close")
		}
		o.log.WithField("reason", reason).Info("call closed")
	})
}

// record writes a lifecycle event in the background. Nothing is written
// once the session is closed.
func (o *Orchestrator) record(typ, reason string, detail map[string]any) {
	if o.events == nil || o.isClosed() {
		return
	}
	ev := &models.CallEvent{
		CallID:      o.call.CallID,
		UserID:      o.call.UserID,
		InterviewID: o.call.InterviewID,
		Type:        typ,
		Reason:      reason,
		Detail:      detail,
		At:          o.now().UTC(),
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SideEffectTimeout)
		defer cancel()
		if err := o.events.Record(ctx, ev); err != nil {
			o.log.WithError(err).WithField("event", typ).Warn("failed to record call event")
		}
	}()
}

// Wait blocks until background event writes have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }
