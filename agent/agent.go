package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/logging"
	"github.com/hupe1980/rolemesh/model"
)

// State is the lifecycle position of an Agent.
type State string

const (
	StateUnassigned State = "unassigned"
	StateAssigned   State = "assigned"
	StateExecuting  State = "executing"
	StateReady      State = "ready"
	StateDegraded   State = "degraded"
)

// DefaultHistoryWindow is the number of recent messages fed into a prompt.
const DefaultHistoryWindow = 6

// Generator produces a reply for a prompt. *gateway.Gateway is the production
// implementation.
type Generator interface {
	Call(ctx context.Context, req model.Request) (string, error)
}

// Options configures an Agent.
type Options struct {
	// HistoryWindow bounds how many recent messages are sent to the model.
	HistoryWindow int
	// SessionID joins an existing session; empty starts a fresh one.
	SessionID string
	Logger    logging.Logger
}

// Agent binds one persona to a conversation session. Methods are safe for
// concurrent use, but only one Execute runs at a time; overlapping calls are
// rejected with a busy Degraded result.
type Agent struct {
	store  core.ConversationStore
	gen    Generator
	source core.PersonaSource
	window int
	logger logging.Logger

	turn sync.Mutex // held for the duration of a turn or role assignment
	// pending is the input stored by the last turn that ended in retry_later;
	// guarded by turn.
	pending pendingInput

	mu        sync.RWMutex
	state     State
	persona   *core.Persona
	scenario  *core.Scenario
	sessionID string
}

// New creates an unassigned agent.
func New(store core.ConversationStore, gen Generator, source core.PersonaSource, optFns ...func(o *Options)) *Agent {
	opts := Options{HistoryWindow: DefaultHistoryWindow}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.SessionID == "" {
		opts.SessionID = core.NewID()
	}
	return &Agent{
		store:     store,
		gen:       gen,
		source:    source,
		window:    opts.HistoryWindow,
		logger:    logging.OrNoOp(opts.Logger),
		state:     StateUnassigned,
		sessionID: opts.SessionID,
	}
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// SessionID returns the session the agent reads from and writes to.
func (a *Agent) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionID
}

// Persona returns the bound persona, if any.
func (a *Agent) Persona() (core.Persona, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.persona == nil {
		return core.Persona{}, false
	}
	return *a.persona, true
}

// Scenario returns the bound scenario, which may be nil for fallback personas.
func (a *Agent) Scenario() *core.Scenario {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scenario
}

// AssignRole looks up persona in scenario and binds it. A missing scenario or
// persona yields a core.KindNotFound error and leaves the agent unchanged.
func (a *Agent) AssignRole(ctx context.Context, scenario, persona string) error {
	if a.source == nil {
		return core.Errorf(core.KindNotFound, "agent.assign_role", "no persona source configured")
	}
	sc, err := a.source.Scenario(scenario)
	if err != nil {
		return fmt.Errorf("assign role %q: %w", persona, err)
	}
	p, err := a.source.Persona(scenario, persona)
	if err != nil {
		return fmt.Errorf("assign role %q: %w", persona, err)
	}
	return a.AssignPersona(ctx, p, sc)
}

// AssignPersona binds an already resolved persona. sc may be nil, in which
// case no story arc applies.
func (a *Agent) AssignPersona(ctx context.Context, p core.Persona, sc *core.Scenario) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !a.turn.TryLock() {
		return core.Errorf(core.KindBusy, "agent.assign_role", "agent is executing a turn")
	}
	defer a.turn.Unlock()

	sessionID := a.SessionID()
	note := core.NewSystemNote(core.KindSystemNote, assignmentNote(p, sc))
	note.Metadata.Persona = p.Name
	if err := a.store.Append(ctx, sessionID, note); err != nil {
		return fmt.Errorf("record role assignment: %w", err)
	}

	a.mu.Lock()
	a.persona = &p
	a.scenario = sc
	a.state = StateAssigned
	a.mu.Unlock()
	a.pending = pendingInput{}

	a.logger.Info("agent.role.assigned", "session", sessionID, "persona", p.Name, "role_type", string(p.RoleType))
	return nil
}

func assignmentNote(p core.Persona, sc *core.Scenario) string {
	if sc == nil {
		return fmt.Sprintf("Role assigned: %s (%s)", p.Name, p.RoleType)
	}
	return fmt.Sprintf("Role assigned: %s (%s) in scenario %s", p.Name, p.RoleType, sc.Name)
}

// Reset drops the bound persona and moves the agent to a fresh session, the
// recovery path after a NotFound role assignment. An empty sessionID
// generates a new one. It returns the session id now in use.
func (a *Agent) Reset(sessionID string) string {
	a.turn.Lock()
	defer a.turn.Unlock()

	if sessionID == "" {
		sessionID = core.NewID()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.persona = nil
	a.scenario = nil
	a.state = StateUnassigned
	a.sessionID = sessionID
	a.pending = pendingInput{}
	a.logger.Debug("agent.reset", "session", sessionID)
	return sessionID
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Execute runs one turn: input from senderRole is stored, a reply is
// generated in the bound persona's voice, stored and classified. It never
// returns an error; failures surface as Degraded results.
func (a *Agent) Execute(ctx context.Context, input, senderRole string) Result {
	start := time.Now()
	if senderRole == "" {
		senderRole = core.RoleUser
	}

	if !a.turn.TryLock() {
		res := degraded("", core.SignalRetryLater, core.Errorf(core.KindBusy, "agent.execute", "agent is already executing a turn"))
		res.Latency = time.Since(start)
		a.logger.Warn("agent.execute.busy", "session", a.SessionID())
		return res
	}
	defer a.turn.Unlock()

	a.mu.Lock()
	if a.persona == nil {
		sessionID := a.sessionID
		a.mu.Unlock()
		err := core.Errorf(core.KindValidation, "agent.execute", "no persona assigned")
		res := degraded("", core.SignalEscalate, err)
		a.recordError(ctx, sessionID, err)
		res.Latency = time.Since(start)
		a.logResult(sessionID, res)
		return res
	}
	t := &turn{
		persona:    *a.persona,
		scenario:   a.scenario,
		sessionID:  a.sessionID,
		input:      input,
		senderRole: senderRole,
	}
	a.state = StateExecuting
	a.mu.Unlock()

	res := a.run(ctx, t)
	a.pending = pendingInput{}
	if t.inputStored && res.Degraded() && res.Signal == core.SignalRetryLater {
		a.pending = t.key()
	}
	res.Latency = time.Since(start)
	a.setState(res.Status)
	a.logResult(t.sessionID, res)
	return res
}

type turn struct {
	persona     core.Persona
	scenario    *core.Scenario
	sessionID   string
	input       string
	senderRole  string
	inputStored bool
}

type pendingInput struct {
	sessionID, senderRole, input string
}

func (t *turn) key() pendingInput {
	return pendingInput{sessionID: t.sessionID, senderRole: t.senderRole, input: t.input}
}

func (a *Agent) run(ctx context.Context, t *turn) Result {
	name := t.persona.Name

	// a retry of the turn that asked for retry_later already stored its input
	if a.pending != t.key() {
		if err := a.store.Append(ctx, t.sessionID, core.NewMessage(t.senderRole, t.input)); err != nil {
			return a.fail(ctx, t, err)
		}
	}
	t.inputStored = true

	window, err := a.store.Recent(ctx, t.sessionID, a.window, 0)
	if err != nil {
		return a.fail(ctx, t, err)
	}

	for _, beat := range detectBeats(window, t.persona, t.scenario) {
		note := core.NewSystemNote(core.KindStoryBeat, beatNote(beat))
		note.Metadata.Persona = name
		if err := a.store.Append(ctx, t.sessionID, note); err != nil {
			return a.fail(ctx, t, err)
		}
		a.logger.Debug("agent.story.beat", "session", t.sessionID, "trigger", beat.Trigger)
	}

	req, err := buildRequest(t.persona, window)
	if err != nil {
		return a.fail(ctx, t, core.NewError(core.KindValidation, "agent.prompt", err))
	}

	text, err := a.gen.Call(ctx, req)
	if err != nil {
		return a.fail(ctx, t, err)
	}

	response := formatResponse(t.persona, text)
	confidence := classifyConfidence(t.persona, t.input)
	action := classifyAction(t.persona, t.input)
	emotion := classifyEmotion(text)

	msg := core.NewMessage(string(t.persona.RoleType), response)
	msg.Metadata = &core.Metadata{
		Confidence: &confidence,
		Action:     action,
		Emotion:    emotion,
		Persona:    name,
	}
	if err := a.store.Append(ctx, t.sessionID, msg); err != nil {
		return a.fail(ctx, t, err)
	}

	return Result{
		Status:     StateReady,
		Response:   response,
		Confidence: confidence,
		Action:     action,
		Emotion:    emotion,
		Persona:    name,
	}
}

// fail converts err into a Degraded result and records an error note.
// Transport failures (cancellation included) and exhausted retries ask the
// caller to retry later; everything else asks for escalation.
func (a *Agent) fail(ctx context.Context, t *turn, err error) Result {
	signal := core.SignalEscalate
	switch {
	case core.IsKind(err, core.KindTransport), core.IsKind(err, core.KindRateExhausted):
		signal = core.SignalRetryLater
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		signal = core.SignalRetryLater
		err = core.NewError(core.KindTransport, "agent.execute", err)
	}
	a.recordError(ctx, t.sessionID, err)
	return degraded(t.persona.Name, signal, err)
}

func (a *Agent) recordError(ctx context.Context, sessionID string, err error) {
	note := core.NewSystemNote(core.KindErrorNote, fmt.Sprintf("Error: %s", err))
	// the note must land even when the turn was aborted by cancellation
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if werr := a.store.Append(writeCtx, sessionID, note); werr != nil {
		a.logger.Error("agent.error_note.failed", "session", sessionID, "error", werr.Error())
	}
}

type turnLogger interface {
	LogTurn(status string, confidence float64, action, emotion string, dur time.Duration)
}

func (a *Agent) logResult(sessionID string, res Result) {
	if res.Status == StateDegraded {
		a.logger.Warn("agent.execute.degraded",
			"session", sessionID,
			"persona", res.Persona,
			"signal", string(res.Signal),
			"reason", res.Reason,
		)
	}
	if l, ok := a.logger.(turnLogger); ok {
		l.LogTurn(string(res.Status), res.Confidence, string(res.Action), string(res.Emotion), res.Latency)
		return
	}
	a.logger.Debug("agent.execute.completed",
		"session", sessionID,
		"persona", res.Persona,
		"status", string(res.Status),
		"confidence", res.Confidence,
		"action", string(res.Action),
		"emotion", string(res.Emotion),
		"duration", res.Latency,
	)
}
