package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/rolemesh/agent"
	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/logging"
	"github.com/hupe1980/rolemesh/persona"
)

// StopReason explains why a conversation ended.
type StopReason string

const (
	StopExitPhrase StopReason = "exit_phrase"
	StopResolved   StopReason = "resolved"
	StopEscalated  StopReason = "escalated"
	StopMaxTurns   StopReason = "max_turns"
	StopCancelled  StopReason = "cancelled"
)

// DefaultExitPhrases end a conversation when a reply consists of one of them.
var DefaultExitPhrases = []string{"exit", "quit", "end", "stop"}

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxTurns bounds the number of Execute calls per run.
	MaxTurns int
	// ExitPhrases are compared against whole replies, case-insensitively.
	ExitPhrases []string
	// ConclusionKeyword in a support-side reply ends the run as resolved.
	// Empty disables the check.
	ConclusionKeyword string
	// TurnBufferSize sets channel buffering for streamed turns.
	TurnBufferSize int
	// Fallback builds a persona for names the scenario does not define.
	Fallback func(name string) core.Persona
	Logger   logging.Logger
}

// Turn is one completed Execute call.
type Turn struct {
	Index   int
	Speaker string
	Role    core.RoleType
	Input   string
	Result  agent.Result
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	SessionID string
	Turns     int
	Reason    StopReason
}

// Runner coordinates two agents over one session. Public methods are safe
// for concurrent use, but runs on the same Runner serialise on the agents.
type Runner struct {
	first, second *agent.Agent

	maxTurns          int
	exitPhrases       []string
	conclusionKeyword string
	turnBufferSize    int
	fallback          func(name string) core.Persona
	logger            logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner; first speaks first.
func New(first, second *agent.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxTurns:          10,
		ExitPhrases:       DefaultExitPhrases,
		ConclusionKeyword: "resolution",
		TurnBufferSize:    16,
		Fallback:          persona.Fallback,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTurns < 1 {
		opts.MaxTurns = 1
	}

	phrases := make([]string, len(opts.ExitPhrases))
	for i, p := range opts.ExitPhrases {
		phrases[i] = strings.ToLower(strings.TrimSpace(p))
	}

	return &Runner{
		first:             first,
		second:            second,
		maxTurns:          opts.MaxTurns,
		exitPhrases:       phrases,
		conclusionKeyword: strings.ToLower(opts.ConclusionKeyword),
		turnBufferSize:    opts.TurnBufferSize,
		fallback:          opts.Fallback,
		logger:            logging.OrNoOp(opts.Logger),
		activeRuns:        make(map[string]context.CancelFunc),
	}
}

// SessionID returns the session both agents write to.
func (r *Runner) SessionID() string { return r.first.SessionID() }

// Personas returns the personas currently bound to the two agents.
func (r *Runner) Personas() []core.Persona {
	var out []core.Persona
	for _, a := range []*agent.Agent{r.first, r.second} {
		if p, ok := a.Persona(); ok {
			out = append(out, p)
		}
	}
	return out
}

// Setup binds both personas from scenario onto one shared session. When a
// persona or the scenario is unknown, both agents move to a fresh session and
// the missing role is played by a fallback persona. Other failures abort.
func (r *Runner) Setup(ctx context.Context, scenario, firstName, secondName string) error {
	if r.second.SessionID() != r.first.SessionID() {
		r.second.Reset(r.first.SessionID())
	}

	errFirst := r.first.AssignRole(ctx, scenario, firstName)
	errSecond := r.second.AssignRole(ctx, scenario, secondName)
	for _, err := range []error{errFirst, errSecond} {
		if err != nil && !core.IsKind(err, core.KindNotFound) {
			return fmt.Errorf("setup: %w", err)
		}
	}
	if errFirst == nil && errSecond == nil {
		return nil
	}

	sessionID := r.first.Reset("")
	r.second.Reset(sessionID)
	r.logger.Warn("runner.setup.fallback", "scenario", scenario, "session", sessionID)

	if err := r.assignOrFallback(ctx, r.first, scenario, firstName, errFirst == nil); err != nil {
		return err
	}
	return r.assignOrFallback(ctx, r.second, scenario, secondName, errSecond == nil)
}

func (r *Runner) assignOrFallback(ctx context.Context, a *agent.Agent, scenario, name string, known bool) error {
	if known {
		if err := a.AssignRole(ctx, scenario, name); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		return nil
	}
	r.logger.Info("runner.persona.fallback", "persona", name)
	if err := a.AssignPersona(ctx, r.fallback(name), nil); err != nil {
		return fmt.Errorf("setup fallback %q: %w", name, err)
	}
	return nil
}

// Run starts an asynchronous conversation seeded with message, streaming
// each turn. The summary channel yields exactly one value once the turn
// channel is closed.
func (r *Runner) Run(ctx context.Context, message string) (string, <-chan Turn, <-chan Summary) {
	runID := core.NewID()
	turns := make(chan Turn, r.turnBufferSize)
	done := make(chan Summary, 1)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()
		}()

		summary := r.converse(ctx, message, turns)
		summary.RunID = runID
		close(turns)
		done <- summary
		close(done)
	}()

	return runID, turns, done
}

// Converse runs a conversation to completion and returns every turn.
func (r *Runner) Converse(ctx context.Context, message string) ([]Turn, Summary) {
	_, turns, done := r.Run(ctx, message)
	var out []Turn
	for t := range turns {
		out = append(out, t)
	}
	return out, <-done
}

// Cancel cancels a running conversation by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

func (r *Runner) converse(ctx context.Context, message string, turns chan<- Turn) Summary {
	summary := Summary{SessionID: r.SessionID()}
	if r.isExit(message) {
		summary.Reason = StopExitPhrase
		return summary
	}

	current, other := r.first, r.second
	for i := 0; i < r.maxTurns; i++ {
		if ctx.Err() != nil {
			summary.Reason = StopCancelled
			return summary
		}

		p, _ := current.Persona()
		sender, _ := other.Persona()
		res := current.Execute(ctx, message, string(sender.RoleType))
		summary.Turns++

		turn := Turn{Index: i, Speaker: p.Name, Role: p.RoleType, Input: message, Result: res}
		select {
		case turns <- turn:
		case <-ctx.Done():
			summary.Reason = StopCancelled
			return summary
		}
		r.logger.Debug("runner.turn.completed", "session", summary.SessionID, "turn", i, "speaker", p.Name, "status", string(res.Status))

		if res.Degraded() {
			if res.Signal == core.SignalEscalate {
				summary.Reason = StopEscalated
				return summary
			}
			// same speaker retries the same input on its next turn
			continue
		}

		if r.isExit(res.Response) {
			summary.Reason = StopExitPhrase
			return summary
		}
		if r.concludes(p, res.Response) {
			summary.Reason = StopResolved
			return summary
		}

		message = res.Response
		current, other = other, current
	}

	summary.Reason = StopMaxTurns
	return summary
}

func (r *Runner) isExit(text string) bool {
	t := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!"))
	for _, p := range r.exitPhrases {
		if t == p {
			return true
		}
	}
	return false
}

func (r *Runner) concludes(p core.Persona, text string) bool {
	if r.conclusionKeyword == "" || p.RoleType != core.RoleSupport {
		return false
	}
	return strings.Contains(strings.ToLower(text), r.conclusionKeyword)
}
