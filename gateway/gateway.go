// Package gateway implements the rate-limited call gateway shared by every
// agent in a process. A Gateway couples a SlidingWindow admission controller
// with a model.Provider and owns the timeout / retry / backoff policy:
//
//   - each attempt is admitted through the window, then runs under CallTimeout
//   - transport failures are retried up to MaxAttempts with exponential backoff
//   - service (non-2xx) failures are returned immediately
//   - exhausting every attempt yields a core.KindRateExhausted error
//
// A Gateway is constructed explicitly and passed by pointer; there is no
// process-wide instance.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/logging"
	"github.com/hupe1980/rolemesh/model"
)

// Options configures a Gateway.
type Options struct {
	// MaxCalls admitted per Period across all callers. Zero disables limiting.
	MaxCalls int
	Period   time.Duration
	// CallTimeout bounds one outbound attempt. Zero means no per-attempt bound.
	CallTimeout time.Duration
	// MaxAttempts is the total number of tries for retryable failures.
	MaxAttempts int
	Backoff     Backoff
	// MaxTokens is applied to requests that do not set their own.
	MaxTokens int64
	Logger    logging.Logger
}

// DefaultOptions mirror the generation service's published limits.
func DefaultOptions() Options {
	return Options{
		MaxCalls:    5,
		Period:      time.Second,
		CallTimeout: 30 * time.Second,
		MaxAttempts: 3,
		Backoff:     DefaultBackoff,
		MaxTokens:   500,
		Logger:      logging.NoOpLogger{},
	}
}

// Gateway guards a provider with sliding-window admission and retries.
type Gateway struct {
	provider model.Provider
	window   *SlidingWindow
	opts     Options
	logger   logging.Logger
}

// New constructs a Gateway around provider.
func New(provider model.Provider, optFns ...func(o *Options)) *Gateway {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Gateway{
		provider: provider,
		window:   NewSlidingWindow(opts.MaxCalls, opts.Period),
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Window exposes the shared admission window.
func (g *Gateway) Window() *SlidingWindow { return g.window }

// Info describes the underlying provider.
func (g *Gateway) Info() model.Info { return g.provider.Info() }

// Call executes req, blocking until it succeeds or the retry budget is spent.
func (g *Gateway) Call(ctx context.Context, req model.Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.opts.Backoff.Delay(attempt - 1)
			g.logger.Debug("gateway.call.backoff", "attempt", attempt+1, "delay", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return "", core.NewError(core.KindTransport, "gateway.call", err)
			}
		}

		slot, err := g.Acquire(ctx)
		if err != nil {
			return "", err
		}
		text, err := slot.call(ctx, req, attempt+1)
		slot.Release()
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", core.NewError(core.KindTransport, "gateway.call", ctx.Err())
		}
		if !core.IsRetryable(err) {
			return "", err
		}
		lastErr = err
		g.logger.Warn("gateway.call.retry", "attempt", attempt+1, "max_attempts", g.opts.MaxAttempts, "error", err.Error())
	}
	g.logger.Error("gateway.call.exhausted", "attempts", g.opts.MaxAttempts, "error", lastErr.Error())
	return "", core.NewError(core.KindRateExhausted, "gateway.call", lastErr)
}

// Acquire waits for admission and returns a Slot good for exactly one call.
func (g *Gateway) Acquire(ctx context.Context) (*Slot, error) {
	waited, err := g.window.Wait(ctx)
	if err != nil {
		return nil, core.NewError(core.KindTransport, "gateway.acquire", err)
	}
	if waited > 0 {
		g.logger.Debug("gateway.acquire.waited", "wait", waited)
	}
	return &Slot{g: g, waited: waited}, nil
}

// ErrSlotUsed is returned when a Slot is called after use or release.
var ErrSlotUsed = errors.New("gateway slot already used or released")

// Slot is an admitted permit for a single outbound call.
type Slot struct {
	g      *Gateway
	waited time.Duration
	mu     sync.Mutex
	done   bool
}

// Waited returns how long admission took.
func (s *Slot) Waited() time.Duration { return s.waited }

// Call performs the slot's single outbound attempt without retries.
func (s *Slot) Call(ctx context.Context, req model.Request) (string, error) {
	return s.call(ctx, req, 1)
}

// Release gives up the slot. It is safe to call more than once.
func (s *Slot) Release() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *Slot) call(ctx context.Context, req model.Request, attempt int) (string, error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return "", core.NewError(core.KindValidation, "gateway.slot", ErrSlotUsed)
	}
	s.done = true
	s.mu.Unlock()

	g := s.g
	if req.MaxTokens <= 0 {
		req.MaxTokens = g.opts.MaxTokens
	}

	attemptCtx := ctx
	if g.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := g.provider.Complete(attemptCtx, req)
	if err != nil && ctx.Err() == nil && attemptCtx.Err() != nil && core.KindOf(err) == core.KindUnknown {
		// per-attempt deadline hit inside a provider that doesn't classify
		err = core.NewError(core.KindTransport, "gateway.call", err)
	}
	s.logCall(attempt, time.Since(start), err)
	return text, err
}

type gatewayCallLogger interface {
	LogGatewayCall(model string, attempt int, waited, dur time.Duration, err error)
}

func (s *Slot) logCall(attempt int, dur time.Duration, err error) {
	if l, ok := s.g.logger.(gatewayCallLogger); ok {
		l.LogGatewayCall(s.g.provider.Info().Name, attempt, s.waited, dur, err)
		return
	}
	if err != nil {
		s.g.logger.Debug("gateway.call.failed", "attempt", attempt, "duration", dur, "error", err.Error())
		return
	}
	s.g.logger.Debug("gateway.call.completed", "attempt", attempt, "duration", dur)
}
