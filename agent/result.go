package agent

import (
	"time"

	"github.com/hupe1980/rolemesh/core"
)

// DegradedConfidence is reported for every turn that produced no real reply.
const DegradedConfidence = 0.1

// Fallback replies shown in place of generated text on degraded turns.
const (
	retryLaterResponse = "I'm having trouble responding right now. Please try again in a moment."
	escalateResponse   = "Something went wrong on my side. Let me pass this on to someone who can help."
)

// Result is the outcome of one Execute call.
type Result struct {
	// Status is StateReady or StateDegraded.
	Status     State
	Response   string
	Confidence float64
	// Action is always permitted by the persona; degraded turns use respond.
	Action  core.Action
	Signal  core.Signal
	Emotion core.Emotion
	// Reason explains a degraded result.
	Reason  string
	Persona string
	Latency time.Duration

	kind core.ErrorKind
}

// Degraded reports whether the turn failed to produce a real reply.
func (r Result) Degraded() bool { return r.Status == StateDegraded }

// ErrorKind returns the failure kind behind a degraded result.
func (r Result) ErrorKind() core.ErrorKind { return r.kind }

func degraded(persona string, signal core.Signal, err error) Result {
	text := escalateResponse
	if signal == core.SignalRetryLater {
		text = retryLaterResponse
	}
	return Result{
		Status:     StateDegraded,
		Response:   text,
		Confidence: DegradedConfidence,
		Action:     core.ActionRespond,
		Signal:     signal,
		Emotion:    core.EmotionNeutral,
		Reason:     err.Error(),
		Persona:    persona,
		kind:       core.KindOf(err),
	}
}
