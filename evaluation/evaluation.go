// Package evaluation scores finished conversations: how many turns degraded,
// how confident the personas were and whether any turn claimed an action its
// persona was not allowed to take.
package evaluation

import (
	"fmt"
	"sort"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/runner"
)

// Conversation is the input to an Evaluator.
type Conversation struct {
	Personas []core.Persona
	Turns    []runner.Turn
}

// Result summarizes one conversation.
type Result struct {
	Turns    int
	Degraded int
	// MeanConfidence averages successful turns only.
	MeanConfidence float64
	Emotions       map[core.Emotion]int
	Actions        map[core.Action]int
	// Violations lists turns whose action the speaker was not allowed.
	Violations []string
}

// Evaluator scores a conversation.
type Evaluator interface {
	Evaluate(c Conversation) (*Result, error)
}

// Default is the built-in Evaluator.
type Default struct{}

var _ Evaluator = Default{}

// Evaluate implements Evaluator. Turns by speakers missing from Personas are
// an error.
func (Default) Evaluate(c Conversation) (*Result, error) {
	personas := make(map[string]core.Persona, len(c.Personas))
	for _, p := range c.Personas {
		personas[p.Name] = p
	}

	res := &Result{
		Turns:    len(c.Turns),
		Emotions: map[core.Emotion]int{},
		Actions:  map[core.Action]int{},
	}
	var sum float64
	for _, t := range c.Turns {
		p, ok := personas[t.Speaker]
		if !ok {
			return nil, fmt.Errorf("turn %d: unknown speaker %q", t.Index, t.Speaker)
		}
		r := t.Result
		res.Actions[r.Action]++
		if !p.Allows(r.Action) {
			res.Violations = append(res.Violations, fmt.Sprintf("turn %d: %s took %s", t.Index, t.Speaker, r.Action))
		}
		if r.Degraded() {
			res.Degraded++
			continue
		}
		res.Emotions[r.Emotion]++
		sum += r.Confidence
	}
	if ok := res.Turns - res.Degraded; ok > 0 {
		res.MeanConfidence = sum / float64(ok)
	}
	return res, nil
}

// String renders a one-line summary.
func (r *Result) String() string {
	emotions := make([]string, 0, len(r.Emotions))
	for e, n := range r.Emotions {
		emotions = append(emotions, fmt.Sprintf("%s=%d", e, n))
	}
	sort.Strings(emotions)
	return fmt.Sprintf("%d turns, %d degraded, mean confidence %.0f%%, emotions %v, %d violations",
		r.Turns, r.Degraded, r.MeanConfidence*100, emotions, len(r.Violations))
}
