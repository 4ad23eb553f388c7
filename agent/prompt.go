package agent

import (
	"fmt"
	"strings"

	"github.com/hupe1980/rolemesh/core"
	"github.com/hupe1980/rolemesh/internal/util"
	"github.com/hupe1980/rolemesh/model"
)

const (
	minTemperature = 0.0
	maxTemperature = 2.0
)

// temperature maps patience onto sampling temperature: the less patient the
// persona, the more erratic its replies.
func temperature(p core.Persona) float64 {
	return clamp(0.3+0.5*(1-p.Traits.Patience), minTemperature, maxTemperature)
}

// buildRequest turns the history window into a chat request. The persona's
// own turns become assistant messages, every other sender a user message.
// System notes never reach the model.
func buildRequest(p core.Persona, window []core.Message) (model.Request, error) {
	instructions, err := util.RenderTemplate(p.Instructions, p)
	if err != nil {
		return model.Request{}, fmt.Errorf("render instructions for %q: %w", p.Name, err)
	}

	msgs := make([]model.ChatMessage, 0, len(window)+1)
	msgs = append(msgs, model.ChatMessage{Role: model.RoleSystem, Content: systemPrompt(p, instructions)})
	own := string(p.RoleType)
	for _, m := range window {
		if m.IsSystemNote() {
			continue
		}
		role := model.RoleUser
		if m.Role == own {
			role = model.RoleAssistant
		}
		msgs = append(msgs, model.ChatMessage{Role: role, Content: m.Content})
	}

	return model.Request{
		Messages:    msgs,
		Temperature: temperature(p),
	}, nil
}

func systemPrompt(p core.Persona, instructions string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(instructions))
	if p.ConversationStyle != "" && !strings.Contains(instructions, p.ConversationStyle) {
		fmt.Fprintf(&b, "\nConversation style: %s", p.ConversationStyle)
	}
	fmt.Fprintf(&b, "\nTraits: patience=%.2f assertiveness=%.2f knowledge=%.2f",
		p.Traits.Patience, p.Traits.Assertiveness, p.Traits.Knowledge)
	return b.String()
}

// detectBeats returns the story beats whose trigger appears in a message
// from someone other than the persona. Each beat is reported once, in arc
// order.
func detectBeats(window []core.Message, p core.Persona, sc *core.Scenario) []core.StoryBeat {
	if sc == nil || len(sc.StoryArc) == 0 {
		return nil
	}
	own := string(p.RoleType)
	var beats []core.StoryBeat
	for _, beat := range sc.StoryArc {
		trigger := strings.ToLower(beat.Trigger)
		for _, m := range window {
			if m.Role == own || m.IsSystemNote() {
				continue
			}
			if strings.Contains(strings.ToLower(m.Content), trigger) {
				beats = append(beats, beat)
				break
			}
		}
	}
	return beats
}

func beatNote(b core.StoryBeat) string {
	if b.Note != "" {
		return fmt.Sprintf("Story progression (%s): %s", b.Trigger, b.Note)
	}
	return fmt.Sprintf("Story progression: %q detected", b.Trigger)
}

func formatResponse(p core.Persona, text string) string {
	return util.FormatResponse(p.ResponseFormat, string(p.RoleType), strings.TrimSpace(text))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
