package agent

import (
	"strings"

	"github.com/hupe1980/rolemesh/core"
)

// Keyword tables are matched case-insensitively as substrings.
var (
	sensitiveKeywords = []string{"refund", "complaint", "manager"}
	escalateKeywords  = []string{"manager", "escalat"}
	redirectKeywords  = []string{"transfer"}

	apologyWords   = []string{"sorry", "apologize", "apologise", "apologies", "unfortunately", "regret"}
	positiveWords  = []string{"great", "thank", "glad", "happy", "wonderful", "excellent", "perfect", "awesome", "resolved"}
	hostilityWords = []string{"unacceptable", "ridiculous", "terrible", "furious", "outrageous", "worst", "useless", "hate", "angry"}
)

const (
	baseConfidence      = 0.7
	boostedCeiling      = 0.95
	knowledgeWeight     = 0.2
	assertivenessWeight = 0.1
)

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// classifyConfidence scores a successful turn from the persona's knowledge,
// boosted by assertiveness when the input touches a sensitive topic.
func classifyConfidence(p core.Persona, input string) float64 {
	c := baseConfidence + p.Traits.Knowledge*knowledgeWeight
	if containsAny(strings.ToLower(input), sensitiveKeywords) {
		c += p.Traits.Assertiveness * assertivenessWeight
		if c > boostedCeiling {
			c = boostedCeiling
		}
	}
	return clamp(c, 0, 1)
}

// classifyAction picks the action for a turn. Only actions the persona is
// allowed to take are ever returned.
func classifyAction(p core.Persona, input string) core.Action {
	lower := strings.ToLower(input)
	switch {
	case p.Allows(core.ActionEscalate) && containsAny(lower, escalateKeywords):
		return core.ActionEscalate
	case p.Allows(core.ActionRedirect) && containsAny(lower, redirectKeywords):
		return core.ActionRedirect
	default:
		return core.ActionRespond
	}
}

// classifyEmotion reads the tone of generated text. Rules are checked in
// order and the first match wins.
func classifyEmotion(text string) core.Emotion {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, apologyWords):
		return core.EmotionFrustrated
	case strings.Contains(lower, "!") && containsAny(lower, positiveWords):
		return core.EmotionHappy
	case containsAny(lower, hostilityWords):
		return core.EmotionAngry
	default:
		return core.EmotionNeutral
	}
}
