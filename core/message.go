package core

import (
	"time"

	"github.com/google/uuid"
)

// Action is the classified intent of a persona's turn. The set of actions a
// persona may emit is gated by its AllowedActions.
type Action string

const (
	// ActionRespond is the baseline action every persona is permitted.
	ActionRespond Action = "respond"
	// ActionEscalate hands the case to a higher authority.
	ActionEscalate Action = "escalate"
	// ActionRedirect transfers the conversation elsewhere.
	ActionRedirect Action = "redirect"
)

// Emotion is the keyword-derived tone of generated text.
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionHappy      Emotion = "happy"
	EmotionFrustrated Emotion = "frustrated"
	EmotionAngry      Emotion = "angry"
)

// Signal is an out-of-band hint attached to degraded results. It is kept
// separate from Action so degraded turns never bypass AllowedActions gating.
type Signal string

const (
	SignalNone       Signal = ""
	SignalRetryLater Signal = "retry_later"
	SignalEscalate   Signal = "escalate"
)

// MessageKind distinguishes persona/user turns from system-side notes.
type MessageKind string

const (
	KindTurn       MessageKind = ""
	KindSystemNote MessageKind = "system_note"
	KindStoryBeat  MessageKind = "story_beat"
	KindErrorNote  MessageKind = "error"
)

// RoleSystem is the sender used for system-side notes.
const RoleSystem = "system"

// RoleUser is the sender used when the caller does not name one.
const RoleUser = "user"

// Metadata carries optional classification data attached to a message.
type Metadata struct {
	Kind       MessageKind `json:"kind,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
	Action     Action      `json:"action,omitempty"`
	Emotion    Emotion     `json:"emotion,omitempty"`
	Persona    string      `json:"persona,omitempty"`
}

// Message is one entry in a session's history. After it is appended it must
// be treated as immutable.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a turn message authored by role.
func NewMessage(role, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewSystemNote creates a system-side note of the given kind.
func NewSystemNote(kind MessageKind, content string) Message {
	m := NewMessage(RoleSystem, content)
	m.Metadata = &Metadata{Kind: kind}
	return m
}

// IsSystemNote reports whether the message is a system-side note rather than
// a conversational turn.
func (m Message) IsSystemNote() bool {
	return m.Metadata != nil && m.Metadata.Kind != KindTurn
}

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }
