// Package agent runs one persona-bound conversational turn at a time.
//
// An Agent moves through a small state machine:
//
//	Unassigned → Assigned → Executing → (Ready | Degraded) → Executing → …
//
// AssignRole binds a persona (looked up through a core.PersonaSource) and
// records a system note in the session. Execute then
//
//  1. appends the incoming text under the sender's role,
//  2. reads a bounded window of recent history, recording story-arc beats
//     spotted in the counterpart's messages,
//  3. asks the generator for a reply with a patience-derived temperature,
//  4. formats, stores and classifies the reply (confidence, action, emotion).
//
// Execute never returns an error. Transport failures and exhausted retries
// come back as Degraded results carrying core.SignalRetryLater; anything else
// is recorded as an error note and surfaced with core.SignalEscalate. Degraded
// turns never store a persona-authored message.
//
// Agents share a *gateway.Gateway (any Generator) and a
// core.ConversationStore; turn order across agents in one session is the
// caller's responsibility (see package runner).
package agent
