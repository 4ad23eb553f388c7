// Package core provides the foundational domain types and interfaces shared by
// every RoleMesh component. It defines the core abstractions for:
//
//   - Messages (immutable conversational records with optional classification metadata)
//   - Sessions (append-only, session-keyed message logs with a size metric)
//   - Personas and Scenarios (typed, validated role profiles and story arcs)
//   - The error taxonomy (transport, rate exhaustion, service, not found, validation)
//   - Pluggable stores for conversation history and persona lookup
//
// The package intentionally keeps implementation concerns (persistence, rate
// limiting, model providers, agent orchestration) out of scope, exposing small
// interfaces so backends can be swapped at wiring time.
package core
