// Package memory contains concrete ConversationStore implementations. The
// store interface and the Session type reside in the core package; depend on
// core.ConversationStore in your code and select an implementation (SQLite
// for durable history, in-memory for tests) at wiring time.
//
// Both stores share one retention policy, run after every successful append:
// a size ceiling evicts the single least-recently-updated session, then a
// session-count ceiling evicts the oldest sessions until the count fits. The
// session being written is never evicted.
package memory
