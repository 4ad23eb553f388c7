// Package runner drives a conversation between two persona-bound agents.
//
// A Runner owns turn order: both agents share one session and only one of
// them executes at a time, each agent's reply becoming the other's input.
// A conversation stops when
//   - a reply is an exit phrase (exit, quit, end, stop),
//   - the support side concludes by mentioning a resolution,
//   - a turn degrades with an escalation signal,
//   - the turn budget is spent, or
//   - the context is cancelled.
//
// Setup recovers from unknown personas by moving both agents to a fresh
// session and substituting a fallback persona for the missing role.
package runner
