// Package model defines the provider-agnostic abstractions for talking to a
// text generation service inside RoleMesh.
//
// Core goals:
//   - A single blocking Complete call returning the first choice's text
//   - Keep request shapes minimal (role/content messages, temperature, max tokens)
//   - Providers classify failures as transport (retryable) or service (not
//     retried) using core error kinds
//   - Facilitate lightweight mocking for tests (MockProvider)
//
// Providers (e.g. OpenAI-compatible, Anthropic) live in sub-packages so the
// gateway and agents remain decoupled from vendor SDKs.
package model
