// Package model defines the provider-agnostic abstractions for talking to
// language models and the Gateway the research engine calls through.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool call representation (ToolDefinition, core.ToolCall)
//   - Separate malformed output (ErrMalformedOutput) and tool binding
//     failures (ErrToolBinding) from transport errors so callers can decide
//     between retry and abort
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement Model in sub packages; NewGateway
// turns any Model into a Gateway.
package model
