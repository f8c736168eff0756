// Package provider adapts heterogeneous model backends to one streaming
// contract and tracks which of them are healthy enough to try.
//
// # Adapters
//
// Every backend family implements Adapter. OpenAI-, Claude- and
// ARK-compatible backends are served by ChatModelAdapter on top of Eino
// chat model components. OllamaAdapter drives the official Ollama API
// client, and CustomAdapter speaks HTTP directly to user-described
// endpoints, parsing NDJSON or server-sent events.
//
// All adapters produce a CompletionStream whose chunks are numbered from 1.
// The chunk that carries the backend's completion signal is marked Final.
// A transport that ends without that signal is reported as
// types.ErrKindStreamInterrupted, never as a clean finish.
//
// # Registry
//
// Registry orders enabled providers by priority and runs a circuit breaker
// per provider:
//
//	closed --(FailureThreshold consecutive failures)--> open
//	open   --(cool-down elapses)-----------------------> eligible again
//	any    --(success)---------------------------------> closed, counter reset
//
// The cool-down grows exponentially each time the circuit re-opens and is
// reset by a success.
package provider
