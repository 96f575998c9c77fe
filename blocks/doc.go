// Package blocks holds the block registry and the built-in block handlers.
//
// A block handler is an opaque capability: it receives its validated config,
// the resolved inputs from upstream nodes, and an execution-scoped Context,
// and returns an output map. All side effects (HTTP, SMTP, chain RPC) live
// inside handlers; the orchestrator never inspects them. A handler that must
// wait on external input returns a *types.PauseSignal through its error.
//
// The registry is populated once at process start from the static catalog in
// NewDefaultRegistry; unknown block types are rejected by graph validation,
// never at dispatch time.
package blocks
