// Package types defines the shared vocabulary of the ChainFlow engine:
// structured errors, execution and node statuses, the pause signal, and the
// JSON Schema used to validate block configuration.
//
// Every other package depends on types; types depends on nothing but the
// standard library.
package types
