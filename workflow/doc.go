// Package workflow defines the node/edge graph model produced by the visual
// canvas, its JSON/YAML wire format, and the validator that decides whether a
// graph is executable before any execution record is created.
//
// The validator runs Kahn's algorithm: the topological layers it produces are
// reused by the engine as the initial scheduling order, so a graph that
// validates is a graph the scheduler can always make progress on.
package workflow
