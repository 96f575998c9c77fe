package workflow

import (
	"github.com/BaSui01/chainflow/types"
)

// Edge handles used by condition nodes for branching.
const (
	HandleDefault = ""
	HandleTrue    = "true"
	HandleFalse   = "false"
)

// Node is one instance of a block within a workflow graph.
type Node struct {
	// ID is the unique identifier within the workflow
	ID string `json:"id" yaml:"id"`
	// Type is the block-type identifier resolved via the block registry
	Type string `json:"type" yaml:"type"`
	// Name is the display name from the canvas
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Config is the block-specific configuration, validated against the
	// block's config schema at validation time
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	// FailurePolicy decides whether exhausting retries fails the whole
	// execution or only this branch
	FailurePolicy types.FailurePolicy `json:"failure_policy,omitempty" yaml:"failure_policy,omitempty"`
	// MaxRetries is the retry budget for transient failures
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// TimeoutSeconds bounds one dispatch of this node (0 = engine default)
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	// Metadata stores canvas-side extras the engine ignores
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Edge connects a source node's output handle to a target node's input handle.
type Edge struct {
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Source and Target are node IDs
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	// SourceHandle names the output: empty for the default output,
	// "true"/"false" for condition branches
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`
	// TargetHandle names the input on the target node; empty means the
	// default input
	TargetHandle string `json:"target_handle,omitempty" yaml:"target_handle,omitempty"`
}

// Workflow is an immutable-per-version graph definition.
type Workflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Version     int            `json:"version" yaml:"version"`
	OwnerID     string         `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Nodes       []Node         `json:"nodes" yaml:"nodes"`
	Edges       []Edge         `json:"edges" yaml:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Graph is the adjacency view of a workflow, built once and shared by the
// validator and the scheduler.
type Graph struct {
	nodes    map[string]*Node
	incoming map[string][]Edge
	outgoing map[string][]Edge
}

// BuildGraph indexes a workflow's nodes and edges. Referential integrity is
// the validator's job; BuildGraph only structures what it is given.
func BuildGraph(wf *Workflow) *Graph {
	g := &Graph{
		nodes:    make(map[string]*Node, len(wf.Nodes)),
		incoming: make(map[string][]Edge),
		outgoing: make(map[string][]Edge),
	}
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		g.nodes[node.ID] = node
	}
	for _, edge := range wf.Edges {
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
		g.incoming[edge.Target] = append(g.incoming[edge.Target], edge)
	}
	return g
}

// Node retrieves a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes keyed by ID.
func (g *Graph) Nodes() map[string]*Node {
	return g.nodes
}

// Incoming returns the edges pointing at a node.
func (g *Graph) Incoming(nodeID string) []Edge {
	return g.incoming[nodeID]
}

// Outgoing returns the edges leaving a node.
func (g *Graph) Outgoing(nodeID string) []Edge {
	return g.outgoing[nodeID]
}

// Entries returns the IDs of nodes with no incoming edges.
func (g *Graph) Entries() []string {
	var entries []string
	for _, n := range g.nodes {
		if len(g.incoming[n.ID]) == 0 {
			entries = append(entries, n.ID)
		}
	}
	return entries
}

// Descendants returns every node reachable from the given node, excluding it.
// Used for skip propagation: when a branch is not taken, its whole subtree is
// skipped unless reachable through another live edge.
func (g *Graph) Descendants(nodeID string) map[string]bool {
	visited := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, edge := range g.outgoing[id] {
			if !visited[edge.Target] {
				visited[edge.Target] = true
				walk(edge.Target)
			}
		}
	}
	walk(nodeID)
	return visited
}
