package workflow

import (
	"fmt"

	"github.com/BaSui01/chainflow/types"
)

// BlockKind is the coarse role a block type plays in the graph. The
// validator only needs this much; everything else about a block lives
// behind its handler.
type BlockKind string

const (
	BlockKindTrigger   BlockKind = "trigger"
	BlockKindCondition BlockKind = "condition"
	BlockKindAction    BlockKind = "action"
)

// BlockInfo is the registry's description of one block type, as seen by the
// validator.
type BlockInfo struct {
	Kind BlockKind
	// ConfigSchema validates the node's config map; nil means any config
	ConfigSchema *types.JSONSchema
	// RequiredInputs are input handles that must be fed by an incoming edge
	// or defaulted in the node's config
	RequiredInputs []string
}

// BlockCatalog is the view of the block registry the validator depends on.
// Keeping it an interface here avoids a workflow->blocks import; the blocks
// registry implements it.
type BlockCatalog interface {
	Describe(blockType string) (BlockInfo, bool)
}

// Validated is a workflow that passed validation, together with the
// artifacts the scheduler reuses: the adjacency graph and the topological
// layers from Kahn's algorithm.
type Validated struct {
	Workflow *Workflow
	Graph    *Graph
	// Layers lists node IDs grouped by topological depth; nodes within one
	// layer have no dependency relationship and may dispatch concurrently.
	Layers [][]string
}

// Validate checks that a workflow is an executable DAG. It is the only gate
// before an execution record is created: a workflow that fails here never
// produces an Execution.
func Validate(wf *Workflow, catalog BlockCatalog) (*Validated, error) {
	if wf == nil {
		return nil, types.NewError(types.ErrValidation, "workflow is nil")
	}
	if len(wf.Nodes) == 0 {
		return nil, types.NewError(types.ErrValidation, "workflow has no nodes")
	}

	seen := make(map[string]bool, len(wf.Nodes))
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if node.ID == "" {
			return nil, types.NewError(types.ErrValidation, "node with empty id")
		}
		if seen[node.ID] {
			return nil, types.NewError(types.ErrValidation,
				fmt.Sprintf("duplicate node id %q", node.ID)).WithNodeID(node.ID)
		}
		seen[node.ID] = true

		if err := validateNode(node, catalog); err != nil {
			return nil, err
		}
	}

	for _, edge := range wf.Edges {
		if !seen[edge.Source] {
			return nil, types.NewError(types.ErrValidation,
				fmt.Sprintf("edge references unknown source node %q", edge.Source))
		}
		if !seen[edge.Target] {
			return nil, types.NewError(types.ErrValidation,
				fmt.Sprintf("edge references unknown target node %q", edge.Target))
		}
		if edge.Source == edge.Target {
			return nil, types.NewError(types.ErrCycleDetected,
				fmt.Sprintf("self edge on node %q", edge.Source)).WithNodeID(edge.Source)
		}
	}

	graph := BuildGraph(wf)

	layers, err := topoLayers(graph)
	if err != nil {
		return nil, err
	}

	if err := checkRequiredInputs(wf, graph, catalog); err != nil {
		return nil, err
	}

	return &Validated{Workflow: wf, Graph: graph, Layers: layers}, nil
}

func validateNode(node *Node, catalog BlockCatalog) error {
	info, ok := catalog.Describe(node.Type)
	if !ok {
		return types.NewError(types.ErrBlockNotFound,
			fmt.Sprintf("unknown block type %q on node %q", node.Type, node.ID)).WithNodeID(node.ID)
	}

	// Normalize the failure policy once; dispatch never re-reads raw config.
	switch node.FailurePolicy {
	case "":
		node.FailurePolicy = types.FailurePropagate
	case types.FailurePropagate, types.FailureContinue:
	default:
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("invalid failure policy %q on node %q", node.FailurePolicy, node.ID)).WithNodeID(node.ID)
	}
	if node.MaxRetries < 0 {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("negative retry budget on node %q", node.ID)).WithNodeID(node.ID)
	}

	if info.ConfigSchema != nil {
		if node.Config == nil {
			node.Config = make(map[string]any)
		}
		if err := info.ConfigSchema.Validate(node.Config); err != nil {
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("config of node %q: %v", node.ID, err)).WithNodeID(node.ID).WithCause(err)
		}
	}
	return nil
}

// topoLayers runs Kahn's algorithm. Cycle detection is by count: if fewer
// nodes come out sorted than went in, the remainder sits on a cycle.
func topoLayers(graph *Graph) ([][]string, error) {
	inDegree := make(map[string]int, len(graph.Nodes()))
	for id := range graph.Nodes() {
		inDegree[id] = len(graph.Incoming(id))
	}

	var frontier []string
	for id, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	var layers [][]string
	sorted := 0
	for len(frontier) > 0 {
		layers = append(layers, frontier)
		sorted += len(frontier)

		var next []string
		for _, id := range frontier {
			for _, edge := range graph.Outgoing(id) {
				inDegree[edge.Target]--
				if inDegree[edge.Target] == 0 {
					next = append(next, edge.Target)
				}
			}
		}
		frontier = next
	}

	if sorted < len(graph.Nodes()) {
		var stuck string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = id
				break
			}
		}
		return nil, types.NewError(types.ErrCycleDetected,
			fmt.Sprintf("workflow graph contains a cycle through node %q", stuck)).WithNodeID(stuck)
	}
	return layers, nil
}

// checkRequiredInputs verifies each node's declared required inputs are fed
// by an incoming edge targeting that handle, an incoming default-handle edge,
// or a config key of the same name (defaults were already applied by the
// schema pass).
func checkRequiredInputs(wf *Workflow, graph *Graph, catalog BlockCatalog) error {
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		info, _ := catalog.Describe(node.Type)
		if len(info.RequiredInputs) == 0 {
			continue
		}

		fed := make(map[string]bool)
		hasDefaultEdge := false
		for _, edge := range graph.Incoming(node.ID) {
			if edge.TargetHandle == HandleDefault {
				hasDefaultEdge = true
			} else {
				fed[edge.TargetHandle] = true
			}
		}

		for _, input := range info.RequiredInputs {
			if fed[input] || hasDefaultEdge {
				continue
			}
			if _, ok := node.Config[input]; ok {
				continue
			}
			return types.NewError(types.ErrMissingRequiredInput,
				fmt.Sprintf("node %q input %q has no incoming edge and no config default", node.ID, input)).WithNodeID(node.ID)
		}
	}
	return nil
}
