package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphAdjacency(t *testing.T) {
	wf := linearWorkflow()
	g := BuildGraph(wf)

	assert.Len(t, g.Nodes(), 3)
	assert.Equal(t, []string{"t"}, g.Entries())
	require.Len(t, g.Outgoing("t"), 1)
	assert.Equal(t, "a", g.Outgoing("t")[0].Target)
	require.Len(t, g.Incoming("b"), 1)
	assert.Equal(t, "a", g.Incoming("b")[0].Source)
}

func TestGraphDescendants(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{
			{ID: "c", Type: "condition"},
			{ID: "x", Type: "email"},
			{ID: "y", Type: "email"},
			{ID: "z", Type: "email"},
		},
		Edges: []Edge{
			{Source: "c", Target: "x", SourceHandle: HandleFalse},
			{Source: "x", Target: "y"},
		},
	}
	g := BuildGraph(wf)

	desc := g.Descendants("c")
	assert.True(t, desc["x"])
	assert.True(t, desc["y"])
	assert.False(t, desc["z"])
	assert.False(t, desc["c"])
}

func TestDefinitionJSONRoundTrip(t *testing.T) {
	wf := linearWorkflow()
	jsonStr, err := wf.ToJSON()
	require.NoError(t, err)

	got, err := FromJSON(jsonStr)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Len(t, got.Nodes, len(wf.Nodes))
	assert.Len(t, got.Edges, len(wf.Edges))
}

func TestDefinitionYAML(t *testing.T) {
	yamlStr := `
id: wf-yaml
name: from-canvas
version: 2
nodes:
  - id: t
    type: trigger
  - id: c
    type: condition
    config:
      expression: "price > 100"
edges:
  - source: t
    target: c
`
	wf, err := FromYAML(yamlStr)
	require.NoError(t, err)
	assert.Equal(t, "wf-yaml", wf.ID)
	assert.Equal(t, 2, wf.Version)
	assert.Equal(t, "price > 100", wf.Nodes[1].Config["expression"])
}
