package blocks

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// TransformBlock reshapes its inputs into a new output map. The mapping
// config assigns each output key either a literal value or a dot-notation
// reference into the inputs, marked with a "$." prefix.
//
//	mapping:
//	  recipient: "$.payload.email"
//	  subject: "order update"
type TransformBlock struct{}

func NewTransformBlock() *TransformBlock { return &TransformBlock{} }

func (b *TransformBlock) BlockType() string { return "transform" }

func (b *TransformBlock) Info() workflow.BlockInfo {
	schema := types.NewObjectSchema()
	schema.AddProperty("mapping", types.NewObjectSchema().WithDescription("output key -> literal or $.path reference"))
	schema.AddRequired("mapping")
	return workflow.BlockInfo{
		Kind:         workflow.BlockKindAction,
		ConfigSchema: schema,
	}
}

func (b *TransformBlock) Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *Context) (map[string]any, error) {
	mapping, ok := config["mapping"].(map[string]any)
	if !ok || len(mapping) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "transform block requires a non-empty mapping")
	}

	outputs := make(map[string]any, len(mapping))
	for key, spec := range mapping {
		ref, isRef := spec.(string)
		if isRef && strings.HasPrefix(ref, "$.") {
			path := strings.TrimPrefix(ref, "$.")
			val := resolveVar(path, inputs)
			if val == nil {
				return nil, types.NewError(types.ErrInvalidRequest,
					fmt.Sprintf("transform reference %q resolved to nothing", ref))
			}
			outputs[key] = val
			continue
		}
		outputs[key] = spec
	}
	return outputs, nil
}
