package blocks

import (
	"context"
	"fmt"

	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// ApprovalBlock pauses the execution until a human decision arrives via
// the resume API. On first dispatch it raises a pause signal; after
// resume the merged decision appears in the node's inputs and the block
// completes with it.
type ApprovalBlock struct{}

func NewApprovalBlock() *ApprovalBlock { return &ApprovalBlock{} }

func (b *ApprovalBlock) BlockType() string { return "approval" }

func (b *ApprovalBlock) Info() workflow.BlockInfo {
	schema := types.NewObjectSchema()
	schema.AddProperty("prompt", types.NewStringSchema().WithDescription("message shown to the approver"))
	return workflow.BlockInfo{
		Kind:         workflow.BlockKindAction,
		ConfigSchema: schema,
	}
}

func (b *ApprovalBlock) Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *Context) (map[string]any, error) {
	if decision, ok := inputs["approved"]; ok {
		approved := truthy(decision)
		outputs := map[string]any{"approved": approved}
		if comment, ok := inputs["comment"]; ok {
			outputs["comment"] = comment
		}
		return outputs, nil
	}

	prompt, _ := config["prompt"].(string)
	if prompt == "" {
		prompt = "approval required"
	}
	waitKey := fmt.Sprintf("approval:%s:%s", bctx.ExecutionID, bctx.NodeID)
	return nil, types.NewPauseSignal(prompt, waitKey, map[string]any{
		"approved": nil,
		"comment":  nil,
	})
}
