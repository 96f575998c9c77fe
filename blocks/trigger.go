package blocks

import (
	"context"
	"time"

	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// TriggerBlock is the entry point of a workflow. It forwards the payload
// the execution was enqueued with so downstream nodes can reference it.
type TriggerBlock struct{}

func NewTriggerBlock() *TriggerBlock { return &TriggerBlock{} }

func (b *TriggerBlock) BlockType() string { return "trigger" }

func (b *TriggerBlock) Info() workflow.BlockInfo {
	schema := types.NewObjectSchema()
	schema.AddProperty("source", types.NewStringSchema().WithDescription("trigger source label: manual, cron, webhook"))
	return workflow.BlockInfo{
		Kind:         workflow.BlockKindTrigger,
		ConfigSchema: schema,
	}
}

func (b *TriggerBlock) Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *Context) (map[string]any, error) {
	outputs := make(map[string]any, len(inputs)+2)
	for k, v := range inputs {
		outputs[k] = v
	}
	if src, ok := config["source"].(string); ok && src != "" {
		outputs["source"] = src
	}
	outputs["triggered_at"] = time.Now().UTC().Format(time.RFC3339)
	return outputs, nil
}
