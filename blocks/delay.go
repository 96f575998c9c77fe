package blocks

import (
	"context"
	"time"

	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// DelayBlock sleeps for a configured duration, then forwards its inputs.
// Cancellation interrupts the sleep.
type DelayBlock struct{}

func NewDelayBlock() *DelayBlock { return &DelayBlock{} }

func (b *DelayBlock) BlockType() string { return "delay" }

func (b *DelayBlock) Info() workflow.BlockInfo {
	schema := types.NewObjectSchema()
	schema.AddProperty("seconds", types.NewNumberSchema().WithDescription("how long to wait").WithDefault(float64(1)))
	return workflow.BlockInfo{
		Kind:         workflow.BlockKindAction,
		ConfigSchema: schema,
	}
}

func (b *DelayBlock) Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *Context) (map[string]any, error) {
	seconds, ok := asFloat(config["seconds"])
	if !ok || seconds < 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "delay block requires a non-negative seconds value")
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	outputs := make(map[string]any, len(inputs)+1)
	for k, v := range inputs {
		outputs[k] = v
	}
	outputs["waited_seconds"] = seconds
	return outputs, nil
}
