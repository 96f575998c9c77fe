package blocks

import (
	"context"

	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// ConditionBlock evaluates a boolean expression against its inputs and
// reports which outgoing branch should run. The scheduler reads the
// "result" output and skips the edges on the untaken handle.
type ConditionBlock struct{}

func NewConditionBlock() *ConditionBlock { return &ConditionBlock{} }

func (b *ConditionBlock) BlockType() string { return "condition" }

func (b *ConditionBlock) Info() workflow.BlockInfo {
	schema := types.NewObjectSchema()
	schema.AddProperty("expression", types.NewStringSchema().WithDescription("boolean expression evaluated against node inputs"))
	schema.AddRequired("expression")
	return workflow.BlockInfo{
		Kind:         workflow.BlockKindCondition,
		ConfigSchema: schema,
	}
}

func (b *ConditionBlock) Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *Context) (map[string]any, error) {
	expr, _ := config["expression"].(string)
	if expr == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "condition block requires an expression")
	}

	result, err := EvalExpr(expr, inputs)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid condition expression: "+err.Error()).WithCause(err)
	}

	handle := workflow.HandleFalse
	if result {
		handle = workflow.HandleTrue
	}
	return map[string]any{
		"result": result,
		"branch": handle,
	}, nil
}
