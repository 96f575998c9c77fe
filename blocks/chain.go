package blocks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// TxSubmitter hands a transaction to the on-chain tracker and returns
// the submitted hash. The tracker owns confirmation polling and gas
// bumps; the block only waits.
type TxSubmitter interface {
	SubmitTransaction(ctx context.Context, req TxRequest) (txHash string, err error)
}

// TxRequest is what a chain_tx node asks the tracker to send.
type TxRequest struct {
	ExecutionID string
	NodeID      string
	ChainID     int64
	To          string
	Value       string // decimal wei
	Data        string // hex-encoded calldata
}

// ChainTxBlock submits a blockchain transaction and pauses until the
// tracker reports it mined. After resume the confirmation payload is in
// the node's inputs and the block completes with the receipt fields.
type ChainTxBlock struct {
	submitter TxSubmitter
	logger    *zap.Logger
}

func NewChainTxBlock(submitter TxSubmitter, logger *zap.Logger) *ChainTxBlock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainTxBlock{submitter: submitter, logger: logger}
}

func (b *ChainTxBlock) BlockType() string { return "chain_tx" }

func (b *ChainTxBlock) Info() workflow.BlockInfo {
	schema := types.NewObjectSchema()
	schema.AddProperty("chain_id", types.NewIntegerSchema().WithDescription("EVM chain ID"))
	schema.AddProperty("to", types.NewStringSchema().WithDescription("recipient address"))
	schema.AddProperty("value", types.NewStringSchema().WithDescription("amount in wei, decimal string").WithDefault("0"))
	schema.AddProperty("data", types.NewStringSchema().WithDescription("hex-encoded calldata"))
	schema.AddRequired("chain_id")
	schema.AddRequired("to")
	return workflow.BlockInfo{
		Kind:         workflow.BlockKindAction,
		ConfigSchema: schema,
	}
}

func (b *ChainTxBlock) Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *Context) (map[string]any, error) {
	// Resumed after confirmation: the tracker injected the receipt.
	if hash, ok := inputs["tx_hash"].(string); ok && hash != "" {
		outputs := map[string]any{"tx_hash": hash}
		for _, key := range []string{"block_number", "gas_used", "status"} {
			if v, ok := inputs[key]; ok {
				outputs[key] = v
			}
		}
		if status, ok := inputs["status"].(string); ok && status == "failed" {
			return nil, types.NewFatal("transaction reverted on chain: "+hash, nil).WithResource(hash)
		}
		return outputs, nil
	}

	chainID, ok := asFloat(config["chain_id"])
	if !ok {
		return nil, types.NewError(types.ErrInvalidRequest, "chain_tx block requires a numeric chain_id")
	}
	to, _ := config["to"].(string)
	if to == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "chain_tx block requires a recipient address")
	}
	value, _ := config["value"].(string)
	if value == "" {
		value = "0"
	}
	data, _ := config["data"].(string)

	hash, err := b.submitter.SubmitTransaction(ctx, TxRequest{
		ExecutionID: bctx.ExecutionID,
		NodeID:      bctx.NodeID,
		ChainID:     int64(chainID),
		To:          to,
		Value:       value,
		Data:        data,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewRetryable("transaction submission failed: "+err.Error(), err).WithResource(to)
	}

	b.logger.Info("transaction submitted, waiting for confirmation",
		zap.String("execution_id", bctx.ExecutionID),
		zap.String("node_id", bctx.NodeID),
		zap.String("tx_hash", hash))

	waitKey := fmt.Sprintf("tx:%s", hash)
	return nil, types.NewPauseSignal("waiting for on-chain confirmation", waitKey, map[string]any{
		"tx_hash": hash,
	})
}
