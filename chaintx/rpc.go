package chaintx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BaSui01/chainflow/types"
)

// RPCClient is the production Client, speaking JSON-RPC 2.0 to an EVM
// node over HTTP. Signing is delegated to the node (eth_sendTransaction
// against an unlocked or node-managed account).
type RPCClient struct {
	endpoint string
	http     *http.Client
	reqID    atomic.Uint64
}

func NewRPCClient(endpoint string, client *http.Client) *RPCClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RPCClient{endpoint: endpoint, http: client}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return types.NewError(types.ErrInternalError, "rpc request marshal failed").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "rpc request build failed").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewRetryable("rpc call failed: "+err.Error(), err).WithResource(c.endpoint)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.NewRetryable("rpc response read failed: "+err.Error(), err).WithResource(c.endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return types.NewRetryable(fmt.Sprintf("rpc http %d", resp.StatusCode), nil).WithResource(c.endpoint)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return types.NewRetryable("rpc response decode failed: "+err.Error(), err).WithResource(c.endpoint)
	}
	if rpcResp.Error != nil {
		// node rejected the call itself; not a transport blip
		return types.NewFatal(rpcResp.Error.Error(), rpcResp.Error).WithResource(c.endpoint)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return types.NewRetryable("rpc result decode failed: "+err.Error(), err).WithResource(c.endpoint)
		}
	}
	return nil
}

func (c *RPCClient) PendingNonce(ctx context.Context, account string) (uint64, error) {
	var hexCount string
	err := c.call(ctx, "eth_getTransactionCount", []any{account, "pending"}, &hexCount)
	if err != nil {
		return 0, err
	}
	return parseHexUint(hexCount)
}

func (c *RPCClient) GasPrice(ctx context.Context) (*big.Int, error) {
	var hexPrice string
	if err := c.call(ctx, "eth_gasPrice", []any{}, &hexPrice); err != nil {
		return nil, err
	}
	return parseHexBig(hexPrice)
}

func (c *RPCClient) SendTransaction(ctx context.Context, tx TxParams) (string, error) {
	params := map[string]any{
		"from":     tx.From,
		"to":       tx.To,
		"value":    hexBig(tx.Value),
		"nonce":    hexUint(tx.Nonce),
		"gasPrice": hexBig(tx.GasPrice),
	}
	if tx.Data != "" {
		params["data"] = tx.Data
	}

	var hash string
	if err := c.call(ctx, "eth_sendTransaction", []any{params}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (c *RPCClient) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	var raw struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
		GasUsed         string `json:"gasUsed"`
		Status          string `json:"status"`
	}
	var msg json.RawMessage
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &msg); err != nil {
		return nil, err
	}
	if string(msg) == "null" || len(msg) == 0 {
		return nil, nil // not mined yet
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, types.NewRetryable("receipt decode failed: "+err.Error(), err)
	}

	blockNumber, err := parseHexUint(raw.BlockNumber)
	if err != nil {
		return nil, err
	}
	gasUsed, err := parseHexUint(raw.GasUsed)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		TxHash:      raw.TransactionHash,
		BlockNumber: blockNumber,
		GasUsed:     gasUsed,
		Ok:          raw.Status == "0x1",
	}, nil
}

func hexUint(v uint64) string { return fmt.Sprintf("0x%x", v) }

func hexBig(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

func parseHexUint(s string) (uint64, error) {
	b, err := parseHexBig(s)
	if err != nil {
		return 0, err
	}
	return b.Uint64(), nil
}

func parseHexBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return nil, types.NewError(types.ErrInternalError, "empty hex quantity")
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, types.NewError(types.ErrInternalError, "bad hex quantity: "+s)
	}
	return v, nil
}
