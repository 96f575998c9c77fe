package chaintx

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chainflow/types"
)

// newRPCServer answers each method from the handlers map.
func newRPCServer(t *testing.T, handlers map[string]func(params []any) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		handler, ok := handlers[req.Method]
		require.True(t, ok, "unexpected method %s", req.Method)

		result, rpcErr := handler(req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRPCClientPendingNonce(t *testing.T) {
	srv := newRPCServer(t, map[string]func([]any) (any, *rpcError){
		"eth_getTransactionCount": func(params []any) (any, *rpcError) {
			assert.Equal(t, "0xsender", params[0])
			assert.Equal(t, "pending", params[1])
			return "0x1a", nil
		},
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, srv.Client())
	nonce, err := c.PendingNonce(context.Background(), "0xsender")
	require.NoError(t, err)
	assert.Equal(t, uint64(26), nonce)
}

func TestRPCClientGasPrice(t *testing.T) {
	srv := newRPCServer(t, map[string]func([]any) (any, *rpcError){
		"eth_gasPrice": func([]any) (any, *rpcError) {
			return "0x4a817c800", nil // 20 gwei
		},
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, srv.Client())
	price, err := c.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(20_000_000_000), price)
}

func TestRPCClientSendTransaction(t *testing.T) {
	srv := newRPCServer(t, map[string]func([]any) (any, *rpcError){
		"eth_sendTransaction": func(params []any) (any, *rpcError) {
			tx := params[0].(map[string]any)
			assert.Equal(t, "0xsender", tx["from"])
			assert.Equal(t, "0xrecipient", tx["to"])
			assert.Equal(t, "0x3e8", tx["value"])
			assert.Equal(t, "0x7", tx["nonce"])
			return "0xdeadbeef", nil
		},
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, srv.Client())
	hash, err := c.SendTransaction(context.Background(), TxParams{
		From:     "0xsender",
		To:       "0xrecipient",
		Value:    big.NewInt(1000),
		Nonce:    7,
		GasPrice: big.NewInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", hash)
}

func TestRPCClientNodeErrorIsFatal(t *testing.T) {
	srv := newRPCServer(t, map[string]func([]any) (any, *rpcError){
		"eth_sendTransaction": func([]any) (any, *rpcError) {
			return nil, &rpcError{Code: -32000, Message: "insufficient funds"}
		},
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, srv.Client())
	_, err := c.SendTransaction(context.Background(), TxParams{To: "0xr"})
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err), "a node rejection will not pass on retry")
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestRPCClientReceiptStates(t *testing.T) {
	receipts := map[string]any{
		"0xmined": map[string]any{
			"transactionHash": "0xmined",
			"blockNumber":     "0x64",
			"gasUsed":         "0x5208",
			"status":          "0x1",
		},
		"0xreverted": map[string]any{
			"transactionHash": "0xreverted",
			"blockNumber":     "0x65",
			"gasUsed":         "0x5208",
			"status":          "0x0",
		},
	}
	srv := newRPCServer(t, map[string]func([]any) (any, *rpcError){
		"eth_getTransactionReceipt": func(params []any) (any, *rpcError) {
			if r, ok := receipts[params[0].(string)]; ok {
				return r, nil
			}
			return nil, nil // unmined -> result null
		},
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, srv.Client())
	ctx := context.Background()

	r, err := c.Receipt(ctx, "0xmined")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.True(t, r.Ok)
	assert.Equal(t, uint64(100), r.BlockNumber)
	assert.Equal(t, uint64(21000), r.GasUsed)

	r, err = c.Receipt(ctx, "0xreverted")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.False(t, r.Ok)

	r, err = c.Receipt(ctx, "0xunknown")
	require.NoError(t, err)
	assert.Nil(t, r, "unmined transaction has no receipt")
}

func TestRPCClientTransportErrorIsRetryable(t *testing.T) {
	c := NewRPCClient("http://127.0.0.1:1/rpc", nil)
	_, err := c.GasPrice(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestHexHelpers(t *testing.T) {
	assert.Equal(t, "0x0", hexBig(nil))
	assert.Equal(t, "0x3e8", hexBig(big.NewInt(1000)))
	assert.Equal(t, "0x7", hexUint(7))

	v, err := parseHexUint("0x1a")
	require.NoError(t, err)
	assert.Equal(t, uint64(26), v)

	_, err = parseHexUint("0x")
	assert.Error(t, err)
	_, err = parseHexUint("0xzz")
	assert.Error(t, err)
}
