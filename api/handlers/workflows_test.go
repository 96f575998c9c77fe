package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/api"
	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// stubCatalog 只认列出的区块类型
type stubCatalog map[string]workflow.BlockInfo

func (c stubCatalog) Describe(blockType string) (workflow.BlockInfo, bool) {
	info, ok := c[blockType]
	return info, ok
}

func newWorkflowMux(t *testing.T) *http.ServeMux {
	t.Helper()
	catalog := stubCatalog{
		"trigger": {Kind: workflow.BlockKindTrigger},
		"http":    {Kind: workflow.BlockKindAction},
	}
	h := NewWorkflowHandler(catalog, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workflows/validate", h.HandleValidate)
	return mux
}

func postValidate(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/validate", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decodeValidate(t *testing.T, w *httptest.ResponseRecorder) api.ValidateResponse {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result api.ValidateResponse
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func TestHandleValidate_AcceptsDAG(t *testing.T) {
	mux := newWorkflowMux(t)

	w := postValidate(t, mux, `{"definition": `+linearDefinition+`}`)

	assert.Equal(t, http.StatusOK, w.Code)

	result := decodeValidate(t, w)
	assert.True(t, result.Valid)
	assert.Nil(t, result.Error)
	assert.Equal(t, 2, result.NodeCount)
	assert.Equal(t, 2, result.LayerCount)
}

func TestHandleValidate_RejectsCycle(t *testing.T) {
	mux := newWorkflowMux(t)

	cyclic := `{
		"id": "wf-cycle", "name": "Cycle", "version": 1,
		"nodes": [
			{"id": "a", "type": "http"},
			{"id": "b", "type": "http"}
		],
		"edges": [
			{"source": "a", "target": "b"},
			{"source": "b", "target": "a"}
		]
	}`
	w := postValidate(t, mux, `{"definition": `+cyclic+`}`)

	// 校验失败仍是 200：结果在响应体里
	assert.Equal(t, http.StatusOK, w.Code)

	result := decodeValidate(t, w)
	assert.False(t, result.Valid)
	require.NotNil(t, result.Error)
	assert.Equal(t, string(types.ErrCycleDetected), result.Error.Code)
}

func TestHandleValidate_RejectsUnknownBlock(t *testing.T) {
	mux := newWorkflowMux(t)

	unknown := `{
		"id": "wf-unknown", "name": "Unknown", "version": 1,
		"nodes": [{"id": "a", "type": "teleport"}],
		"edges": []
	}`
	w := postValidate(t, mux, `{"definition": `+unknown+`}`)

	assert.Equal(t, http.StatusOK, w.Code)

	result := decodeValidate(t, w)
	assert.False(t, result.Valid)
	require.NotNil(t, result.Error)
	assert.Equal(t, string(types.ErrBlockNotFound), result.Error.Code)
}

func TestHandleValidate_MalformedDefinition(t *testing.T) {
	mux := newWorkflowMux(t)

	w := postValidate(t, mux, `{"definition": "gibberish"}`)

	assert.Equal(t, http.StatusOK, w.Code)

	result := decodeValidate(t, w)
	assert.False(t, result.Valid)
	require.NotNil(t, result.Error)
}

func TestHandleValidate_MissingDefinition(t *testing.T) {
	mux := newWorkflowMux(t)

	w := postValidate(t, mux, `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
