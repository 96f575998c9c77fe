package blocks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

const httpMaxResponseBytes = 4 << 20

// HTTPBlock performs an outbound HTTP request. Network failures and 5xx
// responses come back retryable; 4xx responses are fatal.
type HTTPBlock struct {
	client *http.Client
}

func NewHTTPBlock(client *http.Client) *HTTPBlock {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBlock{client: client}
}

func (b *HTTPBlock) BlockType() string { return "http" }

func (b *HTTPBlock) Info() workflow.BlockInfo {
	schema := types.NewObjectSchema()
	schema.AddProperty("url", types.NewStringSchema().WithDescription("request URL"))
	schema.AddProperty("method", types.NewStringSchema().WithDefault("GET"))
	schema.AddProperty("headers", types.NewObjectSchema().WithDescription("request headers"))
	schema.AddProperty("body", types.NewObjectSchema().WithDescription("JSON request body; the node's inputs are used when absent"))
	schema.AddRequired("url")
	return workflow.BlockInfo{
		Kind:         workflow.BlockKindAction,
		ConfigSchema: schema,
	}
}

func (b *HTTPBlock) Execute(ctx context.Context, config map[string]any, inputs map[string]any, bctx *Context) (map[string]any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "http block requires a url")
	}

	method, _ := config["method"].(string)
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		payload := inputs
		if body, ok := config["body"].(map[string]any); ok {
			payload = body
		}
		if len(payload) > 0 {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, types.NewError(types.ErrInvalidRequest, "http block body is not serializable").WithCause(err)
			}
			bodyReader = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid http request: "+err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewRetryable("http request failed: "+err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, httpMaxResponseBytes))
	if err != nil {
		return nil, types.NewRetryable("reading http response failed: "+err.Error(), err)
	}

	outputs := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(raw),
	}
	var parsed map[string]any
	if json.Unmarshal(raw, &parsed) == nil {
		outputs["json"] = parsed
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, types.NewRetryable(fmt.Sprintf("http %d from %s", resp.StatusCode, url), nil).WithResource(url)
	case resp.StatusCode >= 400:
		return nil, types.NewFatal(fmt.Sprintf("http %d from %s", resp.StatusCode, url), nil).WithResource(url)
	}
	return outputs, nil
}
