package conn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/robertof1lho/archestra-sub001/internal/model"
)

var proxyHTTPClient = &http.Client{Timeout: 60 * time.Second}

// stdioProxyClient speaks single-shot JSON-RPC 2.0 over HTTP POST to the
// proxy fronting a local stdio MCP server. Every call is one request;
// there is no persistent session to manage.
type stdioProxyClient struct {
	url    string
	client *http.Client
	nextID atomic.Int64
}

func newStdioProxyClient(cfg Config) *stdioProxyClient {
	client := proxyHTTPClient
	if len(cfg.Headers) > 0 || cfg.AccessToken != "" {
		client = &http.Client{
			Timeout: proxyHTTPClient.Timeout,
			Transport: &headerTransport{
				base:    http.DefaultTransport,
				headers: cfg.Headers,
				token:   cfg.AccessToken,
			},
		}
	}
	return &stdioProxyClient{url: cfg.URL, client: client}
}

type proxyRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type proxyResponse struct {
	Result *proxyResult `json:"result"`
	Error  *proxyError  `json:"error"`
}

type proxyResult struct {
	Content []model.ContentBlock `json:"content"`
	IsError bool                 `json:"isError"`
	Tools   []ToolInfo           `json:"tools"`
}

type proxyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolInfo is one tool as reported by an upstream tools/list.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

func (p *stdioProxyClient) rpc(ctx context.Context, method string, params any) (*proxyResult, error) {
	body, err := json.Marshal(proxyRequest{
		JSONRPC: "2.0",
		ID:      p.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode proxy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("proxy %s: unexpected status %d", p.url, resp.StatusCode)
	}

	var parsed proxyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode proxy response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &ProtocolError{Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if parsed.Result == nil {
		return nil, fmt.Errorf("proxy %s: response has neither result nor error", p.url)
	}
	return parsed.Result, nil
}

func (p *stdioProxyClient) callTool(ctx context.Context, name string, args map[string]any) (*proxyResult, error) {
	return p.rpc(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
}

func (p *stdioProxyClient) listTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := p.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}
