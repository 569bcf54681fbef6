package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertof1lho/archestra-sub001/internal/auth"
	"github.com/robertof1lho/archestra-sub001/internal/conn"
	"github.com/robertof1lho/archestra-sub001/internal/model"
	"github.com/robertof1lho/archestra-sub001/internal/policy"
	"github.com/robertof1lho/archestra-sub001/internal/store"
	"github.com/robertof1lho/archestra-sub001/internal/trust"
)

type testEnv struct {
	server    *Server
	handler   http.Handler
	memory    *store.Memory
	agentID   string
	proxy     *httptest.Server
	proxyHits atomic.Int32
}

// newTestEnv wires a gateway over a memory store and a fake stdio-proxy
// upstream answering every tools/call with "ok:<tool>".
func newTestEnv(t *testing.T, evaluator trust.Evaluator) *testEnv {
	t.Helper()

	env := &testEnv{
		memory:  store.NewMemory(),
		agentID: uuid.NewString(),
	}

	env.proxy = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.proxyHits.Add(1)
		var req struct {
			Params struct {
				Name string `json:"name"`
			} `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"result":{"content":[{"type":"text","text":"ok:%s"}]}}`, req.Params.Name)
	}))
	t.Cleanup(env.proxy.Close)

	env.memory.AddServer(store.ServerConfig{
		CatalogID: "cat-gmail",
		Name:      "gmail",
		Kind:      conn.LocalStdioProxy,
		URL:       env.proxy.URL,
	})
	env.memory.AddAgentTool(model.AgentTool{
		ID:         "at-1",
		AgentID:    env.agentID,
		ServerName: "gmail",
		Name:       "send_email",
	})
	env.memory.AddAgentTool(model.AgentTool{
		ID:          "at-2",
		AgentID:     env.agentID,
		ServerName:  "weatherapi",
		Name:        "get_forecast",
		PassThrough: true, // generated via api2mcp: listed unprefixed
	})
	env.memory.AddServer(store.ServerConfig{
		CatalogID: "cat-weather",
		Name:      "weatherapi",
		Kind:      conn.LocalStdioProxy,
		URL:       env.proxy.URL,
	})

	engine := policy.NewEngine(env.memory)
	require.NoError(t, engine.Load(t.Context()))

	env.server = NewServer(&Deps{
		Store:     env.memory,
		Engine:    engine,
		Evaluator: evaluator,
		Conns:     conn.NewManager(nil),
		Auth:      auth.NewAgentResolver(""),
		Name:      "archestra-gateway",
		Version:   "v1.0.0",
	})
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) reloadPolicies(t *testing.T) {
	t.Helper()
	require.NoError(t, e.server.deps.Engine.Load(t.Context()))
}

func (e *testEnv) rpc(t *testing.T, sessionID, method string, params any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+e.agentID)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeRPC(t *testing.T, rec *httptest.ResponseRecorder) rpcResponse {
	t.Helper()
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestDiscovery(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+env.agentID)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, env.agentID, body["agentId"])
	assert.Equal(t, "http", body["transport"])
	assert.Equal(t, map[string]any{"tools": true}, body["capabilities"])
}

func TestDiscoveryRejectsBadBearer(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})

	for _, header := range []string{"", "Bearer nope", "Basic abc"} {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestInitializeCreatesSession(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})

	rec := env.rpc(t, "s1", "initialize", map[string]any{})
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "s1", rec.Header().Get(HeaderSessionID))

	resp := decodeRPC(t, rec)
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, env.server.SessionCount())
}

func TestInitializeGeneratesSessionID(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})

	rec := env.rpc(t, "", "initialize", map[string]any{})
	require.Equal(t, 200, rec.Code)
	sid := rec.Header().Get(HeaderSessionID)
	require.NotEmpty(t, sid)

	// The generated id resolves on subsequent calls.
	rec = env.rpc(t, sid, "ping", nil)
	assert.Equal(t, 200, rec.Code)
}

func TestSessionReuseKeepsVirtualServerIdentity(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})

	env.rpc(t, "s1", "initialize", map[string]any{})
	env.server.mu.RLock()
	first := env.server.sessions["s1"].virtual
	env.server.mu.RUnlock()

	// Repeated initialize is idempotent reuse, not re-creation.
	env.rpc(t, "s1", "initialize", map[string]any{})
	// Dispatch reuses the same instance without re-listing tools.
	env.rpc(t, "s1", "tools/call", map[string]any{
		"name":      "gmail__send_email",
		"arguments": map[string]any{"to": "x@other.com"},
	})

	env.server.mu.RLock()
	second := env.server.sessions["s1"].virtual
	env.server.mu.RUnlock()

	assert.Same(t, first, second)
	assert.Equal(t, 1, env.server.SessionCount())
}

func TestNonInitializeWithoutSessionRejected(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})

	for _, sid := range []string{"", "never-created"} {
		rec := env.rpc(t, sid, "tools/list", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeRPC(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, codeInvalidSession, resp.Error.Code)
		assert.Equal(t, "Bad Request: Invalid or expired session", resp.Error.Message)
	}
	// No session was implicitly created along the way.
	assert.Zero(t, env.server.SessionCount())
}

func TestSessionIsScopedToAgent(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})
	env.rpc(t, "s1", "initialize", map[string]any{})

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"})
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+uuid.NewString()) // other agent
	req.Header.Set(HeaderSessionID, "s1")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolsListSlugDuality(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})
	env.rpc(t, "s1", "initialize", map[string]any{})

	rec := env.rpc(t, "s1", "tools/list", nil)
	require.Equal(t, 200, rec.Code)

	var resp struct {
		Result struct {
			Tools []struct {
				Name        string         `json:"name"`
				Annotations map[string]any `json:"annotations"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Result.Tools, 2)

	byName := map[string]map[string]any{}
	for _, tool := range resp.Result.Tools {
		byName[tool.Name] = tool.Annotations
	}

	// Regular tools list under their slug.
	require.Contains(t, byName, "gmail__send_email")
	// Pass-through tools keep the native name, with the slug annotated.
	require.Contains(t, byName, "get_forecast")
	assert.Equal(t, "weatherapi__get_forecast", byName["get_forecast"]["slugifiedName"])
}

func TestToolCallSuccessAndPersistence(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})
	env.rpc(t, "s1", "initialize", map[string]any{})

	rec := env.rpc(t, "s1", "tools/call", map[string]any{
		"name":      "gmail__send_email",
		"arguments": map[string]any{"to": "x@other.com"},
	})
	require.Equal(t, 200, rec.Code)

	var resp struct {
		Result struct {
			Content []model.ContentBlock `json:"content"`
			IsError bool                 `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Result.IsError)
	require.Len(t, resp.Result.Content, 1)
	assert.Equal(t, "ok:send_email", resp.Result.Content[0].Text)

	// Exactly one result persisted, id matching its call.
	persisted := env.memory.PersistedCalls()
	require.Len(t, persisted, 1)
	assert.Equal(t, persisted[0].Call.ID, persisted[0].Result.ID)
	assert.Equal(t, "send_email", persisted[0].Call.Name)
	assert.Equal(t, "gmail", persisted[0].ServerName)
}

func TestToolCallPolicyDenial(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})
	env.memory.AddSecurityConfig(env.agentID, "send_email", policy.SecurityConfig{
		Rules: []policy.Rule{{
			ArgumentName: "to",
			Operator:     policy.OpEndsWith,
			Value:        "@grafana.com",
			Action:       policy.ActionBlockAlways,
			Reason:       "internal recipients blocked",
		}},
	})
	env.reloadPolicies(t)
	env.rpc(t, "s1", "initialize", map[string]any{})

	rec := env.rpc(t, "s1", "tools/call", map[string]any{
		"name":      "gmail__send_email",
		"arguments": map[string]any{"to": "x@grafana.com"},
	})
	require.Equal(t, 200, rec.Code)

	var resp struct {
		Result struct {
			Content []model.ContentBlock `json:"content"`
			IsError bool                 `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Result.IsError)
	assert.Contains(t, resp.Result.Content[0].Text, "internal recipients blocked")

	// The denied call never reached the upstream, yet was persisted.
	assert.Zero(t, env.proxyHits.Load())
	persisted := env.memory.PersistedCalls()
	require.Len(t, persisted, 1)
	assert.True(t, persisted[0].Result.IsError)
}

func TestToolCallUntrustedContextDefaultDeny(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: false})
	env.rpc(t, "s1", "initialize", map[string]any{})

	rec := env.rpc(t, "s1", "tools/call", map[string]any{
		"name":      "gmail__send_email",
		"arguments": map[string]any{"to": "x@other.com"},
	})
	require.Equal(t, 200, rec.Code)

	var resp struct {
		Result struct {
			Content []model.ContentBlock `json:"content"`
			IsError bool                 `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Result.IsError)
	assert.Contains(t, resp.Result.Content[0].Text, "untrusted context")
	assert.Zero(t, env.proxyHits.Load())
}

func TestToolCallNotFound(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})
	env.rpc(t, "s1", "initialize", map[string]any{})

	rec := env.rpc(t, "s1", "tools/call", map[string]any{
		"name":      "not_a_tool",
		"arguments": map[string]any{},
	})
	require.Equal(t, 200, rec.Code)

	resp := decodeRPC(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "not found or not assigned")
	assert.Empty(t, env.memory.PersistedCalls())
}

func TestToolCallTransportFailureBecomesErrorResult(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})
	env.proxy.Close() // upstream is gone

	env.rpc(t, "s1", "initialize", map[string]any{})
	rec := env.rpc(t, "s1", "tools/call", map[string]any{
		"name":      "gmail__send_email",
		"arguments": map[string]any{"to": "x@other.com"},
	})
	require.Equal(t, 200, rec.Code)

	var resp struct {
		Result struct {
			Content []model.ContentBlock `json:"content"`
			IsError bool                 `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Result.IsError)

	// The failure still produced exactly one persisted ToolResult.
	persisted := env.memory.PersistedCalls()
	require.Len(t, persisted, 1)
	assert.True(t, persisted[0].Result.IsError)
	assert.Equal(t, persisted[0].Call.ID, persisted[0].Result.ID)
}

func TestUnknownMethod(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})
	env.rpc(t, "s1", "initialize", map[string]any{})

	rec := env.rpc(t, "s1", "resources/list", nil)
	resp := decodeRPC(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestSessionSweep(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})

	now := time.Now()
	env.server.now = func() time.Time { return now }

	env.rpc(t, "old", "initialize", map[string]any{})
	now = now.Add(10 * time.Minute)
	env.rpc(t, "fresh", "initialize", map[string]any{})

	// "old" is 10 minutes idle, under the 30 minute timeout: kept.
	assert.Zero(t, env.server.SweepExpiredSessions())

	now = now.Add(25 * time.Minute)
	// "old" is now 35 minutes idle, "fresh" 25: only "old" goes.
	assert.Equal(t, 1, env.server.SweepExpiredSessions())
	assert.Equal(t, 1, env.server.SessionCount())

	rec := env.rpc(t, "old", "tools/list", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.rpc(t, "fresh", "tools/list", nil)
	assert.Equal(t, 200, rec.Code)
}

func TestRequestsBumpLastAccess(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})

	now := time.Now()
	env.server.now = func() time.Time { return now }

	env.rpc(t, "s1", "initialize", map[string]any{})
	now = now.Add(25 * time.Minute)
	env.rpc(t, "s1", "ping", nil) // bumps last access

	now = now.Add(20 * time.Minute)
	// 45 minutes since initialize but only 20 since the ping.
	assert.Zero(t, env.server.SweepExpiredSessions())
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t, trust.Static{Trusted: true})

	req := httptest.NewRequest("POST", "/", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+env.agentID)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeRPC(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32700, resp.Error.Code)
}
