package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertof1lho/archestra-sub001/internal/conn"
	"github.com/robertof1lho/archestra-sub001/internal/model"
	"github.com/robertof1lho/archestra-sub001/internal/policy"
)

func TestMemoryAgentTools(t *testing.T) {
	m := NewMemory()
	m.AddAgentTool(model.AgentTool{AgentID: "a1", ServerName: "gmail", Name: "send_email"})
	m.AddAgentTool(model.AgentTool{AgentID: "a1", ServerName: "gmail", Name: "list_labels"})
	m.AddAgentTool(model.AgentTool{AgentID: "a2", ServerName: "slack", Name: "post"})

	ctx := context.Background()

	tools, err := m.ListAgentTools(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	tools, err = m.GetMcpToolsAssignedToAgent(ctx, []string{"send_email"}, "a1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "send_email", tools[0].Name)

	// Assignment is per agent: a2's tool is invisible to a1.
	tools, err = m.GetMcpToolsAssignedToAgent(ctx, []string{"post"}, "a1")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestMemoryServerConfig(t *testing.T) {
	m := NewMemory()
	m.AddServer(ServerConfig{CatalogID: "cat-1", Name: "gmail", Kind: conn.RemoteHTTP, URL: "https://mcp.example.com"})

	cfg, err := m.FindServerConfig(context.Background(), "gmail")
	require.NoError(t, err)
	assert.Equal(t, conn.RemoteHTTP, cfg.Kind)
	assert.Equal(t, "cat-1", cfg.ConnConfig().Key)

	_, err = m.FindServerConfig(context.Background(), "absent")
	assert.Error(t, err)
}

func TestServerConfigConnKeyIncludesSecret(t *testing.T) {
	a := ServerConfig{CatalogID: "cat-1", SecretID: "s1"}
	b := ServerConfig{CatalogID: "cat-1", SecretID: "s2"}
	assert.NotEqual(t, a.ConnConfig().Key, b.ConnConfig().Key)
}

func TestMemoryPersistToolCall(t *testing.T) {
	m := NewMemory()
	call := model.ToolCall{ID: "c1", Name: "send_email", Arguments: map[string]any{"to": "x@y.z"}}
	result := model.TextResult("c1", "sent")

	require.NoError(t, m.PersistToolCall(context.Background(), "a1", "gmail", call, result))

	persisted := m.PersistedCalls()
	require.Len(t, persisted, 1)
	assert.Equal(t, "c1", persisted[0].Result.ID)
	assert.Equal(t, persisted[0].Call.ID, persisted[0].Result.ID)
}

func TestMemorySecurityConfigs(t *testing.T) {
	m := NewMemory()
	m.AddSecurityConfig("a1", "send_email", policy.SecurityConfig{
		Rules: []policy.Rule{{ArgumentName: "to", Operator: policy.OpEndsWith, Value: "@x", Action: policy.ActionBlockAlways}},
	})

	rows, err := m.ListSecurityConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "send_email", rows[0].ToolName)
}
