package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/robertof1lho/archestra-sub001/internal/model"
	"github.com/robertof1lho/archestra-sub001/internal/policy"
)

// Memory is a map-backed Store. It backs tests and database-less runs;
// seeded through the Add* methods.
type Memory struct {
	mu       sync.RWMutex
	tools    map[string][]model.AgentTool // agentID → tools
	servers  map[string]ServerConfig      // server name → config
	policies []policy.StoredConfig
	calls    []PersistedCall
}

// PersistedCall is one audit-log row kept in memory.
type PersistedCall struct {
	AgentID    string
	ServerName string
	Call       model.ToolCall
	Result     model.ToolResult
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tools:   make(map[string][]model.AgentTool),
		servers: make(map[string]ServerConfig),
	}
}

// AddAgentTool assigns a tool to an agent.
func (m *Memory) AddAgentTool(tool model.AgentTool) {
	m.mu.Lock()
	m.tools[tool.AgentID] = append(m.tools[tool.AgentID], tool)
	m.mu.Unlock()
}

// AddServer registers an upstream server config.
func (m *Memory) AddServer(cfg ServerConfig) {
	m.mu.Lock()
	m.servers[cfg.Name] = cfg
	m.mu.Unlock()
}

// AddSecurityConfig registers the policy material for an (agent, tool).
func (m *Memory) AddSecurityConfig(agentID, toolName string, cfg policy.SecurityConfig) {
	m.mu.Lock()
	m.policies = append(m.policies, policy.StoredConfig{
		AgentID:  agentID,
		ToolName: toolName,
		Config:   cfg,
	})
	m.mu.Unlock()
}

func (m *Memory) ListAgentTools(_ context.Context, agentID string) ([]model.AgentTool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.AgentTool(nil), m.tools[agentID]...), nil
}

func (m *Memory) GetMcpToolsAssignedToAgent(_ context.Context, toolNames []string, agentID string) ([]model.AgentTool, error) {
	wanted := make(map[string]bool, len(toolNames))
	for _, n := range toolNames {
		wanted[n] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.AgentTool
	for _, t := range m.tools[agentID] {
		if wanted[t.Name] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) FindServerConfig(_ context.Context, serverName string) (ServerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.servers[serverName]
	if !ok {
		return ServerConfig{}, fmt.Errorf("server %q not found", serverName)
	}
	return cfg, nil
}

func (m *Memory) ListSecurityConfigs(_ context.Context) ([]policy.StoredConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]policy.StoredConfig(nil), m.policies...), nil
}

func (m *Memory) PersistToolCall(_ context.Context, agentID, serverName string, call model.ToolCall, result model.ToolResult) error {
	m.mu.Lock()
	m.calls = append(m.calls, PersistedCall{
		AgentID:    agentID,
		ServerName: serverName,
		Call:       call,
		Result:     result,
	})
	m.mu.Unlock()
	return nil
}

// PersistedCalls returns a snapshot of the audit log. Test helper.
func (m *Memory) PersistedCalls() []PersistedCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PersistedCall(nil), m.calls...)
}
