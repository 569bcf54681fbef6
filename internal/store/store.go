// Package store holds the persistence collaborators consumed by the
// gateway: the agent↔tool catalog, tool invocation policies, upstream
// server configs and the tool-call audit log.
package store

import (
	"context"

	"github.com/robertof1lho/archestra-sub001/internal/conn"
	"github.com/robertof1lho/archestra-sub001/internal/model"
	"github.com/robertof1lho/archestra-sub001/internal/policy"
)

// ServerConfig describes one upstream tool server as recorded in the
// catalog, resolved far enough for the connection manager to dial it.
type ServerConfig struct {
	CatalogID   string
	SecretID    string
	Name        string
	Kind        conn.Kind
	URL         string
	Headers     map[string]string
	AccessToken string
}

// ConnConfig converts the catalog row into a connection manager config.
// The connection key incorporates the secret so credential isolation
// holds across agents sharing a catalog entry.
func (s ServerConfig) ConnConfig() conn.Config {
	return conn.Config{
		Key:         conn.Key(s.CatalogID, s.SecretID),
		Kind:        s.Kind,
		URL:         s.URL,
		ServerID:    s.CatalogID,
		Headers:     s.Headers,
		AccessToken: s.AccessToken,
	}
}

// Store is the persistence surface the gateway depends on. Satisfied by
// *Postgres and by *Memory (compile-time checks in each file).
type Store interface {
	policy.Lookup

	// ListAgentTools returns every tool assigned to the agent.
	ListAgentTools(ctx context.Context, agentID string) ([]model.AgentTool, error)

	// GetMcpToolsAssignedToAgent filters the agent's tools to the given
	// names (native names; slugs are resolved by the caller).
	GetMcpToolsAssignedToAgent(ctx context.Context, toolNames []string, agentID string) ([]model.AgentTool, error)

	// FindServerConfig resolves the upstream server a tool belongs to.
	FindServerConfig(ctx context.Context, serverName string) (ServerConfig, error)

	// PersistToolCall records one call/result pair in the audit log.
	// Persistence failures are the caller's to log and swallow: a
	// dropped audit record never fails the user-facing call.
	PersistToolCall(ctx context.Context, agentID, serverName string, call model.ToolCall, result model.ToolResult) error
}
