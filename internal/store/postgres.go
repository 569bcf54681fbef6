package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/robertof1lho/archestra-sub001/internal/conn"
	"github.com/robertof1lho/archestra-sub001/internal/model"
	"github.com/robertof1lho/archestra-sub001/internal/policy"
)

// Postgres is the production Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Store over an existing pool. The pool's
// lifecycle belongs to the composition root.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Ping verifies database connectivity at startup.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const listAgentTools = `
SELECT at.id, at.agent_id, s.name, at.tool_name, at.description, at.input_schema,
       at.allow_usage_when_untrusted, COALESCE(at.response_template, ''), s.pass_through
FROM "AgentToolsTable" at
JOIN "McpServerTable" s ON s.id = at.server_id
WHERE at.agent_id = $1
ORDER BY s.name, at.tool_name
`

func (p *Postgres) ListAgentTools(ctx context.Context, agentID string) ([]model.AgentTool, error) {
	rows, err := p.pool.Query(ctx, listAgentTools, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.AgentTool
	for rows.Next() {
		var t model.AgentTool
		var schema []byte
		if err := rows.Scan(
			&t.ID,
			&t.AgentID,
			&t.ServerName,
			&t.Name,
			&t.Description,
			&schema,
			&t.AllowUsageWhenUntrusted,
			&t.ResponseTemplate,
			&t.PassThrough,
		); err != nil {
			return nil, err
		}
		if len(schema) > 0 {
			t.InputSchema = json.RawMessage(schema)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (p *Postgres) GetMcpToolsAssignedToAgent(ctx context.Context, toolNames []string, agentID string) ([]model.AgentTool, error) {
	all, err := p.ListAgentTools(ctx, agentID)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(toolNames))
	for _, n := range toolNames {
		wanted[n] = true
	}
	var out []model.AgentTool
	for _, t := range all {
		if wanted[t.Name] {
			out = append(out, t)
		}
	}
	return out, nil
}

const findServerConfig = `
SELECT s.id, COALESCE(s.secret_id, ''), s.name, s.kind, COALESCE(s.url, ''),
       COALESCE(s.headers, '{}'::jsonb), COALESCE(s.access_token, '')
FROM "McpServerTable" s
WHERE s.name = $1
`

func (p *Postgres) FindServerConfig(ctx context.Context, serverName string) (ServerConfig, error) {
	var cfg ServerConfig
	var kind string
	var headers []byte
	err := p.pool.QueryRow(ctx, findServerConfig, serverName).Scan(
		&cfg.CatalogID,
		&cfg.SecretID,
		&cfg.Name,
		&kind,
		&cfg.URL,
		&headers,
		&cfg.AccessToken,
	)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("server %q: %w", serverName, err)
	}
	cfg.Kind = conn.Kind(kind)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &cfg.Headers); err != nil {
			return ServerConfig{}, fmt.Errorf("server %q headers: %w", serverName, err)
		}
	}
	return cfg, nil
}

const listSecurityConfigs = `
SELECT at.agent_id, at.tool_name, at.allow_usage_when_untrusted,
       COALESCE(
           (SELECT jsonb_agg(jsonb_build_object(
               'agentToolId', tp.agent_tool_id,
               'argumentName', tp.argument_name,
               'operator', tp.operator,
               'value', tp.value,
               'action', tp.action,
               'reason', COALESCE(tp.reason, '')))
            FROM "ToolInvocationPolicyTable" tp
            WHERE tp.agent_tool_id = at.id),
           '[]'::jsonb)
FROM "AgentToolsTable" at
`

func (p *Postgres) ListSecurityConfigs(ctx context.Context) ([]policy.StoredConfig, error) {
	rows, err := p.pool.Query(ctx, listSecurityConfigs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []policy.StoredConfig
	for rows.Next() {
		var row policy.StoredConfig
		var rules []byte
		if err := rows.Scan(&row.AgentID, &row.ToolName, &row.Config.AllowUsageWhenUntrusted, &rules); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rules, &row.Config.Rules); err != nil {
			return nil, fmt.Errorf("policies for tool %q: %w", row.ToolName, err)
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

const insertToolCall = `
INSERT INTO "ToolCallLogTable" (call_id, agent_id, server_name, tool_name, arguments, content, is_error, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
`

func (p *Postgres) PersistToolCall(ctx context.Context, agentID, serverName string, call model.ToolCall, result model.ToolResult) error {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	content, err := json.Marshal(result.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	_, err = p.pool.Exec(ctx, insertToolCall,
		call.ID,
		agentID,
		serverName,
		call.Name,
		args,
		content,
		result.IsError,
		result.Error,
	)
	return err
}
