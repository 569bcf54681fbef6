package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/robertof1lho/archestra-sub001/internal/conn"
	"github.com/robertof1lho/archestra-sub001/internal/model"
	"github.com/robertof1lho/archestra-sub001/internal/policy"
	"github.com/robertof1lho/archestra-sub001/internal/toolname"
	"github.com/robertof1lho/archestra-sub001/internal/trust"
)

// toolEntry is one tool as the virtual server presents it: the catalog
// row plus its slug/display duality.
type toolEntry struct {
	model.AgentTool
	Slug        string
	DisplayName string
}

// virtualServer presents one agent as an independent MCP tool server.
// Its tool list is built once at session initialize and is read-only for
// the session's lifetime; reuse never re-lists from the backing servers.
type virtualServer struct {
	agentID string
	deps    *Deps
	tools   []toolEntry
}

// newVirtualServer builds the agent-scoped tool list with the
// slug/native-name duality applied. Pass-through tools ("generated via
// api2mcp") keep their unprefixed native name as display name.
func newVirtualServer(ctx context.Context, deps *Deps, agentID string) (*virtualServer, error) {
	assigned, err := deps.Store.ListAgentTools(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing tools for agent %s: %w", agentID, err)
	}

	tools := make([]toolEntry, 0, len(assigned))
	for _, t := range assigned {
		slug := toolname.Slugify(t.ServerName, t.Name)
		display := slug
		if t.PassThrough {
			display = t.Name
		}
		tools = append(tools, toolEntry{AgentTool: t, Slug: slug, DisplayName: display})
	}

	return &virtualServer{agentID: agentID, deps: deps, tools: tools}, nil
}

// listedTool is the wire shape of one tools/list entry.
type listedTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema any            `json:"inputSchema"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

func (v *virtualServer) listTools() []listedTool {
	out := make([]listedTool, 0, len(v.tools))
	for _, t := range v.tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		entry := listedTool{
			Name:        t.DisplayName,
			Description: t.Description,
			InputSchema: schema,
		}
		if t.DisplayName != t.Slug {
			entry.Annotations = map[string]any{"slugifiedName": t.Slug}
		}
		out = append(out, entry)
	}
	return out
}

// findTool resolves a caller-supplied name, which may be the display
// name, the full slug, or the bare native name.
func (v *virtualServer) findTool(name string) (toolEntry, bool) {
	for _, t := range v.tools {
		if name == t.DisplayName || name == t.Slug || name == t.Name {
			return t, true
		}
	}
	return toolEntry{}, false
}

// callTool runs the full dispatch pipeline for one tool invocation:
// trust classification, policy evaluation, transport dispatch, response
// templating, persistence. Exactly one ToolResult comes out of every
// path — policy denial and transport failure included — so callers never
// receive "no answer". A nil error with IsError set means the call was
// answered; a non-nil *conn.ProtocolError means the surface should
// propagate a structured JSON-RPC error instead.
func (v *virtualServer) callTool(ctx context.Context, name string, args map[string]any, messages []model.Message) (model.ToolResult, error) {
	tool, ok := v.findTool(name)
	if !ok {
		return model.ToolResult{}, &conn.ProtocolError{
			Code:    codeInternalError,
			Message: fmt.Sprintf("tool not found or not assigned: %s", name),
		}
	}

	call := model.ToolCall{
		ID:        uuid.NewString(),
		Name:      tool.Name,
		Arguments: args,
	}

	result := v.dispatch(ctx, tool, call, messages)
	v.persist(ctx, tool.ServerName, call, result)
	return result, nil
}

func (v *virtualServer) dispatch(ctx context.Context, tool toolEntry, call model.ToolCall, messages []model.Message) model.ToolResult {
	report, err := v.deps.Evaluator.EvaluateTrustedData(ctx, messages, v.agentID)
	if err != nil {
		// An unanswerable trust classification is treated as untrusted,
		// never as an open gate.
		log.Printf("WARN: trust evaluation for agent %s: %v", v.agentID, err)
		report = trust.Report{ContextIsTrusted: false}
	}

	// A catalog-level opt-in declares the tool safe to use with untrusted
	// data present, bypassing rule evaluation entirely.
	decision := policy.Decision{Allowed: true}
	if report.ContextIsTrusted || !tool.AllowUsageWhenUntrusted {
		decision = v.deps.Engine.Evaluate(v.agentID, tool.Name, call.Arguments, report.ContextIsTrusted)
	}
	if !decision.Allowed {
		// Denial is an answered call: a refusal content block, not an
		// exception. The call never reaches the transport.
		return model.ErrorResult(call.ID, "Tool call blocked: "+decision.Reason)
	}

	serverCfg, err := v.deps.Store.FindServerConfig(ctx, tool.ServerName)
	if err != nil {
		return model.ErrorResult(call.ID, fmt.Sprintf("failed to resolve server %q: %v", tool.ServerName, err))
	}

	connection, err := v.deps.Conns.GetOrCreate(ctx, serverCfg.ConnConfig())
	if err != nil {
		return model.ErrorResult(call.ID, fmt.Sprintf("failed to connect to %q: %v", tool.ServerName, err))
	}

	result, err := v.deps.Conns.Execute(ctx, connection, call)
	if err != nil {
		return model.ErrorResult(call.ID, fmt.Sprintf("tool call failed: %v", err))
	}

	if tool.ResponseTemplate != "" && !result.IsError {
		result.Content = applyResponseTemplate(tool.ResponseTemplate, result.Content)
	}
	return result
}

// persist records the call/result pair. A dropped audit record is
// logged, never surfaced: it must not fail the user-facing call.
func (v *virtualServer) persist(ctx context.Context, serverName string, call model.ToolCall, result model.ToolResult) {
	if err := v.deps.Store.PersistToolCall(ctx, v.agentID, serverName, call, result); err != nil {
		log.Printf("WARN: persisting tool call %s: %v", call.ID, err)
	}
}
