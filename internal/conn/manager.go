package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/robertof1lho/archestra-sub001/internal/model"
)

// inflight is the table entry for one connection key. It exists from the
// moment a creation starts, so concurrent first callers wait on the same
// dial instead of racing their own.
type inflight struct {
	ready chan struct{}
	conn  *Connection
	err   error
}

// Manager caches live connections by connection key. Transport I/O never
// holds the table lock.
type Manager struct {
	mu       sync.Mutex
	conns    map[string]*inflight
	resolver EndpointResolver

	// dial is swapped in tests to avoid real transports.
	dial func(ctx context.Context, cfg Config) (*Connection, error)
}

// NewManager creates a connection manager. resolver may be nil when no
// sandboxed runtimes are configured.
func NewManager(resolver EndpointResolver) *Manager {
	m := &Manager{
		conns:    make(map[string]*inflight),
		resolver: resolver,
	}
	m.dial = m.dialTransport
	return m
}

// GetOrCreate returns the live connection for cfg.Key, dialing it first
// if absent. Creation is single-flighted: a second caller for the same
// key waits for the first dial instead of opening a duplicate. A failed
// dial is not cached; the next caller retries.
func (m *Manager) GetOrCreate(ctx context.Context, cfg Config) (*Connection, error) {
	m.mu.Lock()
	if entry, ok := m.conns[cfg.Key]; ok {
		m.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry.err != nil {
			return nil, entry.err
		}
		return entry.conn, nil
	}

	entry := &inflight{ready: make(chan struct{})}
	m.conns[cfg.Key] = entry
	m.mu.Unlock()

	conn, err := m.dial(ctx, cfg)
	if err != nil {
		entry.err = fmt.Errorf("connect %s: %w", cfg.Key, err)
		m.mu.Lock()
		delete(m.conns, cfg.Key)
		m.mu.Unlock()
		close(entry.ready)
		return nil, entry.err
	}

	entry.conn = conn
	close(entry.ready)
	return conn, nil
}

func (m *Manager) dialTransport(ctx context.Context, cfg Config) (*Connection, error) {
	switch cfg.Kind {
	case LocalStdioProxy:
		if cfg.URL == "" {
			return nil, fmt.Errorf("stdio proxy connection requires url")
		}
		return &Connection{key: cfg.Key, kind: cfg.Kind, proxy: newStdioProxyClient(cfg)}, nil

	case RemoteHTTP, LocalSandboxedHTTP:
		endpoint := cfg.URL
		if cfg.Kind == LocalSandboxedHTTP {
			if m.resolver == nil {
				return nil, fmt.Errorf("no runtime registry configured for sandboxed server %s", cfg.ServerID)
			}
			resolved, err := m.resolver.Endpoint(cfg.ServerID)
			if err != nil {
				return nil, err
			}
			endpoint = resolved
		}
		if endpoint == "" {
			return nil, fmt.Errorf("connection %s has no endpoint", cfg.Key)
		}

		client := mcp.NewClient(&mcp.Implementation{
			Name:    "archestra-gateway",
			Version: "v1.0.0",
		}, nil)
		session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
			Endpoint:   endpoint,
			HTTPClient: newHTTPClient(cfg),
		}, nil)
		if err != nil {
			return nil, err
		}
		return &Connection{key: cfg.Key, kind: cfg.Kind, session: session}, nil

	default:
		return nil, fmt.Errorf("unsupported connection kind %q", cfg.Kind)
	}
}

// Execute dispatches one tool call over the connection. toolName must be
// the tool's native name. Transport failures surface as errors; the
// caller folds them into an error ToolResult. An upstream result with
// isError set is NOT an error here: the server answered.
func (m *Manager) Execute(ctx context.Context, c *Connection, call model.ToolCall) (model.ToolResult, error) {
	switch c.kind {
	case LocalStdioProxy:
		result, err := c.proxy.callTool(ctx, call.Name, call.Arguments)
		if err != nil {
			return model.ToolResult{}, err
		}
		return model.ToolResult{
			ID:      call.ID,
			Content: result.Content,
			IsError: result.IsError,
		}, nil

	default:
		result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
			Name:      call.Name,
			Arguments: call.Arguments,
		})
		if err != nil {
			return model.ToolResult{}, err
		}
		out := model.ToolResult{ID: call.ID, IsError: result.IsError}
		for _, content := range result.Content {
			out.Content = append(out.Content, toContentBlock(content))
		}
		return out, nil
	}
}

// ListTools lists the tools the upstream server exposes.
func (m *Manager) ListTools(ctx context.Context, c *Connection) ([]ToolInfo, error) {
	switch c.kind {
	case LocalStdioProxy:
		return c.proxy.listTools(ctx)
	default:
		result, err := c.session.ListTools(ctx, nil)
		if err != nil {
			return nil, err
		}
		tools := make([]ToolInfo, 0, len(result.Tools))
		for _, t := range result.Tools {
			tools = append(tools, ToolInfo{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
		return tools, nil
	}
}

// Disconnect closes and forgets the connection for key, if any.
func (m *Manager) Disconnect(key string) {
	m.mu.Lock()
	entry, ok := m.conns[key]
	if ok {
		delete(m.conns, key)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	<-entry.ready
	if entry.conn != nil {
		if err := entry.conn.Close(); err != nil {
			log.Printf("WARN: closing connection %s: %v", key, err)
		}
	}
}

// Shutdown closes every live connection. Called from the composition
// root's termination path.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := make(map[string]*inflight, len(m.conns))
	for k, v := range m.conns {
		entries[k] = v
	}
	m.conns = make(map[string]*inflight)
	m.mu.Unlock()

	for key, entry := range entries {
		<-entry.ready
		if entry.conn != nil {
			if err := entry.conn.Close(); err != nil {
				log.Printf("WARN: closing connection %s: %v", key, err)
			}
		}
	}
}

func toContentBlock(content mcp.Content) model.ContentBlock {
	if text, ok := content.(*mcp.TextContent); ok {
		return model.ContentBlock{Type: "text", Text: text.Text}
	}
	// Non-text content is flattened to its JSON form.
	raw, err := json.Marshal(content)
	if err != nil {
		return model.ContentBlock{Type: "text", Text: fmt.Sprintf("%v", content)}
	}
	return model.ContentBlock{Type: "text", Text: string(raw)}
}
