// Package conn owns transport connections to upstream MCP tool servers.
// Connections are cached by connection key and shared by every caller
// using the same key; creation is single-flighted per key so at most one
// connection is ever dialed for a key, even under concurrent first
// callers. Keys incorporate credential identity: different credentials
// to the same catalog entry map to different keys.
package conn

import (
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Kind is the closed set of dispatch strategies. It is resolved once by
// the caller from the server's classification and passed in, never
// re-derived per call.
type Kind string

const (
	// RemoteHTTP is a persistent streamable-HTTP MCP session to a
	// remote server.
	RemoteHTTP Kind = "remote_http"
	// LocalStdioProxy sends each call as a single JSON-RPC POST to a
	// fixed local proxy URL fronting a stdio server. No persistent
	// session is held.
	LocalStdioProxy Kind = "local_stdio_proxy"
	// LocalSandboxedHTTP is a streamable-HTTP session whose endpoint is
	// resolved dynamically from the sandboxed runtime registry.
	LocalSandboxedHTTP Kind = "local_sandboxed_http"
)

// Key derives the connection key from the catalog entry and the secret
// used to reach it. Same key ⇒ same credentials ⇒ safe to share a
// connection; this is security-relevant, not an optimization.
func Key(catalogID, secretID string) string {
	if secretID == "" {
		return catalogID
	}
	return catalogID + ":" + secretID
}

// Config describes how to reach one upstream server.
type Config struct {
	Key         string
	Kind        Kind
	URL         string // endpoint (remote) or proxy URL (stdio)
	ServerID    string // registry handle for sandboxed runtimes
	Headers     map[string]string
	AccessToken string // injected as Authorization: Bearer when present
}

// Connection owns one live transport handle. It lives until explicitly
// closed or process exit.
type Connection struct {
	key     string
	kind    Kind
	session *mcp.ClientSession // nil for LocalStdioProxy
	proxy   *stdioProxyClient  // nil otherwise
}

// Key returns the connection key this handle is cached under.
func (c *Connection) Key() string { return c.key }

// Kind returns the connection's dispatch strategy.
func (c *Connection) Kind() Kind { return c.kind }

// Close tears down the underlying transport. Stdio-proxy connections
// hold no persistent state and close trivially.
func (c *Connection) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// ProtocolError is a structured JSON-RPC level failure from an upstream
// server or proxy. Call sites match it with errors.As instead of duck
// typing on a "code" field.
type ProtocolError struct {
	Code    int
	Message string
	Data    any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// EndpointResolver resolves a sandboxed runtime's current endpoint. The
// supervisor's runtime registry implements it.
type EndpointResolver interface {
	Endpoint(serverID string) (string, error)
}

// headerTransport injects static headers and the bearer token into every
// outgoing request of a connection's HTTP client.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
	token   string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	if t.token != "" {
		clone.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(clone)
}

func newHTTPClient(cfg Config) *http.Client {
	if len(cfg.Headers) == 0 && cfg.AccessToken == "" {
		return http.DefaultClient
	}
	return &http.Client{
		Transport: &headerTransport{
			base:    http.DefaultTransport,
			headers: cfg.Headers,
			token:   cfg.AccessToken,
		},
	}
}
