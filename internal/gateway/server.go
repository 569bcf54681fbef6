// Package gateway is the protocol surface of the tool-call gateway. It
// presents each agent as an independent virtual MCP tool server over a
// session-oriented HTTP/JSON-RPC transport and owns the session
// lifecycle end to end.
package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/robertof1lho/archestra-sub001/internal/auth"
	"github.com/robertof1lho/archestra-sub001/internal/conn"
	"github.com/robertof1lho/archestra-sub001/internal/model"
	"github.com/robertof1lho/archestra-sub001/internal/policy"
	"github.com/robertof1lho/archestra-sub001/internal/store"
	"github.com/robertof1lho/archestra-sub001/internal/trust"
)

const (
	// HeaderSessionID correlates requests to sessions.
	HeaderSessionID = "mcp-session-id"

	// DefaultSessionTimeout expires a session after this much idleness.
	DefaultSessionTimeout = 30 * time.Minute

	// SweepInterval is how often the background sweep runs.
	SweepInterval = 5 * time.Minute

	protocolVersion = "2025-03-26"
)

// Deps is the gateway's collaborator set, owned by the composition root.
type Deps struct {
	Store     store.Store
	Engine    *policy.Engine
	Evaluator trust.Evaluator
	Conns     *conn.Manager
	Auth      *auth.AgentResolver

	Name    string
	Version string

	// SessionTimeout overrides DefaultSessionTimeout when positive.
	SessionTimeout time.Duration
}

// session binds a caller to a virtual server instance over time.
// lastAccess is guarded by the server's table lock and bumped before
// dispatch, so the sweep cannot race an in-flight call under normal
// timeout horizons.
type session struct {
	id         string
	agentID    string
	virtual    *virtualServer
	lastAccess time.Time
}

// Server is the gateway session server.
type Server struct {
	deps    *Deps
	timeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*session

	now func() time.Time // test hook
}

// NewServer creates a gateway session server.
func NewServer(deps *Deps) *Server {
	timeout := deps.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Server{
		deps:     deps,
		timeout:  timeout,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Handler returns the HTTP handler for the gateway endpoint, suitable
// for mounting on a chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleDiscovery)
	r.Post("/", s.handleRPC)
	return r
}

// handleDiscovery serves the static capability/identity description.
// No session is required.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	agentID, err := s.deps.Auth.AgentID(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":      s.deps.Name,
		"version":   s.deps.Version,
		"agentId":   agentID,
		"transport": "http",
		"capabilities": map[string]any{
			"tools": true,
		},
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	agentID, err := s.deps.Auth.AgentID(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, -32700, "Parse error")
		return
	}

	sessionID := r.Header.Get(HeaderSessionID)

	if req.Method == "initialize" {
		s.handleInitialize(w, r, req, agentID, sessionID)
		return
	}

	sess, ok := s.touchSession(sessionID, agentID)
	if !ok {
		// Sessions are never implicitly created: any non-initialize
		// call without a resolvable session is rejected.
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidSession, "Bad Request: Invalid or expired session")
		return
	}

	switch req.Method {
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)

	case "ping":
		writeResult(w, req.ID, map[string]any{})

	case "tools/list":
		writeResult(w, req.ID, map[string]any{
			"tools": sess.virtual.listTools(),
		})

	case "tools/call":
		s.handleToolCall(w, r, req, sess)

	default:
		if req.isNotification() {
			// Unknown notifications are acknowledged and dropped.
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeError(w, http.StatusOK, req.ID, codeMethodNotFound, "Method not found: "+req.Method)
	}
}

// handleInitialize creates a session, or idempotently reuses an existing
// one: a repeated initialize on a live session returns the same virtual
// server instead of rebuilding it.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req rpcRequest, agentID, sessionID string) {
	if sessionID != "" {
		if sess, ok := s.touchSession(sessionID, agentID); ok {
			w.Header().Set(HeaderSessionID, sess.id)
			writeResult(w, req.ID, s.initializeResult())
			return
		}
	}

	virtual, err := newVirtualServer(r.Context(), s.deps, agentID)
	if err != nil {
		log.Printf("ERROR: building virtual server for agent %s: %v", agentID, err)
		writeError(w, http.StatusOK, req.ID, codeInternalError, "failed to initialize agent tool server")
		return
	}

	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	s.sessions[id] = &session{
		id:         id,
		agentID:    agentID,
		virtual:    virtual,
		lastAccess: s.now(),
	}
	s.mu.Unlock()

	w.Header().Set(HeaderSessionID, id)
	writeResult(w, req.ID, s.initializeResult())
}

func (s *Server) initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.deps.Name,
			"version": s.deps.Version,
		},
	}
}

// callParams is the tools/call parameter shape. _meta.messages carries
// the conversation snapshot for trust classification when the caller
// provides one.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Meta      struct {
		Messages []model.Message `json:"messages"`
	} `json:"_meta"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request, req rpcRequest, sess *session) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		writeError(w, http.StatusOK, req.ID, codeInternalError, "invalid tools/call params")
		return
	}

	result, err := sess.virtual.callTool(r.Context(), params.Name, params.Arguments, params.Meta.Messages)
	if err != nil {
		// Structured protocol errors propagate with their code so MCP
		// clients can branch on them.
		var protoErr *conn.ProtocolError
		if errors.As(err, &protoErr) {
			writeError(w, http.StatusOK, req.ID, protoErr.Code, protoErr.Message)
			return
		}
		writeError(w, http.StatusOK, req.ID, codeInternalError, err.Error())
		return
	}

	writeResult(w, req.ID, map[string]any{
		"content": result.Content,
		"isError": result.IsError,
	})
}

// touchSession resolves a session by exact id and owning agent, bumping
// its last-access time. Pre-dispatch bumping is what keeps expiry from
// racing an in-flight call.
func (s *Server) touchSession(sessionID, agentID string) (*session, bool) {
	if sessionID == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.agentID != agentID {
		return nil, false
	}
	sess.lastAccess = s.now()
	return sess, true
}

// SweepExpiredSessions removes every session idle past the timeout and
// returns how many were removed. Only sessions already past the timeout
// are touched, which bounds the race against in-flight requests.
func (s *Server) SweepExpiredSessions() int {
	cutoff := s.now().Add(-s.timeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.lastAccess.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("gateway: swept %d expired sessions", removed)
	}
	return removed
}

// SessionCount reports the live session count for status reporting.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
