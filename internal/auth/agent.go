// Package auth resolves the gateway's bearer tokens to agent identities.
// The token is the caller's agent identifier, not a generic API key:
// either the raw agent UUID or a signed JWT whose subject is that UUID.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid agent token")
)

// AgentResolver turns an Authorization header into an agent id.
type AgentResolver struct {
	jwtSecret []byte
}

// NewAgentResolver creates a resolver. jwtSecret is optional; when empty
// only raw agent-UUID tokens are accepted.
func NewAgentResolver(jwtSecret string) *AgentResolver {
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &AgentResolver{jwtSecret: secret}
}

// AgentID extracts and validates the agent identity from the raw
// Authorization header value.
func (r *AgentResolver) AgentID(authorization string) (string, error) {
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		return "", ErrMissingToken
	}

	if id, err := uuid.Parse(token); err == nil {
		return id.String(), nil
	}

	if r.jwtSecret == nil {
		return "", ErrInvalidToken
	}
	return r.agentIDFromJWT(token)
}

func (r *AgentResolver) agentIDFromJWT(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return r.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return "", fmt.Errorf("%w: subject is not an agent id", ErrInvalidToken)
	}
	return id.String(), nil
}
