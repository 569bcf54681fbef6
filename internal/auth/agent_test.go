package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentIDFromRawUUID(t *testing.T) {
	r := NewAgentResolver("")
	agentID := uuid.NewString()

	got, err := r.AgentID("Bearer " + agentID)
	require.NoError(t, err)
	assert.Equal(t, agentID, got)
}

func TestAgentIDMissingOrMalformed(t *testing.T) {
	r := NewAgentResolver("")

	_, err := r.AgentID("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = r.AgentID("Bearer ")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = r.AgentID("Basic dXNlcjpwYXNz")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = r.AgentID("Bearer not-an-agent-id")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAgentIDFromJWT(t *testing.T) {
	secret := "test-secret"
	agentID := uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   agentID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	r := NewAgentResolver(secret)
	got, err := r.AgentID("Bearer " + signed)
	require.NoError(t, err)
	assert.Equal(t, agentID, got)
}

func TestAgentIDFromJWTRejectsNonUUIDSubject(t *testing.T) {
	secret := "test-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "admin",
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	r := NewAgentResolver(secret)
	_, err = r.AgentID("Bearer " + signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAgentIDJWTDisabledWithoutSecret(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: uuid.NewString(),
	})
	signed, err := token.SignedString([]byte("any"))
	require.NoError(t, err)

	r := NewAgentResolver("")
	_, err = r.AgentID("Bearer " + signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
