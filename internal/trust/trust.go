// Package trust defines the trusted-data evaluator contract. The
// evaluator classifies whether prior tool-result content in a
// conversation can be acted on without extra scrutiny; its internal
// quarantine analysis lives outside this repo.
package trust

import (
	"context"

	"github.com/robertof1lho/archestra-sub001/internal/model"
)

// Report is the evaluator's classification of a conversation.
type Report struct {
	// ContextIsTrusted gates policy evaluation: an untrusted context is
	// default-deny unless a rule or tool-level opt-in says otherwise.
	ContextIsTrusted bool `json:"contextIsTrusted"`

	// ToolResultUpdates carries sanitization instructions for prior
	// tool results the evaluator quarantined.
	ToolResultUpdates []model.ToolResultUpdate `json:"toolResultUpdates,omitempty"`
}

// Evaluator classifies conversation trust before a tool call dispatches.
type Evaluator interface {
	EvaluateTrustedData(ctx context.Context, messages []model.Message, agentID string) (Report, error)
}

// Static is an Evaluator with a fixed answer. The gateway uses
// Static{Trusted: true} when trust evaluation is disabled.
type Static struct {
	Trusted bool
}

func (s Static) EvaluateTrustedData(_ context.Context, _ []model.Message, _ string) (Report, error) {
	return Report{ContextIsTrusted: s.Trusted}, nil
}
