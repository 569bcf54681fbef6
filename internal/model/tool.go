// Package model holds the shared types passed between the gateway,
// connection manager, policy engine and persistence layers.
package model

// ToolCall is one invocation request for a named tool. Immutable once
// issued; ID is caller-supplied or generated and unique per call.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentBlock is one element of a tool result's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the outcome of a ToolCall. Exactly one is produced per
// accepted call, on every path: success, policy denial or transport
// failure. Callers never receive "no answer".
type ToolResult struct {
	ID      string         `json:"id"`
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// TextResult builds a single-text-block result for the given call id.
func TextResult(id, text string) ToolResult {
	return ToolResult{
		ID:      id,
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

// ErrorResult builds a failed result carrying a human-readable error.
func ErrorResult(id, message string) ToolResult {
	return ToolResult{
		ID:      id,
		Content: []ContentBlock{{Type: "text", Text: message}},
		IsError: true,
		Error:   message,
	}
}
