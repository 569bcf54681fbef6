package model

// AgentTool is one catalog row joining an agent to a tool it may call.
type AgentTool struct {
	ID          string `json:"id"`
	AgentID     string `json:"agentId"`
	ServerName  string `json:"serverName"`
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`

	// AllowUsageWhenUntrusted is the tool-level opt-in that bypasses
	// rule evaluation in an untrusted context.
	AllowUsageWhenUntrusted bool `json:"allowUsageWhenUntrusted"`

	// ResponseTemplate optionally reshapes the raw tool output before it
	// is returned to the caller.
	ResponseTemplate string `json:"responseTemplate,omitempty"`

	// PassThrough marks tools whose owning catalog entry is machine
	// generated ("generated via api2mcp"); their display name stays
	// unprefixed in listings.
	PassThrough bool `json:"passThrough"`
}

// Message is one conversation entry handed to the trust evaluator.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolResultUpdate is a sanitization instruction emitted by the trust
// evaluator for a prior tool result in the conversation.
type ToolResultUpdate struct {
	CallID  string `json:"callId"`
	Trusted bool   `json:"trusted"`
	Content string `json:"content,omitempty"`
}
