// Package policy implements the tool invocation policy engine. Evaluation
// is a pure function over the applicable rule set, the call arguments and
// the conversation's trust classification; rules are read through a lookup
// collaborator and mutated only by administrative CRUD elsewhere.
package policy

// Operator is the comparison applied to an extracted argument value.
type Operator string

const (
	OpEndsWith    Operator = "endsWith"
	OpStartsWith  Operator = "startsWith"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpEqual       Operator = "equal"
	OpNotEqual    Operator = "notEqual"
	OpRegex       Operator = "regex"
)

// Action is what a matched rule does.
type Action string

const (
	// ActionAllowWhenUntrusted marks the call as explicitly permitted in an
	// untrusted context. It never short-circuits: block rules still apply.
	ActionAllowWhenUntrusted Action = "allow_when_context_is_untrusted"
	// ActionBlockAlways denies the call whenever the condition is met,
	// regardless of trust state or any allow rule.
	ActionBlockAlways Action = "block_always"
)

// Rule is one tool invocation policy row.
type Rule struct {
	AgentToolID  string   `json:"agentToolId"`
	ArgumentName string   `json:"argumentName"`
	Operator     Operator `json:"operator"`
	Value        string   `json:"value"`
	Action       Action   `json:"action"`
	Reason       string   `json:"reason"`
}

// SecurityConfig is the policy material for one (agent, tool) pair:
// its rule set plus the tool-level opt-in that bypasses rule evaluation
// when the context is untrusted.
type SecurityConfig struct {
	Rules                   []Rule
	AllowUsageWhenUntrusted bool
}

// Decision is the outcome of an evaluation. Denial is a value, not an
// error: the transport layer turns it into a refusal content block or a
// 403 depending on the path.
type Decision struct {
	Allowed bool
	Reason  string
}
