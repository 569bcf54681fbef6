package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Evaluate decides whether a tool call may proceed.
//
// Ordering matters and mirrors the gateway's security model:
//  1. A tool-level opt-in ("usable when untrusted data is present") in an
//     untrusted context allows immediately, bypassing rule evaluation.
//  2. Every rule is evaluated. A met block_always rule denies immediately
//     with the rule's reason; a met allow rule only records a flag.
//  3. An untrusted context with no recorded allow flag is the default
//     deny, overridden only by step 1 or a matching allow rule.
func Evaluate(cfg SecurityConfig, args map[string]any, contextTrusted bool) Decision {
	if cfg.AllowUsageWhenUntrusted && !contextTrusted {
		return Decision{Allowed: true, Reason: "tool permits usage with untrusted data present"}
	}

	explicitAllow := false
	for _, rule := range cfg.Rules {
		value, found := ExtractArgument(args, rule.ArgumentName)
		if !found {
			if rule.Action == ActionBlockAlways {
				// A block rule on an absent argument is vacuously
				// satisfied, not a violation.
				continue
			}
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("missing required argument %q", rule.ArgumentName),
			}
		}

		met := conditionMet(rule.Operator, value, rule.Value)
		switch rule.Action {
		case ActionBlockAlways:
			if met {
				reason := rule.Reason
				if reason == "" {
					reason = fmt.Sprintf("blocked by policy on argument %q", rule.ArgumentName)
				}
				return Decision{Allowed: false, Reason: reason}
			}
		case ActionAllowWhenUntrusted:
			if met {
				explicitAllow = true
			}
		}
	}

	if !contextTrusted && !explicitAllow {
		return Decision{Allowed: false, Reason: "blocked: untrusted context"}
	}
	return Decision{Allowed: true}
}

// conditionMet applies an operator to the extracted argument. String
// operators evaluate to false on non-string arguments; equal/notEqual
// compare printed representations so numeric and boolean arguments still
// participate.
func conditionMet(op Operator, arg any, want string) bool {
	switch op {
	case OpEqual:
		return stringify(arg) == want
	case OpNotEqual:
		return stringify(arg) != want
	}

	s, ok := arg.(string)
	if !ok {
		return false
	}

	switch op {
	case OpEndsWith:
		return strings.HasSuffix(s, want)
	case OpStartsWith:
		return strings.HasPrefix(s, want)
	case OpContains:
		return strings.Contains(s, want)
	case OpNotContains:
		return !strings.Contains(s, want)
	case OpRegex:
		re, err := regexp.Compile(want)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	}
	return false
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
