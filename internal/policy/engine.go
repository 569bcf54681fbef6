package policy

import (
	"context"
	"sync"

	"github.com/robertof1lho/archestra-sub001/internal/toolname"
)

// StoredConfig is one (agent, tool) security config row as returned by
// the persistence layer.
type StoredConfig struct {
	AgentID  string
	ToolName string
	Config   SecurityConfig
}

// Lookup reads security configs from persistence. Implemented by the
// store package; a map-backed fake serves in tests.
type Lookup interface {
	ListSecurityConfigs(ctx context.Context) ([]StoredConfig, error)
}

// Engine holds an in-memory snapshot of all security configs, refreshed
// atomically via Load (at startup and from the scheduler reload job).
// Evaluation itself is stateless per call.
type Engine struct {
	mu      sync.RWMutex
	configs map[string]SecurityConfig
	lookup  Lookup
}

// NewEngine creates a policy engine backed by the given lookup.
func NewEngine(lookup Lookup) *Engine {
	return &Engine{
		configs: make(map[string]SecurityConfig),
		lookup:  lookup,
	}
}

// Load reads all security configs from persistence into memory.
func (e *Engine) Load(ctx context.Context) error {
	rows, err := e.lookup.ListSecurityConfigs(ctx)
	if err != nil {
		return err
	}

	configs := make(map[string]SecurityConfig, len(rows))
	for _, row := range rows {
		configs[configKey(row.AgentID, row.ToolName)] = row.Config
	}

	e.mu.Lock()
	e.configs = configs
	e.mu.Unlock()
	return nil
}

// Evaluate decides whether the agent may invoke the tool with the given
// arguments. The tool matches its config by exact name or, for slugged
// names, by the suffix after the server prefix. A tool with no config has
// an empty rule set, so only the untrusted default-deny applies.
func (e *Engine) Evaluate(agentID, tool string, args map[string]any, contextTrusted bool) Decision {
	cfg, _ := e.configFor(agentID, tool)
	return Evaluate(cfg, args, contextTrusted)
}

func (e *Engine) configFor(agentID, tool string) (SecurityConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if cfg, ok := e.configs[configKey(agentID, tool)]; ok {
		return cfg, true
	}
	if native := toolname.Unslugify(tool, ""); native != tool {
		if cfg, ok := e.configs[configKey(agentID, native)]; ok {
			return cfg, true
		}
	}
	return SecurityConfig{}, false
}

func configKey(agentID, tool string) string {
	return agentID + "\x00" + tool
}
