package config

import (
	"fmt"
	"log"
	"sort"
)

// Validate checks the config for unrecognized fields and logs warnings.
// Unknown fields never fail the load; they are reported and ignored.
func Validate(cfg *Config) {
	warnOverflow("config", cfg.Overflow)
	warnOverflow("server", cfg.Server.Overflow)
	warnOverflow("gateway", cfg.Gateway.Overflow)
	warnOverflow("trust", cfg.Trust.Overflow)
	if cfg.Cache != nil {
		warnOverflow("cache", cfg.Cache.Overflow)
	}
	for name, server := range cfg.MCPServers {
		warnOverflow(fmt.Sprintf("mcp_servers.%s", name), server.Overflow)
	}
	for i, local := range cfg.LocalServers {
		warnOverflow(fmt.Sprintf("local_servers[%d](%s)", i, local.ID), local.Overflow)
	}
}

func warnOverflow(section string, overflow map[string]any) {
	if len(overflow) == 0 {
		return
	}
	keys := make([]string, 0, len(overflow))
	for k := range overflow {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		log.Printf("[WARNING] Unrecognized config field %s.%s — field will be ignored", section, k)
	}
}
