package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a gateway_config.yaml file and returns a Config with all
// environment variable references resolved and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvironmentVariables(&cfg)
	resolveEnvVars(&cfg)
	setDefaults(&cfg)
	Validate(&cfg)

	return &cfg, nil
}

// applyEnvironmentVariables sets OS env vars from the config's
// environment_variables section before any reference resolution, so a
// config can both define and consume a variable.
func applyEnvironmentVariables(cfg *Config) {
	for k, v := range cfg.EnvironmentVariables {
		os.Setenv(k, ResolveEnvVar(v))
	}
}

func resolveEnvVars(cfg *Config) {
	cfg.Gateway.JWTSecret = ResolveEnvVar(cfg.Gateway.JWTSecret)
	cfg.Database.URL = ResolveEnvVar(cfg.Database.URL)

	if cfg.Cache != nil {
		cfg.Cache.Addr = ResolveEnvVar(cfg.Cache.Addr)
		cfg.Cache.Password = ResolveEnvVar(cfg.Cache.Password)
	}

	for name, server := range cfg.MCPServers {
		server.URL = ResolveEnvVar(server.URL)
		server.AccessToken = ResolveEnvVar(server.AccessToken)
		for k, v := range server.Headers {
			server.Headers[k] = ResolveEnvVar(v)
		}
		cfg.MCPServers[name] = server
	}

	for i := range cfg.LocalServers {
		for k, v := range cfg.LocalServers[i].Env {
			cfg.LocalServers[i].Env[k] = ResolveEnvVar(v)
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9099
	}
	if cfg.Gateway.Name == "" {
		cfg.Gateway.Name = "archestra-gateway"
	}
	if cfg.Gateway.Version == "" {
		cfg.Gateway.Version = "v1.0.0"
	}
	if cfg.Gateway.SessionTimeoutMinutes == 0 {
		cfg.Gateway.SessionTimeoutMinutes = 30
	}
	if cfg.Cache != nil && cfg.Cache.Type == "" {
		cfg.Cache.Type = "memory"
	}
}
