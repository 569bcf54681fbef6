package config

// Config represents the top-level gateway_config.yaml structure.
type Config struct {
	Server  ServerSettings  `yaml:"server"`
	Gateway GatewaySettings `yaml:"gateway"`

	Database DatabaseSettings `yaml:"database,omitempty"`
	Cache    *CacheSettings   `yaml:"cache,omitempty"`
	Trust    TrustSettings    `yaml:"trust,omitempty"`

	// Upstream MCP server connection configs, keyed by server name. Used
	// when the gateway runs without a database.
	MCPServers map[string]MCPServerSettings `yaml:"mcp_servers,omitempty"`

	// Local stdio MCP servers managed by the process supervisor.
	LocalServers []LocalServerSettings `yaml:"local_servers,omitempty"`

	EnvironmentVariables map[string]string `yaml:"environment_variables,omitempty"`

	// Overflow captures any unknown top-level YAML fields so older or
	// newer config files still load; unknown fields only warn.
	Overflow map[string]any `yaml:",inline"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// GatewaySettings configures the gateway surface itself.
type GatewaySettings struct {
	Name    string `yaml:"name,omitempty"`
	Version string `yaml:"version,omitempty"`

	// JWTSecret verifies agent bearer tokens. Raw UUID tokens are always
	// accepted; JWTs only when a secret is configured.
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	SessionTimeoutMinutes int `yaml:"session_timeout_minutes,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// DatabaseSettings configures the Postgres-backed store. An empty URL
// selects the in-memory store seeded from mcp_servers.
type DatabaseSettings struct {
	URL string `yaml:"url,omitempty"`
}

// CacheSettings configures the trust-report cache.
type CacheSettings struct {
	// Type is "memory" or "redis".
	Type     string `yaml:"type,omitempty"`
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`

	TTLSeconds int `yaml:"ttl_seconds,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// TrustSettings configures the trusted-data evaluator.
type TrustSettings struct {
	// Trusted pins the static evaluator's answer. Defaults to false:
	// conversations are untrusted until something says otherwise.
	Trusted bool `yaml:"trusted,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// MCPServerSettings is one upstream server connection config.
type MCPServerSettings struct {
	CatalogID   string            `yaml:"catalog_id"`
	SecretID    string            `yaml:"secret_id,omitempty"`
	Kind        string            `yaml:"kind"`
	URL         string            `yaml:"url,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	AccessToken string            `yaml:"access_token,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}

// LocalServerSettings is one supervised local stdio MCP server.
type LocalServerSettings struct {
	ID         string            `yaml:"id"`
	ScriptPath string            `yaml:"script_path"`
	Port       int               `yaml:"port"`
	StatusPort int               `yaml:"status_port,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`

	Overflow map[string]any `yaml:",inline"`
}
