package extension

// Config holds configuration for the job queue Forge extension.
//
// Configuration can be provided programmatically via ExtOption functions
// or via YAML configuration files under "extensions.jobqueue" or
// "jobqueue" keys.
type Config struct {
	// Backend selects the persistence backend: "memory", "redis", or
	// "postgres". Ignored when a store is supplied with WithStore.
	Backend string `default:"memory" json:"backend"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `json:"postgres_dsn"`

	// RedisAddr is the host:port for the redis backend.
	RedisAddr string `json:"redis_addr"`

	// RedisPassword is the optional password for the redis backend.
	RedisPassword string `json:"redis_password"`

	// RedisDB is the redis database index.
	RedisDB int `json:"redis_db"`

	// DisableMigrate disables auto-migration on start.
	DisableMigrate bool `default:"false" json:"disable_migrate"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `default:"false" json:"require_config"`

	// Concurrency overrides the worker pool size. Zero keeps the default.
	Concurrency int `json:"concurrency"`
}

// DefaultConfig returns the extension configuration defaults.
func DefaultConfig() Config {
	return Config{
		Backend: "memory",
	}
}
