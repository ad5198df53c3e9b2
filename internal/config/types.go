package config

import "time"

// Config represents the complete crewgate configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Spawner  SpawnerConfig  `yaml:"spawner"`
	Jobs     JobsConfig     `yaml:"jobs"`
	API      APIConfig      `yaml:"api,omitempty"`
	History  HistoryConfig  `yaml:"history"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Lock     LockConfig     `yaml:"lock"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-"`
	// SourceHash is the BLAKE3 digest of SourcePath's contents.
	SourceHash string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// Provider names the agent hosting this server. Its own ask tool is hidden.
	Provider string `yaml:"provider"`
}

// SpawnerConfig bounds every agent process.
type SpawnerConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	MaxStdout      int           `yaml:"max_stdout"`
}

// JobsConfig controls the background job registry.
type JobsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	// MaxWait caps the timeout a caller may request on wait_job.
	MaxWait time.Duration `yaml:"max_wait"`
	// EventBuffer is how many recent job events late stream clients can replay.
	EventBuffer int `yaml:"event_buffer"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// HistoryConfig defines the finished-job journal. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// ExchangeConfig controls where long foreground responses are saved.
type ExchangeConfig struct {
	DirName         string `yaml:"dir_name"`
	InlineThreshold int    `yaml:"inline_threshold"`
	PreviewChars    int    `yaml:"preview_chars"`
}

// LockConfig names the PID lock held by serve. An empty path means no lock.
type LockConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "crewgate",
			LogLevel: "info",
			Provider: "claude",
		},
		Spawner: SpawnerConfig{
			DefaultTimeout: 5 * time.Minute,
			GracePeriod:    3 * time.Second,
			MaxStdout:      10 * 1024 * 1024,
		},
		Jobs: JobsConfig{
			Retention:     time.Hour,
			SweepInterval: 10 * time.Minute,
			WaitTimeout:   5 * time.Minute,
			MaxWait:       30 * time.Minute,
			EventBuffer:   256,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8470",
		},
		Exchange: ExchangeConfig{
			DirName:         ".aidocs/crewgate",
			InlineThreshold: 500,
			PreviewChars:    300,
		},
	}
}
