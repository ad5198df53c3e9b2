package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/crewgate/internal/auth"
)

// Environment overrides, applied after the file.
const (
	EnvTimeout   = "CREWGATE_TIMEOUT"    // foreground timeout in milliseconds
	EnvMaxStdout = "CREWGATE_MAX_STDOUT" // stdout cap in bytes
	EnvProvider  = "CREWGATE_PROVIDER"
	EnvLogLevel  = "CREWGATE_LOG_LEVEL"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var validProviders = map[string]bool{"claude": true, "gemini": true, "codex": true}

// Load reads configPath, or the first discovered config file when configPath
// is empty. With no file at all the defaults are used. Environment
// overrides are applied last.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = Discover()
	}

	cfg := Defaults()
	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
		if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", absPath, err)
		}
		cfg.SourcePath = absPath
		cfg.SourceHash = hashBytes(data)
	}

	ApplyEnv(cfg, os.LookupEnv)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies the CREWGATE_* overrides. Unparsable or non-positive
// numeric values are ignored and the configured value stands.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTimeout); ok {
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && ms > 0 {
			cfg.Spawner.DefaultTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := lookup(EnvMaxStdout); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Spawner.MaxStdout = n
		}
	}
	if v, ok := lookup(EnvProvider); ok && strings.TrimSpace(v) != "" {
		cfg.Service.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		cfg.Service.LogLevel = strings.TrimSpace(v)
	}
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left
// in place so validation can reject them where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	var errs []error

	if !validProviders[cfg.Service.Provider] {
		errs = append(errs, fmt.Errorf("service.provider %q must be one of claude, gemini, codex", cfg.Service.Provider))
	}
	if cfg.Spawner.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("spawner.default_timeout must be positive"))
	}
	if cfg.Spawner.GracePeriod <= 0 {
		errs = append(errs, errors.New("spawner.grace_period must be positive"))
	}
	if cfg.Spawner.MaxStdout <= 0 {
		errs = append(errs, errors.New("spawner.max_stdout must be positive"))
	}
	if cfg.Jobs.Retention <= 0 {
		errs = append(errs, errors.New("jobs.retention must be positive"))
	}
	if cfg.Jobs.SweepInterval <= 0 {
		errs = append(errs, errors.New("jobs.sweep_interval must be positive"))
	}
	if cfg.Jobs.WaitTimeout <= 0 {
		errs = append(errs, errors.New("jobs.wait_timeout must be positive"))
	}
	if cfg.Jobs.MaxWait <= 0 {
		errs = append(errs, errors.New("jobs.max_wait must be positive"))
	} else if cfg.Jobs.WaitTimeout > cfg.Jobs.MaxWait {
		errs = append(errs, errors.New("jobs.wait_timeout must not exceed jobs.max_wait"))
	}
	if cfg.Exchange.InlineThreshold <= 0 {
		errs = append(errs, errors.New("exchange.inline_threshold must be positive"))
	}
	if cfg.Exchange.DirName == "" || filepath.IsAbs(cfg.Exchange.DirName) {
		errs = append(errs, errors.New("exchange.dir_name must be a relative path"))
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			errs = append(errs, errors.New("api.listen is required when the API is enabled"))
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			errs = append(errs, errors.New("api.auth needs an api_key or at least one token"))
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			errs = append(errs, fmt.Errorf("api.auth.api_key references an unset variable: %s", cfg.API.Auth.APIKey))
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" || envVarPattern.MatchString(tok.Token) {
				errs = append(errs, fmt.Errorf("api.auth.tokens[%d]: token is empty or references an unset variable", i))
			}
			if len(tok.Scopes) == 0 {
				errs = append(errs, fmt.Errorf("api.auth.tokens[%d]: at least one scope is required", i))
			}
			for _, s := range tok.Scopes {
				if !auth.ValidScope(strings.TrimSpace(s)) {
					errs = append(errs, fmt.Errorf("api.auth.tokens[%d]: unknown scope %q", i, s))
				}
			}
		}
	}

	return errors.Join(errs...)
}

// TokenConfigs converts the configured API tokens for the auth package.
func (c *Config) TokenConfigs() []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(c.API.Auth.Tokens))
	for _, t := range c.API.Auth.Tokens {
		out = append(out, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}
