// Package doctor checks a crewgate configuration against the machine it
// will run on: which agent CLIs are installed, whether the journal can live
// where it is configured, and settings that load but are likely mistakes.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/mattjoyce/crewgate/internal/agent"
	"github.com/mattjoyce/crewgate/internal/auth"
	"github.com/mattjoyce/crewgate/internal/config"
	"github.com/mattjoyce/crewgate/internal/history"
	"github.com/mattjoyce/crewgate/internal/spawner"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Agents   []Agent `json:"agents"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Agent is the install state of one agent CLI.
type Agent struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Provider bool   `json:"provider,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// LookPathFunc finds an executable, like exec.LookPath.
type LookPathFunc func(file string) (string, error)

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath LookPathFunc
}

// New creates a Doctor. lookPath resolves agent binaries.
func New(cfg *config.Config, lookPath LookPathFunc) *Doctor {
	return &Doctor{cfg: cfg, lookPath: lookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateAgents(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateHistory(r)
	d.warnTimeouts(r)
	d.warnMissingEnvVars(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateAgents looks up every agent CLI. The provider's own CLI is not
// required since its ask tool is hidden; at least one peer must exist.
func (d *Doctor) validateAgents(r *Result) {
	peers := 0
	for _, n := range agent.All {
		provider := string(n) == d.cfg.Service.Provider
		bin, _ := spawner.ResolveCommand(string(n))
		path, err := d.lookPath(bin)
		if err != nil {
			path = ""
		}
		r.Agents = append(r.Agents, Agent{Name: string(n), Path: path, Provider: provider})
		if provider {
			continue
		}
		if err != nil {
			d.addWarning(r, "agents", string(n), n.InstallHint())
			continue
		}
		peers++
	}
	if peers == 0 {
		d.addError(r, "agents", "", "no agent CLI other than the provider is installed; every ask tool will fail")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
		return
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addError(r, "api", "api.auth", "API enabled but no authentication configured")
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("%q is reachable from other hosts; agents run with the server's privileges", d.cfg.API.Listen))
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			scope = strings.TrimSpace(scope)
			switch {
			case !auth.ValidScope(scope):
				d.addError(r, "token_scopes", field,
					fmt.Sprintf("unknown scope %q (expected one of %s)", scope, strings.Join(auth.KnownScopes, ", ")))
			case scope == auth.ScopeAll:
				d.addWarning(r, "token_scopes", field, "token grants full access; prefer jobs:ro, jobs:rw, agents:rw or events:ro")
			}
		}
	}
}

func (d *Doctor) validateHistory(r *Result) {
	if d.cfg.History.Path == "" {
		return
	}
	if err := history.CheckPath(d.cfg.History.Path); err != nil {
		d.addError(r, "history", "history.path", err.Error())
	}
}

func (d *Doctor) warnTimeouts(r *Result) {
	sp, jc := d.cfg.Spawner, d.cfg.Jobs
	if sp.GracePeriod >= sp.DefaultTimeout {
		d.addWarning(r, "spawner", "spawner.grace_period",
			fmt.Sprintf("grace period %s is not shorter than the default timeout %s", sp.GracePeriod, sp.DefaultTimeout))
	}
	if jc.SweepInterval > jc.Retention {
		d.addWarning(r, "jobs", "jobs.sweep_interval",
			fmt.Sprintf("finished jobs may outlive their %s retention by up to %s", jc.Retention, jc.SweepInterval))
	}
}

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
	check("api.auth.api_key", d.cfg.API.Auth.APIKey)
	for i, token := range d.cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d].token", i)
		if token.Token == "" {
			d.addWarning(r, "env_vars", field, "token value is empty (possibly unresolved environment variable)")
			continue
		}
		check(field, token.Token)
	}
}

// warnDeprecatedSyntax warns about legacy auth patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	for _, a := range r.Agents {
		switch {
		case a.Provider:
			fmt.Fprintf(&b, "  agent %-7s provider (ask tool hidden)\n", a.Name)
		case a.Path == "":
			fmt.Fprintf(&b, "  agent %-7s not found\n", a.Name)
		default:
			fmt.Fprintf(&b, "  agent %-7s %s\n", a.Name, a.Path)
		}
	}

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
