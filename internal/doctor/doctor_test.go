package doctor

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/crewgate/internal/config"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Service.Provider = "claude"
	return cfg
}

// installed returns a LookPathFunc that finds only the named binaries.
func installed(names ...string) LookPathFunc {
	return func(file string) (string, error) {
		for _, n := range names {
			if n == file {
				return "/usr/local/bin/" + n, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(), installed("gemini", "codex")).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
	if len(r.Agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(r.Agents))
	}
}

func TestValidate_ProviderNotRequired(t *testing.T) {
	t.Parallel()
	r := New(validConfig(), installed("gemini")).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "agents", "codex")
	for _, w := range r.Warnings {
		if w.Field == "claude" {
			t.Fatalf("provider CLI should not be reported: %v", w)
		}
	}
}

func TestValidate_NoPeers(t *testing.T) {
	t.Parallel()
	r := New(validConfig(), installed("claude")).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "agents", "no agent CLI")
}

func TestValidate_APIWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	r := New(cfg, installed("gemini", "codex")).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "api", "api.auth")
}

func TestValidate_APIPublicListen(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:8470"
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "t", Scopes: []string{"jobs:ro"}}}
	r := New(cfg, installed("gemini", "codex")).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "api", "api.listen")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"jobs:ro", "plugins:rw"}},
		{Token: "b", Scopes: []string{"*"}},
	}
	r := New(cfg, installed("gemini")).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "token_scopes", "plugins:rw")
	assertHasWarning(t, r, "token_scopes", "tokens[1]")
}

func TestValidate_Timeouts(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Spawner.DefaultTimeout = 2 * time.Second
	cfg.Spawner.GracePeriod = 3 * time.Second
	cfg.Jobs.Retention = time.Minute
	cfg.Jobs.SweepInterval = time.Hour
	r := New(cfg, installed("codex")).Validate()
	assertHasWarning(t, r, "spawner", "grace_period")
	assertHasWarning(t, r, "jobs", "sweep_interval")
}

func TestValidate_MissingEnvVar(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "${CREWGATE_DOCTOR_TEST_UNSET}"
	r := New(cfg, installed("codex")).Validate()
	assertHasWarning(t, r, "env_vars", "CREWGATE_DOCTOR_TEST_UNSET")
	assertHasWarning(t, r, "deprecated", "api_key")
}

func TestValidate_HistoryPath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.History.Path = t.TempDir() + "/history.db"
	r := New(cfg, installed("codex")).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	r := New(validConfig(), func(string) (string, error) { return "", errors.New("nope") }).Validate()
	out := FormatHuman(r)
	for _, want := range []string{
		"agent claude  provider (ask tool hidden)",
		"agent gemini  not found",
		"Configuration invalid (1 error(s), 2 warning(s))",
		"ERROR [agents] no agent CLI",
		"WARN  [agents] codex: Codex CLI is not installed.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatHuman missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(New(validConfig(), installed("gemini", "codex")).Validate())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"valid": true`) || !strings.Contains(out, `"path": "/usr/local/bin/gemini"`) {
		t.Fatalf("unexpected JSON: %s", out)
	}
}

func assertHasError(t *testing.T, r *Result, category, substr string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && (strings.Contains(e.Message, substr) || strings.Contains(e.Field, substr)) {
			return
		}
	}
	t.Errorf("expected error in category %q containing %q, got: %v", category, substr, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substr string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && (strings.Contains(w.Message, substr) || strings.Contains(w.Field, substr)) {
			return
		}
	}
	t.Errorf("expected warning in category %q containing %q, got: %v", category, substr, r.Warnings)
}
