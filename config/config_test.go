package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type testDispatch struct {
	Concurrency int           `mapstructure:"concurrency"`
	Mode        string        `mapstructure:"mode"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
}

type testConfig struct {
	ServiceConfig `mapstructure:",squash"`
	Dispatch      testDispatch `mapstructure:"dispatch"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "runflow.yml", `
name: runflow-test
environment: staging
dispatch:
  concurrency: 8
  mode: remote
  step_timeout: 30s
`)

	var cfg testConfig
	if err := LoadConfig("runflow", &cfg, WithConfigFile(path), WithEnvFile(filepath.Join(dir, "missing.env"))); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Name != "runflow-test" || cfg.Environment != "staging" {
		t.Errorf("unexpected service config %+v", cfg.ServiceConfig)
	}
	if cfg.Dispatch.Concurrency != 8 || cfg.Dispatch.Mode != "remote" {
		t.Errorf("unexpected dispatch config %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.StepTimeout != 30*time.Second {
		t.Errorf("expected 30s step timeout, got %s", cfg.Dispatch.StepTimeout)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "runflow.yml", `
name: runflow-test
dispatch:
  concurrency: 2
`)
	t.Setenv("RUNFLOW_DISPATCH_CONCURRENCY", "16")
	t.Setenv("DISPATCH_MODE", "remote")

	var cfg testConfig
	if err := LoadConfig("runflow", &cfg, WithConfigFile(path)); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Dispatch.Concurrency != 16 {
		t.Errorf("expected env override 16, got %d", cfg.Dispatch.Concurrency)
	}
	if cfg.Dispatch.Mode != "" {
		t.Errorf("unprefixed env var must be ignored, got %q", cfg.Dispatch.Mode)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("runflow", &cfg,
		WithFileSystem(emptyFS{}),
		WithDefault("dispatch.concurrency", 4),
		WithDefault("dispatch.mode", "local"),
	)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Dispatch.Concurrency != 4 || cfg.Dispatch.Mode != "local" {
		t.Errorf("defaults not applied: %+v", cfg.Dispatch)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	var cfg testConfig
	if err := LoadConfig("runflow", &cfg, WithConfigFile("/does/not/exist.yml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestServiceConfig_DefaultsAndValidate(t *testing.T) {
	var cfg ServiceConfig
	cfg.ApplyDefaults()
	if cfg.Name != "runflow" || cfg.Environment != "development" || !cfg.Debug {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging in development, got %q", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg.Environment = "qa"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid environment error")
	}
}

func TestGenerateEnvKeyVariants(t *testing.T) {
	got := generateEnvKeyVariants("SERVER_AUTH_JWT_SECRET")
	want := []string{
		"server_auth_jwt_secret",
		"server.auth.jwt.secret",
		"server.auth_jwt_secret",
		"server.auth.jwt_secret",
		"server.auth_jwt.secret",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("variants = %v, want %v", got, want)
	}
	if got := generateEnvKeyVariants("NAME"); !reflect.DeepEqual(got, []string{"name"}) {
		t.Errorf("single part variants = %v", got)
	}
}

type emptyFS struct{}

func (emptyFS) Exists(string) bool        { return false }
func (emptyFS) LoadEnv(string) error      { return nil }
func (emptyFS) HomeDir() (string, error) { return "", nil }
