package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SPOKE_OUTPUT", "json")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadServiceAndExecutionFromFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := `service:
  endpoint: https://example.test/graphql
  api_key_env: TEST_SPOKE_KEY
execution:
  poll_interval: 500ms
  reconcile_timeout: 45s
  gas_multiplier: 1.5
  prefer_permit: true
rpc:
  1: https://rpc.example.test
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_SPOKE_KEY", "k-123")
	t.Setenv("SPOKE_RPC_8453", "https://base.example.test")

	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ServiceEndpoint != "https://example.test/graphql" || settings.ServiceAPIKey != "k-123" {
		t.Fatalf("unexpected service settings: %+v", settings)
	}
	if settings.PollInterval != 500*time.Millisecond || settings.ReconcileTimeout != 45*time.Second {
		t.Fatalf("unexpected execution durations: %s %s", settings.PollInterval, settings.ReconcileTimeout)
	}
	if settings.GasMultiplier != 1.5 || !settings.PreferPermit {
		t.Fatalf("unexpected execution settings: %+v", settings)
	}
	if settings.RPCURLs[1] != "https://rpc.example.test" || settings.RPCURLs[8453] != "https://base.example.test" {
		t.Fatalf("unexpected rpc map: %+v", settings.RPCURLs)
	}
	if settings.Retries != 2 {
		t.Fatalf("expected default retries, got %d", settings.Retries)
	}
}

func TestLoadFlagsOverrideLogging(t *testing.T) {
	t.Setenv("SPOKE_LOG_LEVEL", "info")
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), LogLevel: "debug", Retries: -1, Endpoint: "http://localhost:4000"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.LogLevel != "debug" {
		t.Fatalf("expected flag log level, got %s", settings.LogLevel)
	}
	if settings.ServiceEndpoint != "http://localhost:4000" {
		t.Fatalf("expected endpoint flag, got %s", settings.ServiceEndpoint)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("execution:\n  step_timeout: soon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(GlobalFlags{ConfigPath: configPath}); err == nil {
		t.Fatal("expected invalid duration to fail")
	}
}
