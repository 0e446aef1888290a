package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, _, err := runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, "", "config", "init", "--path", target)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected existing file error, got %v", err)
	}

	if _, _, err := runCLI(t, "", "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	out, _, err := runCLI(t, "", "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "defaults were used")
	requireContains(t, out, "Configuration valid")
}

func TestConfigValidateRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("paths = ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCommand()
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	cmd.SetArgs([]string{"--config", path, "config", "validate"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[paths]\napi_token = \"s3cret\"\n\n[gateway]\nurl = \"https://gateway.example.test\"\napi_key = \"gw-key\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STRIDE_API_TOKEN", "")
	t.Setenv("STRIDE_GATEWAY_API_KEY", "")

	run := func(args ...string) string {
		t.Helper()
		cmd := newRootCommand()
		var out strings.Builder
		cmd.SetOut(&out)
		cmd.SetErr(&strings.Builder{})
		cmd.SetArgs(append([]string{"--config", path, "config", "show"}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("config show: %v", err)
		}
		return out.String()
	}

	masked := run()
	requireContains(t, masked, "https://gateway.example.test")
	requireContains(t, masked, redacted)
	if strings.Contains(masked, "s3cret") || strings.Contains(masked, "gw-key") {
		t.Fatalf("secrets leaked:\n%s", masked)
	}
	requireContains(t, run("--show-secrets"), "s3cret")
}

func TestConfigValidateReportsDirectories(t *testing.T) {
	out, _, err := runCLI(t, "", "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Data directory:")
	requireContains(t, out, "[OK]")
}
