package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "steps"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, dir, "automax.yaml", `
steps_dir: steps
values:
  app: payments
  replicas: 3
ssh:
  user: deploy
  key_file: keys/id_ed25519
telemetry:
  logging:
    level: debug
    format: json
    output: stderr
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.StepsDir != filepath.Join(dir, "steps") {
		t.Errorf("steps_dir not resolved: %q", cfg.StepsDir)
	}
	if cfg.Values["app"] != "payments" {
		t.Errorf("values tree lost: %v", cfg.Values)
	}
	if cfg.SSH.User != "deploy" || cfg.SSH.Port != 22 {
		t.Errorf("ssh defaults wrong: %+v", cfg.SSH)
	}
	if cfg.SSH.KeyFile != filepath.Join(dir, "keys/id_ed25519") {
		t.Errorf("key_file not resolved: %q", cfg.SSH.KeyFile)
	}
	if cfg.SSH.ConnectTimeout != 10*time.Second {
		t.Errorf("connect timeout default wrong: %v", cfg.SSH.ConnectTimeout)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("telemetry override lost: %+v", cfg.Telemetry.Logging)
	}
	if cfg.Telemetry.ServiceName == "" {
		t.Error("telemetry defaults not applied")
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		t.Errorf("merged telemetry config should validate: %v", err)
	}
}

func TestLoadRequiresStepsDir(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "automax.yaml", "values:\n  a: 1\n")

	if _, err := Load(path); err == nil {
		t.Error("expected missing steps_dir to fail validation")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "AUTOMAX_TEST_TOKEN=sekrit\n")
	path := writeFile(t, dir, "automax.yaml", "steps_dir: .\nenv_file: .env\n")

	t.Setenv("AUTOMAX_TEST_TOKEN", "")
	os.Unsetenv("AUTOMAX_TEST_TOKEN")

	if _, err := Load(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := os.Getenv("AUTOMAX_TEST_TOKEN"); got != "sekrit" {
		t.Errorf("env file not loaded, got %q", got)
	}
	if _, ok := EnvSnapshot()["AUTOMAX_TEST_TOKEN"]; !ok {
		t.Error("snapshot should include the loaded variable")
	}
}

func TestLoadMissingEnvFileFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "automax.yaml", "steps_dir: .\nenv_file: nope.env\n")

	if _, err := Load(path); err == nil {
		t.Error("expected missing env file to fail")
	}
}

func TestEnvSnapshot(t *testing.T) {
	t.Setenv("AUTOMAX_SNAPSHOT_PROBE", "value")

	snap := EnvSnapshot()
	if snap["AUTOMAX_SNAPSHOT_PROBE"] != "value" {
		t.Error("snapshot missing set variable")
	}

	// Mutating the snapshot must not touch the process environment.
	snap["AUTOMAX_SNAPSHOT_PROBE"] = "changed"
	if os.Getenv("AUTOMAX_SNAPSHOT_PROBE") != "value" {
		t.Error("snapshot mutation leaked into the environment")
	}
}
