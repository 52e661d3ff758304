package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `backend: keyring
secrets_service: com.example.secrets
metadata_service: com.example.metadata
keyring_backends: [secret-service, file]
keyring_dir: /tmp/easykey-keyring
audit_log: /tmp/easykey-audit.log
default_reason: access easykey
api_socket: /tmp/easykey.sock
api_rate_limit: 0.5
api_burst: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend != "keyring" {
		t.Errorf("Backend = %q, want %q", cfg.Backend, "keyring")
	}
	if cfg.SecretsService != "com.example.secrets" {
		t.Errorf("SecretsService = %q, want %q", cfg.SecretsService, "com.example.secrets")
	}
	if len(cfg.KeyringBackends) != 2 || cfg.KeyringBackends[1] != "file" {
		t.Errorf("KeyringBackends = %v", cfg.KeyringBackends)
	}
	if cfg.DefaultReason != "access easykey" {
		t.Errorf("DefaultReason = %q, want %q", cfg.DefaultReason, "access easykey")
	}
	if cfg.APIRateLimit != 0.5 {
		t.Errorf("APIRateLimit = %v, want 0.5", cfg.APIRateLimit)
	}
	if cfg.APIBurst != 2 {
		t.Errorf("APIBurst = %d, want 2", cfg.APIBurst)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	want := Default()
	if cfg.Backend != want.Backend || cfg.SecretsService != want.SecretsService || cfg.MetadataService != want.MetadataService {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend != "auto" {
		t.Errorf("Backend = %q, want auto", cfg.Backend)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "backend: memory\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend != "memory" {
		t.Errorf("Backend = %q, want memory", cfg.Backend)
	}
	if cfg.SecretsService != "com.easykey.secrets" {
		t.Errorf("SecretsService = %q, want default", cfg.SecretsService)
	}
	if cfg.APIBurst != 3 {
		t.Errorf("APIBurst = %d, want 3", cfg.APIBurst)
	}
}

func TestLoadCommentsOnly(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "# backend: keyring\n# api_burst: 9\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend != "auto" {
		t.Errorf("Backend = %q, want auto", cfg.Backend)
	}
	if cfg.APIBurst != 3 {
		t.Errorf("APIBurst = %d, want 3", cfg.APIBurst)
	}
}

func TestLoadDisablesAuditLog(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "audit_log: \"\"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AuditLog != "" {
		t.Errorf("AuditLog = %q, want empty", cfg.AuditLog)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"backend":    "backend: floppy\n",
		"rate":       "api_rate_limit: 0\n",
		"burst":      "api_burst: 0\n",
		"namespaces": "secrets_service: same\nmetadata_service: same\n",
		"syntax":     "backend: [\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDefaultPathUnderHome(t *testing.T) {
	t.Parallel()
	p := DefaultPath()
	if p != "" && !strings.HasSuffix(p, filepath.Join(".easykey", "config.yaml")) {
		t.Errorf("DefaultPath = %q", p)
	}
}
