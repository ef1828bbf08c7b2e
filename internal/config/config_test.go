package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/garnizeh/timesheets/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Addr:          ":8080",
		Env:           "production",
		JWTSecret:     "strongsecret",
		APITimeout:    5 * time.Second,
		DatabasePath:  "timesheets.db",
		TokenDuration: time.Hour,
		PublicBaseURL: "https://timesheets.example.com",
		Approval:      config.ApprovalConfig{TokenTTL: 24 * time.Hour},
		Storage:       config.StorageConfig{Root: "objects"},
	}
}

func TestValidate_InsecureJWT_FailsWhenNotDevelopment(t *testing.T) {
	cfg := validConfig()
	cfg.JWTSecret = "supersecretkey"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to fail for insecure JWT in production env")
	}
}

func TestValidate_InsecureJWT_AllowsDevelopment(t *testing.T) {
	cfg := validConfig()
	cfg.JWTSecret = "supersecretkey"
	cfg.Env = "development"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected Validate to succeed in development env, got: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"EmptyAddr", func(c *config.Config) { c.Addr = "" }},
		{"ZeroTimeout", func(c *config.Config) { c.APITimeout = 0 }},
		{"ZeroTokenDuration", func(c *config.Config) { c.TokenDuration = 0 }},
		{"ZeroApprovalTTL", func(c *config.Config) { c.Approval.TokenTTL = 0 }},
		{"RelativeBaseURL", func(c *config.Config) { c.PublicBaseURL = "/approve" }},
		{"EmptyStorageRoot", func(c *config.Config) { c.Storage.Root = "" }},
		{"EmptyDatabase", func(c *config.Config) { c.DatabasePath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected Validate to fail")
			}
		})
	}
}

func TestValidate_DefaultsPopulated(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed unexpectedly: %v", err)
	}

	if cfg.Storage.UploadURLTTL != 15*time.Minute {
		t.Fatalf("expected upload url ttl default of 15m, got %v", cfg.Storage.UploadURLTTL)
	}
	if cfg.Storage.MaxObjectMB != 10 {
		t.Fatalf("expected max object default of 10MB, got %d", cfg.Storage.MaxObjectMB)
	}
	if cfg.Jobs.Workers != 2 {
		t.Fatalf("expected 2 job workers by default, got %d", cfg.Jobs.Workers)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"TS_ADDR", "TS_JWT_SECRET", "TS_DATABASE_PATH", "TS_ENV", "TS_JOB_WORKERS"} {
		t.Setenv(k, "")
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error for empty path: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected Addr: got %q want %q", cfg.Addr, ":8080")
	}
	if cfg.DatabasePath != "timesheets.db" {
		t.Fatalf("unexpected DatabasePath: got %q", cfg.DatabasePath)
	}
	if cfg.APITimeout != 15*time.Second {
		t.Fatalf("unexpected APITimeout: got %v", cfg.APITimeout)
	}
	if cfg.Approval.TokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected approval TokenTTL: got %v", cfg.Approval.TokenTTL)
	}
	if cfg.Storage.UploadURLTTL != 15*time.Minute {
		t.Fatalf("unexpected UploadURLTTL: got %v", cfg.Storage.UploadURLTTL)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development env by default")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TS_ADDR", ":7070")
	t.Setenv("TS_JOB_WORKERS", "5")
	t.Setenv("TS_SMTP_HOST", "smtp.example.com:465")

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("unexpected Addr: %q", cfg.Addr)
	}
	if cfg.Jobs.Workers != 5 {
		t.Fatalf("unexpected workers: %d", cfg.Jobs.Workers)
	}
	if cfg.SMTP.Host != "smtp.example.com:465" {
		t.Fatalf("unexpected smtp host: %q", cfg.SMTP.Host)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	f, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(f.Name())
	f.Close()

	content := []byte("addr: \":9090\"\njwt_secret: \"filekey\"\ntimeout: \"30s\"\ndatabase_path: \"test.db\"\napproval:\n  token_ttl: \"48h\"\nsmtp:\n  host: \"mail.example.com:465\"\n")
	if err := os.WriteFile(f.Name(), content, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := config.LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("LoadConfig returned error for file: %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Fatalf("unexpected Addr: got %q want %q", cfg.Addr, ":9090")
	}
	if cfg.JWTSecret != "filekey" {
		t.Fatalf("unexpected JWTSecret: got %q want %q", cfg.JWTSecret, "filekey")
	}
	if cfg.APITimeout != 30*time.Second {
		t.Fatalf("unexpected APITimeout: got %v want %v", cfg.APITimeout, 30*time.Second)
	}
	if cfg.Approval.TokenTTL != 48*time.Hour {
		t.Fatalf("unexpected TokenTTL: got %v", cfg.Approval.TokenTTL)
	}
	if cfg.SMTP.Host != "mail.example.com:465" {
		t.Fatalf("unexpected smtp host: %q", cfg.SMTP.Host)
	}
	// untouched values keep their defaults
	if cfg.Storage.UploadURLTTL != 15*time.Minute {
		t.Fatalf("expected default upload ttl, got %v", cfg.Storage.UploadURLTTL)
	}
}

func TestLoadConfig_BadPath(t *testing.T) {
	if _, err := config.LoadConfig("/path/that/does/not/exist.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent path, got nil")
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	f, err := os.CreateTemp("", "bad-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(f.Name())
	f.Close()

	if err := os.WriteFile(f.Name(), []byte("::: not yaml :::"), 0o600); err != nil {
		t.Fatalf("failed to write bad yaml: %v", err)
	}

	if _, err := config.LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected YAML decode error, got nil")
	}
}
