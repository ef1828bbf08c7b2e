package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const insecureJWTSecret = "supersecretkey"

type Config struct {
	Addr          string         `yaml:"addr"`
	Env           string         `yaml:"env"`
	LogLevel      string         `yaml:"log_level"`
	JWTSecret     string         `yaml:"jwt_secret"`
	APITimeout    time.Duration  `yaml:"timeout"`
	DatabasePath  string         `yaml:"database_path"`
	TokenDuration time.Duration  `yaml:"token_duration"`
	PublicBaseURL string         `yaml:"public_base_url"`
	Approval      ApprovalConfig `yaml:"approval"`
	SMTP          SMTPConfig     `yaml:"smtp"`
	Storage       StorageConfig  `yaml:"storage"`
	Jobs          JobsConfig     `yaml:"jobs"`
}

type ApprovalConfig struct {
	// TokenTTL is how long a batch approval link stays usable.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// SMTPConfig holds the outbound mail settings. Mail is disabled when host,
// user or password is empty.
type SMTPConfig struct {
	Host       string `yaml:"host"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	From       string `yaml:"from"`
	CertPath   string `yaml:"cert_path"`
	SkipVerify bool   `yaml:"skip_verify"`
}

type StorageConfig struct {
	Root         string        `yaml:"root"`
	UploadURLTTL time.Duration `yaml:"upload_url_ttl"`
	MaxObjectMB  int           `yaml:"max_object_mb"`
}

type JobsConfig struct {
	Workers int `yaml:"workers"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Addr:          getEnv("TS_ADDR", ":8080"),
		Env:           getEnv("TS_ENV", "development"),
		LogLevel:      getEnv("TS_LOG_LEVEL", "info"),
		JWTSecret:     getEnv("TS_JWT_SECRET", insecureJWTSecret),
		APITimeout:    15 * time.Second,
		DatabasePath:  getEnv("TS_DATABASE_PATH", "timesheets.db"),
		TokenDuration: 12 * time.Hour,
		PublicBaseURL: getEnv("TS_PUBLIC_BASE_URL", "http://localhost:8080"),
		Approval: ApprovalConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("TS_SMTP_HOST"),
			User:     os.Getenv("TS_SMTP_USER"),
			Password: os.Getenv("TS_SMTP_PASSWORD"),
			From:     getEnv("TS_SMTP_FROM", "Timesheets <noreply@example.com>"),
		},
		Storage: StorageConfig{
			Root:         getEnv("TS_STORAGE_ROOT", "objects"),
			UploadURLTTL: 15 * time.Minute,
			MaxObjectMB:  10,
		},
		Jobs: JobsConfig{
			Workers: getEnvInt("TS_JOB_WORKERS", 2),
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev" || c.Env == "test"
}

// Validate checks the loaded configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if c.JWTSecret == insecureJWTSecret && !c.IsDevelopment() {
		return fmt.Errorf("jwt_secret must be changed outside development (env=%q)", c.Env)
	}
	if c.APITimeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.TokenDuration <= 0 {
		return errors.New("token_duration must be positive")
	}
	if c.DatabasePath == "" {
		return errors.New("database_path is required")
	}
	if c.Approval.TokenTTL <= 0 {
		return errors.New("approval.token_ttl must be positive")
	}
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("public_base_url %q is not an absolute url", c.PublicBaseURL)
	}
	if c.Storage.Root == "" {
		return errors.New("storage.root is required")
	}
	if c.Storage.UploadURLTTL <= 0 {
		c.Storage.UploadURLTTL = 15 * time.Minute
	}
	if c.Storage.MaxObjectMB <= 0 {
		c.Storage.MaxObjectMB = 10
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 2
	}

	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return def
}
