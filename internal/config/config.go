// Package config provides configuration for the lazarus service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "LAZARUS"

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Logging
	LogLevel  string
	LogFormat string

	Model      ModelConfig
	Sandbox    SandboxConfig
	Repository RepositoryConfig
	Preview    PreviewConfig

	// PolicyFile overrides the embedded artifact policy when set.
	PolicyFile string
}

// ModelConfig configures the generative model endpoint.
type ModelConfig struct {
	BaseURL string
	APIKey  string
	Name    string
	Timeout time.Duration
	Mock    bool
}

// SandboxConfig configures the docker sandbox.
type SandboxConfig struct {
	Enabled    bool
	DockerHost string
	Image      string
	WorkDir    string
	Timeout    time.Duration
	MemoryMB   int64
	// PreviewTTL is how long the provider keeps a preview reachable.
	PreviewTTL time.Duration
	// PythonInstall runs before python entrypoints.
	PythonInstall string
	// NodeInstall runs before node entrypoints.
	NodeInstall string
}

// RepositoryConfig configures the source hosting API.
type RepositoryConfig struct {
	Token        string
	APIBaseURL   string
	Branch       string
	BaseBranch   string
	MaxFiles     int
	MaxFileBytes int
	MaxBytes     int
}

// PreviewConfig configures the optional object store for preview documents.
type PreviewConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether a preview store is configured.
func (p PreviewConfig) Enabled() bool {
	return p.Endpoint != "" && p.Bucket != ""
}

var envPaths = []string{
	".env",
	"../.env",
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("model.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("model.name", "gemini-2.0-flash")
	v.SetDefault("model.timeout", 5*time.Minute)
	v.SetDefault("model.mock", false)

	v.SetDefault("sandbox.enabled", true)
	v.SetDefault("sandbox.image", "nikolaik/python-nodejs:python3.12-nodejs20")
	v.SetDefault("sandbox.workdir", "/home/user")
	v.SetDefault("sandbox.timeout", 3*time.Minute)
	v.SetDefault("sandbox.memory_mb", 1024)
	v.SetDefault("sandbox.preview_ttl", 30*time.Minute)
	v.SetDefault("sandbox.python_install", "pip install fastapi uvicorn flask flask-cors")
	v.SetDefault("sandbox.node_install", "")

	v.SetDefault("repository.api_base_url", "")
	v.SetDefault("repository.branch", "lazarus-resurrection")
	v.SetDefault("repository.base_branch", "main")
	v.SetDefault("repository.max_files", 40)
	v.SetDefault("repository.max_file_bytes", 64*1024)
	v.SetDefault("repository.max_bytes", 512*1024)

	v.SetDefault("preview.use_ssl", true)
	v.SetDefault("preview.region", "us-east-1")
}

// Load loads configuration from defaults, an optional config file, .env and
// environment variables. Flags bound on v take precedence over all of them.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the original deployment scripts.
	_ = v.BindEnv("model.api_key", EnvPrefix+"_MODEL_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("repository.token", EnvPrefix+"_REPOSITORY_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("sandbox.docker_host", EnvPrefix+"_SANDBOX_DOCKER_HOST", "DOCKER_HOST")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		HTTPPort:  v.GetInt("http.port"),
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
		Model: ModelConfig{
			BaseURL: v.GetString("model.base_url"),
			APIKey:  v.GetString("model.api_key"),
			Name:    v.GetString("model.name"),
			Timeout: v.GetDuration("model.timeout"),
			Mock:    v.GetBool("model.mock"),
		},
		Sandbox: SandboxConfig{
			Enabled:       v.GetBool("sandbox.enabled"),
			DockerHost:    v.GetString("sandbox.docker_host"),
			Image:         v.GetString("sandbox.image"),
			WorkDir:       v.GetString("sandbox.workdir"),
			Timeout:       v.GetDuration("sandbox.timeout"),
			MemoryMB:      v.GetInt64("sandbox.memory_mb"),
			PreviewTTL:    v.GetDuration("sandbox.preview_ttl"),
			PythonInstall: v.GetString("sandbox.python_install"),
			NodeInstall:   v.GetString("sandbox.node_install"),
		},
		Repository: RepositoryConfig{
			Token:        v.GetString("repository.token"),
			APIBaseURL:   v.GetString("repository.api_base_url"),
			Branch:       v.GetString("repository.branch"),
			BaseBranch:   v.GetString("repository.base_branch"),
			MaxFiles:     v.GetInt("repository.max_files"),
			MaxFileBytes: v.GetInt("repository.max_file_bytes"),
			MaxBytes:     v.GetInt("repository.max_bytes"),
		},
		Preview: PreviewConfig{
			Endpoint:  v.GetString("preview.endpoint"),
			AccessKey: v.GetString("preview.access_key"),
			SecretKey: v.GetString("preview.secret_key"),
			Bucket:    v.GetString("preview.bucket"),
			Region:    v.GetString("preview.region"),
			UseSSL:    v.GetBool("preview.use_ssl"),
		},
		PolicyFile: v.GetString("policy.file"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports invalid settings.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 {
		errs = append(errs, errors.New("http.port must be positive"))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout must be positive"))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, errors.New("sandbox.timeout must be positive"))
	}
	if c.Sandbox.PreviewTTL <= 0 {
		errs = append(errs, errors.New("sandbox.preview_ttl must be positive"))
	}
	if c.Repository.Branch == "" {
		errs = append(errs, errors.New("repository.branch is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
