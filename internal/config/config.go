package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// DefaultBoard is the build target used when none is configured.
const DefaultBoard = "x86_64"

type Config struct {
	Board      string        `yaml:"board"`
	Clean      bool          `yaml:"clean,omitempty"`
	Bucket     string        `yaml:"bucket,omitempty"`
	Suffix     string        `yaml:"suffix,omitempty"`
	SkipBuild  bool          `yaml:"skip_build,omitempty"`
	SkipUpload bool          `yaml:"skip_upload,omitempty"`
	Engine     EngineConfig  `yaml:"engine,omitempty"`
	Upload     UploadConfig  `yaml:"upload,omitempty"`
	Storage    StorageConfig `yaml:"storage,omitempty"`
	History    HistoryConfig `yaml:"history,omitempty"`
}

type EngineConfig struct {
	// Tool is the build engine front-end, invoked as "<tool> <board>-build".
	Tool        string `yaml:"tool,omitempty"`
	Dir         string `yaml:"dir,omitempty"`
	OutputDir   string `yaml:"output_dir,omitempty"`
	CheckDocker bool   `yaml:"check_docker,omitempty"`
	// DockerImage is the toolchain image the preflight looks up locally.
	DockerImage string `yaml:"docker_image,omitempty"`
	// Env holds extra KEY=VALUE entries for the engine's environment.
	Env []string `yaml:"env,omitempty"`
}

type UploadConfig struct {
	Workers        int           `yaml:"workers,omitempty"`
	MaxAttempts    int           `yaml:"max_attempts,omitempty"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	GracePeriod    time.Duration `yaml:"grace_period,omitempty"`
	Verify         bool          `yaml:"verify,omitempty"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3,omitempty"`
	Azure AzureConfig `yaml:"azure,omitempty"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Insecure  bool   `yaml:"insecure,omitempty"`
}

type AzureConfig struct {
	// AccountURL is the blob service endpoint, e.g. https://acct.blob.core.windows.net
	AccountURL string `yaml:"account_url,omitempty"`
}

type HistoryConfig struct {
	Disabled bool   `yaml:"disabled,omitempty"`
	Path     string `yaml:"path,omitempty"`
}

// Default returns a Config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a YAML config file and applies defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadOptional behaves like Load but returns defaults when the file does not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Board == "" {
		c.Board = DefaultBoard
	}
	if c.Engine.Tool == "" {
		c.Engine.Tool = "make"
	}
	if c.Engine.Dir == "" {
		c.Engine.Dir = "."
	}
	if c.Engine.OutputDir == "" {
		c.Engine.OutputDir = "output"
	}
	if c.Upload.Workers <= 0 {
		c.Upload.Workers = 4
	}
	if c.Upload.MaxAttempts <= 0 {
		c.Upload.MaxAttempts = 5
	}
	if c.Upload.InitialBackoff <= 0 {
		c.Upload.InitialBackoff = time.Second
	}
	if c.Upload.MaxBackoff <= 0 {
		c.Upload.MaxBackoff = 30 * time.Second
	}
	if c.Upload.GracePeriod <= 0 {
		c.Upload.GracePeriod = 10 * time.Second
	}
	if c.History.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.History.Path = filepath.Join(home, ".boardforge", "history.db")
		} else {
			c.History.Path = filepath.Join(".boardforge", "history.db")
		}
	}
}

// OutputPath resolves the engine output directory against the engine directory.
func (c *Config) OutputPath() string {
	if filepath.IsAbs(c.Engine.OutputDir) {
		return c.Engine.OutputDir
	}
	return filepath.Join(c.Engine.Dir, c.Engine.OutputDir)
}

// BuildLogPath is output/<board>/build/build.log.
func (c *Config) BuildLogPath() string {
	return filepath.Join(c.OutputPath(), c.Board, "build", "build.log")
}

// Validate reports configuration combinations that cannot run.
func (c *Config) Validate() error {
	if strings.ContainsAny(c.Board, " \t/") {
		return fmt.Errorf("invalid board %q", c.Board)
	}
	if !c.SkipUpload && strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket path is required unless uploads are skipped")
	}
	for _, kv := range c.Engine.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("invalid engine.env entry %q, want KEY=VALUE", kv)
		}
	}
	if strings.ContainsAny(c.Suffix, "/ \t") {
		return fmt.Errorf("invalid suffix %q", c.Suffix)
	}
	if c.Upload.MaxBackoff < c.Upload.InitialBackoff {
		return fmt.Errorf("upload.max_backoff (%s) is shorter than upload.initial_backoff (%s)", c.Upload.MaxBackoff, c.Upload.InitialBackoff)
	}
	return nil
}
