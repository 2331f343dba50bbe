// Package config loads the settings of the guard and runner tiers.
//
// Environment variables are authoritative. An optional YAML (or JSON5) file
// may seed the same settings; its values pass through os.ExpandEnv, and any
// variable that is set overrides what the file says.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the main configuration structure for toolrunner.
type Config struct {
	Guard   GuardConfig   `yaml:"guard"`
	Runner  RunnerConfig  `yaml:"runner"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// GuardConfig configures the edge authorizer.
type GuardConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	Token         string `yaml:"token"`
	AllowlistPath string `yaml:"allowlist_path"`
	RunnerURL     string `yaml:"runner_url"`
	RunnerToken   string `yaml:"runner_token"`
	// RunnerTimeout bounds one forwarded call, response included.
	RunnerTimeout time.Duration `yaml:"runner_timeout"`
}

// RunnerConfig configures the orchestrator.
type RunnerConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	Token          string `yaml:"token"`
	JobImage       string `yaml:"job_image"`
	NetworkName    string `yaml:"network_name"`
	WorkspacesRoot string `yaml:"workspaces_root"`
	JobBinary      string `yaml:"job_binary"`
	DockerBinary   string `yaml:"docker_binary"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Defaults.
const (
	DefaultGuardListenAddr  = ":8080"
	DefaultRunnerListenAddr = ":8081"
	DefaultRunnerTimeout    = 30 * time.Second
	DefaultJobBinary        = "/usr/local/bin/toolrunner"
	DefaultDockerBinary     = "docker"
)

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads the optional config file at path, overlays the process
// environment and applies defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Guard.ListenAddr == "" {
		cfg.Guard.ListenAddr = DefaultGuardListenAddr
	}
	if cfg.Guard.RunnerTimeout <= 0 {
		cfg.Guard.RunnerTimeout = DefaultRunnerTimeout
	}
	if cfg.Runner.ListenAddr == "" {
		cfg.Runner.ListenAddr = DefaultRunnerListenAddr
	}
	if cfg.Runner.JobBinary == "" {
		cfg.Runner.JobBinary = DefaultJobBinary
	}
	if cfg.Runner.DockerBinary == "" {
		cfg.Runner.DockerBinary = DefaultDockerBinary
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// ValidateGuard reports every setting the guard needs but lacks.
func (c *Config) ValidateGuard() error {
	var errs []error
	require(&errs, "SANDBOX_GUARD_TOKEN", c.Guard.Token)
	require(&errs, "ALLOWLIST_PATH", c.Guard.AllowlistPath)
	require(&errs, "TOOL_RUNNER_URL", c.Guard.RunnerURL)
	require(&errs, "TOOL_RUNNER_TOKEN", c.Guard.RunnerToken)
	return errors.Join(errs...)
}

// ValidateRunner reports every setting the runner needs but lacks.
func (c *Config) ValidateRunner() error {
	var errs []error
	require(&errs, "TOOL_RUNNER_TOKEN", c.Runner.Token)
	require(&errs, "JOB_IMAGE", c.Runner.JobImage)
	require(&errs, "SANDBOX_NET_NAME", c.Runner.NetworkName)
	require(&errs, "HOST_WORKSPACES_ROOT", c.Runner.WorkspacesRoot)
	return errors.Join(errs...)
}

func require(errs *[]error, name, value string) {
	if strings.TrimSpace(value) == "" {
		*errs = append(*errs, fmt.Errorf("missing required env: %s", name))
	}
}

func parseBool(name, value string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}
