package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// envString maps environment variables onto string settings. A variable
// may feed more than one setting.
func envString(cfg *Config) map[string][]*string {
	return map[string][]*string{
		"SANDBOX_GUARD_TOKEN":         {&cfg.Guard.Token},
		"ALLOWLIST_PATH":              {&cfg.Guard.AllowlistPath},
		"TOOL_RUNNER_URL":             {&cfg.Guard.RunnerURL},
		"TOOL_RUNNER_TOKEN":           {&cfg.Guard.RunnerToken, &cfg.Runner.Token},
		"GUARD_LISTEN_ADDR":           {&cfg.Guard.ListenAddr},
		"RUNNER_LISTEN_ADDR":          {&cfg.Runner.ListenAddr},
		"JOB_IMAGE":                   {&cfg.Runner.JobImage},
		"SANDBOX_NET_NAME":            {&cfg.Runner.NetworkName},
		"HOST_WORKSPACES_ROOT":        {&cfg.Runner.WorkspacesRoot},
		"JOB_BINARY":                  {&cfg.Runner.JobBinary},
		"DOCKER_BINARY":               {&cfg.Runner.DockerBinary},
		"LOG_LEVEL":                   {&cfg.Logging.Level},
		"LOG_FORMAT":                  {&cfg.Logging.Format},
		"OTEL_EXPORTER_OTLP_ENDPOINT": {&cfg.Tracing.Endpoint},
	}
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	for name, targets := range envString(cfg) {
		value, ok := lookup(name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		for _, target := range targets {
			*target = strings.TrimSpace(value)
		}
	}

	if value, ok := lookup("TOOL_RUNNER_TIMEOUT"); ok && strings.TrimSpace(value) != "" {
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid TOOL_RUNNER_TIMEOUT: %w", err)
		}
		cfg.Guard.RunnerTimeout = d
	}
	if value, ok := lookup("OTEL_TRACES_SAMPLER_ARG"); ok && strings.TrimSpace(value) != "" {
		rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || rate < 0 || rate > 1 {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %q", value)
		}
		cfg.Tracing.SamplingRate = rate
	}
	if value, ok := lookup("OTEL_EXPORTER_OTLP_INSECURE"); ok && strings.TrimSpace(value) != "" {
		insecure, err := parseBool("OTEL_EXPORTER_OTLP_INSECURE", value)
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = insecure
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}
