package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "STUDYGATE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "STUDYGATE_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.token", typ: kString, env: "STUDYGATE_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "provider.base_url", typ: kString, env: "STUDYGATE_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.default_model", typ: kString, env: "STUDYGATE_PROVIDER_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.DefaultModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "STUDYGATE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.artifact_dir", typ: kString, env: "STUDYGATE_STORAGE_ARTIFACT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.ArtifactDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.ArtifactDir },
	},
	{
		key: "gateway.retry_cap", typ: kInt, env: "STUDYGATE_GATEWAY_RETRY_CAP",
		apply:   func(cfg *Config, v any) { cfg.Gateway.RetryCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Gateway.RetryCap },
	},
	{
		key: "gateway.cooldown_window", typ: kDuration, env: "STUDYGATE_GATEWAY_COOLDOWN_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Gateway.CooldownWindow = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Gateway.CooldownWindow.String() },
	},
	{
		key: "gateway.backoff_base", typ: kDuration, env: "STUDYGATE_GATEWAY_BACKOFF_BASE",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BackoffBase = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Gateway.BackoffBase.String() },
	},
	{
		key: "gateway.backoff_cap", typ: kDuration, env: "STUDYGATE_GATEWAY_BACKOFF_CAP",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BackoffCap = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Gateway.BackoffCap.String() },
	},
	{
		key: "gateway.cache_ttl", typ: kDuration, env: "STUDYGATE_GATEWAY_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Gateway.CacheTTL.String() },
	},
	{
		key: "gateway.chunk_size", typ: kInt, env: "STUDYGATE_GATEWAY_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Gateway.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Gateway.ChunkSize },
	},
	{
		key: "gateway.chunk_overlap", typ: kInt, env: "STUDYGATE_GATEWAY_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Gateway.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Gateway.ChunkOverlap },
	},
	{
		key: "gateway.max_output_tokens", typ: kInt, env: "STUDYGATE_GATEWAY_MAX_OUTPUT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Gateway.MaxOutputTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Gateway.MaxOutputTokens },
	},
	{
		key: "gateway.temperature", typ: kFloat, env: "STUDYGATE_GATEWAY_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Gateway.Temperature },
	},
	{
		key: "quota.requests_per_hour", typ: kInt, env: "STUDYGATE_QUOTA_REQUESTS_PER_HOUR",
		apply:   func(cfg *Config, v any) { cfg.Quota.RequestsPerHour = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.RequestsPerHour },
	},
	{
		key: "quota.key_requests_per_minute", typ: kInt, env: "STUDYGATE_QUOTA_KEY_RPM",
		apply:   func(cfg *Config, v any) { cfg.Quota.KeyRequestsPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.KeyRequestsPerMinute },
	},
	{
		key: "quota.disable_threshold", typ: kInt, env: "STUDYGATE_QUOTA_DISABLE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Quota.DisableThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.DisableThreshold },
	},
	{
		key: "log.level", typ: kString, env: "STUDYGATE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func numberedKeyEnvs() []string {
	envs := make([]string, 0, 10)
	for i := 1; i <= 10; i++ {
		envs = append(envs, fmt.Sprintf("STUDYGATE_PROVIDER_API_KEY_%d", i))
	}
	return envs
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString, kFloat, kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			applyString(cfg, s, v, "config key")
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if s.typ == kInt {
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
			continue
		}
		applyString(cfg, s, raw, "env var "+s.env)
	}
}

func applyString(cfg *Config, s keySpec, raw, origin string) {
	switch s.typ {
	case kString:
		s.apply(cfg, raw)
	case kFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			s.apply(cfg, f)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse float from %s (%s=%q): %v. Using default value.\n", origin, s.key, raw, err)
		}
	case kDuration:
		if d, err := time.ParseDuration(raw); err == nil {
			s.apply(cfg, d)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from %s (%s=%q): %v. Using default value.\n", origin, s.key, raw, err)
		}
	}
}
