package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Storage  StorageConfig
	Gateway  GatewayConfig
	Quota    QuotaConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
	Token   string
}

type ProviderConfig struct {
	BaseURL      string
	DefaultModel string
	// FallbackKeys are environment-supplied secondary credentials used when
	// the managed pool has no usable key. No health tracking is kept for them.
	FallbackKeys []string
}

type StorageConfig struct {
	DataDir     string
	ArtifactDir string
}

// GatewayConfig carries the retry, chunking, and caching knobs. The live
// AI settings row in the database takes priority for chunk size, model,
// and output limits; these are the hard-coded fallbacks.
type GatewayConfig struct {
	// Model is the hard-coded model fallback, seeded from
	// Provider.DefaultModel at wiring time. The live settings row wins
	// when it is readable and names a model.
	Model           string
	RetryCap        int
	CooldownWindow  time.Duration
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	RetryAfterCap   time.Duration
	CacheTTL        time.Duration
	ChunkSize       int
	ChunkOverlap    int
	MaxOutputTokens int
	Temperature     float64
}

type QuotaConfig struct {
	// RequestsPerHour bounds non-cached requests per user over a trailing
	// 60-minute window. Zero means unlimited.
	RequestsPerHour int
	// KeyRequestsPerMinute is the default per-credential budget applied
	// when a credential row has no explicit limit.
	KeyRequestsPerMinute int
	// DisableThreshold is the consecutive error count after which a
	// credential is disabled rather than cooled down.
	DisableThreshold int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:    4300,
			MCPPort: 4301,
		},
		Provider: ProviderConfig{
			BaseURL:      "https://generativelanguage.googleapis.com/v1beta",
			DefaultModel: "gemini-2.5-flash",
		},
		Storage: StorageConfig{
			DataDir:     dataDir,
			ArtifactDir: filepath.Join(dataDir, "ai_generated"),
		},
		Gateway: GatewayConfig{
			RetryCap:        3,
			CooldownWindow:  60 * time.Second,
			BackoffBase:     time.Second,
			BackoffCap:      30 * time.Second,
			RetryAfterCap:   60 * time.Second,
			CacheTTL:        time.Hour,
			ChunkSize:       30000,
			ChunkOverlap:    500,
			MaxOutputTokens: 2000,
			Temperature:     0.3,
		},
		Quota: QuotaConfig{
			RequestsPerHour:      0,
			KeyRequestsPerMinute: 10,
			DisableThreshold:     5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/studygate/config.json, then applies STUDYGATE_*
// environment overrides on top.
//
// Provider fallback keys are read from STUDYGATE_PROVIDER_API_KEY and
// STUDYGATE_PROVIDER_API_KEY_1 through _10. They are optional: the managed
// credential pool in the database is the primary key source.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	cfg.Provider.FallbackKeys = loadFallbackKeys()

	return cfg, nil
}

// loadFallbackKeys collects environment-supplied secondary credentials,
// de-duplicated, primary variable first.
func loadFallbackKeys() []string {
	var keys []string
	seen := make(map[string]bool)

	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	add(os.Getenv("STUDYGATE_PROVIDER_API_KEY"))
	for _, env := range numberedKeyEnvs() {
		add(os.Getenv(env))
	}
	return keys
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "studygate-data"
		}
	}
	return filepath.Join(dir, "studygate")
}
