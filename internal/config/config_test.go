package config

import (
	"testing"
	"time"
)

// mapBackend is a test double for the Backend interface.
type mapBackend struct {
	data map[string]any
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, _ := v.(int)
	return i, true, nil
}

func (m *mapBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m *mapBackend) Delete(key string) error          { delete(m.data, key); return nil }

// TestDefaults verifies default values survive an empty backend.
func TestDefaults(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4300 {
		t.Errorf("Server.Port = %d, want 4300", cfg.Server.Port)
	}
	if cfg.Provider.DefaultModel != "gemini-2.5-flash" {
		t.Errorf("Provider.DefaultModel = %q, want %q", cfg.Provider.DefaultModel, "gemini-2.5-flash")
	}
	if cfg.Gateway.RetryCap != 3 {
		t.Errorf("Gateway.RetryCap = %d, want 3", cfg.Gateway.RetryCap)
	}
	if cfg.Gateway.CooldownWindow != 60*time.Second {
		t.Errorf("Gateway.CooldownWindow = %v, want 60s", cfg.Gateway.CooldownWindow)
	}
	if cfg.Gateway.BackoffCap != 30*time.Second {
		t.Errorf("Gateway.BackoffCap = %v, want 30s", cfg.Gateway.BackoffCap)
	}
	if cfg.Quota.RequestsPerHour != 0 {
		t.Errorf("Quota.RequestsPerHour = %d, want 0 (unlimited)", cfg.Quota.RequestsPerHour)
	}
}

// TestBackendValues verifies backend values override defaults.
func TestBackendValues(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"server.port":             9000,
		"gateway.chunk_size":      8000,
		"gateway.cooldown_window": "90s",
		"gateway.temperature":     "0.7",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Gateway.ChunkSize != 8000 {
		t.Errorf("Gateway.ChunkSize = %d, want 8000", cfg.Gateway.ChunkSize)
	}
	if cfg.Gateway.CooldownWindow != 90*time.Second {
		t.Errorf("Gateway.CooldownWindow = %v, want 90s", cfg.Gateway.CooldownWindow)
	}
	if cfg.Gateway.Temperature != 0.7 {
		t.Errorf("Gateway.Temperature = %v, want 0.7", cfg.Gateway.Temperature)
	}
}

// TestEnvOverride verifies environment variables win over backend values.
func TestEnvOverride(t *testing.T) {
	t.Setenv("STUDYGATE_QUOTA_REQUESTS_PER_HOUR", "25")
	t.Setenv("STUDYGATE_GATEWAY_BACKOFF_BASE", "2s")

	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"quota.requests_per_hour": 5,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Quota.RequestsPerHour != 25 {
		t.Errorf("Quota.RequestsPerHour = %d, want 25", cfg.Quota.RequestsPerHour)
	}
	if cfg.Gateway.BackoffBase != 2*time.Second {
		t.Errorf("Gateway.BackoffBase = %v, want 2s", cfg.Gateway.BackoffBase)
	}
}

// TestFallbackKeys verifies env key collection order and de-duplication.
func TestFallbackKeys(t *testing.T) {
	t.Setenv("STUDYGATE_PROVIDER_API_KEY", "key-primary")
	t.Setenv("STUDYGATE_PROVIDER_API_KEY_1", "key-one")
	t.Setenv("STUDYGATE_PROVIDER_API_KEY_2", "key-primary") // duplicate
	t.Setenv("STUDYGATE_PROVIDER_API_KEY_3", "key-three")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"key-primary", "key-one", "key-three"}
	if len(cfg.Provider.FallbackKeys) != len(want) {
		t.Fatalf("got %d fallback keys, want %d", len(cfg.Provider.FallbackKeys), len(want))
	}
	for i, k := range want {
		if cfg.Provider.FallbackKeys[i] != k {
			t.Errorf("FallbackKeys[%d] = %q, want %q", i, cfg.Provider.FallbackKeys[i], k)
		}
	}
}

// TestSecretNotSettable verifies SetKey refuses secret keys.
func TestSecretNotSettable(t *testing.T) {
	if err := SetKey("server.token", "abc"); err == nil {
		t.Error("expected error setting secret key via config")
	}
}
