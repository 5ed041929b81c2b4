package config

import (
	"reflect"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StoragePath != "" {
		t.Errorf("StoragePath = %q, want empty", cfg.StoragePath)
	}
	if cfg.RoundSeconds != 180 {
		t.Errorf("RoundSeconds = %d, want 180", cfg.RoundSeconds)
	}
	if cfg.RoundTime() != 3*time.Minute {
		t.Errorf("RoundTime() = %s, want 3m", cfg.RoundTime())
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_PATH", "/tmp/duel.db")
	t.Setenv("ROUND_SECONDS", "45")
	t.Setenv("TOPICS", "Gala Night,Beach Day")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.StoragePath != "/tmp/duel.db" {
		t.Errorf("StoragePath = %q, want /tmp/duel.db", cfg.StoragePath)
	}
	if cfg.RoundTime() != 45*time.Second {
		t.Errorf("RoundTime() = %s, want 45s", cfg.RoundTime())
	}
	want := []string{"Gala Night", "Beach Day"}
	if !reflect.DeepEqual(cfg.Topics, want) {
		t.Errorf("Topics = %v, want %v", cfg.Topics, want)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("ROUND_SECONDS", "soon")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected an error for a non-numeric ROUND_SECONDS")
	}
}
