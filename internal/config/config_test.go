package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.VLA.ModelType != "pi0" {
		t.Errorf("VLA.ModelType = %q, want pi0", cfg.VLA.ModelType)
	}
	if cfg.VLA.ActionChunkSize != 50 {
		t.Errorf("VLA.ActionChunkSize = %d, want 50", cfg.VLA.ActionChunkSize)
	}
	if cfg.JournalEnabled() {
		t.Error("JournalEnabled = true with no brokers set")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLEET_HTTP_ADDR", ":9999")
	t.Setenv("FLEET_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("VLA_MODEL_TYPE", "openvla")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("KafkaBrokers = %v, want 2 brokers", cfg.KafkaBrokers)
	}
	if !cfg.JournalEnabled() {
		t.Error("JournalEnabled = false with brokers set")
	}
	if cfg.VLA.ModelType != "openvla" {
		t.Errorf("VLA.ModelType = %q, want openvla", cfg.VLA.ModelType)
	}
}

func TestLoadRejectsUnknownModelType(t *testing.T) {
	t.Setenv("VLA_MODEL_TYPE", "rt2")

	_, err := Load()
	if err == nil {
		t.Fatal("Load accepted unknown VLA model type")
	}
	if !strings.Contains(err.Error(), "VLA_MODEL_TYPE") {
		t.Errorf("error %q does not mention VLA_MODEL_TYPE", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate passed on zero config")
	}
	for _, want := range []string{"HTTP_ADDR", "DB_PATH", "OFFLINE_AFTER", "VLA_MODEL_TYPE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
