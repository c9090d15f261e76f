package config_test

import (
	"strings"
	"testing"

	"github.com/earshot-ai/earshot/internal/config"
)

const minimalYAML = `
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  stt:
    name: whisper
    base_url: http://localhost:8090
  tts:
    name: elevenlabs
    api_key: el-test
`

func TestLoadFromReader_Minimal(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("expected model 'gpt-4o-mini', got %q", cfg.Providers.LLM.Model)
	}

	// Defaults.
	if cfg.Agent.Interruption != config.InterruptionDuck {
		t.Errorf("expected default interruption 'duck', got %q", cfg.Agent.Interruption)
	}
	if cfg.Agent.DuckFactor != 0.2 {
		t.Errorf("expected default duck factor 0.2, got %f", cfg.Agent.DuckFactor)
	}
	if cfg.Agent.SessionID != "default" {
		t.Errorf("expected default session ID, got %q", cfg.Agent.SessionID)
	}
	if cfg.Audio.CaptureDevice != "default" || cfg.Audio.PlaybackDevice != "default" {
		t.Errorf("expected default audio devices, got %q / %q",
			cfg.Audio.CaptureDevice, cfg.Audio.PlaybackDevice)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
agent:
  wake_phrase: hey earshot
  wake_phrsae: typo
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_MissingProviders(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
agent:
  wake_phrase: hey earshot
`))
	if err == nil {
		t.Fatal("expected error for missing providers, got nil")
	}
	for _, want := range []string{"providers.stt", "providers.llm", "providers.tts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_InvalidInterruption(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
agent:
  interruption: pause
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid interruption policy, got nil")
	}
	if !strings.Contains(err.Error(), "agent.interruption") {
		t.Errorf("error should mention agent.interruption, got: %v", err)
	}
}

func TestValidate_DuckFactorRange(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
agent:
  duck_factor: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range duck factor, got nil")
	}
}

func TestValidate_ThresholdOrdering(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
audio:
  speech_threshold: 100
  silence_threshold: 500
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error when silence_threshold exceeds speech_threshold, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
telemetry:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
agent:
  interruption: pause
telemetry:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	if !strings.Contains(err.Error(), "agent.interruption") ||
		!strings.Contains(err.Error(), "telemetry.log_level") {
		t.Errorf("expected joined errors to list all failures, got: %v", err)
	}
}
