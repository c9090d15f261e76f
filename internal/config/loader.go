package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-native", "openai"},
	"tts":        {"elevenlabs"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Agent.Interruption == "" {
		cfg.Agent.Interruption = InterruptionDuck
	}
	if cfg.Agent.DuckFactor == 0 {
		cfg.Agent.DuckFactor = 0.2
	}
	if cfg.Agent.SessionID == "" {
		cfg.Agent.SessionID = "default"
	}
	if cfg.Audio.CaptureDevice == "" {
		cfg.Audio.CaptureDevice = "default"
	}
	if cfg.Audio.PlaybackDevice == "" {
		cfg.Audio.PlaybackDevice = "default"
	}
	if cfg.Audio.SpeechThreshold == 0 {
		cfg.Audio.SpeechThreshold = 500
	}
	if cfg.Audio.SilenceThreshold == 0 {
		cfg.Audio.SilenceThreshold = 200
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Agent
	if cfg.Agent.Interruption != "" && !cfg.Agent.Interruption.IsValid() {
		errs = append(errs, fmt.Errorf("agent.interruption %q is invalid; valid values: duck, discard", cfg.Agent.Interruption))
	}
	if cfg.Agent.DuckFactor != 0 && (cfg.Agent.DuckFactor < 0 || cfg.Agent.DuckFactor > 1) {
		errs = append(errs, fmt.Errorf("agent.duck_factor %.2f is out of range (0, 1]", cfg.Agent.DuckFactor))
	}

	// Audio
	if cfg.Audio.SpeechThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.speech_threshold must not be negative"))
	}
	if cfg.Audio.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold must not be negative"))
	}
	if cfg.Audio.SilenceThreshold > cfg.Audio.SpeechThreshold && cfg.Audio.SpeechThreshold != 0 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold %.1f exceeds speech_threshold %.1f",
			cfg.Audio.SilenceThreshold, cfg.Audio.SpeechThreshold))
	}
	if cfg.Audio.ActivationMs < 0 || cfg.Audio.HangoverMs < 0 || cfg.Audio.PrerollMs < 0 || cfg.Audio.MaxSegmentMs < 0 {
		errs = append(errs, fmt.Errorf("audio durations must not be negative"))
	}

	// Telemetry
	if cfg.Telemetry.LogLevel != "" && !cfg.Telemetry.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("telemetry.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Telemetry.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Required pipeline stages.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("providers.stt is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, fmt.Errorf("providers.tts is required"))
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation memory will not persist")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
