// Package config handles configuration: built-in defaults, an optional YAML
// file, then environment overrides, in that order.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperr "github.com/lipschultz/hwinarion/internal/errors"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	Audio      AudioConfig      `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Engine     EngineConfig     `yaml:"engine"`
	Transcript TranscriptConfig `yaml:"transcript"`

	// FinalizeTimeoutMS bounds the wait for a final result after an
	// utterance ends.
	FinalizeTimeoutMS int `yaml:"finalize_timeout_ms"`
}

type AudioConfig struct {
	// Device selects the capture device: empty for the default, an index,
	// or a case-insensitive name substring.
	Device          string `yaml:"device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`

	// QueueCapacity bounds the capture queue; on overflow the oldest
	// frames are dropped.
	QueueCapacity int `yaml:"queue_capacity"`
}

type VADConfig struct {
	// Detector is "energy" or "webrtc".
	Detector string `yaml:"detector"`

	// EnergyThreshold is the RMS speech threshold for the energy detector.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// WebRTCMode is the webrtc detector aggressiveness, 0 to 3.
	WebRTCMode int `yaml:"webrtc_mode"`

	MinSpeechMS       int `yaml:"min_speech_ms"`
	TrailingSilenceMS int `yaml:"trailing_silence_ms"`
	MaxUtteranceMS    int `yaml:"max_utterance_ms"`
}

type EngineConfig struct {
	// Name picks the recognizer: vosk, pocketsphinx, whisper or coqui.
	Name       string   `yaml:"name"`
	ModelPath  string   `yaml:"model_path"`
	Command    string   `yaml:"command"`
	Language   string   `yaml:"language"`
	SampleRate int      `yaml:"sample_rate"`
	Vocabulary []string `yaml:"vocabulary"`
}

type TranscriptConfig struct {
	MaxEntries  int `yaml:"max_entries"`
	EventBuffer int `yaml:"event_buffer"`
}

func defaults() *Config {
	return &Config{
		HTTPAddr: ":8000",
		LogLevel: "info",
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 512,
			QueueCapacity:   64,
		},
		VAD: VADConfig{
			Detector:          "energy",
			EnergyThreshold:   500,
			WebRTCMode:        2,
			MinSpeechMS:       150,
			TrailingSilenceMS: 700,
			MaxUtteranceMS:    30000,
		},
		Engine: EngineConfig{
			Name:       "vosk",
			SampleRate: 16000,
		},
		Transcript: TranscriptConfig{
			MaxEntries:  100,
			EventBuffer: 64,
		},
		FinalizeTimeoutMS: 10000,
	}
}

// Load reads the optional YAML file at path, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfigInvalid, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfigInvalid, "parse config %s", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HWINARION_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("HWINARION_LOG_LEVEL", c.LogLevel)
	c.Audio.Device = getEnv("HWINARION_AUDIO_DEVICE", c.Audio.Device)
	c.Audio.SampleRate = getEnvInt("HWINARION_SAMPLE_RATE", c.Audio.SampleRate)
	c.Audio.QueueCapacity = getEnvInt("HWINARION_QUEUE_CAPACITY", c.Audio.QueueCapacity)
	c.VAD.Detector = getEnv("HWINARION_VAD_DETECTOR", c.VAD.Detector)
	c.VAD.EnergyThreshold = getEnvFloat("HWINARION_VAD_THRESHOLD", c.VAD.EnergyThreshold)
	c.Engine.Name = getEnv("HWINARION_ENGINE", c.Engine.Name)
	c.Engine.ModelPath = getEnv("HWINARION_MODEL_PATH", c.Engine.ModelPath)
	c.Engine.Command = getEnv("HWINARION_ENGINE_COMMAND", c.Engine.Command)
	c.Engine.Language = getEnv("HWINARION_LANGUAGE", c.Engine.Language)
	c.Engine.Vocabulary = getEnvList("HWINARION_VOCABULARY", c.Engine.Vocabulary)
	c.FinalizeTimeoutMS = getEnvInt("HWINARION_FINALIZE_TIMEOUT_MS", c.FinalizeTimeoutMS)
}

// Validate rejects structurally impossible settings.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return apperr.Newf(apperr.CodeConfigInvalid, "audio sample rate %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 {
		return apperr.Newf(apperr.CodeConfigInvalid, "audio channels %d", c.Audio.Channels)
	}
	if c.Audio.QueueCapacity < 1 {
		return apperr.Newf(apperr.CodeConfigInvalid, "queue capacity %d", c.Audio.QueueCapacity)
	}
	switch c.VAD.Detector {
	case "energy", "webrtc":
	default:
		return apperr.Newf(apperr.CodeConfigInvalid, "unknown vad detector %q", c.VAD.Detector)
	}
	if c.Engine.Name == "" {
		return apperr.New(apperr.CodeConfigInvalid, "engine name is empty")
	}
	if c.FinalizeTimeoutMS <= 0 {
		return apperr.Newf(apperr.CodeConfigInvalid, "finalize timeout %dms", c.FinalizeTimeoutMS)
	}
	return nil
}

// FinalizeTimeout returns the finalize bound as a duration.
func (c *Config) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutMS) * time.Millisecond
}

// MinSpeech returns the VAD onset threshold as a duration.
func (c *Config) MinSpeech() time.Duration {
	return time.Duration(c.VAD.MinSpeechMS) * time.Millisecond
}

// TrailingSilence returns the VAD close threshold as a duration.
func (c *Config) TrailingSilence() time.Duration {
	return time.Duration(c.VAD.TrailingSilenceMS) * time.Millisecond
}

// MaxUtterance returns the VAD force-close bound as a duration.
func (c *Config) MaxUtterance() time.Duration {
	return time.Duration(c.VAD.MaxUtteranceMS) * time.Millisecond
}

// SlogLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
