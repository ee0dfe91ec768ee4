// Package config loads the relay configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sonicbridge/voicewire/audio"
	"github.com/sonicbridge/voicewire/datachannel"
	"github.com/sonicbridge/voicewire/s2s"
)

// Duration parses YAML values like "5s" or "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RemoteConfig locates the remote inference service.
type RemoteConfig struct {
	// URL is the duplex WebSocket endpoint of the service.
	URL string `yaml:"url"`

	// Region is the AWS region used for request signing.
	Region string `yaml:"region"`

	// SignRequests presigns the dial URL with SigV4 credentials resolved
	// from the environment.
	SignRequests bool `yaml:"sign_requests"`

	// PingInterval keeps the duplex connection alive through idle
	// intermediaries.
	PingInterval Duration `yaml:"ping_interval"`
}

// SessionConfig holds per-conversation model parameters.
type SessionConfig struct {
	MaxTokens    int     `yaml:"max_tokens"`
	TopP         float64 `yaml:"top_p"`
	Temperature  float64 `yaml:"temperature"`
	VoiceID      string  `yaml:"voice_id"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// AudioConfig holds the PCM formats at the relay's boundaries.
type AudioConfig struct {
	ClientRate    int  `yaml:"client_rate"`
	InputRate     int  `yaml:"input_rate"`
	OutputRate    int  `yaml:"output_rate"`
	MaxChunkBytes int  `yaml:"max_chunk_bytes"`
	PaceOutput    bool `yaml:"pace_output"`
}

// RelayConfig holds server-level settings.
type RelayConfig struct {
	ListenAddr          string   `yaml:"listen_addr"`
	MetricsAddr         string   `yaml:"metrics_addr"`
	FrameQueueSize      int      `yaml:"frame_queue_size"`
	TransferIdleTimeout Duration `yaml:"transfer_idle_timeout"`
}

// Config is the root relay configuration.
type Config struct {
	Remote  RemoteConfig  `yaml:"remote"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
	Relay   RelayConfig   `yaml:"relay"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			Region:       "us-east-1",
			PingInterval: Duration(30 * time.Second),
		},
		Session: SessionConfig{
			MaxTokens:   1024,
			TopP:        0.95,
			Temperature: 0.7,
			VoiceID:     "tiffany",
		},
		Audio: AudioConfig{
			ClientRate:    audio.SampleRate48kHz,
			InputRate:     audio.SampleRate16kHz,
			OutputRate:    audio.SampleRate24kHz,
			MaxChunkBytes: datachannel.DefaultMaxChunkBytes,
			PaceOutput:    true,
		},
		Relay: RelayConfig{
			ListenAddr:          ":8080",
			MetricsAddr:         ":9090",
			FrameQueueSize:      s2s.DefaultFrameQueueSize,
			TransferIdleTimeout: Duration(datachannel.DefaultIdleTimeout),
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the relay cannot run with.
func (c *Config) Validate() error {
	if c.Remote.URL == "" {
		return fmt.Errorf("config: remote.url is required")
	}
	for _, rc := range []struct {
		name string
		rate int
	}{
		{"audio.client_rate", c.Audio.ClientRate},
		{"audio.input_rate", c.Audio.InputRate},
		{"audio.output_rate", c.Audio.OutputRate},
	} {
		if rc.rate <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", rc.name, rc.rate)
		}
	}
	if c.Audio.MaxChunkBytes <= 0 {
		return fmt.Errorf("config: audio.max_chunk_bytes must be positive")
	}
	return nil
}

// Inference returns the session's sampling parameters.
func (c *Config) Inference() s2s.InferenceConfig {
	return s2s.InferenceConfig{
		MaxTokens:   c.Session.MaxTokens,
		TopP:        c.Session.TopP,
		Temperature: c.Session.Temperature,
	}
}

// AudioInput returns the service-facing speech input format.
func (c *Config) AudioInput() s2s.AudioInputConfig {
	cfg := s2s.DefaultAudioInputConfig()
	cfg.SampleRateHertz = c.Audio.InputRate
	return cfg
}

// AudioOutput returns the service-facing synthesis format.
func (c *Config) AudioOutput() s2s.AudioOutputConfig {
	cfg := s2s.DefaultAudioOutputConfig(c.Session.VoiceID)
	cfg.SampleRateHertz = c.Audio.OutputRate
	return cfg
}
