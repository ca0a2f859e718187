// Package config loads sentineld's runtime configuration from
// environment variables (optionally backed by a .env file), the
// pattern BrunoKrugel-snapshot2stream/internal/config/config.go uses
// for its own camera/server settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"

	"sentineld/internal/detector"
	"sentineld/internal/supervisor"
)

// Config is sentineld's full runtime configuration.
type Config struct {
	RecordingsDir string `env:"RECORDINGS_DIR" envDefault:"./recordings"`
	CataloguePath string `env:"CATALOGUE_PATH" envDefault:"./recordings/catalogue.db"`

	DetectorEndpoint    string   `env:"DETECTOR_ENDPOINT"`
	ModelPath           string   `env:"MODEL_PATH"`
	ConfidenceThreshold float64  `env:"DETECTOR_CONFIDENCE_THRESHOLD" envDefault:"0.25"`
	FilterClasses       []string `env:"DETECTOR_FILTER_CLASSES" envSeparator:","`
	MinArea             float64 `env:"DETECTOR_MIN_AREA" envDefault:"0"`
	MaxArea             float64 `env:"DETECTOR_MAX_AREA" envDefault:"0"`

	FrameWidth  int `env:"FRAME_WIDTH" envDefault:"1280"`
	FrameHeight int `env:"FRAME_HEIGHT" envDefault:"720"`
	FPS         int `env:"FPS" envDefault:"10"`

	PreBufferSeconds        float64       `env:"PRE_BUFFER_SECONDS" envDefault:"5"`
	PostBufferSeconds       float64       `env:"POST_BUFFER_SECONDS" envDefault:"10"`
	MinConfidence           float64       `env:"MIN_CONFIDENCE" envDefault:"0.5"`
	MinGapBetweenRecordings time.Duration `env:"MIN_GAP_BETWEEN_RECORDINGS" envDefault:"5s"`
	RecordObjects           []string      `env:"RECORD_OBJECTS" envSeparator:","`
	ReconnectInterval       time.Duration `env:"RECONNECT_INTERVAL" envDefault:"5s"`

	MaxStorageBytes  int64         `env:"MAX_STORAGE_BYTES" envDefault:"107374182400"`
	JanitorInterval  time.Duration `env:"JANITOR_INTERVAL" envDefault:"1h"`
	JanitorOrphanAge time.Duration `env:"JANITOR_ORPHAN_AGE" envDefault:"10m"`

	StreamURLs  []string `env:"STREAM_URLS" envSeparator:","`
	StreamNames []string `env:"STREAM_NAMES" envSeparator:","`
}

// Load reads ./.env if present (missing is not an error, matching
// godotenv's own documented usage) then parses the environment into a
// Config.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads the .env file at path (or ./.env when path is empty)
// then parses the environment into a Config.
func LoadFrom(path string) (*Config, error) {
	var err error
	if path != "" {
		err = godotenv.Load(path)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		// godotenv.Load's own docs treat a missing .env as normal; only
		// surface anything else (e.g. a malformed file).
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make every downstream
// component misbehave in confusing ways.
func (c *Config) Validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("config: FPS must be positive, got %d", c.FPS)
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("config: FRAME_WIDTH/FRAME_HEIGHT must be positive")
	}
	if c.PreBufferSeconds < 0 || c.PostBufferSeconds < 0 {
		return fmt.Errorf("config: PRE_BUFFER_SECONDS/POST_BUFFER_SECONDS must not be negative")
	}
	if len(c.StreamNames) > 0 && len(c.StreamNames) != len(c.StreamURLs) {
		return fmt.Errorf("config: STREAM_NAMES must either be empty or match STREAM_URLS in length")
	}
	return nil
}

// StreamDef is one configured camera.
type StreamDef struct {
	URL  string
	Name string
}

// Streams zips STREAM_URLS with STREAM_NAMES, falling back to
// "cam0", "cam1", ... for any name left unset.
func (c *Config) Streams() []StreamDef {
	out := make([]StreamDef, len(c.StreamURLs))
	for i, url := range c.StreamURLs {
		name := fmt.Sprintf("cam%d", i)
		if i < len(c.StreamNames) && c.StreamNames[i] != "" {
			name = c.StreamNames[i]
		}
		out[i] = StreamDef{URL: url, Name: name}
	}
	return out
}

// DetectorConfig builds the filtering config every registered stream's
// Detector.Infer call applies (spec §4.3).
func (c *Config) DetectorConfig() detector.Config {
	classes := make(map[string]struct{}, len(c.FilterClasses))
	for _, cl := range c.FilterClasses {
		if cl != "" {
			classes[cl] = struct{}{}
		}
	}
	return detector.Config{
		ConfidenceThreshold: c.ConfidenceThreshold,
		FilterClasses:       classes,
		MinArea:             c.MinArea,
		MaxArea:             c.MaxArea,
	}
}

// StreamParams builds the supervisor.StreamParams shared by every
// registered stream.
func (c *Config) StreamParams() supervisor.StreamParams {
	objects := make(map[string]struct{}, len(c.RecordObjects))
	for _, o := range c.RecordObjects {
		if o != "" {
			objects[o] = struct{}{}
		}
	}
	return supervisor.StreamParams{
		Width:                   c.FrameWidth,
		Height:                  c.FrameHeight,
		FPS:                     c.FPS,
		PreBufferSeconds:        c.PreBufferSeconds,
		PostBufferSeconds:       c.PostBufferSeconds,
		MinConfidence:           c.MinConfidence,
		MinGapBetweenRecordings: c.MinGapBetweenRecordings,
		RecordObjects:           objects,
		ReconnectInterval:       c.ReconnectInterval,
		ModelPath:               c.ModelPath,
	}
}
