package config

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/racepool/engine/internal/game"
)

type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	NATS    NATSConfig    `yaml:"nats"`
	Log     LogConfig     `yaml:"log"`
}

type EngineConfig struct {
	BettingWindow time.Duration `yaml:"betting_window"`
	RaceDuration  time.Duration `yaml:"race_duration"`
	DisplayDelay  time.Duration `yaml:"display_delay"`
	HouseMargin   string        `yaml:"house_margin"`
	FallbackMode  string        `yaml:"fallback_mode"`
	// Seed overrides the OS-entropy seed with a fixed 64-hex-char key.
	// Test/audit only; never set in production.
	Seed string `yaml:"seed"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.BettingWindow == 0 {
		c.Engine.BettingWindow = 60 * time.Second
	}
	if c.Engine.RaceDuration == 0 {
		c.Engine.RaceDuration = 20 * time.Second
	}
	if c.Engine.DisplayDelay == 0 {
		c.Engine.DisplayDelay = 10 * time.Second
	}
	if c.Engine.HouseMargin == "" {
		c.Engine.HouseMargin = "0.15"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/engine"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 30 * time.Second
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "engine"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Engine.BettingWindow <= 0 || c.Engine.RaceDuration <= 0 || c.Engine.DisplayDelay <= 0 {
		return errors.New("config: engine durations must be positive")
	}

	margin, err := c.Engine.Margin()
	if err != nil {
		return err
	}
	if margin.LessThanOrEqual(decimal.Zero) || margin.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: house_margin must be in (0, 1), got %s", margin)
	}

	// The no-candidate fallback is a deliberate policy decision; a
	// missing value is an error, not a default.
	if !game.FallbackMode(c.Engine.FallbackMode).Valid() {
		return fmt.Errorf("config: fallback_mode must be %q or %q, got %q",
			game.FallbackHouse, game.FallbackFair, c.Engine.FallbackMode)
	}

	if c.Engine.Seed != "" {
		if _, err := c.Engine.SeedWords(); err != nil {
			return err
		}
	}
	return nil
}

func (e EngineConfig) Margin() (decimal.Decimal, error) {
	margin, err := decimal.NewFromString(e.HouseMargin)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: invalid house_margin %q: %w", e.HouseMargin, err)
	}
	return margin, nil
}

func (e EngineConfig) Fallback() game.FallbackMode {
	return game.FallbackMode(e.FallbackMode)
}

// SeedWords decodes the seed override into the 8 key words of the RNG.
// Returns nil when no override is configured.
func (e EngineConfig) SeedWords() (*[8]uint32, error) {
	if e.Seed == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(e.Seed)
	if err != nil {
		return nil, fmt.Errorf("config: seed is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("config: seed must be 32 bytes (64 hex chars), got %d bytes", len(raw))
	}

	var words [8]uint32
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return &words, nil
}
