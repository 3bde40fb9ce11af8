// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/validation"
	"gopkg.in/yaml.v3"
)

// Archive backends
const (
	ArchiveNone = ""
	ArchiveFile = "file"
	ArchiveS3   = "s3"
)

// Config is the complete server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Simulation SimulationConfig `yaml:"simulation"`
	Archive    ArchiveConfig    `yaml:"archive"`
	History    HistoryConfig    `yaml:"history"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// CORSOrigins lists allowed origins; empty disables cross-origin requests
	CORSOrigins          []string `yaml:"cors_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
}

type SimulationConfig struct {
	// ParametersFile seeds the live parameters; empty uses the built-in defaults
	ParametersFile string `yaml:"parameters_file"`
	// ModelDir holds extra network templates loaded next to the built-in ones
	ModelDir          string        `yaml:"model_dir"`
	MaxStep           float64       `yaml:"max_step"`
	ResidualTolerance float64       `yaml:"residual_tolerance"`
	DampingThreshold  float64       `yaml:"damping_threshold"`
	NoiseSeed         uint64        `yaml:"noise_seed"`
	StreamCapacity    int           `yaml:"stream_capacity"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
}

type ArchiveConfig struct {
	Backend string   `yaml:"backend"`
	Dir     string   `yaml:"dir"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type HistoryConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

type PublisherConfig struct {
	// Kind is "nng", "zmq" or empty for none
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
}

type AuthConfig struct {
	// JWTSecret enables bearer-token checks on mutating endpoints
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Simulation: SimulationConfig{
			MaxStep:           5e-3,
			ResidualTolerance: 1e-6,
			DampingThreshold:  0.3,
			StreamCapacity:    8192,
			Heartbeat:         time.Second,
		},
		Archive: ArchiveConfig{
			Dir: "./data/results",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies the process environment and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	cv := validation.NewConfigValidator("config")
	cv.RangeFloat("server.port", float64(c.Server.Port), 1, 65535).
		MinDuration("server.shutdown_timeout", c.Server.ShutdownTimeout, time.Second).
		PositiveFloat("simulation.max_step", c.Simulation.MaxStep).
		PositiveFloat("simulation.residual_tolerance", c.Simulation.ResidualTolerance).
		RangeFloat("simulation.damping_threshold", c.Simulation.DampingThreshold, 0, 1).
		Positive("simulation.stream_capacity", c.Simulation.StreamCapacity).
		MinDuration("simulation.heartbeat", c.Simulation.Heartbeat, 10*time.Millisecond).
		OneOf("archive.backend", c.Archive.Backend, []string{ArchiveNone, ArchiveFile, ArchiveS3}).
		When(c.Archive.Backend == ArchiveFile, func(cv *validation.ConfigValidator) {
			cv.Required("archive.dir", c.Archive.Dir)
		}).
		When(c.Archive.Backend == ArchiveS3, func(cv *validation.ConfigValidator) {
			cv.Required("archive.s3.bucket", c.Archive.S3.Bucket)
		}).
		OneOf("publisher.kind", c.Publisher.Kind, []string{"", "nng", "zmq"}).
		When(c.Publisher.Kind != "", func(cv *validation.ConfigValidator) {
			cv.Required("publisher.url", c.Publisher.URL)
		}).
		OneOf("logging.level", c.Logging.Level, []string{"debug", "info", "warn", "error"}).
		When(c.Auth.JWTSecret != "", func(cv *validation.ConfigValidator) {
			cv.Custom("auth.jwt_secret", func() error {
				if len(c.Auth.JWTSecret) < 32 {
					return errors.New("secret must be at least 32 characters")
				}
				return nil
			})
		})
	return cv.Validate()
}
