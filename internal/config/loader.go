package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

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
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, filling in
// defaults for fields left unset. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Codec == "" {
		cfg.Server.Codec = CodecPCM
	}
	if !cfg.Server.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("server.codec %q is invalid; valid values: pcm, opus", cfg.Server.Codec))
	}
	if cfg.Server.ListenAddr == "" && cfg.Server.UnixSocket == "" && cfg.Server.WSAddr == "" {
		errs = append(errs, errors.New("server: at least one of listen_addr, unix_socket or ws_addr must be set"))
	}

	// Engine
	if cfg.Engine.ModelPath == "" {
		errs = append(errs, errors.New("engine.model_path is required"))
	}
	if cfg.Engine.Language == "" {
		cfg.Engine.Language = "en"
	}

	// Stream — delegated, so defaults and constraint checks live next to
	// the code that consumes them.
	if err := cfg.Stream.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("stream: %w", err))
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Info("store.postgres_dsn is empty; final transcripts will not be persisted")
	}

	return errors.Join(errs...)
}
