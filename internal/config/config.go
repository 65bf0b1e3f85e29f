// Package config provides the configuration schema and loader for the
// voxpipe streaming transcription server.
package config

import "github.com/voxpipe/voxpipe/internal/stream"

// LogLevel controls log verbosity for the voxpipe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Codec selects how binary WebSocket frames are decoded into PCM.
type Codec string

const (
	// CodecPCM treats each binary frame as raw 16-bit little-endian PCM.
	CodecPCM Codec = "pcm"

	// CodecOpus treats each binary frame as one Opus packet.
	CodecOpus Codec = "opus"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecPCM || c == CodecOpus
}

// Config is the root configuration structure for voxpipe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig  `yaml:"server"`
	Engine EngineConfig  `yaml:"engine"`
	Stream stream.Config `yaml:"stream"`
	Store  StoreConfig   `yaml:"store"`
}

// ServerConfig holds network and logging settings for the voxpipe server.
type ServerConfig struct {
	// ListenAddr is the TCP address the raw-socket transport listens on
	// (e.g., ":43007"). Empty disables the raw socket listener.
	ListenAddr string `yaml:"listen_addr"`

	// UnixSocket is a filesystem path for a Unix domain socket carrying
	// the same raw protocol. Empty disables it.
	UnixSocket string `yaml:"unix_socket"`

	// WSAddr is the address the WebSocket transport listens on
	// (e.g., ":8090"). Empty disables the WebSocket listener.
	WSAddr string `yaml:"ws_addr"`

	// AdminAddr serves /metrics and /healthz (e.g., ":9090"). Empty
	// disables the admin endpoint.
	AdminAddr string `yaml:"admin_addr"`

	// Codec selects how WebSocket binary frames are decoded. Default pcm.
	Codec Codec `yaml:"codec"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// EngineConfig selects and tunes the transcription backend.
type EngineConfig struct {
	// ModelPath is the whisper.cpp GGML model file. Required.
	ModelPath string `yaml:"model_path"`

	// Language is the BCP-47 language code for transcription. Default "en".
	Language string `yaml:"language"`

	// Threads is the CPU thread count per inference call. 0 uses the
	// backend default.
	Threads uint `yaml:"threads"`

	// Warmup runs one inference over silence at startup so the first real
	// window does not pay initialisation cost.
	Warmup bool `yaml:"warmup"`
}

// StoreConfig configures optional final-transcript persistence.
type StoreConfig struct {
	// PostgresDSN is the connection string for transcript storage. Empty
	// disables persistence.
	PostgresDSN string `yaml:"postgres_dsn"`
}
