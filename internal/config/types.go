package config

import "time"

// Config represents the complete rfidgate configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Reader    ReaderConfig    `yaml:"reader"`
	Directory DirectoryConfig `yaml:"directory"`
	Verifier  VerifierConfig  `yaml:"verifier"`
	API       APIConfig       `yaml:"api,omitempty"`
	Events    EventsConfig    `yaml:"events,omitempty"`

	// SourcePath is the absolute path of the file the config was loaded from.
	SourcePath string `yaml:"-" json:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file"`
}

// ReaderConfig defines the device-facing socket listener.
type ReaderConfig struct {
	Listen         string `yaml:"listen"`
	MaxConnections int    `yaml:"max_connections"`
	MaxLineBytes   int    `yaml:"max_line_bytes"`
}

// DirectoryConfig selects the employee directory backend.
type DirectoryConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// VerifierConfig defines the external identity verification program.
type VerifierConfig struct {
	Enabled bool `yaml:"enabled"`
	// Command is the program and any leading arguments. The identifier and the
	// absolute reference directory are appended on each invocation.
	Command        []string      `yaml:"command"`
	ReferenceDir   string        `yaml:"reference_dir"`
	Workdir        string        `yaml:"workdir,omitempty"`
	Timeout        time.Duration `yaml:"timeout"`
	KillGrace      time.Duration `yaml:"kill_grace,omitempty"`
	MaxOutputBytes int           `yaml:"max_output_bytes,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// EventsConfig sizes the in-memory scan event buffer.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Defaults returns a Config with the values used when a key is absent.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "rfidgate",
			LogLevel:  "info",
			LogFormat: "json",
			PIDFile:   "./data/rfidgate.pid",
		},
		Reader: ReaderConfig{
			Listen:         ":5000",
			MaxConnections: 64,
			MaxLineBytes:   4096,
		},
		Directory: DirectoryConfig{
			Driver: DriverSQLite,
			DSN:    "./data/directory.db",
		},
		Verifier: VerifierConfig{
			Enabled:        false,
			ReferenceDir:   "./known_faces",
			Workdir:        ".",
			Timeout:        30 * time.Second,
			MaxOutputBytes: 64 * 1024,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Events: EventsConfig{
			Buffer: 256,
		},
	}
}
