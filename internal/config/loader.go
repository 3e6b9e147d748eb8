package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envOverrides are applied after the file is parsed, so a deployment can move
// ports or the database without editing the (possibly checksummed) file.
type envOverrides struct {
	ReaderListen    string        `env:"RFIDGATE_READER_LISTEN"`
	APIListen       string        `env:"RFIDGATE_API_LISTEN"`
	LogLevel        string        `env:"RFIDGATE_LOG_LEVEL"`
	DirectoryDriver string        `env:"RFIDGATE_DIRECTORY_DRIVER"`
	DirectoryDSN    string        `env:"RFIDGATE_DIRECTORY_DSN"`
	VerifierTimeout time.Duration `env:"RFIDGATE_VERIFIER_TIMEOUT"`
}

// Load reads, verifies and parses the configuration at configPath.
// A directory path is resolved to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	if err := applyEnvOverrides(context.Background(), cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $RFIDGATE_CONFIG, ~/.config/rfidgate/config.yaml, /etc/rfidgate/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	candidates := make([]string, 0, 4)
	if p := os.Getenv("RFIDGATE_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "rfidgate", "config.yaml"))
	}
	candidates = append(candidates, "/etc/rfidgate/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $RFIDGATE_CONFIG, ~/.config/rfidgate, /etc/rfidgate, ./config.yaml)")
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate reports it where it matters.
		return match
	})
}

func applyEnvOverrides(ctx context.Context, cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(ctx, &o); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}

	if o.ReaderListen != "" {
		cfg.Reader.Listen = o.ReaderListen
	}
	if o.APIListen != "" {
		cfg.API.Listen = o.APIListen
	}
	if o.LogLevel != "" {
		cfg.Service.LogLevel = strings.ToLower(o.LogLevel)
	}
	if o.DirectoryDriver != "" {
		cfg.Directory.Driver = o.DirectoryDriver
	}
	if o.DirectoryDSN != "" {
		cfg.Directory.DSN = o.DirectoryDSN
	}
	if o.VerifierTimeout > 0 {
		cfg.Verifier.Timeout = o.VerifierTimeout
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Reader.Listen == "" {
		return fmt.Errorf("reader.listen is required")
	}
	if cfg.Reader.MaxConnections < 0 {
		return fmt.Errorf("reader.max_connections must not be negative")
	}
	if cfg.Reader.MaxLineBytes <= 0 {
		return fmt.Errorf("reader.max_line_bytes must be positive")
	}

	switch cfg.Directory.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("directory.driver must be sqlite or postgres (got %q)", cfg.Directory.Driver)
	}
	if cfg.Directory.DSN == "" {
		return fmt.Errorf("directory.dsn is required")
	}
	if err := unresolved("directory.dsn", cfg.Directory.DSN); err != nil {
		return err
	}

	if cfg.Verifier.Enabled {
		if len(cfg.Verifier.Command) == 0 || cfg.Verifier.Command[0] == "" {
			return fmt.Errorf("verifier.command is required when the verifier is enabled")
		}
		if cfg.Verifier.ReferenceDir == "" {
			return fmt.Errorf("verifier.reference_dir is required when the verifier is enabled")
		}
		if cfg.Verifier.Timeout <= 0 {
			return fmt.Errorf("verifier.timeout must be positive")
		}
		if cfg.Verifier.KillGrace < 0 {
			return fmt.Errorf("verifier.kill_grace must not be negative")
		}
		if cfg.Verifier.MaxOutputBytes <= 0 {
			return fmt.Errorf("verifier.max_output_bytes must be positive")
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := unresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	if cfg.Events.Buffer <= 0 {
		return fmt.Errorf("events.buffer must be positive")
	}
	return nil
}

func unresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
