package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConnectionStringEnv overrides storage.connectionString when set.
const ConnectionStringEnv = "PKGFS_CONNECTION_STRING"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type StorageConfig struct {
	ConnectionString string `yaml:"connectionString"`
	Suffix           string `yaml:"suffix"`
	TrackAccess      bool   `yaml:"trackAccess"`
}

type AuthConfig struct {
	Tokens []string `yaml:"tokens"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used for any field the file leaves unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Storage: StorageConfig{
			ConnectionString: "backend=disk;path=./data",
			Suffix:           ".nupkg",
			TrackAccess:      false,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3},
	}
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cs := os.Getenv(ConnectionStringEnv); cs != "" {
		cfg.Storage.ConnectionString = cs
	}

	if len(cfg.Auth.Tokens) == 0 {
		return nil, fmt.Errorf("no auth tokens configured")
	}
	if _, err := ParseConnectionString(cfg.Storage.ConnectionString); err != nil {
		return nil, err
	}

	return cfg, nil
}
