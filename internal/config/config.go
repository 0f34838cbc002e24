package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/testgate/testgate/internal/safety"
)

// Config is the top-level configuration
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Registry        RegistryConfig        `yaml:"registry"`
	Validation      ValidationConfig      `yaml:"validation"`
	EventRepository EventRepositoryConfig `yaml:"event_repository"`
	Messaging       MessagingConfig       `yaml:"messaging"`
	Testrun         TestrunConfig         `yaml:"testrun"`
	Providers       ProvidersConfig       `yaml:"providers"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`
}

// RegistryConfig holds container-registry client settings
type RegistryConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ValidationConfig holds suite-validation settings
type ValidationConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	Attempts      int `yaml:"attempts"`
	Workers       int `yaml:"workers"`
}

// EventRepositoryConfig holds the GraphQL event-repository settings
type EventRepositoryConfig struct {
	URL                 string `yaml:"url"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// MessagingConfig holds the announcement bus settings. An empty URL disables
// publishing.
type MessagingConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// TestrunConfig holds test-run orchestration settings
type TestrunConfig struct {
	SuiteTimeoutSeconds    int    `yaml:"suite_timeout_seconds"`
	IUTProvider            string `yaml:"iut_provider"`
	ExecutionSpaceProvider string `yaml:"execution_space_provider"`
	LogAreaProvider        string `yaml:"log_area_provider"`
}

// ProvidersConfig names the directories scanned for provider documents at
// startup, one per provider type
type ProvidersConfig struct {
	IUTDir            string `yaml:"iut_dir"`
	ExecutionSpaceDir string `yaml:"execution_space_dir"`
	LogAreaDir        string `yaml:"log_area_dir"`
}

// Timeout returns the per-request registry HTTP timeout.
func (r RegistryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Window returns how long a successful image validation stays fresh.
func (v ValidationConfig) Window() time.Duration {
	return time.Duration(v.WindowSeconds) * time.Second
}

// Timeout returns how long to wait for an artifact to appear.
func (e EventRepositoryConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// PollInterval returns the artifact poll interval.
func (e EventRepositoryConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

// SuiteTimeout returns the budget for downloading a suite definition.
func (t TestrunConfig) SuiteTimeout() time.Duration {
	return time.Duration(t.SuiteTimeoutSeconds) * time.Second
}

// Enabled reports whether announcement publishing is configured.
func (m MessagingConfig) Enabled() bool {
	return m.URL != ""
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "0.0.0.0:8080",
			DBPath: "testgate.db",
		},
		Registry: RegistryConfig{
			TimeoutSeconds: 10,
		},
		Validation: ValidationConfig{
			WindowSeconds: 1800,
			Attempts:      5,
			Workers:       4,
		},
		EventRepository: EventRepositoryConfig{
			TimeoutSeconds:      30,
			PollIntervalSeconds: 2,
		},
		Messaging: MessagingConfig{
			Exchange: "testgate",
		},
		Testrun: TestrunConfig{
			SuiteTimeoutSeconds:    60,
			IUTProvider:            "default",
			ExecutionSpaceProvider: "default",
			LogAreaProvider:        "default",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"testgate.yaml",
		"/etc/testgate/testgate.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "testgate", "testgate.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate rejects settings that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Registry.TimeoutSeconds < 1 {
		return fmt.Errorf("registry.timeout_seconds must be at least 1")
	}
	if c.Validation.Attempts < 1 {
		return fmt.Errorf("validation.attempts must be at least 1")
	}
	if c.Validation.Workers < 1 {
		return fmt.Errorf("validation.workers must be at least 1")
	}
	if c.Validation.WindowSeconds < 0 {
		return fmt.Errorf("validation.window_seconds must not be negative")
	}
	if c.EventRepository.URL != "" {
		if _, err := safety.ValidateHTTPURL(c.EventRepository.URL); err != nil {
			return fmt.Errorf("event_repository.url: %w", err)
		}
	}
	if c.EventRepository.PollIntervalSeconds < 1 {
		return fmt.Errorf("event_repository.poll_interval_seconds must be at least 1")
	}
	if c.Messaging.URL != "" {
		if !strings.HasPrefix(c.Messaging.URL, "amqp://") && !strings.HasPrefix(c.Messaging.URL, "amqps://") {
			return fmt.Errorf("messaging.url must use the amqp or amqps scheme")
		}
		if c.Messaging.Exchange == "" {
			return fmt.Errorf("messaging.exchange must not be empty when messaging.url is set")
		}
	}
	return nil
}
