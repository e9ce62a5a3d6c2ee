package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var DebugLog func(string, ...interface{})

type Config struct {
	DefaultSettings DefaultSettings `yaml:"default_settings"`
	Dataset         Dataset         `yaml:"dataset"`
	Database        Database        `yaml:"database"`
	Elastic         Elastic         `yaml:"elastic"`
}

type DefaultSettings struct {
	Timeout         int      `yaml:"timeout" env:"TRAINCONF_TIMEOUT"`
	Strict          bool     `yaml:"strict" env:"TRAINCONF_STRICT"`
	DisabledChecks  []string `yaml:"disabled_checks" env:"TRAINCONF_DISABLED_CHECKS" envSeparator:","`
	ScheduleSamples int      `yaml:"schedule_samples" env:"TRAINCONF_SCHEDULE_SAMPLES"`
}

type Dataset struct {
	NumTasks   int `yaml:"num_tasks" env:"TRAINCONF_NUM_TASKS"`
	NumSystems int `yaml:"num_systems" env:"TRAINCONF_NUM_SYSTEMS"`
}

type Database struct {
	Enabled  bool   `yaml:"enabled" env:"TRAINCONF_DB_ENABLED"`
	Host     string `yaml:"host" env:"TRAINCONF_DB_HOST"`
	Port     int    `yaml:"port" env:"TRAINCONF_DB_PORT"`
	User     string `yaml:"user" env:"TRAINCONF_DB_USER"`
	Password string `yaml:"password" env:"TRAINCONF_DB_PASSWORD"`
}

type Elastic struct {
	Enabled  bool   `yaml:"enabled" env:"TRAINCONF_ES_ENABLED"`
	URL      string `yaml:"url" env:"TRAINCONF_ES_URL"`
	Username string `yaml:"username" env:"TRAINCONF_ES_USERNAME"`
	Password string `yaml:"password" env:"TRAINCONF_ES_PASSWORD"`
	Index    string `yaml:"index" env:"TRAINCONF_ES_INDEX"`
}

func Default() *Config {
	return &Config{
		DefaultSettings: DefaultSettings{
			Timeout:         30,
			ScheduleSamples: 1000,
		},
		Dataset: Dataset{
			NumTasks:   1,
			NumSystems: 1,
		},
		Database: Database{
			Host: "localhost",
			Port: 5432,
			User: "postgres",
		},
		Elastic: Elastic{
			Index: "trainconf_schedules",
		},
	}
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.DefaultSettings.Timeout) * time.Second
}

type Manager struct {
	config     *Config
	configPath string
}

func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
	}
}

func (m *Manager) LoadConfig() error {
	explicit := m.configPath != ""
	if !explicit {
		m.configPath = m.findConfigFile()
	}

	config := Default()

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		if explicit {
			return fmt.Errorf("config file not found at %s. Please create one based on config.yaml.example", m.configPath)
		}
		if DebugLog != nil {
			DebugLog("no settings file found, using defaults")
		}
	} else {
		if DebugLog != nil {
			DebugLog("loading settings from %s", m.configPath)
		}

		data, err := os.ReadFile(m.configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(config); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := m.validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.config = config
	return nil
}

func (m *Manager) GetConfig() *Config {
	return m.config
}

func (m *Manager) Path() string {
	return m.configPath
}

func (m *Manager) findConfigFile() string {
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	if _, err := os.Stat(filepath.Join("config", "config.yaml")); err == nil {
		return filepath.Join("config", "config.yaml")
	}

	return GetDefaultConfigPath()
}

func (m *Manager) validateConfig(config *Config) error {
	if config.DefaultSettings.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}

	if config.Dataset.NumTasks < 1 {
		return fmt.Errorf("num_tasks must be at least 1")
	}

	if config.Dataset.NumSystems < 1 {
		return fmt.Errorf("num_systems must be at least 1")
	}

	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database host is required when the database is enabled")
	}

	if config.Elastic.Enabled && config.Elastic.URL == "" {
		return fmt.Errorf("elastic url is required when elastic is enabled")
	}

	return nil
}
