package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Remote    RemoteConfig               `yaml:"remote"`
	Search    SearchConfig               `yaml:"search"`
	Identity  IdentityConfig             `yaml:"identity"`
	Store     StoreConfig                `yaml:"store"`
	NATS      NATSConfig                 `yaml:"nats"`
	Web       WebConfig                  `yaml:"web"`
	Scheduler SchedulerConfig            `yaml:"scheduler"`
	Session   SessionConfig              `yaml:"session"`
	Agents    map[string]AgentDefinition `yaml:"agents"`
}

// RemoteConfig points at the assistants service hosting agents, threads
// and runs.
type RemoteConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	APIKey       string        `yaml:"api_key"`
	APIVersion   string        `yaml:"api_version"`
	Model        string        `yaml:"model"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SearchConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	Index        string   `yaml:"index"`
	APIKey       string   `yaml:"api_key"`
	ContextPaths []string `yaml:"context_paths"`
	MaxResults   int      `yaml:"max_results"`
}

type IdentityConfig struct {
	Path string `yaml:"path"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	Port       int    `yaml:"port"`
	DataDir    string `yaml:"data_dir"`
	JetStream  bool   `yaml:"jetstream"`
	MaxPayload int    `yaml:"max_payload"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SessionConfig carries the group-session closing protocol: the token that
// ends a session and the marker pair bounding the extractable output.
type SessionConfig struct {
	TerminationToken string `yaml:"termination_token"`
	MaxMessages      int    `yaml:"max_messages"`
	StartMarker      string `yaml:"start_marker"`
	EndMarker        string `yaml:"end_marker"`
}

// AgentDefinition declares a logical agent seeded at startup: its role text
// and the documents it is grounded on.
type AgentDefinition struct {
	Role      string   `yaml:"role"`
	Documents []string `yaml:"documents"`
	Planner   bool     `yaml:"planner"`
}

func defaults() Config {
	return Config{
		Remote: RemoteConfig{
			APIVersion:   "2024-12-01-preview",
			Model:        "gpt-4o",
			PollInterval: time.Second,
		},
		Search: SearchConfig{
			MaxResults: 3,
		},
		Identity: IdentityConfig{
			Path: "data/agents.json",
		},
		Store: StoreConfig{
			Path: "data/regcollab.db",
		},
		NATS: NATSConfig{
			Port:      4222,
			DataDir:   "data/nats",
			JetStream: true,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Session: SessionConfig{
			TerminationToken: "TERMINATE",
			MaxMessages:      10,
			StartMarker:      "SUMMARY END, TASK OUTPUT START",
			EndMarker:        "TASK OUTPUT END, TERMINATE",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("REGCOLLAB_CONFIG")
	if path == "" {
		path = "config/regcollab.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REGCOLLAB_REMOTE_ENDPOINT"); v != "" {
		cfg.Remote.Endpoint = v
	}
	if v := os.Getenv("REGCOLLAB_REMOTE_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("AZURE_SEARCH_ENDPOINT"); v != "" {
		cfg.Search.Endpoint = v
	}
	if v := os.Getenv("AZURE_SEARCH_INDEX_NAME"); v != "" {
		cfg.Search.Index = v
	}
	if v := os.Getenv("AZURE_SEARCH_ADMIN_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("REGCOLLAB_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("REGCOLLAB_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("REGCOLLAB_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("REGCOLLAB_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REGCOLLAB_IDENTITY_PATH"); v != "" {
		cfg.Identity.Path = v
	}
}
