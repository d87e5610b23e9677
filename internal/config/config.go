package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	API       APIConfig       `mapstructure:"api"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	History   HistoryConfig   `mapstructure:"history"`
	Log       LogConfig       `mapstructure:"log"`
	DevServer DevServerConfig `mapstructure:"devserver"`
}

// GatewayConfig points the console at the agent gateway websocket.
type GatewayConfig struct {
	URL             string `mapstructure:"url"`
	Token           string `mapstructure:"token"`
	AgentInstanceID string `mapstructure:"agent_instance_id"`
}

// APIConfig covers the REST side: chat creation and history paging.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ReconnectConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

type HistoryConfig struct {
	PageSize int `mapstructure:"page_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DevServerConfig drives the bundled development gateway. Mode selects the
// reply engine: "script" and "openai" force one, "auto" relays only when an
// API key is configured.
type DevServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	StreamDelay  time.Duration `mapstructure:"stream_delay"`
	Mode         string        `mapstructure:"mode"`
	CORS         CORSConfig    `mapstructure:"cors"`
	OpenAI       OpenAIConfig  `mapstructure:"openai"`
	Storage      StorageConfig `mapstructure:"storage"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// OpenAIConfig enables the devserver's relay mode, where replies come from a
// real model instead of the built-in script.
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Type    string `mapstructure:"type"`
	DataDir string `mapstructure:"data_dir"`
}

// Load reads the YAML file at configPath. A missing file is not an error:
// defaults plus GLATA_* environment variables still produce a usable config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvPrefix("GLATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Secrets may live only in the environment.
	if cfg.Gateway.Token == "" {
		cfg.Gateway.Token = os.Getenv("GLATA_GATEWAY_TOKEN")
	}
	if cfg.API.Token == "" {
		cfg.API.Token = os.Getenv("GLATA_API_TOKEN")
		if cfg.API.Token == "" {
			cfg.API.Token = cfg.Gateway.Token
		}
	}
	if cfg.DevServer.OpenAI.APIKey == "" {
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			cfg.DevServer.OpenAI.APIKey = apiKey
		}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.url", "ws://localhost:8080/ws/chat/")
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("reconnect.initial_backoff", time.Second)
	v.SetDefault("reconnect.max_backoff", 30*time.Second)
	v.SetDefault("reconnect.max_attempts", 10)
	v.SetDefault("history.page_size", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "glata-console.log")
	v.SetDefault("devserver.port", 8080)
	v.SetDefault("devserver.read_timeout", 30*time.Second)
	v.SetDefault("devserver.write_timeout", 30*time.Second)
	v.SetDefault("devserver.stream_delay", 40*time.Millisecond)
	v.SetDefault("devserver.mode", "auto")
	v.SetDefault("devserver.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("devserver.openai.model", "gpt-4o-mini")
	v.SetDefault("devserver.openai.max_tokens", 1024)
	v.SetDefault("devserver.openai.temperature", 0.7)
	v.SetDefault("devserver.openai.timeout", 60*time.Second)
	v.SetDefault("devserver.storage.type", "memory")
	v.SetDefault("devserver.storage.data_dir", "./data")
}
