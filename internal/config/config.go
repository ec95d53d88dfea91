package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config represents runtime configuration for the gateway, the annotator and the CLI.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Bot         BotConfig                 `json:"bot"`
	Speech      SpeechConfig              `json:"speech"`
	Annotator   AnnotatorConfig           `json:"annotator"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Log         LogConfig                 `json:"log"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	Environment       string `json:"environment"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // seconds
}

// BotConfig describes how the dialogue backend is reached.
type BotConfig struct {
	// Host is the environment-provided backend host; when empty the base URL is
	// derived from the page host plus PathPrefix.
	Host           string `json:"host"`
	PathPrefix     string `json:"path_prefix"`
	Sender         string `json:"sender"`
	Conversation   string `json:"conversation"`
	FallbackReply  string `json:"fallback_reply"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type SpeechConfig struct {
	Locale        string   `json:"locale"`
	Model         string   `json:"model"`
	APIKey        string   `json:"api_key"`
	RecordCommand []string `json:"record_command"`
	MimeType      string   `json:"mime_type"`
}

type AnnotatorConfig struct {
	ServerAddress  string `json:"server_address"`
	APIBase        string `json:"api_base"`
	ParserURL      string `json:"parser_url"`
	PendingFile    string `json:"pending_file"`
	RelationsFile  string `json:"relations_file"`
	MinTokens      int    `json:"min_tokens"`
	DatabaseDriver string `json:"database_driver"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LogConfig struct {
	Level string `json:"level"`
}

// envOverrides lists the values that may be overridden from the environment
// (or a .env file next to the binary).
type envOverrides struct {
	Environment  string `envconfig:"PEPPER_ENV"`
	Address      string `envconfig:"PEPPER_ADDR"`
	LogLevel     string `envconfig:"PEPPER_LOG_LEVEL"`
	BotURL       string `envconfig:"PEPPER_BOT_URL"`
	Sender       string `envconfig:"PEPPER_SENDER"`
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	AnnotatorURL string `envconfig:"PEPPER_ANNOTATOR_URL"`
	ParserURL    string `envconfig:"PEPPER_PARSER_URL"`
	RedisHost    string `envconfig:"PEPPER_REDIS_HOST"`
	RedisPort    int    `envconfig:"PEPPER_REDIS_PORT"`
}

// Load reads configuration from the provided path (defaults to config.json) and
// applies environment overrides. A missing file is not an error: defaults and
// the environment are enough to run the CLI.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	// .env is optional
	_ = godotenv.Load(filepath.Join(filepath.Dir(absPath), ".env"))
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	cfg.apply(env)
	cfg.setDefaults()

	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	return &cfg, nil
}

func (c *Config) apply(env envOverrides) {
	if env.Environment != "" {
		c.BasicConfig.Environment = env.Environment
	}
	if env.Address != "" {
		c.BasicConfig.ServerAddress = env.Address
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.BotURL != "" {
		c.Bot.Host = env.BotURL
	}
	if env.Sender != "" {
		c.Bot.Sender = env.Sender
	}
	if env.GeminiAPIKey != "" {
		c.Speech.APIKey = env.GeminiAPIKey
	}
	if env.AnnotatorURL != "" {
		c.Annotator.APIBase = env.AnnotatorURL
	}
	if env.ParserURL != "" {
		c.Annotator.ParserURL = env.ParserURL
	}
	if env.RedisHost != "" {
		c.Redis.Host = env.RedisHost
	}
	if env.RedisPort != 0 {
		c.Redis.Port = env.RedisPort
	}
}

func (c *Config) setDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.MinWorkers <= 0 {
		c.BasicConfig.MinWorkers = 2
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		c.BasicConfig.MaxWorkers = c.BasicConfig.MinWorkers * 4
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 64
	}
	if c.Bot.PathPrefix == "" {
		c.Bot.PathPrefix = "/rasa"
	}
	if c.Bot.Sender == "" {
		c.Bot.Sender = "default"
	}
	if c.Bot.Conversation == "" {
		c.Bot.Conversation = "0"
	}
	if c.Speech.Locale == "" {
		c.Speech.Locale = "ro-RO"
	}
	if c.Speech.Model == "" {
		c.Speech.Model = "gemini-2.5-flash"
	}
	if c.Speech.MimeType == "" {
		c.Speech.MimeType = "audio/wav"
	}
	if c.Annotator.ServerAddress == "" {
		c.Annotator.ServerAddress = ":3333"
	}
	if c.Annotator.APIBase == "" {
		c.Annotator.APIBase = "http://localhost:3333"
	}
	if c.Annotator.MinTokens <= 0 {
		c.Annotator.MinTokens = 3
	}
	if c.Annotator.DatabaseDriver == "" {
		c.Annotator.DatabaseDriver = "sqlite3"
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "data/pepper.db"}
	}
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
