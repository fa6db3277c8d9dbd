package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

type Configuration struct {
	ApiPort  string `json:"api_port"`
	LogPath  string `json:"log_path"`
	LogLevel string `json:"log_level"`

	Database string `json:"database"` // "sqlite3", "postgres" or "memory"
	DbPath   string `json:"db_path"`
	DbHost   string `json:"db_host"`
	DbPort   string `json:"db_port"`
	DbUser   string `json:"db_user"`
	DbName   string `json:"db_name"`
	DbPass   string `json:"db_pass"`
	DbDebug  bool   `json:"db_debug"`

	Batching struct {
		WindowMs          int   `json:"window_ms"`
		MailboxTTLSeconds int   `json:"mailbox_ttl_seconds"`
		FixedTTL          bool  `json:"fixed_ttl"`
		Workers           int   `json:"workers"`
		QueueSize         int   `json:"queue_size"`
		MaxInFlight       int64 `json:"max_in_flight"`
		ShutdownGraceSec  int   `json:"shutdown_grace_seconds"`
		SweepIntervalSec  int   `json:"sweep_interval_seconds"`
		DispatchTimeoutS  int   `json:"dispatch_timeout_seconds"`
	} `json:"batching"`

	History struct {
		Keep     int `json:"keep"`
		TTLHours int `json:"ttl_hours"`
		Limit    int `json:"limit"`
	} `json:"history"`

	OpenAI struct {
		ApiKey          string `json:"api_key"`
		BaseURL         string `json:"base_url"`
		Model           string `json:"model"`
		SystemPrompt    string `json:"system_prompt"`
		PromptID        string `json:"prompt_id"`
		PromptVersion   string `json:"prompt_version"`
		MaxOutputTokens int    `json:"max_output_tokens"`
	} `json:"openai"`

	Evolution struct {
		ServerURL string `json:"server_url"`
		Instance  string `json:"instance"`
		ApiKey    string `json:"api_key"`
	} `json:"evolution"`

	Webhook struct {
		// AuthorizedNumbers restricts who gets answered. Empty allows everyone.
		AuthorizedNumbers []string `json:"authorized_numbers"`
		Secret            string   `json:"secret"`
		RateLimitRPM      int      `json:"rate_limit_rpm"`
		RateLimitBurst    int      `json:"rate_limit_burst"`
	} `json:"webhook"`

	// AdminToken guards the conversation inspection endpoints. Empty leaves
	// them open.
	AdminToken string `json:"admin_token"`

	// DryRun logs replies instead of sending them.
	DryRun bool `json:"dry_run"`
}

// Default returns the configuration used when no file is present.
func Default() Configuration {
	var c Configuration
	c.setDefaults()
	return c
}

// Load reads a JSON5 file, fills defaults and overlays the environment.
// A missing file is not an error.
func Load(path string) (Configuration, error) {
	var c Configuration

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(b, &c); err != nil {
			return Configuration{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return Configuration{}, fmt.Errorf("read config %s: %w", path, err)
	}

	c.applyEnvOverrides()
	c.setDefaults()
	return c, nil
}

// setDefaults (pra evitar nil/zero chato)
func (c *Configuration) setDefaults() {
	if c.ApiPort == "" {
		c.ApiPort = "8080"
	}
	if c.LogPath == "" {
		c.LogPath = "logs/server.log"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database == "" {
		c.Database = "sqlite3"
	}
	if c.DbPath == "" {
		c.DbPath = "db/database.db"
	}

	if c.Batching.WindowMs <= 0 {
		c.Batching.WindowMs = 3000
	}
	if c.Batching.MailboxTTLSeconds <= 0 {
		c.Batching.MailboxTTLSeconds = 60
	}
	if c.Batching.Workers <= 0 {
		c.Batching.Workers = 10
	}
	if c.Batching.ShutdownGraceSec <= 0 {
		c.Batching.ShutdownGraceSec = 10
	}
	if c.Batching.SweepIntervalSec <= 0 {
		c.Batching.SweepIntervalSec = 30
	}
	if c.Batching.DispatchTimeoutS <= 0 {
		c.Batching.DispatchTimeoutS = 60
	}

	if c.History.Keep <= 0 {
		c.History.Keep = 100
	}
	if c.History.TTLHours <= 0 {
		c.History.TTLHours = 24
	}
	if c.History.Limit <= 0 {
		c.History.Limit = 50
	}

	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4.1-mini"
	}
	if c.OpenAI.SystemPrompt == "" {
		c.OpenAI.SystemPrompt = "Você é a Penélope, um chatbot útil, educado e direto. Responda em português do Brasil."
	}
	if c.OpenAI.MaxOutputTokens <= 0 {
		c.OpenAI.MaxOutputTokens = 2048
	}

	if c.Webhook.RateLimitRPM <= 0 {
		c.Webhook.RateLimitRPM = 600
	}
	if c.Webhook.RateLimitBurst <= 0 {
		c.Webhook.RateLimitBurst = 50
	}
}

// applyEnvOverrides overlays env vars onto the file values.
func (c *Configuration) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	envStr("PORT", &c.ApiPort)
	envStr("PENELOPE_LOG_LEVEL", &c.LogLevel)
	envStr("PENELOPE_LOG_PATH", &c.LogPath)
	envStr("PENELOPE_DATABASE", &c.Database)
	envStr("PENELOPE_DB_PATH", &c.DbPath)
	envStr("PENELOPE_DB_HOST", &c.DbHost)
	envStr("PENELOPE_DB_PORT", &c.DbPort)
	envStr("PENELOPE_DB_USER", &c.DbUser)
	envStr("PENELOPE_DB_NAME", &c.DbName)
	envStr("PENELOPE_DB_PASS", &c.DbPass)

	envInt("PENELOPE_WINDOW_MS", &c.Batching.WindowMs)
	envInt("PENELOPE_WORKERS", &c.Batching.Workers)
	envInt("PENELOPE_MAILBOX_TTL_SECONDS", &c.Batching.MailboxTTLSeconds)

	envStr("OPENAI_API_KEY", &c.OpenAI.ApiKey)
	envStr("OPENAI_MODEL", &c.OpenAI.Model)
	envStr("OPENAI_SYSTEM_PROMPT", &c.OpenAI.SystemPrompt)
	envStr("OPENAI_PROMPT_ID", &c.OpenAI.PromptID)
	envStr("OPENAI_PROMPT_VERSION", &c.OpenAI.PromptVersion)

	envStr("EVOLUTION_SERVER_URL", &c.Evolution.ServerURL)
	envStr("EVOLUTION_INSTANCE", &c.Evolution.Instance)
	envStr("EVOLUTION_API_KEY", &c.Evolution.ApiKey)

	envStr("PENELOPE_WEBHOOK_SECRET", &c.Webhook.Secret)
	envStr("PENELOPE_ADMIN_TOKEN", &c.AdminToken)
	if v := strings.TrimSpace(os.Getenv("PENELOPE_AUTHORIZED_NUMBERS")); v != "" {
		c.Webhook.AuthorizedNumbers = nil
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				c.Webhook.AuthorizedNumbers = append(c.Webhook.AuthorizedNumbers, n)
			}
		}
	}

	envBool("POC_NO_WHATSAPP", &c.DryRun)
}

func (c Configuration) Window() time.Duration {
	return time.Duration(c.Batching.WindowMs) * time.Millisecond
}

func (c Configuration) MailboxTTL() time.Duration {
	return time.Duration(c.Batching.MailboxTTLSeconds) * time.Second
}

func (c Configuration) ShutdownGrace() time.Duration {
	return time.Duration(c.Batching.ShutdownGraceSec) * time.Second
}

func (c Configuration) SweepInterval() time.Duration {
	return time.Duration(c.Batching.SweepIntervalSec) * time.Second
}

func (c Configuration) DispatchTimeout() time.Duration {
	return time.Duration(c.Batching.DispatchTimeoutS) * time.Second
}

func (c Configuration) HistoryTTL() time.Duration {
	return time.Duration(c.History.TTLHours) * time.Hour
}

// Logger builds the process logger: text to stdout and, when LogPath is set,
// to that file as well. The returned closer releases the file.
func (c Configuration) Logger(verbose bool) (*slog.Logger, io.Closer, error) {
	level := ParseLevel(c.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if c.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer, nil
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
