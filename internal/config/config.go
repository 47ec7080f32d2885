package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel kinds.
const (
	ChannelBrowser  = "browser"
	ChannelTelegram = "telegram"
	ChannelDummy    = "dummy"
)

// FileName is the config file looked up in the config directory.
const FileName = "config.yaml"

// Config holds the full process configuration.
type Config struct {
	Channel      string `yaml:"channel"`
	WorkspaceDir string `yaml:"workspace_dir"`
	MemoryDir    string `yaml:"memory_dir"`
	LogsDir      string `yaml:"logs_dir"`
	DBPath       string `yaml:"db_path"`

	Loop     LoopConfig     `yaml:"loop"`
	Command  CommandConfig  `yaml:"command"`
	Browser  BrowserConfig  `yaml:"browser"`
	Telegram TelegramConfig `yaml:"telegram"`
	Dummy    DummyConfig    `yaml:"dummy"`

	Verbose bool `yaml:"verbose"`
}

type LoopConfig struct {
	IntervalSeconds    int    `yaml:"interval_seconds"`
	RefreshEvery       int    `yaml:"refresh_every"`
	HistorySize        int    `yaml:"history_size"`
	ChunkDelaySeconds  int    `yaml:"chunk_delay_seconds"`
	SettleDelaySeconds int    `yaml:"settle_delay_seconds"`
	Greeting           string `yaml:"greeting"`
}

type CommandConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Shell          string `yaml:"shell"`
	MaxOutputLines int    `yaml:"max_output_lines"`
	MaxOutputBytes int    `yaml:"max_output_bytes"`
	// Denylist is a comma separated list of substrings.
	Denylist string `yaml:"denylist"`
}

type BrowserConfig struct {
	DebuggerAddr             string   `yaml:"debugger_addr"`
	ChatURL                  string   `yaml:"chat_url"`
	Headless                 bool     `yaml:"headless"`
	Bin                      string   `yaml:"bin"`
	InputSelectors           []string `yaml:"input_selectors"`
	SendSelectors            []string `yaml:"send_selectors"`
	ResponseSelectors        []string `yaml:"response_selectors"`
	NavigationTimeoutSeconds int      `yaml:"navigation_timeout_seconds"`
}

type TelegramConfig struct {
	Token                 string `yaml:"token"`
	APIBase               string `yaml:"api_base"`
	ChatID                int64  `yaml:"chat_id"`
	PollTimeoutSeconds    int    `yaml:"poll_timeout_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	TranscriptSize        int    `yaml:"transcript_size"`
}

type DummyConfig struct {
	PollScript string `yaml:"poll_script"`
	SendScript string `yaml:"send_script"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Channel:      ChannelBrowser,
		WorkspaceDir: ".",
		MemoryDir:    "memory",
		LogsDir:      filepath.Join("logs", "server_log"),
		DBPath:       filepath.Join("state", "parley.db"),
		Loop: LoopConfig{
			IntervalSeconds:    30,
			RefreshEvery:       10,
			HistorySize:        5,
			ChunkDelaySeconds:  3,
			SettleDelaySeconds: 10,
			Greeting:           "Hello! The relay is online and ready to talk. Sending instructions...",
		},
		Command: CommandConfig{
			TimeoutSeconds: 30,
			Shell:          "sh",
			MaxOutputLines: 2000,
			MaxOutputBytes: 51200,
		},
		Browser: BrowserConfig{
			DebuggerAddr:             "127.0.0.1:9222",
			ChatURL:                  "https://chatgpt.com/",
			NavigationTimeoutSeconds: 60,
		},
		Telegram: TelegramConfig{
			APIBase:               "https://api.telegram.org",
			PollTimeoutSeconds:    0,
			RequestTimeoutSeconds: 40,
			TranscriptSize:        50,
		},
		Dummy: DummyConfig{PollScript: "ok", SendScript: "ok"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (a
// missing file is not an error), PARLEY_* environment variables and
// finally overrides, then validates it. An empty path looks for
// config.yaml in the config dir.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	cfg := Default()

	if path == "" {
		dir, _, err := resolveConfigDir()
		if err == nil {
			path = filepath.Join(dir, FileName)
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Channel = envOrDefault("PARLEY_CHANNEL", c.Channel)
	c.WorkspaceDir = envOrDefault("PARLEY_WORKSPACE_DIR", c.WorkspaceDir)
	c.MemoryDir = envOrDefault("PARLEY_MEMORY_DIR", c.MemoryDir)
	c.LogsDir = envOrDefault("PARLEY_LOGS_DIR", c.LogsDir)
	c.DBPath = envOrDefault("PARLEY_DB_PATH", c.DBPath)
	c.Verbose = envBoolOrDefault("PARLEY_VERBOSE", c.Verbose)

	c.Loop.IntervalSeconds = envIntOrDefault("PARLEY_INTERVAL_SECONDS", c.Loop.IntervalSeconds)
	c.Loop.RefreshEvery = envIntOrDefault("PARLEY_REFRESH_EVERY", c.Loop.RefreshEvery)
	c.Loop.HistorySize = envIntOrDefault("PARLEY_HISTORY_SIZE", c.Loop.HistorySize)
	c.Loop.ChunkDelaySeconds = envIntOrDefault("PARLEY_CHUNK_DELAY_SECONDS", c.Loop.ChunkDelaySeconds)
	c.Loop.SettleDelaySeconds = envIntOrDefault("PARLEY_SETTLE_DELAY_SECONDS", c.Loop.SettleDelaySeconds)
	c.Loop.Greeting = envOrDefault("PARLEY_GREETING", c.Loop.Greeting)

	c.Command.TimeoutSeconds = envIntOrDefault("PARLEY_COMMAND_TIMEOUT_SECONDS", c.Command.TimeoutSeconds)
	c.Command.Shell = envOrDefault("PARLEY_COMMAND_SHELL", c.Command.Shell)
	c.Command.MaxOutputLines = envIntOrDefault("PARLEY_COMMAND_MAX_OUTPUT_LINES", c.Command.MaxOutputLines)
	c.Command.MaxOutputBytes = envIntOrDefault("PARLEY_COMMAND_MAX_OUTPUT_BYTES", c.Command.MaxOutputBytes)
	c.Command.Denylist = envOrDefault("PARLEY_COMMAND_DENYLIST", c.Command.Denylist)

	c.Browser.DebuggerAddr = envOrDefault("PARLEY_BROWSER_DEBUGGER_ADDR", c.Browser.DebuggerAddr)
	c.Browser.ChatURL = envOrDefault("PARLEY_BROWSER_CHAT_URL", c.Browser.ChatURL)
	c.Browser.Headless = envBoolOrDefault("PARLEY_BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.Bin = envOrDefault("PARLEY_BROWSER_BIN", c.Browser.Bin)
	c.Browser.NavigationTimeoutSeconds = envIntOrDefault("PARLEY_BROWSER_NAVIGATION_TIMEOUT_SECONDS", c.Browser.NavigationTimeoutSeconds)

	c.Telegram.Token = envOrDefault("TELEGRAM_BOT_TOKEN", c.Telegram.Token)
	c.Telegram.APIBase = envOrDefault("PARLEY_TELEGRAM_API_BASE", c.Telegram.APIBase)
	c.Telegram.ChatID = envInt64OrDefault("PARLEY_TELEGRAM_CHAT_ID", c.Telegram.ChatID)
	c.Telegram.PollTimeoutSeconds = envIntOrDefault("PARLEY_TELEGRAM_POLL_TIMEOUT_SECONDS", c.Telegram.PollTimeoutSeconds)

	c.Dummy.PollScript = envOrDefault("PARLEY_DUMMY_POLL_SCRIPT", c.Dummy.PollScript)
	c.Dummy.SendScript = envOrDefault("PARLEY_DUMMY_SEND_SCRIPT", c.Dummy.SendScript)
}

// Validate checks ranges and channel requirements.
func (c Config) Validate() error {
	switch c.Channel {
	case ChannelBrowser, ChannelTelegram, ChannelDummy:
	default:
		return fmt.Errorf("PARLEY_CHANNEL must be one of %s, %s, %s; got %q", ChannelBrowser, ChannelTelegram, ChannelDummy, c.Channel)
	}
	if strings.TrimSpace(c.MemoryDir) == "" {
		return fmt.Errorf("PARLEY_MEMORY_DIR must not be empty")
	}
	if strings.TrimSpace(c.LogsDir) == "" {
		return fmt.Errorf("PARLEY_LOGS_DIR must not be empty")
	}
	if c.Loop.IntervalSeconds <= 0 {
		return fmt.Errorf("PARLEY_INTERVAL_SECONDS must be > 0")
	}
	if c.Loop.RefreshEvery <= 0 {
		return fmt.Errorf("PARLEY_REFRESH_EVERY must be > 0")
	}
	if c.Loop.HistorySize <= 0 {
		return fmt.Errorf("PARLEY_HISTORY_SIZE must be > 0")
	}
	if c.Loop.ChunkDelaySeconds < 0 || c.Loop.SettleDelaySeconds < 0 {
		return fmt.Errorf("PARLEY_CHUNK_DELAY_SECONDS and PARLEY_SETTLE_DELAY_SECONDS must be >= 0")
	}
	if c.Command.TimeoutSeconds <= 0 {
		return fmt.Errorf("PARLEY_COMMAND_TIMEOUT_SECONDS must be > 0")
	}
	if c.Command.MaxOutputLines <= 0 || c.Command.MaxOutputBytes <= 0 {
		return fmt.Errorf("PARLEY_COMMAND_MAX_OUTPUT_LINES and PARLEY_COMMAND_MAX_OUTPUT_BYTES must be > 0")
	}
	if c.Channel == ChannelTelegram {
		if c.Telegram.Token == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when PARLEY_CHANNEL=telegram")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("PARLEY_TELEGRAM_CHAT_ID is required when PARLEY_CHANNEL=telegram")
		}
	}
	return nil
}

// Paths returns the memory, log and database locations as absolute paths.
// Relative entries are taken from the workspace directory.
func (c Config) Paths() (workspace, memory, logs, dbPath string, err error) {
	workspace, err = filepath.Abs(c.WorkspaceDir)
	if err != nil {
		return "", "", "", "", fmt.Errorf("resolve workspace dir: %w", err)
	}
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(workspace, p)
	}
	return workspace, abs(c.MemoryDir), abs(c.LogsDir), abs(c.DBPath), nil
}

// DenylistEntries splits the command denylist.
func (c CommandConfig) DenylistEntries() []string {
	var out []string
	for _, p := range strings.Split(c.Denylist, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (l LoopConfig) Interval() time.Duration {
	return time.Duration(l.IntervalSeconds) * time.Second
}

func (l LoopConfig) ChunkDelay() time.Duration {
	return time.Duration(l.ChunkDelaySeconds) * time.Second
}

func (l LoopConfig) SettleDelay() time.Duration {
	return time.Duration(l.SettleDelaySeconds) * time.Second
}

// BotURL is the Bot API base including the token.
func (t TelegramConfig) BotURL() string {
	return strings.TrimRight(t.APIBase, "/") + "/bot" + t.Token
}

// resolveConfigDir picks PARLEY_CONFIG_DIR, then $XDG_CONFIG_HOME/parley,
// then ~/.config/parley. The boolean reports an explicit setting.
func resolveConfigDir() (string, bool, error) {
	if dir := os.Getenv("PARLEY_CONFIG_DIR"); dir != "" {
		return dir, true, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "parley"), false, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "parley"), false, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64OrDefault(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
