package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DataDir       string `mapstructure:"data_dir"`
	LogLevel      string `mapstructure:"log_level"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	Snapshot      struct {
		Backend string `mapstructure:"backend"`
	} `mapstructure:"snapshot"`
	Discord struct {
		Token          string `mapstructure:"token"`
		GuildID        string `mapstructure:"guild_id"`
		ClipsChannelID string `mapstructure:"clips_channel_id"`
	} `mapstructure:"discord"`
	Telegram struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"telegram"`
	Lavalink struct {
		URL            string        `mapstructure:"url"`
		Password       string        `mapstructure:"password"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"lavalink"`
	Music struct {
		ChannelName    string        `mapstructure:"channel_name"`
		IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
		IdleImage      string        `mapstructure:"idle_image"`
		QueuePreview   int           `mapstructure:"queue_preview"`
		CleanupOnEmpty bool          `mapstructure:"cleanup_on_empty"`
	} `mapstructure:"music"`
	Steam struct {
		APIKey         string        `mapstructure:"api_key"`
		PollInterval   time.Duration `mapstructure:"poll_interval"`
		CacheTTL       time.Duration `mapstructure:"cache_ttl"`
		TrackedGames   []string      `mapstructure:"tracked_games"`
		NotifyLaunches bool          `mapstructure:"notify_launches"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"steam"`
	Scoreboard struct {
		ChannelID string `mapstructure:"channel_id"`
	} `mapstructure:"scoreboard"`
	Nickname struct {
		Duration       time.Duration `mapstructure:"duration"`
		MaxThemeTokens int           `mapstructure:"max_theme_tokens"`
	} `mapstructure:"nickname"`
	LLM struct {
		BaseURL     string  `mapstructure:"base_url"`
		APIKey      string  `mapstructure:"api_key"`
		Model       string  `mapstructure:"model"`
		MaxTokens   int     `mapstructure:"max_tokens"`
		Temperature float32 `mapstructure:"temperature"`
	} `mapstructure:"llm"`
	HTTP struct {
		Enabled bool   `mapstructure:"enabled"`
		Listen  string `mapstructure:"listen"`
	} `mapstructure:"http"`
}

// DefaultPath returns ~/.stevebot/config.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".stevebot", "config.json")
}

// Defaults returns the default value of every known key. Durations are
// strings so the file stays readable.
func Defaults() map[string]any {
	home, _ := os.UserHomeDir()
	return map[string]any{
		"data_dir":                  filepath.Join(home, ".stevebot"),
		"log_level":                 "info",
		"max_concurrent":            4,
		"snapshot.backend":          "file",
		"discord.token":             "",
		"discord.guild_id":          "",
		"discord.clips_channel_id":  "",
		"telegram.token":            "",
		"lavalink.url":              "http://localhost:2333",
		"lavalink.password":         "youshallnotpass",
		"lavalink.connect_timeout":  "15s",
		"music.channel_name":        "steve-music",
		"music.idle_timeout":        "10m",
		"music.idle_image":          "",
		"music.queue_preview":       5,
		"music.cleanup_on_empty":    false,
		"steam.api_key":             "",
		"steam.poll_interval":       "60s",
		"steam.cache_ttl":           "120s",
		"steam.tracked_games":       []string{"squad", "dayz", "rainbow six siege"},
		"steam.notify_launches":     true,
		"steam.request_timeout":     "15s",
		"scoreboard.channel_id":     "",
		"nickname.duration":         "5m",
		"nickname.max_theme_tokens": 64,
		"llm.base_url":              "https://api.openai.com/v1",
		"llm.api_key":               "",
		"llm.model":                 "gpt-4o-mini",
		"llm.max_tokens":            400,
		"llm.temperature":           0.9,
		"http.enabled":              false,
		"http.listen":               "127.0.0.1:8787",
	}
}

// envBindings maps keys to the environment variables that override them, in
// order of precedence.
var envBindings = map[string][]string{
	"discord.token":         {"STEVE_TOKEN", "DISCORD_TOKEN"},
	"telegram.token":        {"TELEGRAM_BOT_TOKEN"},
	"steam.api_key":         {"STEAM_API_KEY"},
	"llm.api_key":           {"OPENAI_API_KEY"},
	"llm.base_url":          {"OPENAI_BASE_URL"},
	"lavalink.password":     {"LAVALINK_PASSWORD"},
	"scoreboard.channel_id": {"SCOREBOARD_CHANNEL_ID"},
}

// newViper builds a viper instance over path with defaults and env bindings.
// A missing file is created with the defaults.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}
	for k, envs := range envBindings {
		if err := v.BindEnv(append([]string{k}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", k, err)
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, Unflatten(Defaults())); err != nil {
			return nil, err
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// Load reads the config at path, writing defaults first when it is missing.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ListValues returns every effective setting as flat dot-separated keys.
func ListValues(path string, mask bool) (map[string]any, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	flat := Flatten(v.AllSettings())
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value stored in the file under key.
func GetValue(path, key string) (any, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under key. Keys whose default is a string are stored
// verbatim so ids and passwords that look numeric survive. Other values that
// parse as JSON keep their type; anything else is stored as a string.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	var parsed any = value
	if _, isString := Defaults()[key].(string); !isString {
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			parsed = typed
		}
	}
	flat := Flatten(raw)
	flat[key] = parsed
	return Save(path, Unflatten(flat))
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return raw, nil
}

// Save writes values to path as indented JSON, atomically.
func Save(path string, values map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
