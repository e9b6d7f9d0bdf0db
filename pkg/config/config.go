package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Log         LogConfig                `toml:"log"`
	Store       StoreConfig              `toml:"store"`
	Status      StatusConfig             `toml:"status"`
	Tracing     TracingConfig            `toml:"tracing"`
	Credentials CredentialsConfig        `toml:"credentials"`
	Channels    map[string]ChannelConfig `toml:"channels"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type StoreConfig struct {
	DSN string `toml:"dsn"`
}

// StatusConfig controls the read-only status listener.
type StatusConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type TracingConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

type CredentialsConfig struct {
	MasterKeyEnv string `toml:"master_key_env"`
}

// ChannelConfig is one [channels.<name>] table. Type selects the adapter and
// defaults to the table name.
type ChannelConfig struct {
	Type    string `toml:"type"`
	Enabled bool   `toml:"enabled"`

	Token       string `toml:"token"`
	TokenEnv    string `toml:"token_env"`
	TokenSecret string `toml:"token_secret"`

	AppToken       string `toml:"app_token"`
	AppTokenEnv    string `toml:"app_token_env"`
	AppTokenSecret string `toml:"app_token_secret"`

	SessionDB      string `toml:"session_db"`
	ReconnectDelay string `toml:"reconnect_delay"`
	QRImagePath    string `toml:"qr_image_path"`

	ThreadArchiveMinutes int `toml:"thread_archive_minutes"`

	Homeserver string `toml:"homeserver"`
	UserID     string `toml:"user_id"`
}

// Adapter kinds accepted in ChannelConfig.Type.
const (
	KindWhatsApp = "whatsapp"
	KindDiscord  = "discord"
	KindTelegram = "telegram"
	KindSlack    = "slack"
	KindMatrix   = "matrix"
)

var kinds = map[string]bool{
	KindWhatsApp: true,
	KindDiscord:  true,
	KindTelegram: true,
	KindSlack:    true,
	KindMatrix:   true,
}

// Thread auto archive durations Discord accepts, in minutes.
var archiveDurations = map[int]bool{60: true, 1440: true, 4320: true, 10080: true}

func (c ChannelConfig) Kind(name string) string {
	if c.Type != "" {
		return strings.ToLower(c.Type)
	}
	return strings.ToLower(name)
}

// Delay parses ReconnectDelay. An empty value yields zero, which adapters
// replace with their default.
func (c ChannelConfig) Delay() (time.Duration, error) {
	if c.ReconnectDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ReconnectDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid reconnect_delay %q: %w", c.ReconnectDelay, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("reconnect_delay must not be negative")
	}
	return d, nil
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			DSN: filepath.Join(DataDir(), "relay.db"),
		},
		Status: StatusConfig{
			Bind: "loopback",
			Port: 18790,
		},
		Credentials: CredentialsConfig{
			MasterKeyEnv: "RELAY_MASTER_KEY",
		},
		Channels: map[string]ChannelConfig{},
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(DataDir(), "relay.db")
	}
	if cfg.Channels == nil {
		cfg.Channels = map[string]ChannelConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

// Validate checks every channel table and the status listener.
func (c *Config) Validate() error {
	var errs []error
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		errs = append(errs, fmt.Errorf("status.port %d out of range", c.Status.Port))
	}
	for _, name := range c.ChannelNames() {
		ch := c.Channels[name]
		kind := ch.Kind(name)
		if !kinds[kind] {
			errs = append(errs, fmt.Errorf("channels.%s: unknown type %q", name, kind))
			continue
		}
		if _, err := ch.Delay(); err != nil {
			errs = append(errs, fmt.Errorf("channels.%s: %w", name, err))
		}
		if ch.ThreadArchiveMinutes != 0 && !archiveDurations[ch.ThreadArchiveMinutes] {
			errs = append(errs, fmt.Errorf("channels.%s: thread_archive_minutes must be 60, 1440, 4320 or 10080", name))
		}
		if kind == KindMatrix && ch.Enabled && (ch.Homeserver == "" || ch.UserID == "") {
			errs = append(errs, fmt.Errorf("channels.%s: homeserver and user_id are required", name))
		}
	}
	return errors.Join(errs...)
}

// ChannelNames returns the configured channel names in sorted order.
func (c *Config) ChannelNames() []string {
	names := make([]string, 0, len(c.Channels))
	for name := range c.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func DataDir() string {
	if dir := os.Getenv("RELAY_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".relay")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "relay.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}

// SecretGetter resolves named encrypted secrets.
type SecretGetter interface {
	Get(ctx context.Context, name string) (string, error)
}

var ErrNoToken = errors.New("no token configured")

// ResolveToken returns the first non-empty source: the inline value, the
// named environment variable, then the named secret.
func ResolveToken(ctx context.Context, inline, env, secret string, secrets SecretGetter) (string, error) {
	if v := strings.TrimSpace(inline); v != "" {
		return v, nil
	}
	if env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v, nil
		}
	}
	if secret != "" {
		if secrets == nil {
			return "", fmt.Errorf("secret %q requested but no secret store is configured", secret)
		}
		v, err := secrets.Get(ctx, secret)
		if err != nil {
			return "", fmt.Errorf("resolving secret %q: %w", secret, err)
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", ErrNoToken
}
