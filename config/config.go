package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rustyeddy/vtrader/broker"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the config file is read.
const (
	EnvFinnhubToken = "VTRADER_FINNHUB_TOKEN"
	EnvOandaToken   = "VTRADER_OANDA_TOKEN"
	EnvDBDSN        = "VTRADER_DB_DSN"
	EnvHTTPAddr     = "VTRADER_HTTP_ADDR"
)

const (
	ProviderFinnhub   = "finnhub"
	ProviderOanda     = "oanda"
	ProviderSynthetic = "synthetic"

	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config represents the complete service configuration
type Config struct {
	Account AccountConfig `json:"account" yaml:"account"`
	Feed    FeedConfig    `json:"feed" yaml:"feed"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Sweep   SweepConfig   `json:"sweep" yaml:"sweep"`
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// AccountConfig applies to accounts created on first use
type AccountConfig struct {
	StartingBalance float64 `json:"starting_balance" yaml:"starting_balance"`
	Leverage        int     `json:"leverage" yaml:"leverage"`
}

// FeedConfig selects the live price source
type FeedConfig struct {
	Provider         string   `json:"provider" yaml:"provider"` // "finnhub", "oanda" or "synthetic"
	URL              string   `json:"url,omitempty" yaml:"url,omitempty"`
	Token            string   `json:"token,omitempty" yaml:"token,omitempty"`
	AccountID        string   `json:"account_id,omitempty" yaml:"account_id,omitempty"` // oanda only
	Symbols          []string `json:"symbols,omitempty" yaml:"symbols,omitempty"`
	TickInterval     Duration `json:"tick_interval" yaml:"tick_interval"`
	StaleAfter       Duration `json:"stale_after" yaml:"stale_after"`
	SubscribeTimeout Duration `json:"subscribe_timeout" yaml:"subscribe_timeout"`
	MaxReconnects    int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectDelay   Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
}

// StoreConfig contains persistence parameters
type StoreConfig struct {
	Type    string   `json:"type" yaml:"type"` // "sqlite", "postgres" or "memory"
	DBPath  string   `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DSN     string   `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// SweepConfig controls the periodic refresh of every account
type SweepConfig struct {
	Interval     Duration `json:"interval" yaml:"interval"`
	EnforceStops bool     `json:"enforce_stops" yaml:"enforce_stops"`
	RecordEquity bool     `json:"record_equity" yaml:"record_equity"`
}

type HTTPConfig struct {
	Addr   string `json:"addr" yaml:"addr"`
	Origin string `json:"origin,omitempty" yaml:"origin,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// Duration reads and writes as a Go duration string such as "30s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.set(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads path, or starts from Default when path is empty, then
// applies the environment and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return finish(Default())
	}
	return LoadFromFile(path)
}

// LoadFromFile loads configuration from a file (JSON or YAML). Fields the
// file leaves out keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// LoadEnv reads a dotenv file into the process environment without
// overriding variables that are already set. A missing default ".env"
// is not an error.
func LoadEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides secrets and addresses from the environment. The
// token variable follows the feed provider.
func (c *Config) ApplyEnv() {
	tokenEnv := EnvFinnhubToken
	if c.Feed.Provider == ProviderOanda {
		tokenEnv = EnvOandaToken
	}
	if v := os.Getenv(tokenEnv); v != "" {
		c.Feed.Token = v
	}
	if v := os.Getenv(EnvDBDSN); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.StartingBalance <= 0 {
		return fmt.Errorf("account.starting_balance must be positive")
	}
	if c.Account.Leverage < 1 {
		return fmt.Errorf("account.leverage must be at least 1")
	}

	switch c.Feed.Provider {
	case ProviderSynthetic:
	case ProviderFinnhub:
		if c.Feed.Token == "" {
			return fmt.Errorf("feed.token (or %s) is required for finnhub", EnvFinnhubToken)
		}
	case ProviderOanda:
		if c.Feed.Token == "" {
			return fmt.Errorf("feed.token (or %s) is required for oanda", EnvOandaToken)
		}
		if c.Feed.AccountID == "" {
			return fmt.Errorf("feed.account_id is required for oanda")
		}
	default:
		return fmt.Errorf("feed.provider must be '%s', '%s' or '%s'", ProviderFinnhub, ProviderOanda, ProviderSynthetic)
	}
	for _, s := range c.Feed.Symbols {
		if _, err := broker.NormalizeSymbol(s); err != nil {
			return fmt.Errorf("feed.symbols: %w", err)
		}
	}
	if c.Feed.TickInterval <= 0 || c.Feed.StaleAfter <= 0 || c.Feed.SubscribeTimeout <= 0 {
		return fmt.Errorf("feed intervals must be positive")
	}
	if c.Feed.MaxReconnects < 0 {
		return fmt.Errorf("feed.max_reconnects must not be negative")
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("store db_path required for SQLite type")
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn (or %s) required for Postgres type", EnvDBDSN)
		}
	default:
		return fmt.Errorf("store.type must be 'sqlite', 'postgres' or 'memory'")
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store.timeout must be positive")
	}

	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			StartingBalance: 1000,
			Leverage:        100,
		},
		Feed: FeedConfig{
			Provider:         ProviderSynthetic,
			Symbols:          []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD", "USDCAD", "USDCHF", "NZDUSD"},
			TickInterval:     Duration(time.Second),
			StaleAfter:       Duration(5 * time.Second),
			SubscribeTimeout: Duration(5 * time.Second),
			MaxReconnects:    5,
			ReconnectDelay:   Duration(3 * time.Second),
		},
		Store: StoreConfig{
			Type:    StoreSQLite,
			DBPath:  "./vtrader.db",
			Timeout: Duration(5 * time.Second),
		},
		Sweep: SweepConfig{
			Interval:     Duration(30 * time.Second),
			EnforceStops: true,
			RecordEquity: true,
		},
		HTTP: HTTPConfig{
			Addr:   ":8080",
			Origin: "*",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
