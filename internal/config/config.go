// Package config loads simbroker settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"simbroker/internal/validate"
)

// DefaultPath is used when SIMBROKER_CONFIG is unset.
const DefaultPath = "config/simbroker.yaml"

// Journal backends.
const (
	JournalNone    = "none"
	JournalSQLite  = "sqlite"
	JournalParquet = "parquet"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for simbroker.
type Config struct {
	Server    Server          `yaml:"server"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Storage   Storage         `yaml:"storage"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Trading   TradingConfig   `yaml:"trading"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Addr returns the REST listen address.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns the gRPC listen address.
func (s Server) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Storage selects the order journal backend.
type Storage struct {
	Journal    string `yaml:"journal"`
	SQLitePath string `yaml:"sqlite_path"`
	ParquetDir string `yaml:"parquet_dir"`
}

// SimulatorConfig seeds the simulated account and quote table.
type SimulatorConfig struct {
	InitialCash  float64            `yaml:"initial_cash"`
	DefaultPrice float64            `yaml:"default_price"`
	Prices       map[string]float64 `yaml:"prices"`
}

// Cash returns InitialCash as a decimal.
func (s SimulatorConfig) Cash() decimal.Decimal { return decimal.NewFromFloat(s.InitialCash) }

// Default returns DefaultPrice as a decimal.
func (s SimulatorConfig) Default() decimal.Decimal { return decimal.NewFromFloat(s.DefaultPrice) }

// QuoteTable returns the seeded prices keyed by uppercase ticker.
func (s SimulatorConfig) QuoteTable() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.Prices))
	for sym, p := range s.Prices {
		out[strings.ToUpper(strings.TrimSpace(sym))] = decimal.NewFromFloat(p)
	}
	return out
}

// TradingConfig defines risk and execution parameters for simbroker-trader.
type TradingConfig struct {
	MaxPositionPct float64 `yaml:"max_position_pct"`
	PaperMode      bool    `yaml:"paper_mode"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		Server:  Server{Host: "127.0.0.1", Port: 8080, GRPCPort: 9090},
		Alpaca:  Alpaca{BaseURL: "https://paper-api.alpaca.markets", RateLimitPerMin: 200},
		Logging: Logging{Level: "info", Format: "json"},
		Storage: Storage{Journal: JournalNone, SQLitePath: "data/simbroker.db", ParquetDir: "data/journal"},
		Simulator: SimulatorConfig{
			InitialCash:  100000,
			DefaultPrice: 100,
		},
		Trading: TradingConfig{PaperMode: true},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns SIMBROKER_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("SIMBROKER_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// LoadEnvFile loads KEY=VALUE pairs from the given .env files into the
// process environment without overriding variables already set. Missing
// files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over Default(), applies environment
// overrides, and validates the result. A missing file yields the defaults
// plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the simulator cannot start with.
func (c *Config) Validate() error {
	if _, err := validate.Float("initial_cash", c.Simulator.InitialCash); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	if _, err := validate.Float("default_price", c.Simulator.DefaultPrice); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	for sym, p := range c.Simulator.Prices {
		if _, err := validate.Float("prices["+sym+"]", p); err != nil {
			return fmt.Errorf("simulator: %w", err)
		}
	}
	if _, err := validate.Float("max_position_pct", c.Trading.MaxPositionPct); err != nil {
		return fmt.Errorf("trading: %w", err)
	}
	if c.Simulator.InitialCash < 0 {
		return fmt.Errorf("simulator.initial_cash must be >= 0, got %v", c.Simulator.InitialCash)
	}
	if c.Simulator.DefaultPrice <= 0 {
		return fmt.Errorf("simulator.default_price must be > 0, got %v", c.Simulator.DefaultPrice)
	}
	for sym, p := range c.Simulator.Prices {
		if p <= 0 {
			return fmt.Errorf("simulator.prices[%s] must be > 0, got %v", sym, p)
		}
	}
	switch c.Storage.Journal {
	case "", JournalNone, JournalSQLite, JournalParquet:
	default:
		return fmt.Errorf("storage.journal must be one of none, sqlite, parquet; got %q", c.Storage.Journal)
	}
	if c.Trading.MaxPositionPct < 0 || c.Trading.MaxPositionPct > 100 {
		return fmt.Errorf("trading.max_position_pct must be within [0, 100], got %v", c.Trading.MaxPositionPct)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SIMBROKER_INITIAL_CASH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SIMBROKER_INITIAL_CASH: %w", err)
		}
		cfg.Simulator.InitialCash = f
	}
	if v := os.Getenv("SIMBROKER_JOURNAL"); v != "" {
		cfg.Storage.Journal = strings.ToLower(v)
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Canonical Alpaca SDK names win over the ALPACA_* aliases.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
