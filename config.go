package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Values are layered: defaults,
// then the YAML file named by --config (or PIXELS_CONFIG), then
// environment variables, then command-line flags.
type Config struct {
	Addr   string `yaml:"addr" env:"PIXELS_ADDR"`
	Port   string `yaml:"-" env:"PORT"`
	DBPath string `yaml:"db_path" env:"PIXELS_DB_PATH"`

	GridSize int    `yaml:"grid_size" env:"PIXELS_GRID_SIZE"`
	PriceETH string `yaml:"price_eth" env:"PIXELS_PRICE_ETH"`
	// Treasury receives every payment. It must differ from any buyer.
	Treasury string `yaml:"treasury" env:"PIXELS_TREASURY_ADDRESS"`

	ChainID      int64         `yaml:"chain_id" env:"PIXELS_CHAIN_ID"`
	ConfirmDelay time.Duration `yaml:"confirm_delay" env:"PIXELS_CONFIRM_DELAY"`
	FaucetETH    string        `yaml:"faucet_eth" env:"PIXELS_FAUCET_ETH"`

	SessionSecret string        `yaml:"-" env:"PIXELS_SESSION_SECRET"`
	SessionTTL    time.Duration `yaml:"session_ttl" env:"PIXELS_SESSION_TTL"`

	LogLevel     string `yaml:"log_level" env:"PIXELS_LOG_LEVEL"`
	OTelEndpoint string `yaml:"otel_endpoint" env:"PIXELS_OTEL_ENDPOINT"`

	GCPProjectID string `yaml:"gcp_project_id" env:"GCP_PROJECT_ID"`
	GCPRegion    string `yaml:"gcp_region" env:"GCP_REGION"`
	GeminiAPIKey string `yaml:"-" env:"GEMINI_API_KEY"`
	GeminiModel  string `yaml:"gemini_model" env:"PIXELS_GEMINI_MODEL"`
}

// Settings is a validated Config with parsed values.
type Settings struct {
	Addr         string
	DBPath       string
	GridSize     int
	PixelPrice   *big.Int
	Treasury     Address
	ChainID      int64
	ConfirmDelay time.Duration
	Faucet       *big.Int
	SessionTTL   time.Duration
	LogLevel     slog.Level
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		DBPath:       "pixelgrid.db",
		GridSize:     GridSize,
		PriceETH:     "0.0001",
		ChainID:      1337,
		ConfirmDelay: 2 * time.Second,
		FaucetETH:    "1",
		SessionTTL:   24 * time.Hour,
		LogLevel:     "info",
	}
}

// LoadConfig builds the configuration from args (without the program
// name). It returns pflag.ErrHelp when -h/--help is given.
func LoadConfig(args []string) (Config, error) {
	cfg := DefaultConfig()

	flagSet := pflag.NewFlagSet("pixelgrid", pflag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	configPath := flagSet.String("config", os.Getenv("PIXELS_CONFIG"), "path to a YAML configuration file")
	addr := flagSet.String("addr", cfg.Addr, "listen address")
	dbPath := flagSet.String("db", cfg.DBPath, "path to the SQLite ledger")
	gridSize := flagSet.Int("grid-size", cfg.GridSize, "edge length of the grid")
	price := flagSet.String("price", cfg.PriceETH, "price of one pixel in ether")
	treasury := flagSet.String("treasury", "", "address receiving payments")
	logLevel := flagSet.String("log-level", cfg.LogLevel, "debug, info, warn or error")

	if err := flagSet.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if err := loadYAML(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Port != "" && os.Getenv("PIXELS_ADDR") == "" {
		cfg.Addr = ":" + cfg.Port
	}

	if flagSet.Changed("addr") {
		cfg.Addr = *addr
	}
	if flagSet.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if flagSet.Changed("grid-size") {
		cfg.GridSize = *gridSize
	}
	if flagSet.Changed("price") {
		cfg.PriceETH = *price
	}
	if flagSet.Changed("treasury") {
		cfg.Treasury = *treasury
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Settings validates cfg.
func (cfg Config) Settings() (Settings, error) {
	var errs []error

	s := Settings{
		Addr:         cfg.Addr,
		DBPath:       cfg.DBPath,
		GridSize:     cfg.GridSize,
		ChainID:      cfg.ChainID,
		ConfirmDelay: cfg.ConfirmDelay,
		SessionTTL:   cfg.SessionTTL,
	}
	if s.GridSize <= 0 {
		errs = append(errs, fmt.Errorf("grid size must be positive, got %d", s.GridSize))
	}
	if s.ConfirmDelay < 0 {
		errs = append(errs, fmt.Errorf("confirm delay must not be negative"))
	}

	var err error
	if s.PixelPrice, err = ParseEther(cfg.PriceETH); err != nil {
		errs = append(errs, fmt.Errorf("price: %w", err))
	}
	if s.Faucet, err = ParseEther(cfg.FaucetETH); err != nil {
		errs = append(errs, fmt.Errorf("faucet: %w", err))
	}

	if strings.TrimSpace(cfg.Treasury) == "" {
		errs = append(errs, fmt.Errorf("PIXELS_TREASURY_ADDRESS is required"))
	} else if s.Treasury, err = ParseAddress(cfg.Treasury); err != nil {
		errs = append(errs, fmt.Errorf("treasury: %w", err))
	} else if s.Treasury.IsZero() {
		errs = append(errs, fmt.Errorf("treasury must not be the zero address"))
	}

	if err := s.LogLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	if len(errs) > 0 {
		return Settings{}, errors.Join(errs...)
	}
	return s, nil
}

// Gemini returns the review client configuration.
func (cfg Config) Gemini() GeminiConfig {
	return GeminiConfig{
		ProjectID: cfg.GCPProjectID,
		Region:    cfg.GCPRegion,
		APIKey:    cfg.GeminiAPIKey,
		Model:     cfg.GeminiModel,
	}
}
