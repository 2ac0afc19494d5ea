package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

const testTreasury = "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PIXELS_CONFIG", "")
	t.Setenv("PIXELS_TREASURY_ADDRESS", testTreasury)

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, err := cfg.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.GridSize != GridSize {
		t.Errorf("grid size = %d, want %d", s.GridSize, GridSize)
	}
	if got := FormatEther(s.PixelPrice); got != "0.0001" {
		t.Errorf("price = %s, want 0.0001", got)
	}
	if s.Treasury.String() != testTreasury {
		t.Errorf("treasury = %s, want %s", s.Treasury, testTreasury)
	}
	if s.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %s, want INFO", s.LogLevel)
	}
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixelgrid.yaml")
	yaml := `addr: ":9000"
grid_size: 50
price_eth: "0.001"
treasury: "` + testTreasury + `"
confirm_delay: 5s
log_level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIXELS_CONFIG", "")
	t.Setenv("PIXELS_GRID_SIZE", "20")

	cfg, err := LoadConfig([]string{"--config", path, "--price", "0.01"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, err := cfg.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	if s.Addr != ":9000" {
		t.Errorf("addr = %q, want :9000 from file", s.Addr)
	}
	if s.GridSize != 20 {
		t.Errorf("grid size = %d, want 20 from env", s.GridSize)
	}
	if got := FormatEther(s.PixelPrice); got != "0.01" {
		t.Errorf("price = %s, want 0.01 from flag", got)
	}
	if s.ConfirmDelay != 5*time.Second {
		t.Errorf("confirm delay = %s, want 5s", s.ConfirmDelay)
	}
	if s.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %s, want DEBUG", s.LogLevel)
	}
}

func TestLoadConfigPortFallback(t *testing.T) {
	t.Setenv("PIXELS_CONFIG", "")
	t.Setenv("PIXELS_ADDR", "")
	t.Setenv("PORT", "3000")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":3000" {
		t.Fatalf("addr = %q, want :3000", cfg.Addr)
	}
}

func TestLoadConfigHelp(t *testing.T) {
	t.Setenv("PIXELS_CONFIG", "")
	if _, err := LoadConfig([]string{"--help"}); !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected pflag.ErrHelp, got %v", err)
	}
}

func TestSettingsValidation(t *testing.T) {
	tests := map[string]func(*Config){
		"missing treasury": func(c *Config) { c.Treasury = "" },
		"zero treasury":    func(c *Config) { c.Treasury = "0x0000000000000000000000000000000000000000" },
		"bad treasury":     func(c *Config) { c.Treasury = "0x1234" },
		"bad price":        func(c *Config) { c.PriceETH = "-1" },
		"bad grid size":    func(c *Config) { c.GridSize = 0 },
		"bad log level":    func(c *Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Treasury = testTreasury
			mutate(&cfg)
			if _, err := cfg.Settings(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
