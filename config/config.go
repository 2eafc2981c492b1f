package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"elastivault/crypto"
)

// Config captures the on-disk settings for the vault daemon: where it stores
// data and logs, the governance addresses, and the genesis vault parameters.
type Config struct {
	DataDir     string `toml:"DataDir"`
	LogDir      string `toml:"LogDir"`
	TokenSymbol string `toml:"TokenSymbol"`

	Owner        string `toml:"Owner"`
	Governance   string `toml:"Governance,omitempty"`
	Bridge       string `toml:"Bridge,omitempty"`
	FeeRecipient string `toml:"FeeRecipient,omitempty"`
	FeeBps       uint64 `toml:"FeeBps"`

	BaseRateBps uint64 `toml:"BaseRateBps"`
	RateStepBps uint64 `toml:"RateStepBps"`
	MinRateBps  uint64 `toml:"MinRateBps"`
	TierSizeWei string `toml:"TierSizeWei"`

	AccrualPeriod string `toml:"AccrualPeriod"`
	DailyCapBps   uint64 `toml:"DailyCapBps"`

	MinDepositWei   string `toml:"MinDepositWei,omitempty"`
	PerUserCapWei   string `toml:"PerUserCapWei,omitempty"`
	GlobalTvlCapWei string `toml:"GlobalTvlCapWei,omitempty"`
}

// Load reads the configuration from path, writing a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vault-data"
	}
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "./vault-logs"
	}
	if strings.TrimSpace(cfg.TokenSymbol) == "" {
		cfg.TokenSymbol = "ELV"
	}
	if strings.TrimSpace(cfg.AccrualPeriod) == "" {
		cfg.AccrualPeriod = "24h"
	}
	if strings.TrimSpace(cfg.TierSizeWei) == "" {
		cfg.TierSizeWei = defaultTierSize().String()
	}
}

// Validate checks address formats and parameter ranges.
func (cfg *Config) Validate() error {
	if _, err := crypto.DecodeAddress(cfg.Owner); err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	for name, value := range map[string]string{
		"governance":    cfg.Governance,
		"bridge":        cfg.Bridge,
		"fee recipient": cfg.FeeRecipient,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.FeeBps > 10_000 {
		return fmt.Errorf("fee bps %d exceeds 10000", cfg.FeeBps)
	}
	if cfg.FeeBps > 0 && strings.TrimSpace(cfg.FeeRecipient) == "" {
		return fmt.Errorf("fee recipient required when fee bps is set")
	}
	if cfg.MinRateBps > cfg.BaseRateBps {
		return fmt.Errorf("min rate %d exceeds base rate %d", cfg.MinRateBps, cfg.BaseRateBps)
	}
	if _, err := time.ParseDuration(cfg.AccrualPeriod); err != nil {
		return fmt.Errorf("accrual period: %w", err)
	}
	for name, value := range map[string]string{
		"tier size":      cfg.TierSizeWei,
		"min deposit":    cfg.MinDepositWei,
		"per-user cap":   cfg.PerUserCapWei,
		"global tvl cap": cfg.GlobalTvlCapWei,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := parseWei(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// OwnerAddress returns the decoded owner. Call Validate first.
func (cfg *Config) OwnerAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(cfg.Owner)
}

// OptionalAddress decodes an optional address field, returning ok=false when
// the field is empty.
func OptionalAddress(value string) (crypto.Address, bool, error) {
	if strings.TrimSpace(value) == "" {
		return crypto.Address{}, false, nil
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, false, err
	}
	return addr, true, nil
}

// AccrualPeriodDuration returns the parsed accrual period.
func (cfg *Config) AccrualPeriodDuration() (time.Duration, error) {
	return time.ParseDuration(cfg.AccrualPeriod)
}

// TierSize returns the parsed rate-tier width in wei.
func (cfg *Config) TierSize() (*big.Int, error) {
	return parseWei(cfg.TierSizeWei)
}

// OptionalWei parses an optional wei field, returning nil when empty.
func OptionalWei(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseWei(value)
}

func parseWei(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("wei amount must not be negative")
	}
	return value, nil
}

func defaultTierSize() *big.Int {
	return new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// createDefault creates and saves a default configuration file with a freshly
// generated owner key.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:       "./vault-data",
		LogDir:        "./vault-logs",
		TokenSymbol:   "ELV",
		Owner:         key.PubKey().Address().String(),
		FeeBps:        0,
		BaseRateBps:   1000,
		RateStepBps:   100,
		MinRateBps:    200,
		TierSizeWei:   defaultTierSize().String(),
		AccrualPeriod: "24h",
		DailyCapBps:   1000,
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
