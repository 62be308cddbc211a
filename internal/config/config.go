package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every knob of one pipeline run, loaded once at startup and
// passed by value into component constructors. Amount fields are already
// converted to integral base units; nothing downstream parses decimals.
type Config struct {
	SourceRPCURL string
	DestRPCURL   string
	BridgeAPIURL string
	SwapAPIURL   string

	PrivateKey string // hex, env only

	PGDSN      string
	LedgerFile string

	JobID string

	SourceStable    string
	DestStable      string
	TargetToken     string
	Pool            string
	PositionManager string

	StableDecimals int32

	AmountIn  *big.Int // base units
	MaxSpend  *big.Int // base units; nil disables the ceiling
	MaxFeeWei *big.Int // hard per-gas fee cap

	SlippageBps    int64
	RangeBps       int64
	SwapPortionBps int64
	WithdrawBps    int64
	Rebridge       bool

	Confirmations uint64
	MaxAttempts   int
	PollInterval  time.Duration
	PollTimeout   time.Duration

	DryRun   bool
	LogLevel string
}

// Load merges config file, PILOT_* environment variables, and flags.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("ledger-file", "./data/jobs.json")
	v.SetDefault("stable-decimals", 6)
	v.SetDefault("slippage-bps", 50)
	v.SetDefault("tick-range-pct", "5")
	v.SetDefault("swap-portion-bps", 5000)
	v.SetDefault("withdraw-bps", 0)
	v.SetDefault("confirmations", 1)
	v.SetDefault("max-attempts", 4)
	v.SetDefault("max-fee-gwei", "100")
	v.SetDefault("poll-interval", 10*time.Second)
	v.SetDefault("poll-timeout", 5*time.Minute)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		SourceRPCURL:    v.GetString("source-rpc"),
		DestRPCURL:      v.GetString("dest-rpc"),
		BridgeAPIURL:    v.GetString("bridge-api"),
		SwapAPIURL:      v.GetString("swap-api"),
		PrivateKey:      v.GetString("private-key"),
		PGDSN:           v.GetString("pg-dsn"),
		LedgerFile:      v.GetString("ledger-file"),
		JobID:           v.GetString("job-id"),
		SourceStable:    v.GetString("source-stable"),
		DestStable:      v.GetString("dest-stable"),
		TargetToken:     v.GetString("target-token"),
		Pool:            v.GetString("pool"),
		PositionManager: v.GetString("position-manager"),
		StableDecimals:  v.GetInt32("stable-decimals"),
		SlippageBps:     v.GetInt64("slippage-bps"),
		SwapPortionBps:  v.GetInt64("swap-portion-bps"),
		WithdrawBps:     v.GetInt64("withdraw-bps"),
		Rebridge:        v.GetBool("rebridge"),
		Confirmations:   v.GetUint64("confirmations"),
		MaxAttempts:     v.GetInt("max-attempts"),
		PollInterval:    v.GetDuration("poll-interval"),
		PollTimeout:     v.GetDuration("poll-timeout"),
		DryRun:          v.GetBool("dry-run"),
		LogLevel:        v.GetString("log-level"),
	}

	var err error
	cfg.AmountIn, err = parseBaseUnits(v.GetString("amount-usdc"), cfg.StableDecimals, "amount-usdc")
	if err != nil {
		return Config{}, err
	}
	if raw := v.GetString("max-spend-usdc"); raw != "" {
		cfg.MaxSpend, err = parseBaseUnits(raw, cfg.StableDecimals, "max-spend-usdc")
		if err != nil {
			return Config{}, err
		}
	}
	cfg.MaxFeeWei, err = parseBaseUnits(v.GetString("max-fee-gwei"), 9, "max-fee-gwei")
	if err != nil {
		return Config{}, err
	}
	cfg.RangeBps, err = parseBps(v.GetString("tick-range-pct"), "tick-range-pct")
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// parseBaseUnits converts a human-denominated decimal to integral base
// units. Fractions of a base unit are a configuration error, not something
// to round away silently.
func parseBaseUnits(raw string, decimals int32, key string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", key)
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%s has more than %d decimal places", key, decimals)
	}
	return shifted.BigInt(), nil
}

// parseBps converts a percentage like "5" or "2.5" to basis points.
func parseBps(raw, key string) (int64, error) {
	value, err := parseBaseUnits(raw, 2, key)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, nil
	}
	if !value.IsInt64() {
		return 0, fmt.Errorf("%s out of range", key)
	}
	return value.Int64(), nil
}
