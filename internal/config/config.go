package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Schedule struct {
		RollCron   string `yaml:"roll_cron"`
		SettleCron string `yaml:"settle_cron"`
		SweepCron  string `yaml:"sweep_cron"`
		StatusCron string `yaml:"status_cron"`
	} `yaml:"schedule"`
	Pool struct {
		TimeStretchYears float64 `yaml:"time_stretch_years"`
		FeeIn            float64 `yaml:"fee_in"`
		FeeOut           float64 `yaml:"fee_out"`
	} `yaml:"pool"`
	Roller struct {
		TargetDurationMonths int     `yaml:"target_duration_months"`
		RollDistanceHours    float64 `yaml:"roll_distance_hours"`
		MaxRate              float64 `yaml:"max_rate"`
		FallbackRate         float64 `yaml:"fallback_rate"`
		MinSeed              float64 `yaml:"min_seed"`
		MinSwap              float64 `yaml:"min_swap"`
		OracleWindowMinutes  float64 `yaml:"oracle_window_minutes"`
		Operator             string  `yaml:"operator"`
		OpsFunds             float64 `yaml:"ops_funds"`
	} `yaml:"roller"`
	Adapter struct {
		InitialScale       float64 `yaml:"initial_scale"`
		AnnualYield        float64 `yaml:"annual_yield"`
		IssuanceFee        float64 `yaml:"issuance_fee"`
		Stake              float64 `yaml:"stake"`
		SponsorWindowHours float64 `yaml:"sponsor_window_hours"`
	} `yaml:"adapter"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("CRON_ROLL"); v != "" {
		cfg.Schedule.RollCron = v
	}
	if v := os.Getenv("CRON_SETTLE"); v != "" {
		cfg.Schedule.SettleCron = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("MAX_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Roller.MaxRate = f
		}
	}
	if v := os.Getenv("FALLBACK_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Roller.FallbackRate = f
		}
	}
	if v := os.Getenv("ROLL_DISTANCE_HOURS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Roller.RollDistanceHours = f
		}
	}
	if v := os.Getenv("OPERATOR"); v != "" {
		cfg.Roller.Operator = v
	}

	// Defaults
	if cfg.Schedule.RollCron == "" {
		cfg.Schedule.RollCron = "0 0 0 1 * *" // first of the month, midnight
	}
	if cfg.Schedule.SettleCron == "" {
		cfg.Schedule.SettleCron = "0 */30 * * * *"
	}
	if cfg.Schedule.SweepCron == "" {
		cfg.Schedule.SweepCron = "0 15 * * * *"
	}
	if cfg.Schedule.StatusCron == "" {
		cfg.Schedule.StatusCron = "0 0 8 * * *"
	}
	if cfg.Pool.TimeStretchYears == 0 {
		cfg.Pool.TimeStretchYears = 10
	}
	if cfg.Pool.FeeIn == 0 {
		cfg.Pool.FeeIn = 0.95
	}
	if cfg.Pool.FeeOut == 0 {
		cfg.Pool.FeeOut = 0.95
	}
	if cfg.Roller.TargetDurationMonths == 0 {
		cfg.Roller.TargetDurationMonths = 3
	}
	if cfg.Roller.RollDistanceHours == 0 {
		cfg.Roller.RollDistanceHours = 24 * 7
	}
	if cfg.Roller.MaxRate == 0 {
		cfg.Roller.MaxRate = 2.0
	}
	if cfg.Roller.FallbackRate == 0 {
		cfg.Roller.FallbackRate = 0.05
	}
	if cfg.Roller.MinSeed == 0 {
		cfg.Roller.MinSeed = 100
	}
	if cfg.Roller.MinSwap == 0 {
		cfg.Roller.MinSwap = 0.000001
	}
	if cfg.Roller.OracleWindowMinutes == 0 {
		cfg.Roller.OracleWindowMinutes = 60
	}
	if cfg.Roller.Operator == "" {
		cfg.Roller.Operator = "ops:maintenance"
	}
	if cfg.Roller.OpsFunds == 0 {
		cfg.Roller.OpsFunds = 10000
	}
	if cfg.Adapter.InitialScale == 0 {
		cfg.Adapter.InitialScale = 1.0
	}
	if cfg.Adapter.AnnualYield == 0 {
		cfg.Adapter.AnnualYield = 0.045
	}
	if cfg.Adapter.SponsorWindowHours == 0 {
		cfg.Adapter.SponsorWindowHours = 6
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/yieldroller.db"
	}

	return cfg, nil
}

// Validate checks that all fields are inside their supported ranges.
func (c *Config) Validate() error {
	if c.Pool.TimeStretchYears <= 0 {
		return fmt.Errorf("pool.time_stretch_years must be positive")
	}
	if c.Pool.FeeIn <= 0 || c.Pool.FeeIn > 1 {
		return fmt.Errorf("pool.fee_in must be in (0, 1]")
	}
	if c.Pool.FeeOut <= 0 || c.Pool.FeeOut > 1 {
		return fmt.Errorf("pool.fee_out must be in (0, 1]")
	}
	if c.Roller.TargetDurationMonths < 1 {
		return fmt.Errorf("roller.target_duration_months must be at least 1")
	}
	if c.Roller.RollDistanceHours < 0 {
		return fmt.Errorf("roller.roll_distance_hours must not be negative")
	}
	if c.Roller.MaxRate <= c.Roller.FallbackRate {
		return fmt.Errorf("roller.max_rate must exceed roller.fallback_rate")
	}
	if c.Roller.FallbackRate <= 0 {
		return fmt.Errorf("roller.fallback_rate must be positive")
	}
	if c.Roller.MinSeed <= 0 {
		return fmt.Errorf("roller.min_seed must be positive")
	}
	if c.Adapter.InitialScale <= 0 {
		return fmt.Errorf("adapter.initial_scale must be positive")
	}
	if c.Adapter.AnnualYield < 0 {
		return fmt.Errorf("adapter.annual_yield must not be negative")
	}
	if c.Adapter.IssuanceFee < 0 || c.Adapter.IssuanceFee >= 1 {
		return fmt.Errorf("adapter.issuance_fee must be in [0, 1)")
	}
	return nil
}
