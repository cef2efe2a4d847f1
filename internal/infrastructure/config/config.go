package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
)

// Config holds all configuration for the compliance service.
type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	AML         AMLConfig       `mapstructure:"aml"`
	Tiers       TiersConfig     `mapstructure:"tiers"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AMLConfig configures counterparty screening: which provider to dispatch to,
// the risk bucketing thresholds, and the whitelist of known exchange address
// shapes that bypass provider calls entirely.
type AMLConfig struct {
	Provider          string   `mapstructure:"provider"`
	APIKey            string   `mapstructure:"api_key"`
	BaseURL           string   `mapstructure:"base_url"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	HighThreshold     float64  `mapstructure:"high_threshold"`
	MediumThreshold   float64  `mapstructure:"medium_threshold"`
	LowThreshold      float64  `mapstructure:"low_threshold"`
	WhitelistPatterns []string `mapstructure:"whitelist_patterns"`
	CacheTTLSeconds   int      `mapstructure:"cache_ttl_seconds"`
}

// TierConfig is the raw form of one tier policy; amounts are strings so the
// config file stays exact for decimal parsing.
type TierConfig struct {
	SingleTxLimit   string   `mapstructure:"single_tx_limit"`
	DailyLimit      string   `mapstructure:"daily_limit"`
	WeeklyLimit     string   `mapstructure:"weekly_limit"`
	MonthlyLimit    string   `mapstructure:"monthly_limit"`
	MaxDailyTxCount int      `mapstructure:"max_daily_tx_count"`
	AllowedKinds    []string `mapstructure:"allowed_kinds"`
}

type TiersConfig struct {
	None     TierConfig `mapstructure:"none"`
	Basic    TierConfig `mapstructure:"basic"`
	Standard TierConfig `mapstructure:"standard"`
}

type SchedulerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DailyCron   string `mapstructure:"daily_cron"`
	WeeklyCron  string `mapstructure:"weekly_cron"`
	MonthlyCron string `mapstructure:"monthly_cron"`
	Timezone    string `mapstructure:"timezone"`
}

// Load loads configuration from config files and environment variables.
func Load() (*Config, error) {
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "compliance_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("aml.provider", "mock")
	viper.SetDefault("aml.timeout_seconds", 10)
	viper.SetDefault("aml.high_threshold", 75.0)
	viper.SetDefault("aml.medium_threshold", 50.0)
	viper.SetDefault("aml.low_threshold", 25.0)
	viper.SetDefault("aml.cache_ttl_seconds", 300)
	viper.SetDefault("aml.whitelist_patterns", []string{
		`^G[A-Z0-9]{55}$`,
		`^r[0-9a-zA-Z]{24,34}$`,
	})

	viper.SetDefault("tiers.none.single_tx_limit", "1000")
	viper.SetDefault("tiers.none.daily_limit", "2500")
	viper.SetDefault("tiers.none.weekly_limit", "10000")
	viper.SetDefault("tiers.none.monthly_limit", "25000")
	viper.SetDefault("tiers.none.max_daily_tx_count", 5)
	viper.SetDefault("tiers.none.allowed_kinds", []string{"fiat_to_crypto"})

	viper.SetDefault("tiers.basic.single_tx_limit", "5000")
	viper.SetDefault("tiers.basic.daily_limit", "25000")
	viper.SetDefault("tiers.basic.weekly_limit", "100000")
	viper.SetDefault("tiers.basic.monthly_limit", "250000")
	viper.SetDefault("tiers.basic.max_daily_tx_count", 20)
	viper.SetDefault("tiers.basic.allowed_kinds", []string{"fiat_to_crypto", "crypto_to_fiat"})

	viper.SetDefault("tiers.standard.single_tx_limit", "50000")
	viper.SetDefault("tiers.standard.daily_limit", "250000")
	viper.SetDefault("tiers.standard.weekly_limit", "1000000")
	viper.SetDefault("tiers.standard.monthly_limit", "2500000")
	viper.SetDefault("tiers.standard.max_daily_tx_count", 100)
	viper.SetDefault("tiers.standard.allowed_kinds", []string{"fiat_to_crypto", "crypto_to_fiat", "crypto_to_crypto"})

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.daily_cron", "0 0 * * *")
	viper.SetDefault("scheduler.weekly_cron", "0 0 * * 1")
	viper.SetDefault("scheduler.monthly_cron", "0 0 1 * *")
	viper.SetDefault("scheduler.timezone", "UTC")
}

// DefaultTiers returns the built-in tier limits, matching the viper defaults.
func DefaultTiers() TiersConfig {
	return TiersConfig{
		None: TierConfig{
			SingleTxLimit:   "1000",
			DailyLimit:      "2500",
			WeeklyLimit:     "10000",
			MonthlyLimit:    "25000",
			MaxDailyTxCount: 5,
			AllowedKinds:    []string{"fiat_to_crypto"},
		},
		Basic: TierConfig{
			SingleTxLimit:   "5000",
			DailyLimit:      "25000",
			WeeklyLimit:     "100000",
			MonthlyLimit:    "250000",
			MaxDailyTxCount: 20,
			AllowedKinds:    []string{"fiat_to_crypto", "crypto_to_fiat"},
		},
		Standard: TierConfig{
			SingleTxLimit:   "50000",
			DailyLimit:      "250000",
			WeeklyLimit:     "1000000",
			MonthlyLimit:    "2500000",
			MaxDailyTxCount: 100,
			AllowedKinds:    []string{"fiat_to_crypto", "crypto_to_fiat", "crypto_to_crypto"},
		},
	}
}

// Policy converts the raw tier config into an immutable TierPolicy.
func (tc TierConfig) Policy(tier entities.VerificationTier) (entities.TierPolicy, error) {
	parse := func(field, raw string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("tier %s: invalid %s %q: %w", tier, field, raw, err)
		}
		return d, nil
	}

	single, err := parse("single_tx_limit", tc.SingleTxLimit)
	if err != nil {
		return entities.TierPolicy{}, err
	}
	daily, err := parse("daily_limit", tc.DailyLimit)
	if err != nil {
		return entities.TierPolicy{}, err
	}
	weekly, err := parse("weekly_limit", tc.WeeklyLimit)
	if err != nil {
		return entities.TierPolicy{}, err
	}
	monthly, err := parse("monthly_limit", tc.MonthlyLimit)
	if err != nil {
		return entities.TierPolicy{}, err
	}

	kinds := make([]entities.TransactionKind, 0, len(tc.AllowedKinds))
	for _, raw := range tc.AllowedKinds {
		kind := entities.TransactionKind(raw)
		valid := false
		for _, known := range entities.AllTransactionKinds {
			if kind == known {
				valid = true
				break
			}
		}
		if !valid {
			return entities.TierPolicy{}, fmt.Errorf("tier %s: unknown transaction kind %q", tier, raw)
		}
		kinds = append(kinds, kind)
	}

	return entities.TierPolicy{
		Tier:            tier,
		SingleTxLimit:   single,
		DailyLimit:      daily,
		WeeklyLimit:     weekly,
		MonthlyLimit:    monthly,
		MaxDailyTxCount: tc.MaxDailyTxCount,
		AllowedKinds:    kinds,
	}, nil
}

// Validate checks the configuration eagerly so misconfiguration is fatal at
// startup rather than surfacing mid-decision.
func Validate(config *Config) error {
	if config.AML.HighThreshold <= config.AML.MediumThreshold {
		return fmt.Errorf("aml high_threshold (%.0f) must exceed medium_threshold (%.0f)",
			config.AML.HighThreshold, config.AML.MediumThreshold)
	}
	if config.AML.MediumThreshold <= config.AML.LowThreshold {
		return fmt.Errorf("aml medium_threshold (%.0f) must exceed low_threshold (%.0f)",
			config.AML.MediumThreshold, config.AML.LowThreshold)
	}
	if config.AML.TimeoutSeconds <= 0 {
		return fmt.Errorf("aml timeout_seconds must be positive")
	}

	none, err := config.Tiers.None.Policy(entities.TierNone)
	if err != nil {
		return err
	}
	basic, err := config.Tiers.Basic.Policy(entities.TierBasic)
	if err != nil {
		return err
	}
	standard, err := config.Tiers.Standard.Policy(entities.TierStandard)
	if err != nil {
		return err
	}

	ordered := []entities.TierPolicy{none, basic, standard}
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if cur.SingleTxLimit.LessThanOrEqual(prev.SingleTxLimit) ||
			cur.DailyLimit.LessThanOrEqual(prev.DailyLimit) ||
			cur.WeeklyLimit.LessThanOrEqual(prev.WeeklyLimit) ||
			cur.MonthlyLimit.LessThanOrEqual(prev.MonthlyLimit) {
			return fmt.Errorf("tier %s limits must strictly exceed tier %s limits", cur.Tier, prev.Tier)
		}
		for _, kind := range prev.AllowedKinds {
			if !cur.Allows(kind) {
				return fmt.Errorf("tier %s must allow every kind tier %s allows (missing %s)",
					cur.Tier, prev.Tier, kind)
			}
		}
	}

	return nil
}
