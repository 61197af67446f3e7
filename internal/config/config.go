package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Built-in scan universe, merged with the SYMBOLS env list.
var (
	Majors   = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT", "ADAUSDT"}
	MidCaps  = []string{"AVAXUSDT", "MATICUSDT", "LINKUSDT", "DOTUSDT", "ATOMUSDT"}
	HighBeta = []string{"APTUSDT", "OPUSDT", "NEARUSDT", "FTMUSDT", "ARBUSDT"}
)

var allowedTimeframes = map[string]bool{"15m": true, "30m": true, "1h": true}

// Config is the validated, immutable runtime configuration. Values come from
// config.yaml and are overridden by environment variables.
type Config struct {
	Binance struct {
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"binance"`

	Telegram struct {
		BotToken string  `yaml:"bot_token"`
		ChatIDs  []int64 `yaml:"chat_ids"`
		AdminIDs []int64 `yaml:"admin_ids"`
		Enabled  bool    `yaml:"enabled"`
	} `yaml:"telegram"`

	Scan struct {
		Timeframe             string   `yaml:"timeframe"`
		HTFTimeframe          string   `yaml:"htf_timeframe"`
		IntervalSeconds       int      `yaml:"interval_seconds"`
		Concurrency           int      `yaml:"concurrency"`
		SymbolIntervalMinutes int      `yaml:"symbol_interval_minutes"`
		Symbols               []string `yaml:"symbols"`
	} `yaml:"scan"`

	Signal struct {
		ThrottleMinutes         int     `yaml:"throttle_minutes"`
		MinRiskReward           float64 `yaml:"min_risk_reward"`
		MinATRPct               float64 `yaml:"min_atr_pct"`
		MinVolumeRatio          float64 `yaml:"min_volume_ratio"`
		StrictVolumeRatio       float64 `yaml:"strict_volume_ratio"`
		MinRSI                  float64 `yaml:"min_rsi"`
		MaxRSI                  float64 `yaml:"max_rsi"`
		MaxSpreadPct            float64 `yaml:"max_spread_pct"`
		VolumeSpikeThreshold    float64 `yaml:"volume_spike_threshold"`
		MinSuccessRate          float64 `yaml:"min_success_rate"`
		Leverage                int     `yaml:"leverage"`
		StrategyName            string  `yaml:"strategy_name"`
		AdaptiveStarvationHours float64 `yaml:"adaptive_starvation_hours"`
	} `yaml:"signal"`

	Sim struct {
		EquityUSD           float64 `yaml:"equity_usd"`
		RiskPct             float64 `yaml:"risk_per_trade_pct"`
		TP1RatioQty         float64 `yaml:"tp1_ratio_qty"`
		FeeBps              float64 `yaml:"fee_bps"`
		BEOnTP1             bool    `yaml:"be_on_tp1"`
		Notify              bool    `yaml:"notify"`
		TickIntervalSeconds int     `yaml:"tick_interval_seconds"`
	} `yaml:"sim"`

	Report struct {
		Hour    int    `yaml:"hour"`
		Minute  int    `yaml:"minute"`
		CSVPath string `yaml:"csv_path"`
	} `yaml:"report"`

	Paths struct {
		ChartsDir        string `yaml:"charts_dir"`
		ThrottleFile     string `yaml:"throttle_file"`
		DBPath           string `yaml:"db_path"`
		UserSettingsFile string `yaml:"user_settings_file"`
	} `yaml:"paths"`

	LogLevel string `yaml:"log_level"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Telegram.Enabled = true
	cfg.Scan.Timeframe = "15m"
	cfg.Scan.HTFTimeframe = "1h"
	cfg.Scan.IntervalSeconds = 60
	cfg.Scan.Concurrency = 3
	cfg.Scan.SymbolIntervalMinutes = 5
	cfg.Signal.ThrottleMinutes = 5
	cfg.Signal.MinRiskReward = 1.2
	cfg.Signal.MinATRPct = 7.5e-5
	cfg.Signal.MinVolumeRatio = 1.2
	cfg.Signal.StrictVolumeRatio = 1.5
	cfg.Signal.MinRSI = 30
	cfg.Signal.MaxRSI = 70
	cfg.Signal.MaxSpreadPct = 0.01
	cfg.Signal.VolumeSpikeThreshold = 1.2
	cfg.Signal.MinSuccessRate = 25
	cfg.Signal.Leverage = 10
	cfg.Signal.StrategyName = "PUMP-GPT Midterm"
	cfg.Signal.AdaptiveStarvationHours = 4
	cfg.Sim.EquityUSD = 10000
	cfg.Sim.RiskPct = 1.0
	cfg.Sim.TP1RatioQty = 0.5
	cfg.Sim.FeeBps = 8
	cfg.Sim.BEOnTP1 = true
	cfg.Sim.Notify = true
	cfg.Sim.TickIntervalSeconds = 20
	cfg.Report.Hour = 23
	cfg.Report.Minute = 59
	cfg.Report.CSVPath = "signals_daily.csv"
	cfg.Paths.ChartsDir = "charts"
	cfg.Paths.ThrottleFile = "signal_throttle.json"
	cfg.Paths.DBPath = "signals.db"
	cfg.Paths.UserSettingsFile = "user_settings.json"
	cfg.LogLevel = "info"
	return cfg
}

// Load builds the configuration from an optional yaml file, a .env file if
// present, and environment variable overrides, then validates it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Scan.Symbols = mergeSymbols(cfg.Scan.Symbols)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Binance.APIKey, "BINANCE_API_KEY")
	setString(&cfg.Binance.APISecret, "BINANCE_API_SECRET")
	setString(&cfg.Telegram.BotToken, "BOT_TOKEN")
	if raw, ok := os.LookupEnv("TELEGRAM_CHAT_IDS"); ok {
		ids, err := parseIDList(raw)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_IDS: %w", err)
		}
		cfg.Telegram.ChatIDs = ids
	}
	if raw, ok := os.LookupEnv("VIP_USER_IDS"); ok {
		ids, err := parseIDList(raw)
		if err != nil {
			return fmt.Errorf("invalid VIP_USER_IDS: %w", err)
		}
		cfg.Telegram.AdminIDs = ids
	}
	if raw, ok := os.LookupEnv("SYMBOLS"); ok {
		var syms []string
		for _, tok := range strings.Split(raw, ",") {
			if s := strings.ToUpper(strings.TrimSpace(tok)); s != "" {
				syms = append(syms, s)
			}
		}
		cfg.Scan.Symbols = syms
	}

	setString(&cfg.Scan.Timeframe, "TIMEFRAME")
	setString(&cfg.Scan.HTFTimeframe, "HTF_TIMEFRAME")
	setString(&cfg.Signal.StrategyName, "STRATEGY_NAME")
	setString(&cfg.Report.CSVPath, "SIGNALS_DAILY_CSV")
	setString(&cfg.Paths.ChartsDir, "CHARTS_DIR")
	setString(&cfg.Paths.ThrottleFile, "THROTTLE_FILE")
	setString(&cfg.Paths.DBPath, "DB_PATH")
	setString(&cfg.LogLevel, "DEBUG_LEVEL")

	ints := []struct {
		dst *int
		key string
	}{
		{&cfg.Scan.IntervalSeconds, "SCAN_INTERVAL_SECONDS"},
		{&cfg.Scan.Concurrency, "SCAN_CONCURRENCY"},
		{&cfg.Scan.SymbolIntervalMinutes, "SYMBOL_INTERVAL_MINUTES"},
		{&cfg.Signal.ThrottleMinutes, "THROTTLE_MINUTES"},
		{&cfg.Signal.Leverage, "DEFAULT_LEVERAGE"},
		{&cfg.Sim.TickIntervalSeconds, "TICK_INTERVAL_SECONDS"},
		{&cfg.Report.Hour, "DAILY_REPORT_HOUR"},
		{&cfg.Report.Minute, "DAILY_REPORT_MINUTE"},
	}
	for _, e := range ints {
		if err := setInt(e.dst, e.key); err != nil {
			return err
		}
	}

	floats := []struct {
		dst *float64
		key string
	}{
		{&cfg.Signal.MinRiskReward, "MIN_RISK_REWARD"},
		{&cfg.Signal.MinATRPct, "MIN_ATR_PCT"},
		{&cfg.Signal.MinVolumeRatio, "MIN_VOLUME_RATIO"},
		{&cfg.Signal.MinRSI, "MIN_RSI"},
		{&cfg.Signal.MaxRSI, "MAX_RSI"},
		{&cfg.Signal.MaxSpreadPct, "MAX_SPREAD_PCT"},
		{&cfg.Signal.VolumeSpikeThreshold, "VOLUME_SPIKE_THRESHOLD"},
		{&cfg.Signal.MinSuccessRate, "MIN_SUCCESS_RATE"},
		{&cfg.Signal.AdaptiveStarvationHours, "ADAPTIVE_STARVATION_HOURS"},
		{&cfg.Sim.EquityUSD, "SIM_EQUITY_USD"},
		{&cfg.Sim.RiskPct, "SIM_RISK_PER_TRADE_PCT"},
		{&cfg.Sim.TP1RatioQty, "SIM_TP1_RATIO_QTY"},
		{&cfg.Sim.FeeBps, "SIM_FEE_BPS"},
	}
	for _, e := range floats {
		if err := setFloat(e.dst, e.key); err != nil {
			return err
		}
	}

	bools := []struct {
		dst *bool
		key string
	}{
		{&cfg.Sim.BEOnTP1, "SIM_BE_ON_TP1"},
		{&cfg.Sim.Notify, "SIM_NOTIFY"},
		{&cfg.Telegram.Enabled, "TELEGRAM_ENABLED"},
	}
	for _, e := range bools {
		if err := setBool(e.dst, e.key); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) validate() error {
	if !allowedTimeframes[cfg.Scan.Timeframe] {
		return fmt.Errorf("TIMEFRAME %q not allowed (use 15m, 30m or 1h)", cfg.Scan.Timeframe)
	}
	if !allowedTimeframes[cfg.Scan.HTFTimeframe] {
		return fmt.Errorf("HTF_TIMEFRAME %q not allowed (use 15m, 30m or 1h)", cfg.Scan.HTFTimeframe)
	}
	if cfg.Scan.IntervalSeconds < 30 {
		return fmt.Errorf("SCAN_INTERVAL_SECONDS must be >= 30, got %d", cfg.Scan.IntervalSeconds)
	}
	if cfg.Scan.Concurrency < 1 {
		return fmt.Errorf("SCAN_CONCURRENCY must be >= 1, got %d", cfg.Scan.Concurrency)
	}
	if cfg.Scan.SymbolIntervalMinutes < 0 {
		return fmt.Errorf("SYMBOL_INTERVAL_MINUTES must be >= 0, got %d", cfg.Scan.SymbolIntervalMinutes)
	}
	if len(cfg.Scan.Symbols) == 0 {
		return fmt.Errorf("scan universe is empty")
	}
	if cfg.Signal.ThrottleMinutes < 0 {
		return fmt.Errorf("THROTTLE_MINUTES must be >= 0, got %d", cfg.Signal.ThrottleMinutes)
	}
	if cfg.Signal.MinRSI >= cfg.Signal.MaxRSI {
		return fmt.Errorf("MIN_RSI %.1f must be below MAX_RSI %.1f", cfg.Signal.MinRSI, cfg.Signal.MaxRSI)
	}
	for _, f := range []struct {
		key string
		val float64
	}{
		{"MIN_ATR_PCT", cfg.Signal.MinATRPct},
		{"MIN_VOLUME_RATIO", cfg.Signal.MinVolumeRatio},
		{"strict_volume_ratio", cfg.Signal.StrictVolumeRatio},
		{"MAX_SPREAD_PCT", cfg.Signal.MaxSpreadPct},
		{"VOLUME_SPIKE_THRESHOLD", cfg.Signal.VolumeSpikeThreshold},
		{"MIN_SUCCESS_RATE", cfg.Signal.MinSuccessRate},
	} {
		if f.val < 0 {
			return fmt.Errorf("%s must be >= 0, got %f", f.key, f.val)
		}
	}
	if cfg.Signal.MinRiskReward <= 0 {
		return fmt.Errorf("MIN_RISK_REWARD must be > 0, got %f", cfg.Signal.MinRiskReward)
	}
	if cfg.Signal.Leverage < 1 {
		return fmt.Errorf("DEFAULT_LEVERAGE must be >= 1, got %d", cfg.Signal.Leverage)
	}
	if cfg.Sim.EquityUSD <= 0 {
		return fmt.Errorf("SIM_EQUITY_USD must be > 0, got %f", cfg.Sim.EquityUSD)
	}
	if cfg.Sim.RiskPct <= 0 {
		return fmt.Errorf("SIM_RISK_PER_TRADE_PCT must be > 0, got %f", cfg.Sim.RiskPct)
	}
	if cfg.Sim.TP1RatioQty <= 0 || cfg.Sim.TP1RatioQty > 1 {
		return fmt.Errorf("SIM_TP1_RATIO_QTY must be in (0, 1], got %f", cfg.Sim.TP1RatioQty)
	}
	if cfg.Sim.FeeBps < 0 {
		return fmt.Errorf("SIM_FEE_BPS must be >= 0, got %f", cfg.Sim.FeeBps)
	}
	if cfg.Sim.TickIntervalSeconds < 1 {
		return fmt.Errorf("TICK_INTERVAL_SECONDS must be >= 1, got %d", cfg.Sim.TickIntervalSeconds)
	}
	if cfg.Report.Hour < 0 || cfg.Report.Hour > 23 {
		return fmt.Errorf("DAILY_REPORT_HOUR must be in 0..23, got %d", cfg.Report.Hour)
	}
	if cfg.Report.Minute < 0 || cfg.Report.Minute > 59 {
		return fmt.Errorf("DAILY_REPORT_MINUTE must be in 0..59, got %d", cfg.Report.Minute)
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.BotToken == "" {
			return fmt.Errorf("BOT_TOKEN is required when telegram is enabled")
		}
		if len(cfg.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("TELEGRAM_CHAT_IDS is required when telegram is enabled")
		}
	}
	return nil
}

func mergeSymbols(envSymbols []string) []string {
	var combined []string
	seen := make(map[string]bool)
	for _, group := range [][]string{envSymbols, Majors, MidCaps, HighBeta} {
		for _, sym := range group {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			combined = append(combined, sym)
		}
	}
	return combined
}

func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a numeric id", tok)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	switch strings.TrimSpace(v) {
	case "1", "true", "yes":
		*dst = true
	case "0", "false", "no":
		*dst = false
	default:
		return fmt.Errorf("invalid %s: %q (use 0/1)", key, v)
	}
	return nil
}
