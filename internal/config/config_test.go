package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadMinimal(t *testing.T) (*Config, error) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "123:token")
	t.Setenv("TELEGRAM_CHAT_IDS", "1001")
	return Load("")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadMinimal(t)
	require.NoError(t, err)

	assert.Equal(t, "15m", cfg.Scan.Timeframe)
	assert.Equal(t, "1h", cfg.Scan.HTFTimeframe)
	assert.Equal(t, 3, cfg.Scan.Concurrency)
	assert.Equal(t, 5, cfg.Signal.ThrottleMinutes)
	assert.Equal(t, 1.2, cfg.Signal.MinRiskReward)
	assert.Equal(t, 10000.0, cfg.Sim.EquityUSD)
	assert.Equal(t, 0.5, cfg.Sim.TP1RatioQty)
	assert.True(t, cfg.Sim.BEOnTP1)
	assert.Equal(t, 23, cfg.Report.Hour)
	assert.Equal(t, 59, cfg.Report.Minute)
	// The built-in universe is present and de-duplicated.
	assert.Contains(t, cfg.Scan.Symbols, "BTCUSDT")
	assert.Contains(t, cfg.Scan.Symbols, "ARBUSDT")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TIMEFRAME", "30m")
	t.Setenv("SCAN_INTERVAL_SECONDS", "45")
	t.Setenv("THROTTLE_MINUTES", "30")
	t.Setenv("SIM_FEE_BPS", "10")
	t.Setenv("SIM_BE_ON_TP1", "0")
	t.Setenv("SYMBOLS", "solusdt, btcusdt")

	cfg, err := loadMinimal(t)
	require.NoError(t, err)

	assert.Equal(t, "30m", cfg.Scan.Timeframe)
	assert.Equal(t, 45, cfg.Scan.IntervalSeconds)
	assert.Equal(t, 30, cfg.Signal.ThrottleMinutes)
	assert.Equal(t, 10.0, cfg.Sim.FeeBps)
	assert.False(t, cfg.Sim.BEOnTP1)
	// Env symbols come first, upper-cased, then the built-ins without dupes.
	assert.Equal(t, "SOLUSDT", cfg.Scan.Symbols[0])
	assert.Equal(t, "BTCUSDT", cfg.Scan.Symbols[1])
	count := 0
	for _, s := range cfg.Scan.Symbols {
		if s == "BTCUSDT" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestYamlFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scan:
  interval_seconds: 120
signal:
  throttle_minutes: 15
`), 0o644))
	t.Setenv("BOT_TOKEN", "123:token")
	t.Setenv("TELEGRAM_CHAT_IDS", "1001")
	t.Setenv("THROTTLE_MINUTES", "45")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Scan.IntervalSeconds)
	// Environment wins over the file.
	assert.Equal(t, 45, cfg.Signal.ThrottleMinutes)
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"bad timeframe", "TIMEFRAME", "5m", "TIMEFRAME"},
		{"scan interval too low", "SCAN_INTERVAL_SECONDS", "10", "SCAN_INTERVAL_SECONDS"},
		{"zero concurrency", "SCAN_CONCURRENCY", "0", "SCAN_CONCURRENCY"},
		{"tp1 ratio out of range", "SIM_TP1_RATIO_QTY", "1.5", "SIM_TP1_RATIO_QTY"},
		{"negative fee", "SIM_FEE_BPS", "-1", "SIM_FEE_BPS"},
		{"report hour out of range", "DAILY_REPORT_HOUR", "24", "DAILY_REPORT_HOUR"},
		{"unparsable int", "THROTTLE_MINUTES", "soon", "THROTTLE_MINUTES"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("BOT_TOKEN", "123:token")
			t.Setenv("TELEGRAM_CHAT_IDS", "1001")
			t.Setenv(tc.key, tc.val)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestTelegramRequiredWhenEnabled(t *testing.T) {
	t.Setenv("TELEGRAM_ENABLED", "1")
	t.Setenv("BOT_TOKEN", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN")
}

func TestTelegramOptionalWhenDisabled(t *testing.T) {
	t.Setenv("TELEGRAM_ENABLED", "0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Telegram.Enabled)
}
