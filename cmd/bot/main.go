package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pump-signal-bot/internal/binance"
	"pump-signal-bot/internal/chart"
	"pump-signal-bot/internal/config"
	"pump-signal-bot/internal/database"
	"pump-signal-bot/internal/engine"
	"pump-signal-bot/internal/filter"
	"pump-signal-bot/internal/report"
	"pump-signal-bot/internal/scanner"
	"pump-signal-bot/internal/sim"
	"pump-signal-bot/internal/state"
	"pump-signal-bot/internal/strategy"
	"pump-signal-bot/internal/telegram"
	"pump-signal-bot/internal/throttle"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info().
		Str("timeframe", cfg.Scan.Timeframe).
		Str("htf", cfg.Scan.HTFTimeframe).
		Int("scan_interval_s", cfg.Scan.IntervalSeconds).
		Int("throttle_m", cfg.Signal.ThrottleMinutes).
		Int("symbols", len(cfg.Scan.Symbols)).
		Msg("starting signal bot")

	db, err := database.Open(cfg.Paths.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage init failed")
	}
	defer db.Close()

	notifier, err := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs, cfg.Telegram.Enabled, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram init failed")
	}

	client := binance.NewClient(cfg.Binance.APIKey, cfg.Binance.APISecret)
	universe := validateUniverse(client, cfg.Scan.Symbols, logger)
	lastSignal := state.NewLastSignal()

	params := strategy.DefaultParams()
	params.BaseTimeframe = cfg.Scan.Timeframe
	params.HTFTimeframe = cfg.Scan.HTFTimeframe
	params.Leverage = cfg.Signal.Leverage
	params.StrategyName = cfg.Signal.StrategyName
	params.StrictVolumeRatio = cfg.Signal.StrictVolumeRatio
	params.AdaptiveVolumeRatio = cfg.Signal.MinVolumeRatio
	params.StarvationHours = cfg.Signal.AdaptiveStarvationHours
	analyzer := strategy.NewAnalyzer(client, lastSignal, params, logger)

	quality := filter.New(filter.Thresholds{
		MinRSI:               cfg.Signal.MinRSI,
		MaxRSI:               cfg.Signal.MaxRSI,
		MinRiskReward:        cfg.Signal.MinRiskReward,
		MinATRPct:            cfg.Signal.MinATRPct,
		MaxSpreadPct:         cfg.Signal.MaxSpreadPct,
		VolumeSpikeThreshold: cfg.Signal.VolumeSpikeThreshold,
		MinSuccessRate:       cfg.Signal.MinSuccessRate,
	}, logger)

	simEngine := sim.NewEngine(sim.Config{
		EquityUSD:   cfg.Sim.EquityUSD,
		RiskPct:     cfg.Sim.RiskPct,
		TP1RatioQty: cfg.Sim.TP1RatioQty,
		FeeBps:      cfg.Sim.FeeBps,
		BEOnTP1:     cfg.Sim.BEOnTP1,
		Notify:      cfg.Sim.Notify,
	}, db, notifier, logger)

	dailyCSV := report.NewDailyCSV(cfg.Report.CSVPath, logger)
	reporter := report.NewReporter(db, cfg.Report.CSVPath, cfg.Paths.ChartsDir, logger)

	coordinator := engine.NewCoordinator(engine.Deps{
		Market:    client,
		Chart:     chart.NewGenerator(cfg.Paths.ChartsDir, logger),
		Quality:   quality,
		Throttle:  throttle.New(cfg.Paths.ThrottleFile, logger),
		Store:     db,
		CSV:       dailyCSV,
		Notify:    notifier,
		Sim:       simEngine,
		LastAdmit: lastSignal,
	}, time.Duration(cfg.Signal.ThrottleMinutes)*time.Minute, cfg.Signal.VolumeSpikeThreshold, logger)

	scan := scanner.New(scanner.Config{
		Symbols:     universe,
		Period:      time.Duration(cfg.Scan.IntervalSeconds) * time.Second,
		MinGap:      time.Duration(cfg.Scan.SymbolIntervalMinutes) * time.Minute,
		Concurrency: cfg.Scan.Concurrency,
	}, analyzer, coordinator, lastSignal, coordinator, logger)

	watcher := sim.NewWatcher(simEngine, client, db,
		time.Duration(cfg.Sim.TickIntervalSeconds)*time.Second, logger)

	settings := telegram.NewSettingsStore(cfg.Paths.UserSettingsFile, logger)
	router := telegram.NewRouter(notifier, db, reporter, settings, coordinator,
		cfg.Telegram.AdminIDs, universe, configText(cfg), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Daily report at the configured wall-clock time.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("%d %d * * *", cfg.Report.Minute, cfg.Report.Hour), func() {
		summary, chartPath := reporter.Generate(time.Now().UTC())
		for _, chatID := range cfg.Telegram.ChatIDs {
			var sendErr error
			if chartPath != "" {
				sendErr = notifier.SendPhoto(chatID, chartPath, summary)
			} else {
				sendErr = notifier.SendText(chatID, summary)
			}
			if sendErr != nil {
				logger.Error().Err(sendErr).Int64("chat_id", chatID).Msg("daily report send failed")
			}
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("report scheduler init failed")
	}
	scheduler.Start()
	defer scheduler.Stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		scan.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		router.Run(ctx)
	}()

	notifier.Broadcast("🤖 Signal bot started. Scanning " +
		fmt.Sprintf("%d symbols on %s/%s.", len(universe), cfg.Scan.Timeframe, cfg.Scan.HTFTimeframe))

	<-ctx.Done()
	logger.Warn().Msg("shutdown signal received, stopping")
	wg.Wait()
	logger.Info().Msg("bye")
}

// validateUniverse drops configured symbols the exchange does not report as
// tradable and logs the clock skew against the exchange. Both checks degrade
// gracefully when the API is unreachable at startup.
func validateUniverse(client *binance.Client, symbols []string, logger zerolog.Logger) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if serverMs, err := client.GetServerTime(ctx); err != nil {
		logger.Warn().Err(err).Msg("exchange clock check failed")
	} else {
		skew := time.Since(time.UnixMilli(serverMs)).Round(time.Millisecond)
		logger.Info().Dur("skew", skew).Msg("exchange clock checked")
	}

	info, err := client.GetExchangeInfo(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("exchange info unavailable, scanning configured universe as-is")
		return symbols
	}
	tradable := make(map[string]bool, len(info))
	for _, s := range info {
		if s.Status == "TRADING" {
			tradable[s.Symbol] = true
		}
	}
	var kept []string
	for _, sym := range symbols {
		if tradable[sym] {
			kept = append(kept, sym)
		} else {
			logger.Warn().Str("symbol", sym).Msg("symbol not tradable, dropped from universe")
		}
	}
	if len(kept) == 0 {
		logger.Warn().Msg("no configured symbol is tradable, keeping configured universe")
		return symbols
	}
	return kept
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func configText(cfg *config.Config) string {
	return fmt.Sprintf(
		"TIMEFRAME=%s\nHTF_TIMEFRAME=%s\nSCAN_INTERVAL_SECONDS=%d\nSCAN_CONCURRENCY=%d\n"+
			"THROTTLE_MINUTES=%d\nMIN_RISK_REWARD=%.2f\nMIN_VOLUME_RATIO=%.2f\n"+
			"SIM_EQUITY_USD=%.0f\nSIM_RISK_PER_TRADE_PCT=%.2f\nSIM_FEE_BPS=%.1f",
		cfg.Scan.Timeframe, cfg.Scan.HTFTimeframe, cfg.Scan.IntervalSeconds, cfg.Scan.Concurrency,
		cfg.Signal.ThrottleMinutes, cfg.Signal.MinRiskReward, cfg.Signal.MinVolumeRatio,
		cfg.Sim.EquityUSD, cfg.Sim.RiskPct, cfg.Sim.FeeBps)
}
