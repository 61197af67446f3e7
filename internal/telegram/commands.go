package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"pump-signal-bot/internal/database"
	"pump-signal-bot/pkg/types"
)

const paywallMessage = "💎 <b>VIP SIGNAL PANEL</b>\n" +
	"━━━━━━━━━━━━━━━━━━━━━━━━\n" +
	"You do not have access to this panel.\n\n" +
	"🔐 Contact the operator for access."

// Storage is the read slice the command handlers need.
type Storage interface {
	LastSignals(limit int) ([]types.SignalRecord, error)
	RecentTrades(limit int) ([]types.Trade, error)
	OpenTrades(symbol string) ([]types.Trade, error)
	PnLSummary() (database.PnLStats, error)
}

// ReportSource produces the end-of-day summary on demand.
type ReportSource interface {
	Generate(day time.Time) (summary string, chartPath string)
}

// HealthSource exposes the coordinator's admission counters.
type HealthSource interface {
	HealthSnapshot() (startedAt time.Time, admitted int, rejections map[string]int)
}

// Router consumes bot commands over long polling and answers the operator
// surface. Every command is admin-gated; other users get the paywall.
type Router struct {
	notifier   *Notifier
	store      Storage
	reports    ReportSource
	settings   *SettingsStore
	health     HealthSource
	admins     map[int64]bool
	symbols    []string
	configText string
	log        zerolog.Logger
}

func NewRouter(notifier *Notifier, store Storage, reports ReportSource, settings *SettingsStore,
	health HealthSource, adminIDs []int64, symbols []string, configText string, logger zerolog.Logger) *Router {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Router{
		notifier:   notifier,
		store:      store,
		reports:    reports,
		settings:   settings,
		health:     health,
		admins:     admins,
		symbols:    symbols,
		configText: configText,
		log:        logger.With().Str("component", "commands").Logger(),
	}
}

// Run blocks on the update channel until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	bot := r.notifier.Bot()
	if bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		bot.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}
		r.dispatch(update.Message)
	}
}

func (r *Router) dispatch(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if !r.admins[userID] {
		r.reply(chatID, paywallMessage)
		r.log.Warn().Int64("user_id", userID).Str("command", msg.Command()).Msg("unauthorized command")
		return
	}

	switch msg.Command() {
	case "start":
		r.handleStart(chatID, msg.From.FirstName)
	case "status":
		r.handleStatus(chatID)
	case "symbols":
		r.reply(chatID, "Watched symbols: "+strings.Join(r.symbols, ", "))
	case "pnl":
		r.handlePnL(chatID)
	case "trades":
		r.handleTrades(chatID)
	case "config":
		r.reply(chatID, "⚙️ <b>Settings</b>\n"+r.configText)
	case "report":
		r.handleReport(chatID)
	case "testsignal":
		r.handleTestSignal(chatID)
	case "health":
		r.handleHealth(chatID)
	case "sethorizon":
		r.handleSet(chatID, userID, "horizon", msg.CommandArguments())
	case "setrisk":
		r.handleSet(chatID, userID, "risk", msg.CommandArguments())
	case "profile":
		r.handleProfile(chatID, userID)
	default:
		r.reply(chatID, "Unknown command. Try /status, /pnl, /trades, /report or /health.")
	}
}

func (r *Router) reply(chatID int64, text string) {
	if err := r.notifier.SendText(chatID, text); err != nil {
		r.log.Error().Err(err).Int64("chat_id", chatID).Msg("reply failed")
	}
}

func (r *Router) handleStart(chatID int64, firstName string) {
	if firstName == "" {
		firstName = "VIP"
	}
	msg := "💎 <b>VIP SIGNAL PANEL</b>\n" +
		"━━━━━━━━━━━━━━━━━━━━━━━━\n" +
		fmt.Sprintf("Welcome %s!\n\n", firstName) +
		"Commands:\n" +
		"• /status – latest signals\n" +
		"• /symbols – watched symbols\n" +
		"• /pnl – PnL summary\n" +
		"• /trades – recent trades\n" +
		"• /config – configuration\n" +
		"• /report – daily report\n" +
		"• /health – pipeline health\n" +
		"• /sethorizon, /setrisk, /profile – preferences"
	r.reply(chatID, msg)
}

func (r *Router) handleStatus(chatID int64) {
	rows, err := r.store.LastSignals(5)
	if err != nil {
		r.reply(chatID, "Signal lookup failed.")
		return
	}
	if len(rows) == 0 {
		r.reply(chatID, "No signals recorded yet.")
		return
	}
	lines := []string{"📈 <b>Latest signals</b>"}
	for _, s := range rows {
		lines = append(lines, fmt.Sprintf("• %s: score <b>%.2f</b> | price %.4f | rsi %.1f | %s",
			s.Symbol, s.Score, s.Price, s.RSI, s.Timestamp.Format("01-02 15:04")))
	}
	r.reply(chatID, strings.Join(lines, "\n"))
}

func (r *Router) handlePnL(chatID int64) {
	stats, err := r.store.PnLSummary()
	if err != nil {
		r.reply(chatID, "PnL lookup failed.")
		return
	}
	open, err := r.store.OpenTrades("")
	if err != nil {
		r.reply(chatID, "Open trade lookup failed.")
		return
	}
	txt := "💰 <b>PnL Summary</b>\n" +
		fmt.Sprintf("Closed trades: %d\n", stats.Closed) +
		fmt.Sprintf("Win/Loss: %d/%d (Winrate %.1f%%)\n", stats.Wins, stats.Losses, stats.Winrate) +
		fmt.Sprintf("Total PnL: $%.2f\n", stats.PnLUSD) +
		fmt.Sprintf("Open positions: %d", len(open))
	r.reply(chatID, txt)
}

func (r *Router) handleTrades(chatID int64) {
	rows, err := r.store.RecentTrades(10)
	if err != nil || len(rows) == 0 {
		r.reply(chatID, "No trade history.")
		return
	}
	lines := []string{"📜 <b>Recent trades</b>"}
	for _, t := range rows {
		tail := ""
		if t.Status == types.TradeClosed {
			tail = fmt.Sprintf(" | PnL $%.2f (%.2f%%)", t.PnLUSD, t.PnLPct)
		}
		lines = append(lines, fmt.Sprintf("• %s %s @%.4f [%s] %s%s",
			t.Symbol, t.Side, t.Entry, t.Status, t.OpenedAt.Format("01-02 15:04"), tail))
	}
	r.reply(chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleReport(chatID int64) {
	summary, chartPath := r.reports.Generate(time.Now().UTC())
	if chartPath != "" {
		if err := r.notifier.SendPhoto(chatID, chartPath, summary); err == nil {
			return
		}
	}
	r.reply(chatID, summary)
}

func (r *Router) handleTestSignal(chatID int64) {
	cand := &types.SignalCandidate{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		Timeframe:  "15m",
		EntryRange: [2]float64{64950, 65050},
		TPLevels:   []float64{65600, 66200, 66800},
		StopLoss:   64500,
		Leverage:   10,
		Strategy:   "TEST SIGNAL",
		CreatedAt:  time.Now().UTC(),
		Context: types.SignalContext{
			RSI:         54.2,
			RiskReward:  1.5,
			VolumeRatio: 1.6,
			TrendLabel:  "HTF 1h Uptrend",
		},
	}
	r.reply(chatID, FormatSignal(cand))
}

func (r *Router) handleHealth(chatID int64) {
	startedAt, admitted, rejections := r.health.HealthSnapshot()
	lines := []string{
		"🩺 <b>Pipeline health</b>",
		fmt.Sprintf("Uptime: %s", time.Since(startedAt).Round(time.Minute)),
		fmt.Sprintf("Admitted signals: %d", admitted),
	}
	if len(rejections) > 0 {
		lines = append(lines, "Rejections:")
		for reason, count := range rejections {
			lines = append(lines, fmt.Sprintf("• %s: %d", reason, count))
		}
	} else {
		lines = append(lines, "Rejections: none")
	}
	r.reply(chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleSet(chatID, userID int64, key, value string) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		r.reply(chatID, fmt.Sprintf("Usage: /set%s &lt;value&gt;", key))
		return
	}
	if err := r.settings.Set(userID, key, value); err != nil {
		r.reply(chatID, err.Error())
		return
	}
	r.handleProfile(chatID, userID)
}

func (r *Router) handleProfile(chatID, userID int64) {
	settings := r.settings.Get(userID)
	txt := "👤 <b>Profile</b>\n" +
		fmt.Sprintf("Horizon: %s\n", HorizonName(settings.Horizon)) +
		fmt.Sprintf("Risk: %s\n", RiskName(settings.Risk)) +
		fmt.Sprintf("Timeframes: %s", strings.Join(TimeframesForHorizon(settings.Horizon), ", "))
	r.reply(chatID, txt)
}
