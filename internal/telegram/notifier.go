package telegram

import (
	"fmt"
	"math"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"pump-signal-bot/pkg/types"
)

// Notifier delivers texts and chart photos to the configured chats. Send
// failures are reported to the caller; broadcast helpers log and continue so
// one unreachable chat never blocks the pipeline.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
	enabled bool
	log     zerolog.Logger
}

func NewNotifier(token string, chatIDs []int64, enabled bool, logger zerolog.Logger) (*Notifier, error) {
	n := &Notifier{
		chatIDs: chatIDs,
		enabled: enabled,
		log:     logger.With().Str("component", "telegram").Logger(),
	}
	if !enabled {
		return n, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	n.bot = bot
	n.log.Info().Str("bot", bot.Self.UserName).Msg("telegram connected")
	return n, nil
}

// Bot exposes the underlying API for the command router.
func (n *Notifier) Bot() *tgbotapi.BotAPI { return n.bot }

// SendText delivers one HTML message to a chat.
func (n *Notifier) SendText(chatID int64, text string) error {
	if !n.enabled {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := n.bot.Send(msg)
	return err
}

// SendPhoto delivers a photo from disk with an HTML caption.
func (n *Notifier) SendPhoto(chatID int64, path, caption string) error {
	if !n.enabled {
		return nil
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	_, err := n.bot.Send(photo)
	return err
}

// Broadcast sends a plain text to every configured chat.
func (n *Notifier) Broadcast(text string) {
	for _, chatID := range n.chatIDs {
		if err := n.SendText(chatID, text); err != nil {
			n.log.Error().Err(err).Int64("chat_id", chatID).Msg("broadcast failed")
		}
	}
}

// BroadcastSignal delivers the formatted signal message with its chart to
// every configured chat. Returns the last send error, if any.
func (n *Notifier) BroadcastSignal(cand *types.SignalCandidate) error {
	caption := FormatSignal(cand)
	var lastErr error
	for _, chatID := range n.chatIDs {
		var err error
		if cand.ChartPath != "" {
			err = n.SendPhoto(chatID, cand.ChartPath, caption)
		} else {
			err = n.SendText(chatID, caption)
		}
		if err != nil {
			n.log.Error().Err(err).Int64("chat_id", chatID).Str("symbol", cand.Symbol).Msg("signal send failed")
			lastErr = err
		}
	}
	return lastErr
}

// FormatSignal renders the VIP signal message.
func FormatSignal(cand *types.SignalCandidate) string {
	sideEmoji := "🟢"
	if cand.Side == types.SideShort {
		sideEmoji = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s %s</b> (%s)\n", sideEmoji, cand.Symbol, cand.Side, cand.Timeframe)
	b.WriteString(strings.Repeat("━", 24) + "\n")
	fmt.Fprintf(&b, "📈 %s\n\n", cand.Context.TrendLabel)
	fmt.Fprintf(&b, "💰 Entry: <code>%.4f - %.4f</code>\n", cand.EntryRange[0], cand.EntryRange[1])
	for i, tp := range cand.TPLevels {
		fmt.Fprintf(&b, "🎯 TP%d: <code>%.4f</code>\n", i+1, tp)
	}
	fmt.Fprintf(&b, "🛑 SL: <code>%.4f</code>\n", cand.StopLoss)
	fmt.Fprintf(&b, "⚡ Leverage: %dx\n\n", cand.Leverage)
	if !math.IsNaN(cand.Context.RSI) {
		fmt.Fprintf(&b, "RSI: %.1f | ", cand.Context.RSI)
	}
	fmt.Fprintf(&b, "R:R 1:%.2f | Vol x%.2f\n", cand.Context.RiskReward, cand.Context.VolumeRatio)
	fmt.Fprintf(&b, "🧠 %s", cand.Strategy)
	return b.String()
}
