package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"pump-signal-bot/pkg/types"
)

// TradeSource is the storage slice the reporter reads.
type TradeSource interface {
	TradesBetween(start, end time.Time) ([]types.Trade, error)
}

// signalRow is one parsed line of the daily CSV.
type signalRow struct {
	TS    time.Time
	Score float64
	Trend string
}

// Reporter builds the end-of-day summary from the daily CSV and the closed
// trades in storage, plus a cumulative-PnL chart when there is anything to
// plot.
type Reporter struct {
	trades  TradeSource
	csvPath string
	outDir  string
	log     zerolog.Logger
}

func NewReporter(trades TradeSource, csvPath, outDir string, logger zerolog.Logger) *Reporter {
	return &Reporter{
		trades:  trades,
		csvPath: csvPath,
		outDir:  outDir,
		log:     logger.With().Str("component", "daily_report").Logger(),
	}
}

// Generate returns (summary text, equity chart path or empty) for the given
// day.
func (r *Reporter) Generate(day time.Time) (string, string) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Second)

	signals := r.readSignals(start, end)
	trades, err := r.trades.TradesBetween(start, end)
	if err != nil {
		r.log.Error().Err(err).Msg("trade query failed")
	}

	parts := []string{"🧾 Daily Summary"}

	if len(signals) > 0 {
		up, down := 0, 0
		sum, best := 0.0, signals[0].Score
		for _, s := range signals {
			if strings.Contains(s.Trend, "Uptrend") {
				up++
			} else if strings.Contains(s.Trend, "Downtrend") {
				down++
			}
			sum += s.Score
			if s.Score > best {
				best = s.Score
			}
		}
		parts = append(parts,
			fmt.Sprintf("• Signals: %d", len(signals)),
			fmt.Sprintf("• Up/Down: %d/%d", up, down),
			fmt.Sprintf("• Avg score: %.2f", sum/float64(len(signals))),
			fmt.Sprintf("• Best score: %.2f", best),
		)
	} else {
		parts = append(parts, "• No signals recorded today.")
	}

	closed := closedTrades(trades)
	if len(closed) > 0 {
		wins, losses := 0, 0
		pnlSum := 0.0
		for _, t := range closed {
			if t.PnLUSD > 0 {
				wins++
			} else {
				losses++
			}
			pnlSum += t.PnLUSD
		}
		winrate := float64(wins) / float64(len(closed)) * 100
		parts = append(parts,
			fmt.Sprintf("• Closed trades: %d | Win/Loss: %d/%d (Winrate %.1f%%)", len(closed), wins, losses, winrate),
			fmt.Sprintf("• Total PnL: $%.2f", pnlSum),
		)
	} else {
		parts = append(parts, "• No trade activity.")
	}

	chartPath := ""
	if len(closed) > 0 {
		path, err := r.plotEquityCurve(closed, day)
		if err != nil {
			r.log.Error().Err(err).Msg("equity curve render failed")
		} else {
			chartPath = path
		}
	}
	return strings.Join(parts, "\n"), chartPath
}

func (r *Reporter) readSignals(start, end time.Time) []signalRow {
	f, err := os.Open(r.csvPath)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn().Err(err).Msg("daily csv could not be read")
		}
		return nil
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows []signalRow
	for {
		rec, err := reader.Read()
		if err != nil {
			break
		}
		if len(rec) < 5 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			continue
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		score, _ := strconv.ParseFloat(rec[3], 64)
		rows = append(rows, signalRow{TS: ts, Score: score, Trend: rec[4]})
	}
	return rows
}

func closedTrades(trades []types.Trade) []types.Trade {
	var out []types.Trade
	for _, t := range trades {
		if t.Status == types.TradeClosed && !t.ClosedAt.IsZero() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	return out
}

// plotEquityCurve renders cumulative realized PnL over the day's closes.
func (r *Reporter) plotEquityCurve(closed []types.Trade, day time.Time) (string, error) {
	p := plot.New()
	p.Title.Text = "Cumulative PnL (closed trades)"
	p.X.Label.Text = "Trade"
	p.Y.Label.Text = "USD"

	xys := make(plotter.XYs, len(closed))
	cum := 0.0
	for i, t := range closed {
		cum += t.PnLUSD
		xys[i] = plotter.XY{X: float64(i + 1), Y: cum}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return "", err
	}
	line.Width = vg.Points(2)
	p.Add(line)

	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s/report_equity_%s.png", r.outDir, day.Format("20060102"))
	if err := p.Save(6*vg.Inch, 3*vg.Inch, path); err != nil {
		return "", err
	}
	return path, nil
}
