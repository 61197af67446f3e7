package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pump-signal-bot/pkg/types"
)

// DailyCSV appends one row per admitted signal to the day's signal log:
// ts, symbol, entry_mid, score, trend_label, tp1, tp2, sl.
type DailyCSV struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

func NewDailyCSV(path string, logger zerolog.Logger) *DailyCSV {
	return &DailyCSV{
		path: path,
		log:  logger.With().Str("component", "daily_csv").Logger(),
	}
}

func (w *DailyCSV) Path() string { return w.path }

// Append writes one signal row. The file is opened in append mode per call
// so an external rotation never strands an open handle.
func (w *DailyCSV) Append(cand *types.SignalCandidate, score float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	record := []string{
		cand.CreatedAt.UTC().Format(time.RFC3339),
		cand.Symbol,
		fmt.Sprintf("%.6f", cand.EntryMid()),
		fmt.Sprintf("%.2f", score),
		cand.Context.TrendLabel,
		fmt.Sprintf("%.6f", cand.TPLevels[0]),
		fmt.Sprintf("%.6f", cand.TPLevels[1]),
		fmt.Sprintf("%.6f", cand.StopLoss),
	}
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("append %s: %w", w.path, err)
	}
	cw.Flush()
	return cw.Error()
}
