package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"pump-signal-bot/internal/strategy"
	"pump-signal-bot/pkg/types"
)

type scriptedAnalyzer struct {
	mu       sync.Mutex
	analyzed []string
	results  map[string]error // nil means "produce a candidate"
}

func (a *scriptedAnalyzer) Analyze(_ context.Context, symbol string) (*types.SignalCandidate, error) {
	a.mu.Lock()
	a.analyzed = append(a.analyzed, symbol)
	a.mu.Unlock()
	if err, ok := a.results[symbol]; ok && err != nil {
		return nil, err
	}
	return &types.SignalCandidate{Symbol: symbol, Side: types.SideLong}, nil
}

type collectingAdmitter struct {
	mu        sync.Mutex
	admitted  []string
	failAdmit bool
}

func (c *collectingAdmitter) OnCandidate(_ context.Context, cand *types.SignalCandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAdmit {
		return errors.New("rejected")
	}
	c.admitted = append(c.admitted, cand.Symbol)
	return nil
}

type fixedLastAdmit struct{ last map[string]time.Time }

func (f *fixedLastAdmit) Last(symbol string) (time.Time, bool) {
	ts, ok := f.last[symbol]
	return ts, ok
}

type countingRejects struct {
	mu      sync.Mutex
	reasons map[string]int
}

func (c *countingRejects) CountRejection(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reasons == nil {
		c.reasons = make(map[string]int)
	}
	c.reasons[reason]++
}

func TestTickDispatchesAllDueSymbols(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: map[string]error{}}
	admit := &collectingAdmitter{}
	s := New(Config{
		Symbols:     []string{"AAA", "BBB", "CCC"},
		Period:      time.Minute,
		MinGap:      5 * time.Minute,
		Concurrency: 2,
	}, analyzer, admit, &fixedLastAdmit{}, nil, zerolog.Nop())

	s.Tick(context.Background())

	assert.ElementsMatch(t, []string{"AAA", "BBB", "CCC"}, analyzer.analyzed)
	assert.ElementsMatch(t, []string{"AAA", "BBB", "CCC"}, admit.admitted)
}

func TestTickSkipsRecentlyAdmittedSymbols(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: map[string]error{}}
	admit := &collectingAdmitter{}
	lastAdmit := &fixedLastAdmit{last: map[string]time.Time{
		"AAA": time.Now().Add(-time.Minute),
	}}
	s := New(Config{
		Symbols:     []string{"AAA", "BBB"},
		Period:      time.Minute,
		MinGap:      5 * time.Minute,
		Concurrency: 2,
	}, analyzer, admit, lastAdmit, nil, zerolog.Nop())

	s.Tick(context.Background())

	assert.ElementsMatch(t, []string{"BBB"}, analyzer.analyzed)
}

func TestTickSurvivesPerSymbolFailures(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: map[string]error{
		"AAA": errors.New("binance 5xx"),
		"BBB": &strategy.Rejection{Symbol: "BBB", Reason: strategy.RejectNoHTFTrend},
	}}
	admit := &collectingAdmitter{}
	rejects := &countingRejects{}
	s := New(Config{
		Symbols:     []string{"AAA", "BBB", "CCC"},
		Period:      time.Minute,
		Concurrency: 3,
	}, analyzer, admit, &fixedLastAdmit{}, rejects, zerolog.Nop())

	s.Tick(context.Background())

	// The failing symbols never reach admission; the healthy one does.
	assert.ElementsMatch(t, []string{"CCC"}, admit.admitted)
	assert.Equal(t, 1, rejects.reasons[string(strategy.RejectNoHTFTrend)])
}

func TestTickStopsDispatchingWhenCancelled(t *testing.T) {
	analyzer := &scriptedAnalyzer{results: map[string]error{}}
	admit := &collectingAdmitter{}
	s := New(Config{
		Symbols:     []string{"AAA", "BBB"},
		Period:      time.Minute,
		Concurrency: 1,
	}, analyzer, admit, &fixedLastAdmit{}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Tick(ctx)

	assert.Empty(t, analyzer.analyzed)
}
