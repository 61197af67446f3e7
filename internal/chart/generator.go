package chart

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"pump-signal-bot/internal/strategy"
	"pump-signal-bot/pkg/types"
)

const lookback = 50

var (
	upColor    = color.RGBA{R: 0x00, G: 0xaa, B: 0x00, A: 0xff}
	downColor  = color.RGBA{R: 0xff, G: 0x00, B: 0x00, A: 0xff}
	ema20Color = color.RGBA{R: 0x1f, G: 0x4f, B: 0xff, A: 0xff}
	ema50Color = color.RGBA{R: 0xff, G: 0x8c, B: 0x00, A: 0xff}
	tp1Color   = color.RGBA{R: 0x00, G: 0x88, B: 0xff, A: 0xff}
	tp2Color   = color.RGBA{R: 0x00, G: 0xcc, B: 0xff, A: 0xff}
	slColor    = color.RGBA{R: 0xff, G: 0x66, B: 0x00, A: 0xff}
)

// Generator renders candidate charts into a directory. Filenames carry a
// second-resolution timestamp; a monotonic counter suffixes collisions so an
// existing chart is never overwritten.
type Generator struct {
	dir string
	log zerolog.Logger

	mu  sync.Mutex
	seq int
	now func() time.Time
}

func NewGenerator(dir string, logger zerolog.Logger) *Generator {
	return &Generator{
		dir: dir,
		log: logger.With().Str("component", "chart").Logger(),
		now: time.Now,
	}
}

// Generate renders the last 50 base-timeframe candles with EMA20/EMA50
// overlays, entry/TP1/TP2/SL level lines and a volume pane, and returns the
// written file path. On any failure it returns an empty path and the error;
// nothing partial is left on disk.
func (g *Generator) Generate(cand *types.SignalCandidate, candles []types.Candle) (string, error) {
	if len(candles) == 0 {
		return "", fmt.Errorf("%s: no candles to render", cand.Symbol)
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("charts dir: %w", err)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	ema20 := strategy.EMA(closes, 20)
	ema50 := strategy.EMA(closes, 50)

	start := len(candles) - lookback
	if start < 0 {
		start = 0
	}
	tail := candles[start:]
	ema20Tail := ema20[start:]
	ema50Tail := ema50[start:]

	pricePlot, err := g.buildPricePlot(cand, tail, ema20Tail, ema50Tail)
	if err != nil {
		return "", err
	}
	volPlot, err := buildVolumePlot(tail)
	if err != nil {
		return "", err
	}

	img := vgimg.New(12*vg.Inch, 8*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadX: vg.Millimeter, PadY: vg.Millimeter}
	plots := [][]*plot.Plot{{pricePlot}, {volPlot}}
	canvases := plot.Align(plots, tiles, dc)
	pricePlot.Draw(canvases[0][0])
	volPlot.Draw(canvases[1][0])

	tmp, err := os.CreateTemp(g.dir, ".chart-*")
	if err != nil {
		return "", fmt.Errorf("chart temp file: %w", err)
	}
	tmpName := tmp.Name()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("chart encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chart close: %w", err)
	}

	path, err := g.commit(tmpName, cand.Symbol)
	if err != nil {
		return "", err
	}
	g.log.Info().Str("symbol", cand.Symbol).Str("path", path).Msg("chart saved")
	return path, nil
}

func (g *Generator) buildPricePlot(cand *types.SignalCandidate, tail []types.Candle, ema20, ema50 []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s (%s)", cand.Symbol, cand.Timeframe, cand.Side)
	p.Y.Label.Text = "Price (USDT)"
	p.Legend.Top = true
	p.Legend.Left = true

	p.Add(&candlesticks{candles: tail})

	ema20Line, err := plotter.NewLine(indexedXYs(ema20))
	if err != nil {
		return nil, fmt.Errorf("ema20 line: %w", err)
	}
	ema20Line.Color = ema20Color
	ema20Line.Width = vg.Points(1.5)
	p.Add(ema20Line)
	p.Legend.Add("EMA20", ema20Line)

	ema50Line, err := plotter.NewLine(indexedXYs(ema50))
	if err != nil {
		return nil, fmt.Errorf("ema50 line: %w", err)
	}
	ema50Line.Color = ema50Color
	ema50Line.Width = vg.Points(1.5)
	p.Add(ema50Line)
	p.Legend.Add("EMA50", ema50Line)

	entryColor := upColor
	if cand.Side == types.SideShort {
		entryColor = downColor
	}
	n := len(tail)
	levels := []struct {
		label string
		value float64
		color color.Color
	}{
		{fmt.Sprintf("Entry (%.4f)", cand.EntryMid()), cand.EntryMid(), entryColor},
		{fmt.Sprintf("TP1 (%.4f)", cand.TPLevels[0]), cand.TPLevels[0], tp1Color},
		{fmt.Sprintf("TP2 (%.4f)", cand.TPLevels[1]), cand.TPLevels[1], tp2Color},
		{fmt.Sprintf("SL (%.4f)", cand.StopLoss), cand.StopLoss, slColor},
	}
	for _, lvl := range levels {
		line, err := plotter.NewLine(plotter.XYs{{X: 0, Y: lvl.value}, {X: float64(n - 1), Y: lvl.value}})
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", lvl.label, err)
		}
		line.Color = lvl.color
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		p.Add(line)
		p.Legend.Add(lvl.label, line)
	}
	return p, nil
}

func buildVolumePlot(tail []types.Candle) (*plot.Plot, error) {
	p := plot.New()
	p.Y.Label.Text = "Volume"

	upVols := make(plotter.Values, len(tail))
	downVols := make(plotter.Values, len(tail))
	for i, c := range tail {
		if c.Close >= c.Open {
			upVols[i] = c.Volume
		} else {
			downVols[i] = c.Volume
		}
	}
	for _, part := range []struct {
		vals plotter.Values
		col  color.Color
	}{{upVols, upColor}, {downVols, downColor}} {
		bars, err := plotter.NewBarChart(part.vals, vg.Points(3))
		if err != nil {
			return nil, fmt.Errorf("volume bars: %w", err)
		}
		bars.Color = part.col
		bars.LineStyle.Width = 0
		p.Add(bars)
	}
	return p, nil
}

// commit moves the finished render into place. The name check and rename
// run under the lock, and a monotonic counter suffixes collisions, so two
// workers admitting within the same second never overwrite each other.
func (g *Generator) commit(tmpName, symbol string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	stamp := g.now().Format("20060102_150405")
	path := filepath.Join(g.dir, fmt.Sprintf("chart_%s_%s.png", symbol, stamp))
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		g.seq++
		path = filepath.Join(g.dir, fmt.Sprintf("chart_%s_%s_%d.png", symbol, stamp, g.seq))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chart rename: %w", err)
	}
	return path, nil
}

func indexedXYs(series []float64) plotter.XYs {
	xys := make(plotter.XYs, len(series))
	for i, v := range series {
		xys[i] = plotter.XY{X: float64(i), Y: v}
	}
	return xys
}

// candlesticks draws OHLC bars; gonum/plot has no built-in candlestick
// plotter.
type candlesticks struct {
	candles []types.Candle
}

func (cs *candlesticks) Plot(c draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&c)
	halfWidth := vg.Points(2.5)

	for i, k := range cs.candles {
		col := color.Color(downColor)
		if k.Close >= k.Open {
			col = upColor
		}
		x := trX(float64(i))

		wick := draw.LineStyle{Color: col, Width: vg.Points(1)}
		c.StrokeLine2(wick, x, trY(k.Low), x, trY(k.High))

		y0 := trY(math.Min(k.Open, k.Close))
		y1 := trY(math.Max(k.Open, k.Close))
		c.FillPolygon(col, []vg.Point{
			{X: x - halfWidth, Y: y0},
			{X: x + halfWidth, Y: y0},
			{X: x + halfWidth, Y: y1},
			{X: x - halfWidth, Y: y1},
		})
	}
}

func (cs *candlesticks) DataRange() (xmin, xmax, ymin, ymax float64) {
	xmin, xmax = 0, float64(len(cs.candles)-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, k := range cs.candles {
		ymin = math.Min(ymin, k.Low)
		ymax = math.Max(ymax, k.High)
	}
	return
}
