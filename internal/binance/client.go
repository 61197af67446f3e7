package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"pump-signal-bot/pkg/types"
)

const requestTimeout = 10 * time.Second

// Client adapts the Binance REST API to the typed candle model the rest of
// the system consumes. All calls share one request-rate limiter so parallel
// scan workers stay inside the exchange weight limits.
type Client struct {
	api     *gobinance.Client
	limiter *rate.Limiter
}

func NewClient(apiKey, secretKey string) *Client {
	return &Client{
		api:     gobinance.NewClient(apiKey, secretKey),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// GetKlines fetches up to limit closed candles, most recent last.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}

	candles := make([]types.Candle, 0, len(raw))
	for _, k := range raw {
		open, err1 := strconv.ParseFloat(k.Open, 64)
		high, err2 := strconv.ParseFloat(k.High, 64)
		low, err3 := strconv.ParseFloat(k.Low, 64)
		closePrice, err4 := strconv.ParseFloat(k.Close, 64)
		volume, err5 := strconv.ParseFloat(k.Volume, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			// Skip malformed rows instead of poisoning the whole series.
			continue
		}
		candles = append(candles, types.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		})
	}
	return candles, nil
}

// GetExchangeInfo lists the tradable pairs and their status.
func (c *Client) GetExchangeInfo(ctx context.Context) ([]types.SymbolInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	symbols := make([]types.SymbolInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		symbols = append(symbols, types.SymbolInfo{Symbol: s.Symbol, Status: s.Status})
	}
	return symbols, nil
}

// GetServerTime returns the exchange clock in unix milliseconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return c.api.NewServerTimeService().Do(ctx)
}

// GetPrice returns the latest traded price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("price %s: empty response", symbol)
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}
