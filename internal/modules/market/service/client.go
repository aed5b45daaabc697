package service

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"
)

var (
	// ErrFetch — транзиентная ошибка источника котировок: таймаут,
	// не-2xx статус или битое тело. Ретраит поллер, не клиент.
	ErrFetch = errors.New("market: fetch failed")

	// ErrInsufficientData — свечей меньше, чем просили.
	ErrInsufficientData = errors.New("market: insufficient candle history")
)

// Client — один долгоживущий http-клиент на весь процесс, без ретраев внутри.
type Client struct {
	http      *http.Client
	wsDialer  *websocket.Dialer
	baseURL   string
	streamURL string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		http:      &http.Client{Timeout: cfg.Market.Timeout},
		wsDialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		baseURL:   cfg.Market.BaseURL,
		streamURL: cfg.Market.StreamURL,
	}
}

// Snapshot — 24h-тикер по символу.
func (c *Client) Snapshot(ctx context.Context, inst models.Instrument) (models.PriceSample, error) {
	endpoint := c.baseURL + "/api/v3/ticker/24hr?symbol=" + url.QueryEscape(string(inst))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return models.PriceSample{}, errors.Wrapf(err, "ticker %s", inst)
	}

	var payload ticker24h
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return models.PriceSample{}, errors.Wrapf(ErrFetch, "ticker %s: decode: %v", inst, err)
	}

	price, err := decimal.NewFromString(payload.LastPrice)
	if err != nil {
		return models.PriceSample{}, errors.Wrapf(ErrFetch, "ticker %s: lastPrice %q", inst, payload.LastPrice)
	}
	volume, err := decimal.NewFromString(payload.QuoteVolume)
	if err != nil {
		return models.PriceSample{}, errors.Wrapf(ErrFetch, "ticker %s: quoteVolume %q", inst, payload.QuoteVolume)
	}
	change, err := decimal.NewFromString(payload.PriceChangePercent)
	if err != nil {
		return models.PriceSample{}, errors.Wrapf(ErrFetch, "ticker %s: priceChangePercent %q", inst, payload.PriceChangePercent)
	}

	return models.PriceSample{
		Instrument:    inst,
		Price:         price,
		Volume:        volume,
		ChangePercent: change,
		ObservedAt:    time.Now(),
	}, nil
}

// Candles — count последних свечей, старые первыми.
func (c *Client) Candles(ctx context.Context, inst models.Instrument, interval string, count int) ([]models.Candle, error) {
	endpoint := c.baseURL + "/api/v3/klines?symbol=" + url.QueryEscape(string(inst)) +
		"&interval=" + url.QueryEscape(interval) +
		"&limit=" + strconv.Itoa(count)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "klines %s", inst)
	}

	// строка клайна: [openTime, open, high, low, close, volume, ...]
	var rows [][]interface{}
	if err := sonic.Unmarshal(body, &rows); err != nil {
		return nil, errors.Wrapf(ErrFetch, "klines %s: decode: %v", inst, err)
	}
	if len(rows) < count {
		return nil, errors.Wrapf(ErrInsufficientData, "klines %s: got %d, want %d", inst, len(rows), count)
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := parseKlineRow(row)
		if err != nil {
			return nil, errors.Wrapf(ErrFetch, "klines %s: row %d: %v", inst, i, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKlineRow(row []interface{}) (models.Candle, error) {
	if len(row) < 5 {
		return models.Candle{}, errors.Errorf("short row: %d fields", len(row))
	}
	openMs, ok := row[0].(float64)
	if !ok {
		return models.Candle{}, errors.Errorf("openTime is %T", row[0])
	}
	closeRaw, ok := row[4].(string)
	if !ok {
		return models.Candle{}, errors.Errorf("close is %T", row[4])
	}
	closePx, err := decimal.NewFromString(closeRaw)
	if err != nil {
		return models.Candle{}, errors.Wrapf(err, "close %q", closeRaw)
	}
	return models.Candle{
		OpenTime: time.UnixMilli(int64(openMs)),
		Close:    closePx,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrFetch, "do request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrFetch, "read body: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Wrapf(ErrFetch, "http %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
