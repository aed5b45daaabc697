package service

import (
	"time"

	"signal_bot/internal/models"
)

type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// klineEnvelope — сообщение combined-стрима: {"stream":"btcusdt@kline_1m","data":{...}}.
type klineEnvelope struct {
	Stream string      `json:"stream"`
	Data   klineUpdate `json:"data"`
}

type klineUpdate struct {
	Symbol string       `json:"s"`
	Kline  klinePayload `json:"k"`
}

type klinePayload struct {
	StartMs int64  `json:"t"`
	Close   string `json:"c"`
	Final   bool   `json:"x"` // свеча закрыта
}

// ClosedCandle — закрытая свеча из WS-стрима.
type ClosedCandle struct {
	Instrument models.Instrument
	Candle     models.Candle
	ReceivedAt time.Time
}
