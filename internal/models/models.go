package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument — биржевой символ, за которым следим, например "BTCUSDT".
type Instrument string

var quoteSuffixes = []string{"USDT", "USDC", "FDUSD", "BUSD", "USD", "BTC", "ETH"}

// Base обрезает котируемую валюту для алертов: "BTCUSDT" -> "BTC".
func (i Instrument) Base() string {
	s := string(i)
	for _, q := range quoteSuffixes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return strings.TrimSuffix(s, q)
		}
	}
	return s
}

// PriceSample — срез 24h-тикера, создаётся заново каждый цикл.
type PriceSample struct {
	Instrument    Instrument
	Price         decimal.Decimal
	Volume        decimal.Decimal
	ChangePercent decimal.Decimal
	ObservedAt    time.Time
}

// Candle — свеча; дальше по конвейеру используется только Close.
type Candle struct {
	OpenTime time.Time
	Close    decimal.Decimal
}

// IndicatorReading — результат расчёта индикаторов по окну свечей.
// RSIValid=false когда истории меньше period+1 свечей.
type IndicatorReading struct {
	RSI      float64
	RSIValid bool

	MACD      MACDValue
	MACDValid bool
}

// MACDValue — последние значения линий MACD.
type MACDValue struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// Direction — направление последнего сигнала по инструменту.
type Direction string

const (
	DirectionNeutral Direction = "NEUTRAL"
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
)

// SignalEvent создаётся только на смене состояния и доставляется один раз.
type SignalEvent struct {
	Instrument Instrument
	Direction  Direction
	Price      decimal.Decimal
	RSI        float64
	EmittedAt  time.Time
}
