package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
)

// Фиксированные уровни для алерта: тейк 3% от входа, стоп 1.5%.
var (
	takeProfitPct = decimal.NewFromFloat(0.03)
	stopLossPct   = decimal.NewFromFloat(0.015)
)

// Targets считает TP/SL от цены входа: LONG — тейк выше, стоп ниже,
// SHORT — зеркально.
func Targets(entry decimal.Decimal, dir models.Direction) (tp, sl decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if dir == models.DirectionShort {
		return entry.Mul(one.Sub(takeProfitPct)), entry.Mul(one.Add(stopLossPct))
	}
	return entry.Mul(one.Add(takeProfitPct)), entry.Mul(one.Sub(stopLossPct))
}

// FormatAlert — текст сигнала для чата.
func FormatAlert(ev models.SignalEvent) string {
	emoji := "📈"
	if ev.Direction == models.DirectionShort {
		emoji = "📉"
	}
	tp, sl := Targets(ev.Price, ev.Direction)
	return fmt.Sprintf(
		"%s %s %s @ %s\nRSI %.2f\nTP %s | SL %s",
		emoji,
		ev.Instrument.Base(),
		ev.Direction,
		fmtPrice(ev.Price),
		indicator.Round2(ev.RSI),
		fmtPrice(tp),
		fmtPrice(sl),
	)
}

func fmtPrice(d decimal.Decimal) string {
	return d.Round(6).String()
}
