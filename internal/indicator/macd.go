package indicator

// Дефолтные периоды MACD.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// MACD возвращает последние значения macd-линии, сигнальной линии и гистограммы.
// Пустая серия — (0,0,0), это определённый фолбэк, а не ошибка.
func MACD(closes []float64, fast, slow, signalPeriod int) (line, signal, histogram float64) {
	if len(closes) == 0 {
		return 0, 0, 0
	}

	emaFast := emaSeries(closes, fast)
	emaSlow := emaSeries(closes, slow)

	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	signalLine := emaSeries(macd, signalPeriod)

	last := len(closes) - 1
	return macd[last], signalLine[last], macd[last] - signalLine[last]
}
