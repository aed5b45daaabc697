package indicator

import "math"

// RSI — Relative Strength Index со сглаживанием Уайлдера по окну closes.
// Требует минимум period+1 значений, иначе ok=false.
// avgLoss==0 (в том числе на сиде) — это RSI=100, а не ошибка.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	// сид: средние gain/loss по первым period дельтам
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p

	// сглаживание Уайлдера по остатку окна
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// Round2 — округление для вывода, внутренние решения принимаются по полной точности.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
