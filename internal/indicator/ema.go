package indicator

// emaSeries считает EMA по всей серии: сид — первое значение,
// дальше value = price*k + prev*(1-k), k = 2/(period+1).
func emaSeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	if period < 1 {
		period = 1
	}
	k := 2.0 / (float64(period) + 1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}
