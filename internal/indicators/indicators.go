// Package indicators computes the technical indicators consumed by the
// signal engine: RSI, the MACD triad and a rolling volume ratio.
package indicators

const (
	RSIPeriod        = 14
	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
	VolumeWindow     = 20
)

// EMA returns the exponential moving average series of values for the given
// period. The first element seeds the series.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the Wilder relative strength index of the last close. Returns 50
// (neutral) when there is not enough history.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the latest MACD line, signal line and histogram for the close
// series, using the conventional 12/26/9 periods.
func MACD(closes []float64) (line, signal, hist float64) {
	if len(closes) == 0 {
		return 0, 0, 0
	}

	fast := EMA(closes, MACDFastPeriod)
	slow := EMA(closes, MACDSlowPeriod)

	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	signalSeries := EMA(macd, MACDSignalPeriod)

	last := len(closes) - 1
	line = macd[last]
	signal = signalSeries[last]
	hist = line - signal
	return line, signal, hist
}

// VolumeRatio returns the latest volume relative to the average of the
// preceding window. Returns 1 (baseline) with insufficient history.
func VolumeRatio(volumes []float64, window int) float64 {
	if len(volumes) < 2 || window <= 0 {
		return 1
	}

	start := len(volumes) - 1 - window
	if start < 0 {
		start = 0
	}
	baseline := volumes[start : len(volumes)-1]

	var sum float64
	for _, v := range baseline {
		sum += v
	}
	avg := sum / float64(len(baseline))
	if avg == 0 {
		return 1
	}
	return volumes[len(volumes)-1] / avg
}
