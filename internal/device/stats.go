package device

import (
	"math"
)

type ActivationStats struct {
	Max    float32
	Min    float32
	Mean   float32
	RMS    float32
	Zeros  int
	NaNs   int
	Infs   int
	Sample []float32
}

// ComputeActivationStats summarizes a buffer for NaN/Inf accounting and
// debug logging during training.
func ComputeActivationStats(data []float32, sampleSize int) ActivationStats {
	stats := ActivationStats{
		Sample: make([]float32, 0),
	}

	for _, v := range data {
		if v > stats.Max {
			stats.Max = v
		}
		if v < stats.Min || stats.Min == 0 {
			stats.Min = v
		}
		if v == 0 {
			stats.Zeros++
		}
		stats.Mean += v
		stats.RMS += v * v

		if math.IsNaN(float64(v)) {
			stats.NaNs++
		}
		if math.IsInf(float64(v), 0) {
			stats.Infs++
		}
	}

	if len(data) > 0 {
		n := float32(len(data))
		stats.Mean /= n
		stats.RMS = float32(math.Sqrt(float64(stats.RMS / n)))
	}

	if len(data) > 0 && sampleSize > 0 {
		step := len(data) / sampleSize
		if step == 0 {
			step = 1
		}
		for i := 0; i < sampleSize && i*step < len(data); i++ {
			stats.Sample = append(stats.Sample, data[i*step])
		}
	}

	return stats
}
