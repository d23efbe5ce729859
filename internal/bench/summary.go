package bench

import (
	"math"
	"sort"
)

// Stats summarizes a set of durations in seconds.
type Stats struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
	P5    float64
	P95   float64
}

// Summarize computes population statistics over values. Percentiles use
// linear interpolation between closest ranks.
func Summarize(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))
	var sq float64
	for _, v := range sorted {
		sq += (v - mean) * (v - mean)
	}
	return Stats{
		Count: len(sorted),
		Mean:  mean,
		Std:   math.Sqrt(sq / float64(len(sorted))),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P5:    percentile(sorted, 5),
		P95:   percentile(sorted, 95),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
