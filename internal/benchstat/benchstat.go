// Package benchstat summarizes and compares latency samples collected by
// the bench command, such as cold (authoritative) against warm (mirrored)
// range reads.
package benchstat

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Summary contains descriptive statistics of a sample.
type Summary struct {
	N      int
	Mean   float64
	StdDev float64
	Min    float64
	P50    float64
	P90    float64
	P99    float64
	Max    float64
}

// Summarize computes descriptive statistics for sample.
func Summarize(sample []float64) Summary {
	if len(sample) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)

	s := Summary{
		N:    len(sorted),
		Mean: stat.Mean(sorted, nil),
		Min:  sorted[0],
		P50:  stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P90:  stat.Quantile(0.90, stat.Empirical, sorted, nil),
		P99:  stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Max:  sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

// Millis converts durations to milliseconds.
func Millis(ds []time.Duration) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = float64(d) / float64(time.Millisecond)
	}
	return out
}

// MannWhitney is the result of a two-sided Mann-Whitney U test.
type MannWhitney struct {
	U           float64
	Z           float64
	PValue      float64
	Significant bool // p < 0.05
}

// MannWhitneyU tests whether a and b come from different distributions,
// using the normal approximation with tie-averaged ranks.
func MannWhitneyU(a, b []float64) MannWhitney {
	n1, n2 := float64(len(a)), float64(len(b))
	if n1 == 0 || n2 == 0 {
		return MannWhitney{PValue: 1}
	}

	type obs struct {
		v     float64
		fromA bool
	}
	all := make([]obs, 0, len(a)+len(b))
	for _, v := range a {
		all = append(all, obs{v, true})
	}
	for _, v := range b {
		all = append(all, obs{v, false})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v < all[j].v })

	var rankA float64
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[j].v == all[i].v {
			j++
		}
		rank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if all[k].fromA {
				rankA += rank
			}
		}
		i = j
	}

	u1 := rankA - n1*(n1+1)/2
	u := math.Min(u1, n1*n2-u1)
	mu := n1 * n2 / 2
	sigma := math.Sqrt(n1 * n2 * (n1 + n2 + 1) / 12)

	var z float64
	if sigma > 0 {
		z = (u - mu) / sigma
	}
	p := 2 * distuv.UnitNormal.CDF(-math.Abs(z))
	return MannWhitney{U: u, Z: z, PValue: p, Significant: p < 0.05}
}

// CohensD returns the standardized mean difference of a and b using the
// pooled standard deviation, and its conventional label.
func CohensD(a, b []float64) (float64, string) {
	if len(a) < 2 || len(b) < 2 {
		return 0, "undefined"
	}
	n1, n2 := float64(len(a)), float64(len(b))
	va, vb := stat.Variance(a, nil), stat.Variance(b, nil)
	pooled := math.Sqrt(((n1-1)*va + (n2-1)*vb) / (n1 + n2 - 2))

	var d float64
	if pooled > 0 {
		d = (stat.Mean(a, nil) - stat.Mean(b, nil)) / pooled
	}
	switch abs := math.Abs(d); {
	case abs < 0.2:
		return d, "negligible"
	case abs < 0.5:
		return d, "small"
	case abs < 0.8:
		return d, "medium"
	default:
		return d, "large"
	}
}

// Comparison compares two named latency samples; lower is better.
type Comparison struct {
	NameA, NameB string
	A, B         Summary
	Test         MannWhitney
	EffectSize   float64
	Effect       string
	Speedup      float64 // A.Mean / B.Mean
	Winner       string  // lower mean, or "tie"
}

// Compare summarizes a and b and tests their difference.
func Compare(nameA string, a []float64, nameB string, b []float64) Comparison {
	c := Comparison{
		NameA: nameA,
		NameB: nameB,
		A:     Summarize(a),
		B:     Summarize(b),
		Test:  MannWhitneyU(a, b),
	}
	c.EffectSize, c.Effect = CohensD(a, b)
	if c.B.Mean > 0 {
		c.Speedup = c.A.Mean / c.B.Mean
	}
	switch {
	case c.A.Mean < c.B.Mean:
		c.Winner = nameA
	case c.B.Mean < c.A.Mean:
		c.Winner = nameB
	default:
		c.Winner = "tie"
	}
	return c
}
