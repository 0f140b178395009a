package detect

import "math"

// ChiSquaredResult is the outcome of one conformity test.
type ChiSquaredResult struct {
	ChiSquared       float64 `json:"chi_squared"`
	PValue           float64 `json:"p_value"`
	PassFail         string  `json:"pass_fail"`
	DegreesOfFreedom int     `json:"degrees_of_freedom"`
}

// ChiSquaredTest runs a Pearson chi-squared test of the observed
// digit frequencies against the expected distribution, over counts
// scaled by the sample size n. A zero sample short-circuits to
// insufficient_data with p = 1.0.
func ChiSquaredTest(observed, expected map[int]float64, n int) ChiSquaredResult {
	df := len(expected) - 1
	if n == 0 {
		return ChiSquaredResult{
			ChiSquared:       0.0,
			PValue:           1.0,
			PassFail:         VerdictInsufficient,
			DegreesOfFreedom: df,
		}
	}

	chiSq := 0.0
	// Ascending digit order keeps the floating-point sum stable
	// across runs.
	for d := 0; d <= 9; d++ {
		expFreq, ok := expected[d]
		if !ok {
			continue
		}
		obs := observed[d] * float64(n)
		exp := expFreq * float64(n)
		if exp > 0 {
			chiSq += (obs - exp) * (obs - exp) / exp
		}
	}

	p := chiSquaredPValue(chiSq, df)

	verdict := VerdictPass
	switch {
	case p < 0.01:
		verdict = VerdictHighPriority
	case p < 0.05:
		verdict = VerdictFlag
	}

	return ChiSquaredResult{
		ChiSquared:       chiSq,
		PValue:           p,
		PassFail:         verdict,
		DegreesOfFreedom: df,
	}
}

// chiSquaredPValue approximates the upper-tail probability of a
// chi-squared statistic with the Wilson-Hilferty cube-root transform
// fed through the standard normal tail.
func chiSquaredPValue(chiSq float64, df int) float64 {
	if df <= 0 {
		return 1.0
	}
	if chiSq <= 0 {
		return 1.0
	}
	fdf := float64(df)
	z := (math.Cbrt(chiSq/fdf) - (1 - 2/(9*fdf))) / math.Sqrt(2/(9*fdf))
	return normalTail(z)
}

// normalTail is P(Z > z) for a standard normal via the Abramowitz &
// Stegun 26.2.17 polynomial. |z| beyond 6 saturates to 0 or 1.
func normalTail(z float64) float64 {
	if z > 6 {
		return 0.0
	}
	if z < -6 {
		return 1.0
	}

	t := 1.0 / (1.0 + 0.2316419*math.Abs(z))
	const d = 0.3989422804014327 // 1/sqrt(2*pi)
	p := d * math.Exp(-z*z/2.0) *
		(t * (0.319381530 +
			t*(-0.356563782+
				t*(1.781477937+
					t*(-1.821255978+
						t*1.330274429)))))

	if z > 0 {
		return p
	}
	return 1 - p
}
