package detect

import (
	"fmt"
	"math"

	"fiscalproof/internal/receipt"
)

// BenfordResult is the complete outcome of one Benford analysis.
type BenfordResult struct {
	Entity              string          `json:"entity"`
	DigitPosition       int             `json:"digit_position"`
	SampleSize          int             `json:"sample_size"`
	ObservedFrequencies map[int]float64 `json:"observed_frequencies"`
	ExpectedFrequencies map[int]float64 `json:"expected_frequencies"`
	ChiSquared          float64         `json:"chi_squared"`
	PValue              float64         `json:"p_value"`
	PassFail            string          `json:"pass_fail"`
	DegreesOfFreedom    int             `json:"degrees_of_freedom"`
}

// Flagged reports whether the result warrants a stop-rule trigger.
func (r *BenfordResult) Flagged() bool {
	return r.PassFail == VerdictFlag || r.PassFail == VerdictHighPriority
}

// ExpectedFrequencies returns the Benford distribution for the given
// digit position. Position 1 covers digits 1-9 with
// P(d) = log10(1 + 1/d); position 2 covers digits 0-9 with the summed
// second-digit law. Other positions are an error.
func ExpectedFrequencies(position int) (map[int]float64, error) {
	switch position {
	case 1:
		freqs := make(map[int]float64, 9)
		for d := 1; d <= 9; d++ {
			freqs[d] = math.Log10(1 + 1/float64(d))
		}
		return freqs, nil
	case 2:
		freqs := make(map[int]float64, 10)
		for d := 0; d <= 9; d++ {
			sum := 0.0
			for k := 1; k <= 9; k++ {
				sum += math.Log10(1 + 1/float64(10*k+d))
			}
			freqs[d] = sum
		}
		return freqs, nil
	}
	return nil, fmt.Errorf("detect: digit position %d not supported", position)
}

// FirstDigits extracts the leading digit of each value's magnitude.
// Zeros carry no leading digit and are dropped, as are NaN and Inf.
func FirstDigits(values []float64) []int {
	digits := make([]int, 0, len(values))
	for _, v := range values {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v = math.Abs(v)
		for v >= 10 {
			v /= 10
		}
		for v < 1 {
			v *= 10
		}
		digits = append(digits, int(v))
	}
	return digits
}

// SecondDigits extracts the second significant digit of each value's
// magnitude, with the same exclusions as FirstDigits.
func SecondDigits(values []float64) []int {
	digits := make([]int, 0, len(values))
	for _, v := range values {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v = math.Abs(v)
		for v >= 100 {
			v /= 10
		}
		for v < 10 {
			v *= 10
		}
		digits = append(digits, int(v)%10)
	}
	return digits
}

// ObservedFrequencies computes the observed digit distribution over
// the position's digit range. An empty sample yields all zeros.
func ObservedFrequencies(digits []int, position int) map[int]float64 {
	lo := 1
	if position != 1 {
		lo = 0
	}
	freqs := make(map[int]float64, 10-lo)
	for d := lo; d <= 9; d++ {
		freqs[d] = 0.0
	}
	if len(digits) == 0 {
		return freqs
	}

	counts := make(map[int]int, 10-lo)
	for _, d := range digits {
		if d >= lo && d <= 9 {
			counts[d]++
		}
	}
	total := float64(len(digits))
	for d, c := range counts {
		freqs[d] = float64(c) / total
	}
	return freqs
}

// AnalyzeBenford runs the full conformity analysis over values. Pure:
// no receipts, no policy.
func AnalyzeBenford(values []float64, entity string, position int) (*BenfordResult, error) {
	expected, err := ExpectedFrequencies(position)
	if err != nil {
		return nil, err
	}

	var digits []int
	if position == 1 {
		digits = FirstDigits(values)
	} else {
		digits = SecondDigits(values)
	}

	observed := ObservedFrequencies(digits, position)
	test := ChiSquaredTest(observed, expected, len(digits))

	return &BenfordResult{
		Entity:              entity,
		DigitPosition:       position,
		SampleSize:          len(digits),
		ObservedFrequencies: observed,
		ExpectedFrequencies: expected,
		ChiSquared:          test.ChiSquared,
		PValue:              test.PValue,
		PassFail:            test.PassFail,
		DegreesOfFreedom:    test.DegreesOfFreedom,
	}, nil
}

// BenfordReceipt analyzes values, emits the "benford" receipt, and
// fires the configured stop rule when the result is flagged. With a
// halt or escalate tier the returned error is the policy signal; the
// receipts are emitted either way.
func (a *Analyzer) BenfordReceipt(values []float64, source, entity string, position int) (receipt.Receipt, *BenfordResult, error) {
	res, err := AnalyzeBenford(values, entity, position)
	if err != nil {
		return receipt.Receipt{}, nil, err
	}

	r, err := a.emitter.Emit(receipt.TypeBenford, map[string]any{
		"entity":               entity,
		"source":               source,
		"chi_squared":          res.ChiSquared,
		"p_value":              res.PValue,
		"pass_fail":            res.PassFail,
		"digit_position":       res.DigitPosition,
		"sample_size":          res.SampleSize,
		"observed_frequencies": res.ObservedFrequencies,
		"expected_frequencies": res.ExpectedFrequencies,
	})
	if err != nil {
		return receipt.Receipt{}, res, err
	}

	if res.Flagged() {
		_, perr := a.policy.Trigger(a.actions.Benford, MetricBenford,
			fmt.Sprintf("Benford anomaly detected for %s", entity),
			0.05, 0.05-res.PValue)
		if perr != nil {
			return r, res, perr
		}
	}
	return r, res, nil
}

// DefaultRoundThresholds are the amounts manufactured figures tend to
// cluster near.
var DefaultRoundThresholds = []float64{1000, 5000, 10000, 25000, 33000, 50000, 100000}

// RoundFlag marks one suspiciously round value.
type RoundFlag struct {
	Index     int     `json:"index"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	FlagType  string  `json:"flag_type"`
}

// Round-number flag types.
const (
	FlagRoundNumber    = "round_number"
	FlagExactThousands = "exact_thousands"
)

// DetectRoundNumbers flags magnitudes within 5% of a suspicion
// threshold (first match wins) and, independently, exact multiples of
// one thousand. A value can earn both flags. Nil thresholds means
// DefaultRoundThresholds.
func DetectRoundNumbers(values []float64, thresholds []float64) []RoundFlag {
	if thresholds == nil {
		thresholds = DefaultRoundThresholds
	}

	var flags []RoundFlag
	for i, v := range values {
		v = math.Abs(v)
		for _, thresh := range thresholds {
			if math.Abs(v-thresh)/thresh < 0.05 {
				flags = append(flags, RoundFlag{
					Index:     i,
					Value:     v,
					Threshold: thresh,
					FlagType:  FlagRoundNumber,
				})
				break
			}
		}
		if v >= 1000 && math.Mod(v, 1000) == 0 {
			flags = append(flags, RoundFlag{
				Index:     i,
				Value:     v,
				Threshold: v,
				FlagType:  FlagExactThousands,
			})
		}
	}
	return flags
}
