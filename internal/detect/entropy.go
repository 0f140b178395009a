package detect

import (
	"fmt"
	"math"
	"sync"

	"fiscalproof/internal/canonical"
	"fiscalproof/internal/compress"
	"fiscalproof/internal/receipt"
)

// Baseline holds the expected compression-ratio statistics for one
// entity category.
type Baseline struct {
	Mean       float64 `json:"mean" toml:"mean" yaml:"mean"`
	Std        float64 `json:"std" toml:"std" yaml:"std"`
	SampleSize int     `json:"sample_size" toml:"sample_size" yaml:"sample_size"`
}

// fallbackBaseline applies when a table has no entry for the entity
// type and no "default" row.
var fallbackBaseline = Baseline{Mean: 0.48, Std: 0.10, SampleSize: 50}

// DefaultBaselines returns the built-in baseline table. In production
// these come from config, computed over historical data.
func DefaultBaselines() map[string]Baseline {
	return map[string]Baseline{
		"municipality": {Mean: 0.45, Std: 0.08, SampleSize: 100},
		"state_agency": {Mean: 0.42, Std: 0.06, SampleSize: 200},
		"pac":          {Mean: 0.55, Std: 0.10, SampleSize: 150},
		"contractor":   {Mean: 0.50, Std: 0.09, SampleSize: 80},
		"default":      fallbackBaseline,
	}
}

// Baselines is an explicitly constructed baseline table with a
// per-(entityType, period) memo. It replaces what would otherwise be
// process-wide mutable state; callers that want isolation construct
// their own instance.
type Baselines struct {
	mu    sync.RWMutex
	table map[string]Baseline
	memo  map[string]Baseline
}

// NewBaselines builds a table. A nil table means DefaultBaselines.
func NewBaselines(table map[string]Baseline) *Baselines {
	if table == nil {
		table = DefaultBaselines()
	} else {
		copied := make(map[string]Baseline, len(table))
		for k, v := range table {
			copied[k] = v
		}
		table = copied
	}
	return &Baselines{
		table: table,
		memo:  make(map[string]Baseline),
	}
}

func memoKey(entityType, period string) string {
	return entityType + ":" + period
}

// Lookup returns the baseline for an entity type and period,
// memoizing the answer. Unknown entity types fall back to the
// "default" row.
func (b *Baselines) Lookup(entityType, period string) Baseline {
	key := memoKey(entityType, period)

	b.mu.RLock()
	bl, ok := b.memo[key]
	b.mu.RUnlock()
	if ok {
		return bl
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if bl, ok := b.memo[key]; ok {
		return bl
	}
	bl, ok = b.table[entityType]
	if !ok {
		bl, ok = b.table["default"]
		if !ok {
			bl = fallbackBaseline
		}
	}
	b.memo[key] = bl
	return bl
}

// Set overrides the baseline for an entity type and period, for
// callers that have computed one from their own historical data.
func (b *Baselines) Set(entityType, period string, bl Baseline) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memo[memoKey(entityType, period)] = bl
}

// ZScore measures how far a compression ratio sits from its baseline.
// A zero-std baseline yields 0.0 rather than dividing by zero.
func ZScore(ratio float64, b Baseline) float64 {
	if b.Std == 0 {
		return 0.0
	}
	return (ratio - b.Mean) / b.Std
}

// AnomalyResult classifies one ratio against its baseline.
type AnomalyResult struct {
	ZScore       float64 `json:"z_score"`
	IsAnomaly    bool    `json:"is_anomaly"`
	Severity     string  `json:"severity"`
	BaselineMean float64 `json:"baseline_mean"`
	BaselineStd  float64 `json:"baseline_std"`
}

// AnomalyCheck classifies a compression ratio by |z|: above 3.0
// critical, above 2.0 high, above 1.5 medium, otherwise normal.
func AnomalyCheck(current float64, b Baseline) AnomalyResult {
	z := ZScore(current, b)
	res := AnomalyResult{
		ZScore:       z,
		BaselineMean: b.Mean,
		BaselineStd:  b.Std,
	}
	switch abs := math.Abs(z); {
	case abs > 3.0:
		res.IsAnomaly = true
		res.Severity = SeverityCritical
	case abs > 2.0:
		res.IsAnomaly = true
		res.Severity = SeverityHigh
	case abs > 1.5:
		res.IsAnomaly = true
		res.Severity = SeverityMedium
	default:
		res.Severity = SeverityNormal
	}
	return res
}

// ShannonEntropy computes bits per byte over the byte-value
// histogram, in [0,8]. Empty input is 0.0.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	length := float64(len(data))
	entropy := 0.0
	for _, count := range freq {
		if count > 0 {
			p := float64(count) / length
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// EntropyResult is the complete outcome of one entropy analysis.
type EntropyResult struct {
	Entity           string  `json:"entity"`
	EntityType       string  `json:"entity_type"`
	CompressionRatio float64 `json:"compression_ratio"`
	ShannonEntropy   float64 `json:"shannon_entropy"`
	RawSize          int     `json:"raw_size"`
	CompressedSize   int     `json:"compressed_size"`
	ZScore           float64 `json:"z_score"`
	IsAnomaly        bool    `json:"is_anomaly"`
	Severity         string  `json:"severity"`
	BaselineMean     float64 `json:"baseline_mean"`
	BaselineStd      float64 `json:"baseline_std"`
}

// AnalyzeEntropy runs the full entropy analysis with an explicit
// baseline table. Pure: no receipts, no policy. An empty period means
// "default".
func AnalyzeEntropy(data []byte, entity, entityType, period string, baselines *Baselines) *EntropyResult {
	if baselines == nil {
		baselines = NewBaselines(nil)
	}
	if period == "" {
		period = "default"
	}

	ratio := compress.Ratio(data)
	anomaly := AnomalyCheck(ratio, baselines.Lookup(entityType, period))

	return &EntropyResult{
		Entity:           entity,
		EntityType:       entityType,
		CompressionRatio: ratio,
		ShannonEntropy:   ShannonEntropy(data),
		RawSize:          len(data),
		CompressedSize:   int(float64(len(data)) * ratio),
		ZScore:           anomaly.ZScore,
		IsAnomaly:        anomaly.IsAnomaly,
		Severity:         anomaly.Severity,
		BaselineMean:     anomaly.BaselineMean,
		BaselineStd:      anomaly.BaselineStd,
	}
}

// EntropyReceipt analyzes data, emits the "entropy" receipt, and
// fires the configured stop rule when the result is anomalous.
func (a *Analyzer) EntropyReceipt(data []byte, entity, entityType, period string) (receipt.Receipt, *EntropyResult, error) {
	res := AnalyzeEntropy(data, entity, entityType, period, a.baselines)

	r, err := a.emitter.Emit(receipt.TypeEntropy, map[string]any{
		"entity":            entity,
		"entity_type":       entityType,
		"compression_ratio": res.CompressionRatio,
		"z_score":           res.ZScore,
		"is_anomaly":        res.IsAnomaly,
		"severity":          res.Severity,
		"baseline_mean":     res.BaselineMean,
		"baseline_std":      res.BaselineStd,
		"raw_size":          res.RawSize,
		"compressed_size":   res.CompressedSize,
		"shannon_entropy":   res.ShannonEntropy,
	})
	if err != nil {
		return receipt.Receipt{}, res, err
	}

	if res.IsAnomaly {
		_, perr := a.policy.Trigger(a.actions.Entropy, MetricEntropy,
			fmt.Sprintf("Entropy anomaly detected for %s", entity),
			res.BaselineMean, res.CompressionRatio-res.BaselineMean)
		if perr != nil {
			return r, res, perr
		}
	}
	return r, res, nil
}

// Comparison is the NCD similarity verdict between two entities.
type Comparison struct {
	Entity1      string  `json:"entity1"`
	Entity2      string  `json:"entity2"`
	NCD          float64 `json:"ncd"`
	Similarity   string  `json:"similarity"`
	Entity1Ratio float64 `json:"entity1_ratio"`
	Entity2Ratio float64 `json:"entity2_ratio"`
}

// NCD similarity buckets.
const (
	SimilarityHigh         = "highly_similar"
	SimilarityModerate     = "moderately_similar"
	SimilarityModerateDiff = "moderately_different"
	SimilarityHighDiff     = "highly_different"
)

// CompareEntities measures how alike two entities' spending patterns
// are by normalized compression distance.
func CompareEntities(data1, data2 []byte, name1, name2 string) *Comparison {
	ncd := compress.NCD(data1, data2)

	var similarity string
	switch {
	case ncd < 0.3:
		similarity = SimilarityHigh
	case ncd < 0.5:
		similarity = SimilarityModerate
	case ncd < 0.7:
		similarity = SimilarityModerateDiff
	default:
		similarity = SimilarityHighDiff
	}

	return &Comparison{
		Entity1:      name1,
		Entity2:      name2,
		NCD:          ncd,
		Similarity:   similarity,
		Entity1Ratio: compress.Ratio(data1),
		Entity2Ratio: compress.Ratio(data2),
	}
}

// Deviation flags one rolling window whose compression ratio departs
// from the stream's own first-half baseline.
type Deviation struct {
	WindowStart      int     `json:"window_start"`
	WindowEnd        int     `json:"window_end"`
	CompressionRatio float64 `json:"compression_ratio"`
	ZScore           float64 `json:"z_score"`
	Entity           string  `json:"entity"`
	FlagType         string  `json:"flag_type"`
}

// FlagPatternDeviation is the flag type on Deviation.
const FlagPatternDeviation = "pattern_deviation"

// DetectPatternDeviation slides a window over the transaction stream,
// builds a compression-ratio baseline from the first half, and flags
// second-half windows with |z| > 2. Streams shorter than twice the
// window yield no flags. A window size below 1 means 10.
func DetectPatternDeviation(transactions []map[string]any, entity string, windowSize int) ([]Deviation, error) {
	if windowSize < 1 {
		windowSize = 10
	}
	if len(transactions) < windowSize*2 {
		return nil, nil
	}

	windowRatio := func(start int) (float64, error) {
		data, err := canonical.Marshal(transactions[start : start+windowSize])
		if err != nil {
			return 0, fmt.Errorf("detect: encode window at %d: %w", start, err)
		}
		return compress.Ratio(data), nil
	}

	half := len(transactions) / 2
	var baselineRatios []float64
	for i := 0; i <= half-windowSize; i++ {
		ratio, err := windowRatio(i)
		if err != nil {
			return nil, err
		}
		baselineRatios = append(baselineRatios, ratio)
	}
	if len(baselineRatios) == 0 {
		return nil, nil
	}

	mean := 0.0
	for _, r := range baselineRatios {
		mean += r
	}
	mean /= float64(len(baselineRatios))

	variance := 0.0
	for _, r := range baselineRatios {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(baselineRatios)))
	if std == 0 {
		std = 0.01
	}

	var deviations []Deviation
	for i := half; i <= len(transactions)-windowSize; i++ {
		ratio, err := windowRatio(i)
		if err != nil {
			return nil, err
		}
		z := (ratio - mean) / std
		if math.Abs(z) > 2.0 {
			deviations = append(deviations, Deviation{
				WindowStart:      i,
				WindowEnd:        i + windowSize,
				CompressionRatio: ratio,
				ZScore:           z,
				Entity:           entity,
				FlagType:         FlagPatternDeviation,
			})
		}
	}
	return deviations, nil
}
