// Package sim is the Monte Carlo harness for the fraud detectors.
//
// Each run generates seeded synthetic transaction batches, optionally
// plants a known fraud pattern, pushes every batch through the
// detectors, and scores the flags against the injected ground truth.
// Scoring is per cycle: a cycle counts as positive when fraud was
// injected into it and as predicted when any detector flagged it. The
// run ends with a single "simulation" receipt carrying the aggregate
// metrics; per-cycle results stay in memory.
package sim

import (
	"fmt"
	"math/rand"

	"fiscalproof/internal/canonical"
	"fiscalproof/internal/detect"
	"fiscalproof/internal/logging"
	"fiscalproof/internal/receipt"
)

// Detection methods a cycle can apply.
const (
	MethodBenford       = "benford"
	MethodEntropy       = "entropy"
	MethodConcentration = "concentration"
)

// concentrationShare is the single-vendor share of a batch above which
// the concentration method flags.
const concentrationShare = 0.25

// DefaultMethods is the full detection stack.
var DefaultMethods = []string{MethodBenford, MethodEntropy, MethodConcentration}

// Config parameterizes one simulation run.
type Config struct {
	// Cycles is the number of generate-inject-detect rounds.
	Cycles int

	// Transactions is the batch size per cycle.
	Transactions int

	// Seed seeds generation; cycle i uses Seed+i so runs are
	// reproducible but cycles differ.
	Seed int64

	// FraudRate is the fraction of each batch that gets the pattern.
	// Zero disables injection.
	FraudRate float64

	// Pattern is the fraud pattern to inject.
	Pattern string

	// Distribution selects the synthetic amount distribution.
	Distribution string

	// Methods are the detection methods to apply each cycle. Empty
	// means DefaultMethods.
	Methods []string

	// Scenario labels the run in the simulation receipt.
	Scenario string
}

func (c Config) withDefaults() Config {
	if c.Cycles < 1 {
		c.Cycles = 1
	}
	if c.Transactions < 1 {
		c.Transactions = 100
	}
	if c.Distribution == "" {
		c.Distribution = DistBenford
	}
	if len(c.Methods) == 0 {
		c.Methods = DefaultMethods
	}
	if c.Scenario == "" {
		c.Scenario = "custom"
	}
	return c
}

// Finding is one detector flag raised during a cycle.
type Finding struct {
	Cycle         int     `json:"cycle"`
	Method        string  `json:"method"`
	PValue        float64 `json:"p_value,omitempty"`
	ZScore        float64 `json:"z_score,omitempty"`
	Concentration float64 `json:"concentration,omitempty"`
}

// Violation records a detection failure, such as a detector erroring
// on a degenerate batch.
type Violation struct {
	Cycle int    `json:"cycle"`
	Case  string `json:"case"`
	Error string `json:"error"`
}

// Accuracy aggregates cycle-level scoring for a run.
type Accuracy struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1_score"`
}

// Result is the outcome of a full simulation run.
type Result struct {
	Config        Config
	Findings      []Finding
	Violations    []Violation
	Accuracy      Accuracy
	DetectionRate float64
	FlaggedCycles int
	Receipt       receipt.Receipt
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	// Emitter receives the final simulation receipt. Nil means a
	// default stdout emitter.
	Emitter *receipt.Emitter
	// Baselines is the entropy baseline table for the entropy method.
	// Nil means the built-in defaults.
	Baselines *detect.Baselines
	// Logger for per-cycle diagnostics. Nil means the process default.
	Logger *logging.Logger
}

// Runner executes simulation runs.
type Runner struct {
	emitter   *receipt.Emitter
	baselines *detect.Baselines
	log       *logging.Logger
}

// NewRunner creates a runner from cfg, filling zero fields with
// defaults.
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		emitter:   cfg.Emitter,
		baselines: cfg.Baselines,
		log:       cfg.Logger,
	}
	if r.emitter == nil {
		r.emitter = receipt.NewEmitter(receipt.Config{})
	}
	if r.baselines == nil {
		r.baselines = detect.NewBaselines(nil)
	}
	if r.log == nil {
		r.log = logging.Default()
	}
	return r
}

// Run executes cfg.Cycles rounds and emits the simulation receipt.
func (r *Runner) Run(cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	return r.run(cfg, cfg.Pattern, func(int) string { return cfg.Pattern })
}

// run is the shared cycle loop. patternFor picks the pattern injected
// into each cycle; receiptPattern labels the run in the receipt.
func (r *Runner) run(cfg Config, receiptPattern string, patternFor func(cycle int) string) (*Result, error) {
	result := &Result{Config: cfg}

	var truePos, falsePos, falseNeg int

	for cycle := 0; cycle < cfg.Cycles; cycle++ {
		txs := Generate(cfg.Transactions, cfg.Distribution, cfg.Seed+int64(cycle))

		if pattern := patternFor(cycle); cfg.FraudRate > 0 && pattern != "" {
			rng := rand.New(rand.NewSource(cfg.Seed + int64(cycle)))
			InjectFraud(txs, pattern, cfg.FraudRate, rng)
		}

		findings, err := r.runCycle(cycle, txs, cfg.Methods)
		if err != nil {
			result.Violations = append(result.Violations, Violation{
				Cycle: cycle,
				Case:  "detection_cycle",
				Error: err.Error(),
			})
			r.log.Warn("detection cycle failed", "cycle", cycle, "error", err)
			continue
		}
		result.Findings = append(result.Findings, findings...)

		injected := len(InjectedIDs(txs)) > 0
		flagged := len(findings) > 0
		if flagged {
			result.FlaggedCycles++
		}
		switch {
		case injected && flagged:
			truePos++
		case !injected && flagged:
			falsePos++
		case injected && !flagged:
			falseNeg++
		}
	}

	result.Accuracy = score(truePos, falsePos, falseNeg)
	result.DetectionRate = float64(result.FlaggedCycles) / float64(cfg.Cycles)

	rec, err := r.emitter.Emit(receipt.TypeSimulation, map[string]any{
		"scenario":               cfg.Scenario,
		"n_cycles":               cfg.Cycles,
		"transactions_per_cycle": cfg.Transactions,
		"seed":                   cfg.Seed,
		"fraud_rate":             cfg.FraudRate,
		"pattern":                receiptPattern,
		"detection_rate":         result.DetectionRate,
		"precision":              result.Accuracy.Precision,
		"recall":                 result.Accuracy.Recall,
		"f1_score":               result.Accuracy.F1,
		"findings":               len(result.Findings),
		"violations":             len(result.Violations),
	})
	if err != nil {
		return result, fmt.Errorf("sim: emit simulation receipt: %w", err)
	}
	result.Receipt = rec

	return result, nil
}

// runCycle applies the configured methods to one batch. Detector flags
// become findings; detector errors abort the cycle.
func (r *Runner) runCycle(cycle int, txs []Transaction, methods []string) ([]Finding, error) {
	var findings []Finding

	for _, method := range methods {
		switch method {
		case MethodBenford:
			res, err := detect.AnalyzeBenford(Amounts(txs), "synthetic", 1)
			if err != nil {
				return nil, fmt.Errorf("benford: %w", err)
			}
			if res.Flagged() {
				findings = append(findings, Finding{
					Cycle:  cycle,
					Method: MethodBenford,
					PValue: res.PValue,
				})
			}

		case MethodEntropy:
			data, err := canonical.Marshal(txs)
			if err != nil {
				return nil, fmt.Errorf("entropy: %w", err)
			}
			res := detect.AnalyzeEntropy(data, "synthetic", "municipality", "", r.baselines)
			if res.IsAnomaly {
				findings = append(findings, Finding{
					Cycle:  cycle,
					Method: MethodEntropy,
					ZScore: res.ZScore,
				})
			}

		case MethodConcentration:
			if share, hot := vendorShare(txs); hot {
				findings = append(findings, Finding{
					Cycle:         cycle,
					Method:        MethodConcentration,
					Concentration: share,
				})
			}

		default:
			return nil, fmt.Errorf("unknown detection method %q", method)
		}
	}

	return findings, nil
}

// vendorShare computes the largest single-vendor share of the batch
// and whether it crosses the concentration threshold.
func vendorShare(txs []Transaction) (float64, bool) {
	if len(txs) == 0 {
		return 0, false
	}
	counts := make(map[string]int)
	for _, tx := range txs {
		counts[tx.Vendor]++
	}
	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	share := float64(max) / float64(len(txs))
	return share, share > concentrationShare
}

// score turns cycle-level counts into precision, recall, and F1. With
// no positives at all, every metric is 1.0 by convention.
func score(tp, fp, fn int) Accuracy {
	acc := Accuracy{
		TruePositives:  tp,
		FalsePositives: fp,
		FalseNegatives: fn,
	}
	if tp+fp+fn == 0 {
		acc.Precision = 1.0
		acc.Recall = 1.0
		acc.F1 = 1.0
		return acc
	}
	if tp+fp > 0 {
		acc.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		acc.Recall = float64(tp) / float64(tp+fn)
	} else {
		acc.Recall = 1.0
	}
	if acc.Precision+acc.Recall > 0 {
		acc.F1 = 2 * acc.Precision * acc.Recall / (acc.Precision + acc.Recall)
	}
	return acc
}
