// Package detect implements the statistical fraud-signal detectors:
// Benford's-Law conformity, compression-entropy deviation, and
// flow-concentration analysis.
//
// The pure math lives in package functions so it can be tested and
// reused without side effects. The Analyzer wraps them with the
// receipt and policy plumbing: every analysis emits a receipt, and
// flagged results additionally fire a stop rule at the configured
// action tier.
package detect

import (
	"fiscalproof/internal/logging"
	"fiscalproof/internal/policy"
	"fiscalproof/internal/receipt"
)

// Benford verdicts carried in the pass_fail field.
const (
	VerdictPass         = "pass"
	VerdictFlag         = "flag_for_investigation"
	VerdictHighPriority = "high_priority_anomaly"
	VerdictInsufficient = "insufficient_data"
)

// Entropy severities by |z|.
const (
	SeverityNormal   = "normal"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Metric names used in stop-rule triggers.
const (
	MetricBenford       = "benford_conformity"
	MetricEntropy       = "entropy_deviation"
	MetricConcentration = "flow_concentration"
	MetricHubCentrality = "hub_centrality"
)

// Actions maps each detector to the stop-rule tier it fires on a
// flagged result. The zero value means alert everywhere.
type Actions struct {
	Benford       policy.Action
	Entropy       policy.Action
	Concentration policy.Action
}

func (a Actions) withDefaults() Actions {
	if a.Benford == "" {
		a.Benford = policy.ActionAlert
	}
	if a.Entropy == "" {
		a.Entropy = policy.ActionAlert
	}
	if a.Concentration == "" {
		a.Concentration = policy.ActionAlert
	}
	return a
}

// AnalyzerConfig wires an Analyzer.
type AnalyzerConfig struct {
	// Emitter receives detector receipts. Nil means a default stdout
	// emitter.
	Emitter *receipt.Emitter
	// Policy fires stop rules for flagged results. Nil means an
	// engine on the same emitter.
	Policy *policy.Engine
	// Baselines is the entropy baseline table. Nil means the built-in
	// defaults.
	Baselines *Baselines
	// Actions sets per-detector stop-rule tiers.
	Actions Actions
	// Logger for diagnostics. Nil means the process default.
	Logger *logging.Logger
}

// Analyzer runs detectors with receipt emission and policy wiring.
type Analyzer struct {
	emitter   *receipt.Emitter
	policy    *policy.Engine
	baselines *Baselines
	actions   Actions
	log       *logging.Logger
}

// NewAnalyzer creates an analyzer from cfg, filling zero fields with
// defaults.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	a := &Analyzer{
		emitter:   cfg.Emitter,
		policy:    cfg.Policy,
		baselines: cfg.Baselines,
		actions:   cfg.Actions.withDefaults(),
		log:       cfg.Logger,
	}
	if a.emitter == nil {
		a.emitter = receipt.NewEmitter(receipt.Config{})
	}
	if a.policy == nil {
		a.policy = policy.NewEngine(a.emitter, cfg.Logger)
	}
	if a.baselines == nil {
		a.baselines = NewBaselines(nil)
	}
	if a.log == nil {
		a.log = logging.Default()
	}
	return a
}

// Baselines returns the analyzer's entropy baseline table.
func (a *Analyzer) BaselineTable() *Baselines { return a.baselines }
