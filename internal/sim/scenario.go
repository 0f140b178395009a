package sim

import "fmt"

// Named scenarios.
const (
	ScenarioBaseline      = "baseline"
	ScenarioRoundNumbers  = "round_numbers"
	ScenarioConcentration = "concentration"
	ScenarioSplit         = "split"
	ScenarioMixed         = "mixed"
	ScenarioDegraded      = "degraded"
)

// Scenarios lists the named scenarios in presentation order.
func Scenarios() []string {
	return []string{
		ScenarioBaseline,
		ScenarioRoundNumbers,
		ScenarioConcentration,
		ScenarioSplit,
		ScenarioMixed,
		ScenarioDegraded,
	}
}

// mixedPatterns is the rotation the mixed scenario cycles through.
var mixedPatterns = []string{
	PatternRoundNumbers,
	PatternVendorConcentration,
	PatternSplitTransactions,
	PatternImpossibleHours,
}

// RunScenario executes a named scenario. base supplies the cycle
// count, batch size, seed, and fraud rate; the scenario fixes the
// pattern and methods. Unknown names are an error.
func (r *Runner) RunScenario(name string, base Config) (*Result, error) {
	base = base.withDefaults()
	base.Scenario = name

	switch name {
	case ScenarioBaseline:
		base.FraudRate = 0
		base.Pattern = ""
		return r.Run(base)

	case ScenarioRoundNumbers:
		base.Pattern = PatternRoundNumbers
		return r.ensureRate(base)

	case ScenarioConcentration:
		base.Pattern = PatternVendorConcentration
		return r.ensureRate(base)

	case ScenarioSplit:
		base.Pattern = PatternSplitTransactions
		return r.ensureRate(base)

	case ScenarioMixed:
		return r.runMixed(base)

	case ScenarioDegraded:
		return r.runDegraded(base)
	}

	return nil, fmt.Errorf("sim: unknown scenario %q", name)
}

// ensureRate runs base with a nonzero fraud rate so the pattern
// actually lands.
func (r *Runner) ensureRate(base Config) (*Result, error) {
	if base.FraudRate <= 0 {
		base.FraudRate = 0.05
	}
	return r.Run(base)
}

// runMixed rotates through every fraud pattern, one per cycle.
func (r *Runner) runMixed(cfg Config) (*Result, error) {
	if cfg.FraudRate <= 0 {
		cfg.FraudRate = 0.05
	}
	return r.run(cfg, "rotating", func(cycle int) string {
		return mixedPatterns[cycle%len(mixedPatterns)]
	})
}

// degradedBatches are the degenerate inputs the degraded scenario
// pushes through the detectors. None of them may error.
func degradedBatches() map[string][]Transaction {
	zeros := make([]Transaction, 10)
	negatives := make([]Transaction, 10)
	for i := range zeros {
		zeros[i] = Transaction{ID: fmt.Sprintf("Z-%03d", i), Amount: 0}
		negatives[i] = Transaction{ID: fmt.Sprintf("N-%03d", i), Amount: -100}
	}
	return map[string][]Transaction{
		"empty_data":      {},
		"single_record":   {{ID: "S-000", Amount: 100}},
		"all_zeros":       zeros,
		"negative_values": negatives,
	}
}

// runDegraded runs a short clean simulation, then feeds the detectors
// degenerate batches. Any detector error is recorded as a violation
// rather than failing the run.
func (r *Runner) runDegraded(cfg Config) (*Result, error) {
	cfg.FraudRate = 0
	cfg.Pattern = ""
	result, err := r.Run(cfg)
	if err != nil {
		return result, err
	}

	cycle := cfg.Cycles
	for name, batch := range degradedBatches() {
		if _, cerr := r.runCycle(cycle, batch, cfg.Methods); cerr != nil {
			result.Violations = append(result.Violations, Violation{
				Cycle: cycle,
				Case:  name,
				Error: cerr.Error(),
			})
		}
		cycle++
	}

	return result, nil
}
