// Package policy implements stop rules: threshold evaluations that
// classify detector output and signal how the calling pipeline must
// react.
//
// Every evaluation emits an "anomaly" receipt before it has any
// control-flow effect, so the ledger records each rule firing even
// when the caller aborts. The outcome is a Signal; for halt and
// escalate actions the Signal is also returned as the error, which is
// how it propagates to the top of the current unit of work. Callers
// that need to branch on the tier recover it with AsSignal.
package policy

import (
	"errors"
	"fmt"

	"fiscalproof/internal/logging"
	"fiscalproof/internal/receipt"
)

// Action is the control-flow tier of a stop rule.
type Action string

const (
	// ActionHalt stops the current unit of work entirely.
	ActionHalt Action = "halt"
	// ActionEscalate stops the current unit of work pending human
	// review.
	ActionEscalate Action = "escalate"
	// ActionAlert records the anomaly and continues.
	ActionAlert Action = "alert"
)

// Classifications stamped on anomaly receipts, one per action tier.
const (
	ClassViolation   = "violation"
	ClassDegradation = "degradation"
	ClassDrift       = "drift"
	ClassUnknown     = "unknown"
)

// Classify maps an action to its receipt classification. Unrecognized
// actions classify as unknown.
func Classify(a Action) string {
	switch a {
	case ActionHalt:
		return ClassViolation
	case ActionEscalate:
		return ClassDegradation
	case ActionAlert:
		return ClassDrift
	}
	return ClassUnknown
}

// ParseAction parses a configured action name. Empty means
// ActionAlert.
func ParseAction(s string) (Action, error) {
	switch s {
	case "":
		return ActionAlert, nil
	case string(ActionHalt):
		return ActionHalt, nil
	case string(ActionEscalate):
		return ActionEscalate, nil
	case string(ActionAlert):
		return ActionAlert, nil
	}
	return ActionAlert, fmt.Errorf("policy: unknown action %q", s)
}

// Signal is the outcome of one stop-rule evaluation. It is transient:
// created and consumed synchronously by the caller, never queued.
type Signal struct {
	Metric         string
	Message        string
	Action         Action
	Classification string
	Baseline       float64
	Delta          float64
}

// Fatal reports whether the signal must unwind the current operation.
// Anything that is not an alert fails closed.
func (s *Signal) Fatal() bool {
	return s.Action != ActionAlert
}

// Error makes fatal signals propagate through ordinary error returns.
func (s *Signal) Error() string {
	msg := s.Message
	if msg == "" {
		msg = fmt.Sprintf("%s deviated from baseline %g by %g", s.Metric, s.Baseline, s.Delta)
	}
	return fmt.Sprintf("policy %s (%s): %s", s.Action, s.Classification, msg)
}

// AsSignal extracts a stop-rule signal from an error chain.
func AsSignal(err error) (*Signal, bool) {
	var sig *Signal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}

// Engine evaluates stop rules and writes their anomaly receipts.
type Engine struct {
	emitter *receipt.Emitter
	log     *logging.Logger
}

// NewEngine wires an engine to an emitter. Nil arguments fall back to
// a default stdout emitter and the process logger.
func NewEngine(em *receipt.Emitter, log *logging.Logger) *Engine {
	if em == nil {
		em = receipt.NewEmitter(receipt.Config{})
	}
	if log == nil {
		log = logging.Default()
	}
	return &Engine{emitter: em, log: log}
}

// Trigger evaluates one stop rule. The anomaly receipt is emitted
// first, then the tier decides the return: halt and escalate return
// the signal as the error, alert returns a nil error.
//
// Receipt emission failures are logged and do not change the tier's
// control flow; a failing stream must not mask a violation.
func (e *Engine) Trigger(action Action, metric, message string, baseline, delta float64) (*Signal, error) {
	sig := &Signal{
		Metric:         metric,
		Message:        message,
		Action:         action,
		Classification: Classify(action),
		Baseline:       baseline,
		Delta:          delta,
	}

	_, err := e.emitter.Emit(receipt.TypeAnomaly, map[string]any{
		"metric":         metric,
		"baseline":       baseline,
		"delta":          delta,
		"classification": sig.Classification,
		"action":         string(action),
	})
	if err != nil {
		e.log.Error("anomaly receipt emission failed",
			"metric", metric,
			"action", string(action),
			"error", err)
	}

	if sig.Fatal() {
		return sig, sig
	}
	return sig, nil
}

// Alert records a drift-tier anomaly and continues.
func (e *Engine) Alert(metric, message string, baseline, delta float64) *Signal {
	sig, _ := e.Trigger(ActionAlert, metric, message, baseline, delta)
	return sig
}

// Escalate records a degradation-tier anomaly. The returned error is
// the signal.
func (e *Engine) Escalate(metric, message string, baseline, delta float64) (*Signal, error) {
	return e.Trigger(ActionEscalate, metric, message, baseline, delta)
}

// Halt records a violation-tier anomaly. The returned error is the
// signal.
func (e *Engine) Halt(metric, message string, baseline, delta float64) (*Signal, error) {
	return e.Trigger(ActionHalt, metric, message, baseline, delta)
}
