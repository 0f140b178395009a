// fiscalproof is the evidence and detection CLI.
//
// stdout carries the receipt stream and nothing else: every command
// writes canonical JSON receipt lines there, one per line, so output
// can be piped straight into a ledger file or another tool. Reports,
// errors, and all other human-readable text go to stderr.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fiscalproof/internal/canonical"
	"fiscalproof/internal/config"
	"fiscalproof/internal/detect"
	"fiscalproof/internal/evidence"
	"fiscalproof/internal/ledger"
	"fiscalproof/internal/logging"
	"fiscalproof/internal/merkle"
	"fiscalproof/internal/policy"
	"fiscalproof/internal/receipt"
	"fiscalproof/internal/schema"
	"fiscalproof/internal/sim"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath = flag.String("config", "", "path to config file")
	noLedger   = flag.Bool("no-ledger", false, "do not append emitted receipts to the local ledger")
)

func main() {
	// A bare --test emits one test receipt and exits, for smoke gates.
	if len(os.Args) == 2 && os.Args[1] == "--test" {
		cmdTest()
		return
	}

	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	args := flag.Args()[1:]
	switch cmd := flag.Arg(0); cmd {
	case "selftest":
		cmdSelftest()
	case "test":
		cmdTest()
	case "hash":
		cmdHash(args)
	case "detect":
		cmdDetect(args)
	case "verify":
		cmdVerify(args)
	case "anchor":
		cmdAnchor(args)
	case "prove":
		cmdProve(args)
	case "simulate":
		cmdSimulate(args)
	case "version":
		cmdVersion()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `fiscalproof - Receipt-anchored fiscal anomaly detection

Receipts are emitted to stdout as canonical JSON lines; reports and
diagnostics go to stderr.

Usage: fiscalproof [options] <command> [args]

Commands:
  selftest                          Exercise hashing, receipts, and proofs end to end
  test                              Emit a single test receipt
  hash [-i text] [file]             Dual-hash a literal, a file, or stdin
  detect -method <m> <records.json> Run a detector over a JSON records file
                                    (methods: benford, entropy, concentration)
  verify [-deep] [-schema] [file]   Validate a receipts file
  anchor [-type t] [file]           Commit a receipts file to a Merkle anchor
  prove [-index n | -type t] [file] Export an offline proof bundle
  simulate [-scenario s] [options]  Run the Monte Carlo detection harness
  version                           Emit a version receipt
  help                              Show this help message

Options:
  -config <path>  Path to config file (default: ~/.fiscalproof/config.toml)
  -no-ledger      Do not append emitted receipts to the local ledger`)
}

// app bundles the components every command wires up: config, logger,
// and the receipt emitter with its optional ledger sink.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	emitter *receipt.Emitter
	ledger  *ledger.Ledger
}

func newApp() *app {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(log)

	a := &app{cfg: cfg, log: log}

	if !*noLedger {
		if err := cfg.EnsureDirectories(); err != nil {
			log.Warn("ledger directory unavailable, receipts go to stdout only", "error", err)
		} else if led, err := ledger.Open(cfg.Ledger.Path); err != nil {
			log.Warn("ledger unavailable, receipts go to stdout only",
				"path", cfg.Ledger.Path, "error", err)
		} else {
			a.ledger = led
		}
	}

	// The typed-nil guard matters: handing the emitter a nil *Ledger
	// inside a non-nil Appender would defeat its own nil check.
	var appender receipt.Appender
	if a.ledger != nil {
		appender = a.ledger
	}
	a.emitter = receipt.NewEmitter(receipt.Config{
		TenantID: cfg.Tenant,
		Stream:   os.Stdout,
		Ledger:   appender,
		Logger:   log,
	})
	return a
}

func (a *app) close() {
	if a.ledger != nil {
		if a.cfg.Ledger.Sync {
			if err := a.ledger.Sync(); err != nil {
				a.log.Warn("ledger sync failed", "error", err)
			}
		}
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("ledger close failed", "error", err)
		}
	}
	a.log.Close()
}

// fail closes the app and exits 1.
func (a *app) fail() {
	a.close()
	os.Exit(1)
}

// emit writes one receipt to the stream. A stream write failure is
// fatal: a receipt that cannot reach stdout must not pass silently.
func (a *app) emit(receiptType string, payload map[string]any) receipt.Receipt {
	r, err := a.emitter.Emit(receiptType, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error emitting receipt: %v\n", err)
		a.fail()
	}
	return r
}

func (a *app) prover() *evidence.Prover {
	return evidence.NewProver(evidence.Config{Emitter: a.emitter, Logger: a.log})
}

func (a *app) analyzer() *detect.Analyzer {
	return detect.NewAnalyzer(detect.AnalyzerConfig{
		Emitter:   a.emitter,
		Baselines: a.cfg.BaselineTable(),
		Actions:   a.cfg.DetectorActions(),
		Logger:    a.log,
	})
}

func cmdTest() {
	a := newApp()
	a.emit(receipt.TypeTest, map[string]any{
		"message":   "CLI test receipt",
		"test_mode": true,
	})
	a.close()
}

func cmdSelftest() {
	a := newApp()
	hasher := a.emitter.Hasher()

	type check struct {
		name   string
		ok     bool
		detail string
	}
	var checks []check
	add := func(name string, ok bool, detail string) {
		checks = append(checks, check{name: name, ok: ok, detail: detail})
	}

	probe := hasher.HashString("selftest probe")
	parts := strings.Split(probe, ":")
	add("dual_hash",
		len(parts) == 2 && len(parts[0]) == 64 && len(parts[1]) == 64 &&
			probe == hasher.HashString("selftest probe"),
		strings.Join(hasher.Algorithms(), "+"))

	enc, err := canonical.Marshal(map[string]any{"b": 1, "a": "x"})
	add("canonical_json", err == nil && string(enc) == `{"a":"x","b":1}`, string(enc))

	tree := merkle.New(hasher)
	leaves := []string{
		hasher.HashString("alpha"),
		hasher.HashString("beta"),
		hasher.HashString("gamma"),
	}
	root := tree.Root(leaves)
	proof, perr := tree.BuildProof(leaves, 1)
	add("merkle_proof",
		perr == nil && root != "" &&
			tree.VerifyProof(leaves[1], proof, root) &&
			!tree.VerifyProof(hasher.HashString("delta"), proof, root),
		fmt.Sprintf("3 leaves, root %s", short(root)))

	r, emitErr := a.emitter.Emit(receipt.TypeTest, map[string]any{
		"message":   "CLI test receipt",
		"test_mode": true,
	})
	receiptOK := emitErr == nil
	detail := ""
	if receiptOK {
		recomputed, rerr := r.RecomputePayloadHash(hasher)
		receiptOK = rerr == nil && recomputed == r.PayloadHash
		detail = short(r.PayloadHash)
	}
	add("receipt_hash", receiptOK, detail)

	prover := a.prover()
	validation, verr := prover.ValidateChain([]receipt.Receipt{r})
	add("chain_validation", verr == nil && validation.Valid, "")

	pr, ferr := prover.ProveFinding(
		evidence.Finding{FindingType: r.Type, Receipt: &r},
		[]receipt.Receipt{r})
	add("inclusion_proof", ferr == nil && pr.Provable && pr.Verified, "")

	fmt.Fprintln(os.Stderr, "=== Self Test ===")
	passed := 0
	for _, c := range checks {
		status := "FAIL"
		if c.ok {
			status = "PASS"
			passed++
		}
		if c.detail != "" {
			fmt.Fprintf(os.Stderr, "%-18s %s  %s\n", c.name, status, c.detail)
		} else {
			fmt.Fprintf(os.Stderr, "%-18s %s\n", c.name, status)
		}
	}
	fmt.Fprintln(os.Stderr)
	if passed < len(checks) {
		fmt.Fprintf(os.Stderr, "✗ %d/%d checks passed\n", passed, len(checks))
		a.fail()
	}
	fmt.Fprintf(os.Stderr, "✓ %d/%d checks passed\n", passed, len(checks))
	a.close()
}

func cmdHash(args []string) {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	input := fs.String("i", "", "literal input to hash")
	fs.Parse(args)

	a := newApp()

	var data []byte
	payload := map[string]any{}
	switch {
	case *input != "":
		data = []byte(*input)
	case fs.NArg() >= 1:
		path := fs.Arg(0)
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			status, msg := "read_error", err.Error()
			if errors.Is(err, os.ErrNotExist) {
				status, msg = "file_not_found", "File not found: "+path
			}
			a.emit(receipt.TypeHash, map[string]any{
				"source_file": path,
				"status":      status,
				"error":       msg,
			})
			fmt.Fprintln(os.Stderr, msg)
			a.fail()
		}
		payload["source_file"] = path
	default:
		var err error
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", err)
			a.fail()
		}
	}

	sum := a.emitter.Hasher().Hash(data)
	payload["input_preview"] = preview(data)
	payload["hash"] = sum
	a.emit(receipt.TypeHash, payload)
	fmt.Fprintln(os.Stderr, sum)
	a.close()
}

func cmdDetect(args []string) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	method := fs.String("method", "", "detection method: benford, entropy, or concentration")
	entity := fs.String("entity", "", "entity label stamped on detector receipts (default: file basename)")
	entityType := fs.String("entity-type", "municipality", "baseline entity type for entropy")
	period := fs.String("period", "", "baseline period for entropy")
	digit := fs.Int("digit", 1, "digit position for benford (1 or 2)")
	amountField := fs.String("amount-field", "amount", "record field holding the amount")
	fs.Parse(args)

	if *method == "" || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: fiscalproof detect -method benford|entropy|concentration [options] <records.json>")
		os.Exit(1)
	}
	switch *method {
	case "benford", "entropy", "concentration":
	default:
		fmt.Fprintf(os.Stderr, "Unknown method: %s (use benford, entropy, or concentration)\n", *method)
		os.Exit(1)
	}
	path := fs.Arg(0)

	a := newApp()
	data, err := os.ReadFile(path)
	if err != nil {
		status, msg := "read_error", err.Error()
		if errors.Is(err, os.ErrNotExist) {
			status, msg = "file_not_found", "File not found: "+path
		}
		a.emit(receipt.TypeDetect, map[string]any{
			"method":      *method,
			"source_file": path,
			"status":      status,
			"error":       msg,
		})
		fmt.Fprintln(os.Stderr, msg)
		a.fail()
	}

	name := *entity
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	findings := 0
	var sig *policy.Signal
	switch *method {
	case "benford":
		recs, perr := loadRecords(data)
		if perr != nil {
			a.parseFail(*method, path, perr)
		}
		values := amounts(recs, *amountField)
		_, res, derr := a.analyzer().BenfordReceipt(values, path, name, *digit)
		if derr != nil {
			s, ok := policy.AsSignal(derr)
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: %v\n", derr)
				a.fail()
			}
			sig = s
		}
		fmt.Fprintf(os.Stderr, "=== Benford Analysis: %s ===\n", name)
		fmt.Fprintf(os.Stderr, "Records:     %d (%d usable amounts)\n", len(recs), res.SampleSize)
		fmt.Fprintf(os.Stderr, "Chi-squared: %.2f (df %d)\n", res.ChiSquared, res.DegreesOfFreedom)
		fmt.Fprintf(os.Stderr, "P-value:     %.4f\n", res.PValue)
		fmt.Fprintf(os.Stderr, "Verdict:     %s\n", res.PassFail)
		if round := detect.DetectRoundNumbers(values, a.cfg.RoundThresholds()); len(round) > 0 {
			fmt.Fprintf(os.Stderr, "Round amounts: %d flagged\n", len(round))
		}
		if res.Flagged() {
			findings++
		}

	case "entropy":
		_, res, derr := a.analyzer().EntropyReceipt(data, name, *entityType, *period)
		if derr != nil {
			s, ok := policy.AsSignal(derr)
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: %v\n", derr)
				a.fail()
			}
			sig = s
		}
		fmt.Fprintf(os.Stderr, "=== Entropy Analysis: %s ===\n", name)
		fmt.Fprintf(os.Stderr, "Bytes:             %d\n", res.RawSize)
		fmt.Fprintf(os.Stderr, "Compression ratio: %.4f\n", res.CompressionRatio)
		fmt.Fprintf(os.Stderr, "Shannon entropy:   %.4f bits/byte\n", res.ShannonEntropy)
		fmt.Fprintf(os.Stderr, "Z-score:           %+.2f against %s baseline\n", res.ZScore, *entityType)
		fmt.Fprintf(os.Stderr, "Severity:          %s\n", res.Severity)
		if res.IsAnomaly {
			findings++
		}

	case "concentration":
		recs, perr := loadFlowRecords(data)
		if perr != nil {
			a.parseFail(*method, path, perr)
		}
		g := detect.BuildFlowGraph(recs)
		_, res, derr := a.analyzer().ConcentrationReceipt(g, "full")
		if derr != nil {
			s, ok := policy.AsSignal(derr)
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: %v\n", derr)
				a.fail()
			}
			sig = s
		}
		hot := g.Hubs(a.cfg.Detect.HubThreshold)
		fmt.Fprintf(os.Stderr, "=== Concentration Analysis: %s ===\n", name)
		fmt.Fprintf(os.Stderr, "Nodes:        %d\n", res.Nodes)
		fmt.Fprintf(os.Stderr, "Flows:        %d\n", res.Edges)
		fmt.Fprintf(os.Stderr, "Flow entropy: %.4f bits\n", res.Entropy)
		fmt.Fprintf(os.Stderr, "Hubs over %.2f centrality: %d\n", a.cfg.Detect.HubThreshold, len(hot))
		for i, h := range hot {
			if i == 5 {
				fmt.Fprintf(os.Stderr, "  ... and %d more\n", len(hot)-5)
				break
			}
			fmt.Fprintf(os.Stderr, "  %-24s %.2f (in %d, out %d)\n",
				h.NodeID, h.Centrality, h.InDegree, h.OutDegree)
		}
		findings = len(hot)
	}

	a.emit(receipt.TypeDetect, map[string]any{
		"method":         *method,
		"source_file":    path,
		"findings_count": findings,
		"status":         "completed",
	})
	if sig != nil {
		fmt.Fprintf(os.Stderr, "\nStop rule fired: %v\n", sig)
		a.fail()
	}
	a.close()
}

func (a *app) parseFail(method, path string, err error) {
	a.emit(receipt.TypeDetect, map[string]any{
		"method":      method,
		"source_file": path,
		"status":      "parse_error",
		"error":       err.Error(),
	})
	fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", path, err)
	a.fail()
}

func cmdVerify(args []string) {
	a := newApp()

	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	file := fs.String("file", a.cfg.Ledger.Path, "receipts file to verify")
	deep := fs.Bool("deep", false, "recompute every receipt payload hash")
	schemaFlag := fs.Bool("schema", false, "validate every line against the receipt schema")
	fs.Parse(args)

	path := *file
	if fs.NArg() >= 1 {
		path = fs.Arg(0)
	}

	receipts, err := ledger.Load(path)
	if err != nil {
		status, msg := "read_error", err.Error()
		if errors.Is(err, os.ErrNotExist) {
			status, msg = "file_not_found", "File not found: "+path
		}
		a.emit(receipt.TypeVerify, map[string]any{
			"file":   path,
			"status": status,
			"error":  msg,
		})
		fmt.Fprintln(os.Stderr, msg)
		a.fail()
	}

	prover := a.prover()
	validation, err := prover.ValidateChain(receipts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error validating chain: %v\n", err)
		a.fail()
	}

	fmt.Fprintln(os.Stderr, "=== Chain Verification ===")
	fmt.Fprintf(os.Stderr, "File:        %s\n", path)
	fmt.Fprintf(os.Stderr, "Receipts:    %d\n", validation.ReceiptCount)
	fmt.Fprintf(os.Stderr, "Merkle root: %s\n", short(validation.MerkleRoot))

	ok := validation.Valid
	if validation.Valid {
		fmt.Fprintln(os.Stderr, "Chain:       ✓ all envelope fields present")
	} else {
		fmt.Fprintf(os.Stderr, "Chain:       ✗ %d defects\n", len(validation.Errors))
		for i, ve := range validation.Errors {
			if i == 5 {
				fmt.Fprintf(os.Stderr, "  ... and %d more\n", len(validation.Errors)-5)
				break
			}
			fmt.Fprintf(os.Stderr, "  [%d] %s (%s)\n", ve.Index, ve.Err, ve.ReceiptType)
		}
	}

	schemaErrors := 0
	if *schemaFlag {
		f, ferr := os.Open(path)
		if ferr != nil {
			fmt.Fprintf(os.Stderr, "Error reopening %s: %v\n", path, ferr)
			a.fail()
		}
		lineErrs, serr := schema.ValidateStream(f)
		f.Close()
		if serr != nil {
			fmt.Fprintf(os.Stderr, "Error running schema validation: %v\n", serr)
			a.fail()
		}
		schemaErrors = len(lineErrs)
		if schemaErrors == 0 {
			fmt.Fprintln(os.Stderr, "Schema:      ✓ every line conforms")
		} else {
			ok = false
			fmt.Fprintf(os.Stderr, "Schema:      ✗ %d lines rejected\n", schemaErrors)
			for i, le := range lineErrs {
				if i == 5 {
					fmt.Fprintf(os.Stderr, "  ... and %d more\n", schemaErrors-5)
					break
				}
				fmt.Fprintf(os.Stderr, "  line %d: %s\n", le.Line, le.Err)
			}
		}
	}

	mismatches := 0
	if *deep {
		mm, merr := prover.VerifyPayloadHashes(receipts)
		if merr != nil {
			fmt.Fprintf(os.Stderr, "Error recomputing payload hashes: %v\n", merr)
			a.fail()
		}
		mismatches = len(mm)
		if mismatches == 0 {
			fmt.Fprintln(os.Stderr, "Payloads:    ✓ every hash recomputes")
		} else {
			ok = false
			fmt.Fprintf(os.Stderr, "Payloads:    ✗ %d hash mismatches\n", mismatches)
			for i, m := range mm {
				if i == 5 {
					fmt.Fprintf(os.Stderr, "  ... and %d more\n", mismatches-5)
					break
				}
				fmt.Fprintf(os.Stderr, "  [%d] recorded %s, recomputed %s\n",
					m.Index, short(m.Recorded), short(m.Recomputed))
			}
		}
	}

	if !ok {
		a.emit(receipt.TypeVerify, map[string]any{
			"receipts_count":  len(receipts),
			"merkle_root":     validation.MerkleRoot,
			"file":            path,
			"status":          "invalid",
			"chain_errors":    len(validation.Errors),
			"schema_errors":   schemaErrors,
			"hash_mismatches": mismatches,
		})
		fmt.Fprintln(os.Stderr, "\n✗ Verification FAILED")
		a.fail()
	}
	a.emit(receipt.TypeVerify, map[string]any{
		"receipts_count": len(receipts),
		"merkle_root":    validation.MerkleRoot,
		"file":           path,
		"status":         "verified",
	})
	fmt.Fprintln(os.Stderr, "\n✓ Verification PASSED")
	a.close()
}

func cmdAnchor(args []string) {
	a := newApp()

	fs := flag.NewFlagSet("anchor", flag.ExitOnError)
	file := fs.String("file", a.cfg.Ledger.Path, "receipts file to anchor")
	anchorType := fs.String("type", "", "anchor type label (default: merkle)")
	fs.Parse(args)

	path := *file
	if fs.NArg() >= 1 {
		path = fs.Arg(0)
	}

	receipts, err := ledger.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.emit(receipt.TypeAnchor, map[string]any{
				"source_file": path,
				"status":      "file_not_found",
				"merkle_root": merkle.EmptyRoot(),
				"hash_algos":  a.emitter.Hasher().Algorithms(),
				"batch_size":  0,
			})
			fmt.Fprintf(os.Stderr, "File not found: %s\n", path)
		} else {
			a.emit(receipt.TypeAnchor, map[string]any{
				"source_file": path,
				"status":      "read_error",
				"error":       err.Error(),
			})
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		}
		a.fail()
	}

	anchor, err := a.prover().CreateAnchor(receipts, *anchorType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating anchor: %v\n", err)
		a.fail()
	}

	fmt.Fprintln(os.Stderr, "=== Anchor Created ===")
	fmt.Fprintf(os.Stderr, "Source:      %s\n", path)
	fmt.Fprintf(os.Stderr, "Type:        %s\n", anchor.AnchorType)
	fmt.Fprintf(os.Stderr, "Batch size:  %d\n", anchor.ReceiptCount)
	fmt.Fprintf(os.Stderr, "Merkle root: %s\n", short(anchor.MerkleRoot))
	fmt.Fprintf(os.Stderr, "Anchor hash: %s\n", short(anchor.AnchorHash))
	fmt.Fprintf(os.Stderr, "Timestamp:   %s\n", anchor.Timestamp)
	a.close()
}

func cmdProve(args []string) {
	a := newApp()

	fs := flag.NewFlagSet("prove", flag.ExitOnError)
	file := fs.String("file", a.cfg.Ledger.Path, "receipts file to prove from")
	index := fs.Int("index", -1, "receipt index to prove (default: every receipt)")
	findingType := fs.String("type", "", "prove the newest receipt of this type")
	out := fs.String("o", "", "bundle output path (default: <file>.bundle.json)")
	fs.Parse(args)

	path := *file
	if fs.NArg() >= 1 {
		path = fs.Arg(0)
	}

	receipts, err := ledger.Load(path)
	if err != nil {
		status, msg := "read_error", err.Error()
		if errors.Is(err, os.ErrNotExist) {
			status, msg = "file_not_found", "File not found: "+path
		}
		a.emit(receipt.TypeProofBundle, map[string]any{
			"source_file": path,
			"status":      status,
			"error":       msg,
		})
		fmt.Fprintln(os.Stderr, msg)
		a.fail()
	}
	if len(receipts) == 0 {
		a.emit(receipt.TypeProofBundle, map[string]any{
			"source_file": path,
			"status":      "empty_chain",
			"error":       "no receipts to prove",
		})
		fmt.Fprintf(os.Stderr, "No receipts to prove in %s\n", path)
		a.fail()
	}

	var findings []evidence.Finding
	switch {
	case *index >= 0:
		if *index >= len(receipts) {
			a.emit(receipt.TypeProofBundle, map[string]any{
				"source_file": path,
				"status":      "index_out_of_range",
				"error":       fmt.Sprintf("index %d out of range (%d receipts)", *index, len(receipts)),
			})
			fmt.Fprintf(os.Stderr, "Index %d out of range: %s holds %d receipts\n",
				*index, path, len(receipts))
			a.fail()
		}
		findings = []evidence.Finding{{FindingType: receipts[*index].Type, Receipt: &receipts[*index]}}
	case *findingType != "":
		for i := len(receipts) - 1; i >= 0; i-- {
			if receipts[i].Type == *findingType {
				findings = []evidence.Finding{{FindingType: *findingType, Receipt: &receipts[i]}}
				break
			}
		}
		if findings == nil {
			a.emit(receipt.TypeProofBundle, map[string]any{
				"source_file":  path,
				"status":       "finding_not_found",
				"finding_type": *findingType,
			})
			fmt.Fprintf(os.Stderr, "No %q receipt in %s\n", *findingType, path)
			a.fail()
		}
	default:
		findings = make([]evidence.Finding, len(receipts))
		for i := range receipts {
			findings[i] = evidence.Finding{FindingType: receipts[i].Type, Receipt: &receipts[i]}
		}
	}

	prover := a.prover()
	bundle, err := prover.ExportBundle(findings, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting bundle: %v\n", err)
		a.fail()
	}

	outPath := *out
	if outPath == "" {
		outPath = path + ".bundle.json"
	}
	if err := prover.WriteBundle(bundle, outPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing bundle: %v\n", err)
		a.fail()
	}

	fmt.Fprintln(os.Stderr, "=== Proof Bundle ===")
	fmt.Fprintf(os.Stderr, "Bundle ID:   %s\n", bundle.BundleID)
	fmt.Fprintf(os.Stderr, "Findings:    %d\n", bundle.FindingsCount)
	fmt.Fprintf(os.Stderr, "Receipts:    %d\n", bundle.Chain.ReceiptCount)
	fmt.Fprintf(os.Stderr, "Merkle root: %s\n", short(bundle.Chain.MerkleRoot))
	fmt.Fprintf(os.Stderr, "Bundle hash: %s\n", short(bundle.BundleHash))
	fmt.Fprintf(os.Stderr, "Written to:  %s\n", outPath)
	fmt.Fprintf(os.Stderr, "\nVerify offline with: fiscalverify %s\n", outPath)
	a.close()
}

func cmdSimulate(args []string) {
	a := newApp()

	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	scenario := fs.String("scenario", a.cfg.Sim.Scenario,
		"scenario: baseline, round_numbers, concentration, split, mixed, degraded, or custom")
	cycles := fs.Int("cycles", a.cfg.Sim.Cycles, "number of detection cycles")
	transactions := fs.Int("transactions", a.cfg.Sim.Transactions, "transactions per cycle")
	seed := fs.Int64("seed", a.cfg.Sim.Seed, "random seed")
	fraudRate := fs.Float64("fraud-rate", a.cfg.Sim.FraudRate, "fraction of each batch to inject")
	pattern := fs.String("pattern", "", "fraud pattern for custom runs")
	distribution := fs.String("distribution", "", "amount distribution: benford, normal, or uniform")
	methods := fs.String("methods", "", "comma-separated detection methods")
	fs.Parse(args)

	simCfg := sim.Config{
		Cycles:       *cycles,
		Transactions: *transactions,
		Seed:         *seed,
		FraudRate:    *fraudRate,
		Pattern:      *pattern,
		Distribution: *distribution,
	}
	if *methods != "" {
		simCfg.Methods = strings.Split(*methods, ",")
	}

	runner := sim.NewRunner(sim.RunnerConfig{
		Emitter:   a.emitter,
		Baselines: a.cfg.BaselineTable(),
		Logger:    a.log,
	})

	var result *sim.Result
	var err error
	if *scenario == "" || *scenario == "custom" {
		simCfg.Scenario = "custom"
		result, err = runner.Run(simCfg)
	} else {
		result, err = runner.RunScenario(*scenario, simCfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.fail()
	}

	cfg := result.Config
	fmt.Fprintf(os.Stderr, "=== Simulation: %s ===\n", cfg.Scenario)
	fmt.Fprintf(os.Stderr, "Cycles:         %d x %d transactions\n", cfg.Cycles, cfg.Transactions)
	fmt.Fprintf(os.Stderr, "Seed:           %d\n", cfg.Seed)
	fmt.Fprintf(os.Stderr, "Fraud rate:     %.1f%%", cfg.FraudRate*100)
	if cfg.Pattern != "" {
		fmt.Fprintf(os.Stderr, " (%s)", cfg.Pattern)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Methods:        %s\n", strings.Join(cfg.Methods, ", "))
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Flagged cycles: %d of %d (detection rate %.2f)\n",
		result.FlaggedCycles, cfg.Cycles, result.DetectionRate)
	fmt.Fprintf(os.Stderr, "Findings:       %d\n", len(result.Findings))
	fmt.Fprintf(os.Stderr, "Precision:      %.3f\n", result.Accuracy.Precision)
	fmt.Fprintf(os.Stderr, "Recall:         %.3f\n", result.Accuracy.Recall)
	fmt.Fprintf(os.Stderr, "F1:             %.3f\n", result.Accuracy.F1)

	if n := len(result.Violations); n > 0 {
		fmt.Fprintf(os.Stderr, "\n✗ %d detection cycles failed\n", n)
		for i, v := range result.Violations {
			if i == 3 {
				fmt.Fprintf(os.Stderr, "  ... and %d more\n", n-3)
				break
			}
			fmt.Fprintf(os.Stderr, "  cycle %d (%s): %s\n", v.Cycle, v.Case, v.Error)
		}
		a.fail()
	}
	a.close()
}

func cmdVersion() {
	a := newApp()
	algos := a.emitter.Hasher().Algorithms()
	a.emit(receipt.TypeVersion, map[string]any{
		"version":       version,
		"hash_algos":    algos,
		"bundle_format": evidence.FormatVersion,
	})
	fmt.Fprintf(os.Stderr, "fiscalproof %s\n", version)
	fmt.Fprintf(os.Stderr, "  hash algorithms: %s\n", strings.Join(algos, ", "))
	fmt.Fprintf(os.Stderr, "  bundle format:   %s\n", evidence.FormatVersion)
	a.close()
}

// loadRecords parses a JSON records file: either a top-level array of
// objects or one object per line.
func loadRecords(data []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var records []map[string]any
	for i, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// loadFlowRecords parses the same two shapes into flow records.
func loadFlowRecords(data []byte) ([]detect.FlowRecord, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []detect.FlowRecord
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var records []detect.FlowRecord
	for i, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec detect.FlowRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// amounts extracts the named numeric field from records, skipping
// entries where it is absent or not a number.
func amounts(records []map[string]any, field string) []float64 {
	out := make([]float64, 0, len(records))
	for _, rec := range records {
		if v, ok := rec[field].(float64); ok {
			out = append(out, v)
		}
	}
	return out
}

// preview truncates raw input to 100 bytes for the receipt echo.
func preview(data []byte) string {
	if len(data) > 100 {
		data = data[:100]
	}
	return string(data)
}

// short truncates a fingerprint for report lines. Receipts always
// carry the full value.
func short(h string) string {
	if len(h) <= 19 {
		return h
	}
	return h[:16] + "..."
}
