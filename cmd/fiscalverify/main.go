// Command fiscalverify is a standalone tool for verifying fiscalproof
// proof bundles.
//
// It recomputes every claim a bundle makes (Merkle root, inclusion
// proofs, anchor hash, chain validity, bundle hash) without needing
// the emitting process, its ledger, or its configuration, making it
// suitable for:
// - Offline verification
// - Third-party audits
// - Automated verification pipelines
//
// Usage:
//
//	fiscalverify [flags] <bundle.json>
//
// Examples:
//
//	# Basic verification
//	fiscalverify receipts.jsonl.bundle.json
//
//	# JSON report for pipelines
//	fiscalverify -format json bundle.json
//
//	# Quiet mode: exit code only
//	fiscalverify -quiet bundle.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"fiscalproof/internal/evidence"
)

var (
	// Version information (set at build time)
	version = "dev"
	commit  = "unknown"
)

func main() {
	formatStr := flag.String("format", "text", "output format: text or json")
	output := flag.String("output", "", "output file (default: stdout)")
	verbose := flag.Bool("verbose", false, "verbose output with per-check detail")
	versionFlag := flag.Bool("version", false, "print version and exit")
	quiet := flag.Bool("quiet", false, "quiet mode - no report, exit code only")
	exitCode := flag.Bool("exit-code", true, "exit with non-zero code on verification failure")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fiscalverify - Verify fiscalproof proof bundles offline\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <bundle.json>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nChecks:\n")
		fmt.Fprintf(os.Stderr, "  format_version    bundle layout is a known version\n")
		fmt.Fprintf(os.Stderr, "  receipts_present  the bundle carries receipts\n")
		fmt.Fprintf(os.Stderr, "  merkle_root       root over canonical receipts matches the chain\n")
		fmt.Fprintf(os.Stderr, "  anchor_root       anchor commits to the same root\n")
		fmt.Fprintf(os.Stderr, "  anchor_hash       anchor hash is the dual hash of the root\n")
		fmt.Fprintf(os.Stderr, "  inclusion_proofs  every receipt's proof verifies\n")
		fmt.Fprintf(os.Stderr, "  chain_validation  structural validity matches the chain's claim\n")
		fmt.Fprintf(os.Stderr, "  bundle_hash       bundle hash covers the canonical chain\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s bundle.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -format json -output report.json bundle.json\n", os.Args[0])
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("fiscalverify %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: bundle file required\n\n")
		flag.Usage()
		os.Exit(2)
	}
	inputFile := flag.Arg(0)

	if *formatStr != "text" && *formatStr != "json" {
		fmt.Fprintf(os.Stderr, "Error: unknown format: %s (use text or json)\n", *formatStr)
		os.Exit(2)
	}

	bundle, err := evidence.ReadBundle(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading bundle: %v\n", err)
		os.Exit(1)
	}

	// Verification needs no emitter, ledger, or config: everything is
	// recomputed from the bundle alone.
	prover := evidence.NewProver(evidence.Config{})
	report := prover.VerifyBundle(bundle)

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if !*quiet {
		if *formatStr == "json" {
			writeJSON(w, bundle, report)
		} else {
			writeText(w, bundle, report, *verbose)
		}
	}

	if *exitCode && !report.Valid {
		os.Exit(1)
	}
}

func writeText(w io.Writer, b *evidence.Bundle, report *evidence.BundleReport, verbose bool) {
	fmt.Fprintln(w, "=== Bundle Verification ===")
	fmt.Fprintf(w, "Bundle ID:   %s\n", b.BundleID)
	fmt.Fprintf(w, "Format:      %s\n", b.FormatVersion)
	fmt.Fprintf(w, "Created:     %s\n", b.CreatedAt)
	if b.Chain != nil {
		fmt.Fprintf(w, "Receipts:    %d\n", len(b.Chain.Receipts))
		fmt.Fprintf(w, "Merkle root: %s\n", short(b.Chain.MerkleRoot))
	}
	fmt.Fprintln(w)

	for _, c := range report.Checks {
		mark := "✓"
		if !c.Passed {
			mark = "✗"
		}
		if c.Detail != "" && (verbose || !c.Passed) {
			fmt.Fprintf(w, "%s %-18s %s\n", mark, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", mark, c.Name)
		}
	}
	fmt.Fprintln(w)

	if report.Valid {
		fmt.Fprintln(w, "✓ Bundle verification PASSED")
		fmt.Fprintln(w, "  Every receipt is provably included under the anchored root.")
	} else {
		fmt.Fprintln(w, "✗ Bundle verification FAILED")
	}

	if verbose && b.VerificationInstructions != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Manual verification:")
		for i := 1; ; i++ {
			step, ok := b.VerificationInstructions[strconv.Itoa(i)]
			if !ok {
				break
			}
			fmt.Fprintf(w, "  %d. %s\n", i, step)
		}
	}
}

func writeJSON(w io.Writer, b *evidence.Bundle, report *evidence.BundleReport) {
	out := struct {
		BundleID      string           `json:"bundle_id"`
		FormatVersion string           `json:"format_version"`
		BundleHash    string           `json:"bundle_hash"`
		Valid         bool             `json:"valid"`
		Checks        []evidence.Check `json:"checks"`
	}{
		BundleID:      b.BundleID,
		FormatVersion: b.FormatVersion,
		BundleHash:    b.BundleHash,
		Valid:         report.Valid,
		Checks:        report.Checks,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		os.Exit(1)
	}
}

// short truncates a fingerprint for report lines.
func short(h string) string {
	if len(h) <= 19 {
		return h
	}
	return h[:16] + "..."
}
