// Package schema validates receipt lines against the embedded receipt
// envelope schema.
//
// The schema pins the envelope only: the four reserved fields must be
// present with the right shapes (wire-format timestamp, dual-hash
// fingerprint), and everything else is open, since each receipt type
// carries its own payload fields. Validation here is structural and
// says nothing about whether payload_hash is correct for the payload;
// that is evidence.VerifyPayloadHashes territory.
package schema

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"fiscalproof/internal/ledger"
	"fiscalproof/internal/receipt"
)

//go:embed receipt-v1.schema.json
var receiptSchemaJSON string

var receiptSchema = jsonschema.MustCompileString("receipt-v1.schema.json", receiptSchemaJSON)

// ValidateLine checks one raw receipt line against the envelope schema.
func ValidateLine(line []byte) error {
	var instance any
	if err := json.Unmarshal(line, &instance); err != nil {
		return fmt.Errorf("schema: parse line: %w", err)
	}
	if err := receiptSchema.Validate(instance); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// ValidateReceipt checks a decoded receipt against the envelope schema
// via its canonical line form.
func ValidateReceipt(r receipt.Receipt) error {
	line, err := r.Canonical()
	if err != nil {
		return err
	}
	return ValidateLine(line)
}

// LineError is a schema violation at a specific ledger line.
type LineError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// ValidateStream checks every line of a JSONL receipt stream and
// collects all violations. Blank lines are skipped the way the ledger
// reader skips them; line numbers count raw lines, blanks included.
func ValidateStream(r io.Reader) ([]LineError, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), ledger.MaxLineBytes)

	var violations []LineError
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := ValidateLine(line); err != nil {
			violations = append(violations, LineError{Line: lineNo, Err: err.Error()})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("schema: scan stream: %w", err)
	}
	return violations, nil
}
