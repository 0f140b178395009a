package receipt

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"fiscalproof/internal/dualhash"
	"fiscalproof/internal/logging"
)

// Appender is the persistence hook for emitted receipts. The ledger
// satisfies it. Emission treats append failures as non-fatal: the
// stream is the system of record, the ledger is a local convenience.
type Appender interface {
	Append(line []byte) error
}

// Config wires an Emitter.
type Config struct {
	// TenantID stamps every receipt. Empty means DefaultTenant.
	TenantID string

	// Stream receives one canonical JSON line per receipt and is the
	// system of record: a write failure fails the emission. Nil means
	// os.Stdout.
	Stream io.Writer

	// Ledger, when set, gets the same line appended after the stream
	// write succeeds. Append failures are logged and swallowed.
	Ledger Appender

	// Hasher computes payload hashes. Nil means the package default.
	Hasher *dualhash.Hasher

	// Logger receives diagnostics. Nil means the process default.
	Logger *logging.Logger

	// Now overrides the timestamp source, for tests.
	Now func() time.Time
}

// Emitter builds, hashes, and writes receipts. Safe for concurrent
// use; stream writes are serialized so lines never interleave.
type Emitter struct {
	tenant string
	stream io.Writer
	ledger Appender
	hasher *dualhash.Hasher
	log    *logging.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewEmitter creates an emitter from cfg, filling zero fields with
// defaults.
func NewEmitter(cfg Config) *Emitter {
	e := &Emitter{
		tenant: cfg.TenantID,
		stream: cfg.Stream,
		ledger: cfg.Ledger,
		hasher: cfg.Hasher,
		log:    cfg.Logger,
		now:    cfg.Now,
	}
	if e.tenant == "" {
		e.tenant = DefaultTenant
	}
	if e.stream == nil {
		e.stream = os.Stdout
	}
	if e.hasher == nil {
		e.hasher = dualhash.New()
	}
	if e.log == nil {
		e.log = logging.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.hasher.Degraded() {
		e.log.Warn("secondary hash algorithm unavailable, duplicating primary",
			"algorithms", e.hasher.Algorithms())
	}
	return e
}

// TenantID returns the tenant stamped on emitted receipts.
func (e *Emitter) TenantID() string { return e.tenant }

// Hasher returns the hasher used for payload hashes.
func (e *Emitter) Hasher() *dualhash.Hasher { return e.hasher }

// Emit builds a receipt of the given type, writes its canonical line
// to the stream, and appends it to the ledger if one is configured.
//
// The payload is copied before use. Reserved keys inside it are
// dropped, so callers cannot spoof the envelope fields, and the tenant
// id is injected into the hash basis before hashing.
func (e *Emitter) Emit(receiptType string, payload map[string]any) (Receipt, error) {
	stripped := make(map[string]any, len(payload))
	for k, v := range payload {
		if Reserved(k) {
			continue
		}
		stripped[k] = v
	}

	r := Receipt{
		Type:     receiptType,
		TenantID: e.tenant,
		Payload:  stripped,
	}
	hash, err := r.RecomputePayloadHash(e.hasher)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipt: emit %s: %w", receiptType, err)
	}
	r.PayloadHash = hash
	r.Timestamp = Timestamp(e.now())

	line, err := r.Canonical()
	if err != nil {
		return Receipt{}, fmt.Errorf("receipt: emit %s: %w", receiptType, err)
	}

	e.mu.Lock()
	_, werr := e.stream.Write(append(line, '\n'))
	e.mu.Unlock()
	if werr != nil {
		return Receipt{}, fmt.Errorf("receipt: write stream: %w", werr)
	}

	if e.ledger != nil {
		if lerr := e.ledger.Append(line); lerr != nil {
			e.log.Warn("ledger append failed",
				"receipt_type", receiptType,
				"error", lerr)
		}
	}
	return r, nil
}
