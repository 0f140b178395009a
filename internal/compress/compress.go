// Package compress provides the compression primitives the entropy
// detector uses as complexity proxies. The compression ratio of a byte
// stream approximates its Kolmogorov complexity: legitimately structured
// financial data compresses predictably, fabricated or padded data does
// not. Normalized compression distance extends the same idea to pairwise
// similarity.
package compress

import (
	"bytes"
	"compress/gzip"
)

// Size returns the gzip-compressed byte length of data at maximum effort.
func Size(data []byte) int {
	var buf bytes.Buffer
	w, _ := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	w.Write(data)
	w.Close()
	return buf.Len()
}

// Ratio returns compressed size over original size, in (0, 1] for real
// inputs. Empty input returns exactly 1.0: there is nothing to compress and
// the convention keeps downstream z-scores finite.
func Ratio(data []byte) float64 {
	if len(data) == 0 {
		return 1.0
	}
	return float64(Size(data)) / float64(len(data))
}

// NCD returns the normalized compression distance between a and b:
//
//	(C(ab) - min(C(a), C(b))) / max(C(a), C(b))
//
// where C is the compressed length and ab is the concatenation. Either input empty returns 1.0
// (maximally dissimilar by convention). The result is expected in [0, ~1]
// but is not clamped: compressor overhead on tiny inputs can push it
// slightly above 1 and callers must tolerate that.
func NCD(a, b []byte) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 1.0
	}

	ca := Size(a)
	cb := Size(b)
	joined := make([]byte, 0, len(a)+len(b))
	joined = append(joined, a...)
	joined = append(joined, b...)
	cab := Size(joined)

	minC, maxC := ca, cb
	if cb < ca {
		minC, maxC = cb, ca
	}
	return float64(cab-minC) / float64(maxC)
}
