// Package matcher runs the two-phase scan that locates a stencil inside a
// blob's word sequence: a cheap opcode-only prefilter followed by an exact
// masked-equality recheck at each surviving offset.
package matcher

import "github.com/kbrandt/stencilscan/internal/stencil"

// RoughHits returns, in ascending order, every word index i such that the
// rough stencil matches blob[i:i+len(rough)] under the opcode mask.
func RoughHits(blob []uint32, rough stencil.Rough) []int {
	n := len(rough)
	if n == 0 || len(blob) < n {
		return nil
	}

	var hits []int
scan:
	for i := 0; i+n <= len(blob); i++ {
		for j := 0; j < n; j++ {
			if blob[i+j]&stencil.RoughMask != rough[j] {
				continue scan
			}
		}
		hits = append(hits, i)
	}
	return hits
}

// PreciseHits filters rough hits down to the ones that also satisfy the
// precise, per-word masked stencil.
func PreciseHits(blob []uint32, rough stencil.Rough, precise stencil.Precise) []int {
	candidates := RoughHits(blob, rough)
	if len(candidates) == 0 {
		return nil
	}

	var hits []int
	for _, i := range candidates {
		if matchesPrecise(blob, i, precise) {
			hits = append(hits, i)
		}
	}
	return hits
}

func matchesPrecise(blob []uint32, i int, precise stencil.Precise) bool {
	for j, e := range precise {
		if blob[i+j]&e.Mask != e.Word {
			return false
		}
	}
	return true
}

// Hit is a precise match: its word index within the blob word slice, and
// its byte offset in the original file the slice was taken from.
type Hit struct {
	WordIndex  int
	ByteOffset uint32
}

// Find runs both phases and returns hits as byte offsets shifted by
// regionStart (regionStart + wordIndex*4), matching the coordinates
// callers use to address the original file.
func Find(blob []uint32, rough stencil.Rough, precise stencil.Precise, regionStart uint32) []Hit {
	indices := PreciseHits(blob, rough, precise)
	hits := make([]Hit, len(indices))
	for k, i := range indices {
		hits[k] = Hit{WordIndex: i, ByteOffset: regionStart + uint32(i)*4}
	}
	return hits
}
