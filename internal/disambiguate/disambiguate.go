// Package disambiguate implements the opt-in second pass that resolves an
// Ambiguous match by re-synthesizing a candidate object's linked .text
// words against a table of already-known symbol addresses, and comparing
// the result bit-exactly against the blob.
//
// It never runs automatically -- the coordinator only invokes it when a
// caller asks for ambiguity resolution, since it depends on symbols
// already having been recovered elsewhere in the run.
package disambiguate

import (
	"errors"
	"fmt"

	"github.com/kbrandt/stencilscan/internal/objfile"
	"github.com/kbrandt/stencilscan/internal/stencil"
)

// ErrSectionRelativeJump is returned when a J26 relocation targets local
// code (opcode 0x02, plain j) rather than a named symbol: without the
// object's eventual link address there is no way to resolve where that
// jump actually lands.
var ErrSectionRelativeJump = errors.New("disambiguate: cannot resolve a section-relative j target without the object's link address")

// ErrUnknownSymbol is returned when a relocation names a symbol absent
// from the supplied known-symbol table.
var ErrUnknownSymbol = errors.New("disambiguate: relocation target not found in known symbol table")

// KnownSymbol is the minimal symbol fact Relocate needs: a name and the
// absolute VRAM address it was already recovered at.
type KnownSymbol struct {
	Name    string
	Address uint32
}

// Relocate re-synthesizes the .text words a linker would have produced for
// obj's relocations if every named symbol sits at its KnownSymbol address,
// starting from the precise stencil's fixed bits and filling in the
// relocated fields. It returns the reconstructed words plus a warning for
// every relocation carrying a nonzero in-stencil addend: J26 adds that
// addend to the target field, while HI16/LO16 ignore it, so such a
// reconstruction may be wrong.
func Relocate(obj objfile.Adapter, precise stencil.Precise, symbols []KnownSymbol) ([]uint32, []string, error) {
	relocs, err := obj.TextRelocations()
	if err != nil {
		return nil, nil, fmt.Errorf("disambiguate: %w", err)
	}

	byName := make(map[string]KnownSymbol, len(symbols))
	for _, s := range symbols {
		byName[s.Name] = s
	}

	output := make([]uint32, len(precise))
	for i, e := range precise {
		output[i] = e.Word
	}

	var warnings []string
	for _, r := range relocs {
		if r.Target.Kind != objfile.TargetSymbol {
			return nil, nil, fmt.Errorf("disambiguate: relocation at offset %d targets a section, not a symbol: %w", r.Offset, ErrUnknownSymbol)
		}
		sym, ok := byName[r.Target.Name]
		if !ok {
			return nil, nil, fmt.Errorf("disambiguate: symbol %q: %w", r.Target.Name, ErrUnknownSymbol)
		}

		idx := int(r.Offset / 4)
		if idx < 0 || idx >= len(output) {
			return nil, nil, fmt.Errorf("disambiguate: relocation offset %d out of range for %d-word .text", r.Offset, len(output))
		}

		switch r.Kind {
		case objfile.RelocJ26:
			if precise[idx].Word&stencil.JTypeMask == 0x02<<26 {
				return nil, nil, ErrSectionRelativeJump
			}
			addr := ((sym.Address >> 2) + precise[idx].Addend) &^ stencil.JTypeMask
			output[idx] |= addr

		case objfile.RelocHI16:
			addr := ((sym.Address + (sym.Address & 0x8000)) >> 16) &^ stencil.ITypeMask
			output[idx] |= addr

		case objfile.RelocLO16:
			addr := sym.Address &^ stencil.ITypeMask
			output[idx] |= addr

		default:
			return nil, nil, fmt.Errorf("disambiguate: unsupported relocation kind %v", r.Kind)
		}

		if precise[idx].Addend != 0 {
			warnings = append(warnings, fmt.Sprintf("relocation at offset %d has a nonzero in-stencil addend %#x, reconstruction may be wrong", r.Offset, precise[idx].Addend))
		}
	}

	return output, warnings, nil
}

// Matches reports whether the reconstructed words are bit-identical to the
// blob region a candidate was matched against.
func Matches(reconstructed, blobRegion []uint32) bool {
	if len(reconstructed) != len(blobRegion) {
		return false
	}
	for i := range reconstructed {
		if reconstructed[i] != blobRegion[i] {
			return false
		}
	}
	return true
}
