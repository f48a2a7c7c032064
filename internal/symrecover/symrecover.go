// Package symrecover inverts MIPS relocation arithmetic against a matched
// blob region to recover the absolute VRAM address of each relocation's
// target symbol.
package symrecover

import (
	"fmt"

	"github.com/kbrandt/stencilscan/internal/objfile"
	"github.com/kbrandt/stencilscan/internal/stencil"
)

// HighBits is the canonical N64 KSEG0 base used to reconstruct absolute
// addresses from a J26 target.
const HighBits uint32 = 0x8000_0000

// jOpcode is the 6-bit primary opcode for unconditional j. Compiler output
// uses j only for intra-function branches; jal (opcode 3) is what actually
// names a called symbol, so a J26 relocation on a bare j carries no new
// symbol information and is skipped.
const jOpcode uint32 = 0x02

const unknownSymbol = "Unknown"

// Symbol is a recovered, or partially recovered, absolute address.
type Symbol struct {
	Name     string
	Address  uint32
	Size     uint32
	Defined  bool
	Complete bool
}

// DroppedRelocation records a recovery anomaly: an LO16 with no pending
// HI16, or an HI16 left unterminated at the end of the relocation list.
type DroppedRelocation struct {
	Offset uint32
	Reason string
}

// Recover walks relocs in offset order against the word-aligned match
// region and the precise stencil that produced the match, returning every
// recovered symbol plus any relocations that had to be dropped. An HI16
// left unterminated stays in the returned symbols with Complete=false.
func Recover(region []uint32, precise stencil.Precise, relocs []objfile.Relocation) ([]Symbol, []DroppedRelocation, error) {
	if len(region) != len(precise) {
		return nil, nil, fmt.Errorf("symrecover: region length %d does not match stencil length %d", len(region), len(precise))
	}

	var symbols []Symbol
	var dropped []DroppedRelocation
	pending := -1 // index into symbols of the most recent incomplete HI16, or -1

	for _, r := range relocs {
		idx := int(r.Offset / 4)
		if idx < 0 || idx >= len(region) {
			return nil, nil, fmt.Errorf("symrecover: relocation offset %d out of range for %d-word region", r.Offset, len(region))
		}
		w := region[idx]
		add := precise[idx].Addend
		name, size, defined := targetInfo(r.Target)

		switch r.Kind {
		case objfile.RelocJ26:
			if w&stencil.JTypeMask == jOpcode<<26 {
				continue
			}
			addr := HighBits | ((w &^ stencil.JTypeMask) << 2)
			addr -= add
			symbols = append(symbols, Symbol{Name: name, Address: addr, Size: size, Defined: defined, Complete: true})

		case objfile.RelocHI16:
			addrHi := (w &^ stencil.ITypeMask) << 16
			addrHi -= add << 16
			symbols = append(symbols, Symbol{Name: name, Address: addrHi, Size: size, Defined: defined, Complete: false})
			pending = len(symbols) - 1

		case objfile.RelocLO16:
			if pending < 0 || symbols[pending].Complete {
				dropped = append(dropped, DroppedRelocation{Offset: r.Offset, Reason: "LO16 with no pending HI16"})
				continue
			}
			lo := w &^ stencil.ITypeMask
			sym := &symbols[pending]
			sym.Address += lo
			sym.Address -= (lo & 0x8000) << 1
			sym.Address -= uint32(r.ExplicitAddend)
			sym.Address -= add
			sym.Complete = true
			pending = -1

		default:
			return nil, nil, fmt.Errorf("symrecover: unsupported relocation kind %v", r.Kind)
		}
	}

	if pending >= 0 && !symbols[pending].Complete {
		dropped = append(dropped, DroppedRelocation{Reason: "HI16 unterminated at end of relocation list"})
	}

	return symbols, dropped, nil
}

func targetInfo(t objfile.RelocTarget) (name string, size uint32, defined bool) {
	switch t.Kind {
	case objfile.TargetSymbol:
		return t.Name, t.Size, t.Defined
	case objfile.TargetSection:
		return t.Name, t.Size, true
	default:
		return unknownSymbol, 0, false
	}
}

// FromSymbolTable lifts section-relative .text symbols to VRAM addresses:
// base + idx*4 + sym.Address, where idx is the matched word index within
// the blob and base is the VRAM base of the blob region.
func FromSymbolTable(syms []objfile.Symbol, base uint32, wordIndex int) []Symbol {
	var out []Symbol
	for _, s := range syms {
		if s.Kind != objfile.SymbolText || !s.IsDefinition {
			continue
		}
		out = append(out, Symbol{
			Name:     s.Name,
			Address:  base + uint32(wordIndex)*4 + s.Address,
			Size:     s.Size,
			Defined:  true,
			Complete: true,
		})
	}
	return out
}
