// Package stencil builds the rough and precise match patterns used to find
// where an object's .text section was linked into a binary blob.
package stencil

import (
	"fmt"

	"github.com/kbrandt/stencilscan/internal/objfile"
	"github.com/kbrandt/stencilscan/internal/words"
)

const (
	RoughMask uint32 = 0xFC00_0000 // opcode only
	JTypeMask uint32 = 0xFC00_0000 // opcode only; 26-bit target lies below
	ITypeMask uint32 = 0xFFFF_0000 // opcode + two 5-bit register fields
	fullMask  uint32 = 0xFFFF_FFFF
)

// Entry is one word of the precise stencil: the bits the matched blob word
// must equal (Word) under Mask, and the bits the mask discards (Addend) --
// the assembler's in-instruction local offset that symbol recovery must
// subtract back out.
type Entry struct {
	Word   uint32
	Mask   uint32
	Addend uint32
}

// Rough is the opcode-only scan pattern used for the initial prefilter pass.
type Rough []uint32

// Precise is the per-word masked pattern used for the exact recheck once a
// rough match is found. Precise and Rough always have the same length as
// the .text word count.
type Precise []Entry

// BuildRough masks every .text word down to its opcode field.
func BuildRough(text []byte) (Rough, error) {
	textWords, err := words.FromBytesExact(text, words.BigEndian)
	if err != nil {
		return nil, fmt.Errorf("stencil: %w", err)
	}
	out := make(Rough, len(textWords))
	for i, w := range textWords {
		out[i] = w & RoughMask
	}
	return out, nil
}

// BuildPrecise builds the precise stencil for a .text section given its
// relocations. A relocation kind outside {R_MIPS_26, R_MIPS_HI16,
// R_MIPS_LO16} is impossible here because objfile.Adapter.TextRelocations
// already fails closed on those -- BuildPrecise only has to apply the three
// supported kinds.
func BuildPrecise(text []byte, relocs []objfile.Relocation) (Precise, error) {
	textWords, err := words.FromBytesExact(text, words.BigEndian)
	if err != nil {
		return nil, fmt.Errorf("stencil: %w", err)
	}

	out := make(Precise, len(textWords))
	for i, w := range textWords {
		out[i] = Entry{Word: w, Mask: fullMask, Addend: w}
	}

	for _, r := range relocs {
		idx := int(r.Offset / 4)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("stencil: relocation offset %d out of range for %d-word .text", r.Offset, len(out))
		}

		var keep uint32
		switch r.Kind {
		case objfile.RelocJ26:
			keep = JTypeMask
		case objfile.RelocHI16, objfile.RelocLO16:
			keep = ITypeMask
		default:
			return nil, fmt.Errorf("stencil: unsupported relocation kind %v", r.Kind)
		}

		e := out[idx]
		e.Word &= keep
		e.Addend &= ^keep
		e.Mask &= keep
		out[idx] = e
	}

	return out, nil
}
