// Package objfile is a read-only façade over a 32-bit big-endian MIPS
// relocatable object. The core matching and recovery packages depend only
// on this interface, never on debug/elf directly, so a different
// object-file flavor could implement Adapter without touching the rest of
// the module.
package objfile

import (
	"debug/elf"
	"fmt"
	"sort"
)

// RelocKind is the closed set of relocation kinds the core understands.
// Any other ELF relocation type causes TextRelocations to fail for that
// object.
type RelocKind int

const (
	RelocJ26 RelocKind = iota
	RelocHI16
	RelocLO16
)

func (k RelocKind) String() string {
	switch k {
	case RelocJ26:
		return "R_MIPS_26"
	case RelocHI16:
		return "R_MIPS_HI16"
	case RelocLO16:
		return "R_MIPS_LO16"
	default:
		return "unknown"
	}
}

// TargetKind distinguishes a relocation's target: a symbol, a section, or
// (rare, malformed input) neither.
type TargetKind int

const (
	TargetSymbol TargetKind = iota
	TargetSection
	TargetNone
)

// RelocTarget names what a Relocation points at.
type RelocTarget struct {
	Kind    TargetKind
	Name    string
	Size    uint32
	Defined bool
}

// Relocation describes one .text relocation entry. Offset is the byte
// offset within .text; the explicit addend is the relocation's own addend
// field (0 for the Elf32_Rel entries MIPS o32 objects use -- any addend
// baked into the instruction by the assembler lives in the stencil's addend
// instead, see internal/stencil).
type Relocation struct {
	Offset         uint32
	Kind           RelocKind
	Target         RelocTarget
	ExplicitAddend int32
}

// SymbolKind classifies a symbol table entry.
type SymbolKind int

const (
	SymbolOther SymbolKind = iota
	SymbolText
)

// Symbol is a symbol-table entry with a section-local address.
type Symbol struct {
	Name         string
	Kind         SymbolKind
	Address      uint32 // offset within its section
	Size         uint32
	IsDefinition bool
}

// Adapter is the read-only view the matching and recovery packages need
// from an object file. The core depends only on this interface.
type Adapter interface {
	TextBytes() ([]byte, bool)
	TextSize() int
	TextRelocations() ([]Relocation, error)
	SymbolTable() ([]Symbol, error)
}

// UnsupportedRelocError is returned by TextRelocations when a .text
// relocation uses a kind outside {R_MIPS_26, R_MIPS_HI16, R_MIPS_LO16}.
// The object is reported as unsupported rather than risk a misleading
// match built on a relocation kind the recovery logic doesn't understand.
type UnsupportedRelocError struct {
	Type elf.R_MIPS
}

func (e *UnsupportedRelocError) Error() string {
	return fmt.Sprintf("objfile: unsupported relocation kind %s", e.Type)
}

// ELF symbol type field (st_info low nibble); not exported, MIPS o32 only
// cares about distinguishing STT_FUNC / text-section labels from the rest.
const (
	sttNoType = 0
	sttFunc   = 2
)

const (
	elf32SymSize = 16
	elf32RelSize = 8
)

// elfAdapter implements Adapter over a 32-bit big-endian MIPS ELF
// relocatable object via the standard library's debug/elf. No third-party
// ELF reader in the example pack or the wider Go ecosystem improves on
// debug/elf for this job -- every pack example that parses ELF (aclements'
// go-obj/objbrowse, zboralski/galago, davejbax/pixie, JetSetIlly's
// cartridge/elf) reaches for debug/elf directly, so stencilscan does too.
// See DESIGN.md.
type elfAdapter struct {
	file    *elf.File
	text    *elf.Section
	symtab  []byte
	strtab  []byte
}

// Load parses raw bytes as a 32-bit big-endian MIPS relocatable object.
func Load(data []byte) (Adapter, error) {
	f, err := elf.NewFile(byteReaderAt(data))
	if err != nil {
		return nil, fmt.Errorf("objfile: parse: %w", err)
	}

	a := &elfAdapter{file: f}
	a.text = f.Section(".text")

	if symtabSec := f.Section(".symtab"); symtabSec != nil {
		if b, err := symtabSec.Data(); err == nil {
			a.symtab = b
		}
		if int(symtabSec.Link) < len(f.Sections) {
			if b, err := f.Sections[symtabSec.Link].Data(); err == nil {
				a.strtab = b
			}
		}
	}

	return a, nil
}

func (a *elfAdapter) TextBytes() ([]byte, bool) {
	if a.text == nil {
		return nil, false
	}
	b, err := a.text.Data()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (a *elfAdapter) TextSize() int {
	if a.text == nil {
		return 0
	}
	return int(a.text.Size)
}

// TextRelocations returns .text's relocation entries in offset order,
// decoding the raw Elf32_Rel section (".rel.text") by hand: debug/elf
// exposes sections and symbols generically but, unlike x86/ARM-focused
// tools, has no built-in MIPS relocation decoder.
func (a *elfAdapter) TextRelocations() ([]Relocation, error) {
	if a.text == nil {
		return nil, nil
	}

	relSec := a.file.Section(".rel.text")
	if relSec == nil {
		return nil, nil
	}
	raw, err := relSec.Data()
	if err != nil {
		return nil, fmt.Errorf("objfile: read .rel.text: %w", err)
	}
	if len(raw)%elf32RelSize != 0 {
		return nil, fmt.Errorf("objfile: .rel.text size %d not a multiple of %d", len(raw), elf32RelSize)
	}

	bo := a.file.ByteOrder
	out := make([]Relocation, 0, len(raw)/elf32RelSize)
	for o := 0; o+elf32RelSize <= len(raw); o += elf32RelSize {
		offset := bo.Uint32(raw[o : o+4])
		info := bo.Uint32(raw[o+4 : o+8])
		symIndex := info >> 8
		rType := elf.R_MIPS(info & 0xff)

		var kind RelocKind
		switch rType {
		case elf.R_MIPS_26:
			kind = RelocJ26
		case elf.R_MIPS_HI16:
			kind = RelocHI16
		case elf.R_MIPS_LO16:
			kind = RelocLO16
		default:
			return nil, &UnsupportedRelocError{Type: rType}
		}

		target, err := a.resolveTarget(symIndex)
		if err != nil {
			return nil, err
		}

		out = append(out, Relocation{
			Offset:         offset,
			Kind:           kind,
			Target:         target,
			ExplicitAddend: 0, // Elf32_Rel carries no explicit addend
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out, nil
}

// resolveTarget resolves a raw symbol-table index to either a symbol or,
// for a STT_SECTION entry, the section it names.
func (a *elfAdapter) resolveTarget(symIndex uint32) (RelocTarget, error) {
	sym, ok := a.rawSymbol(symIndex)
	if !ok {
		return RelocTarget{Kind: TargetNone}, nil
	}

	sttType := sym.info & 0xf
	const sttSection = 3

	if sttType == sttSection {
		secIdx := int(sym.shndx)
		if secIdx > 0 && secIdx < len(a.file.Sections) {
			sec := a.file.Sections[secIdx]
			return RelocTarget{Kind: TargetSection, Name: sec.Name, Size: uint32(sec.Size), Defined: true}, nil
		}
		return RelocTarget{Kind: TargetNone}, nil
	}

	return RelocTarget{
		Kind:    TargetSymbol,
		Name:    sym.name,
		Size:    sym.size,
		Defined: sym.shndx != uint16(elf.SHN_UNDEF),
	}, nil
}

type rawSym struct {
	name  string
	value uint32
	size  uint32
	info  byte
	other byte
	shndx uint16
}

func (a *elfAdapter) rawSymbol(index uint32) (rawSym, bool) {
	o := int(index) * elf32SymSize
	if a.symtab == nil || o+elf32SymSize > len(a.symtab) {
		return rawSym{}, false
	}
	bo := a.file.ByteOrder
	nameOff := bo.Uint32(a.symtab[o : o+4])
	value := bo.Uint32(a.symtab[o+4 : o+8])
	size := bo.Uint32(a.symtab[o+8 : o+12])
	info := a.symtab[o+12]
	other := a.symtab[o+13]
	shndx := bo.Uint16(a.symtab[o+14 : o+16])

	return rawSym{
		name:  cString(a.strtab, nameOff),
		value: value,
		size:  size,
		info:  info,
		other: other,
		shndx: shndx,
	}, true
}

// SymbolTable returns every symbol-table entry.
func (a *elfAdapter) SymbolTable() ([]Symbol, error) {
	if a.symtab == nil {
		return nil, nil
	}

	textIndex := -1
	if a.text != nil {
		for i, sec := range a.file.Sections {
			if sec == a.text {
				textIndex = i
				break
			}
		}
	}

	var out []Symbol
	for o := 0; o+elf32SymSize <= len(a.symtab); o += elf32SymSize {
		bo := a.file.ByteOrder
		nameOff := bo.Uint32(a.symtab[o : o+4])
		value := bo.Uint32(a.symtab[o+4 : o+8])
		size := bo.Uint32(a.symtab[o+8 : o+12])
		info := a.symtab[o+12]
		shndx := bo.Uint16(a.symtab[o+14 : o+16])

		name := cString(a.strtab, nameOff)
		if name == "" {
			continue // null / unnamed entries (index 0, file symbols, ...)
		}

		sttType := info & 0xf
		kind := SymbolOther
		if sttType == sttFunc || (sttType == sttNoType && textIndex >= 0 && int(shndx) == textIndex) {
			kind = SymbolText
		}

		out = append(out, Symbol{
			Name:         name,
			Kind:         kind,
			Address:      value,
			Size:         size,
			IsDefinition: shndx != uint16(elf.SHN_UNDEF),
		})
	}
	return out, nil
}

func cString(b []byte, offset uint32) string {
	if b == nil || int(offset) >= len(b) {
		return ""
	}
	end := int(offset)
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[offset:end])
}

// byteReaderAt adapts a []byte to io.ReaderAt without copying.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("objfile: read past end of object (offset %d, len %d)", off, len(b))
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("objfile: short read at offset %d", off)
	}
	return n, nil
}
