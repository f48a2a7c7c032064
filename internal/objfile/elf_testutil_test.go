package objfile

import (
	"bytes"
	"encoding/binary"
)

// relocSpec and symSpec describe the fixture inputs for buildMIPSObject,
// a hand-rolled 32-bit big-endian MIPS ET_REL builder used only by tests:
// there is no ELF *writer* in the standard library, so fixtures for
// TextRelocations/SymbolTable are assembled byte-by-byte the same way a
// real `as`/`ld` would lay out an Elf32 object.
type relocSpec struct {
	offset   uint32
	rType    uint32 // R_MIPS_26=4, R_MIPS_HI16=5, R_MIPS_LO16=6
	symIndex uint32
}

type symSpec struct {
	name    string
	value   uint32
	size    uint32
	info    byte // (bind<<4)|type
	shndx   uint16
}

const (
	rMIPS26  = 4
	rMIPSHI  = 5
	rMIPSLO  = 6
	shnUndef = 0
	sttFuncT = 2
)

func buildMIPSObject(textWords []uint32, relocs []relocSpec, syms []symSpec) []byte {
	var text bytes.Buffer
	for _, w := range textWords {
		binary.Write(&text, binary.BigEndian, w)
	}

	var relSec bytes.Buffer
	for _, r := range relocs {
		info := (r.symIndex << 8) | r.rType
		binary.Write(&relSec, binary.BigEndian, r.offset)
		binary.Write(&relSec, binary.BigEndian, info)
	}

	// symtab entry 0 is always the null symbol.
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	var symtab bytes.Buffer
	writeSym(&symtab, 0, 0, 0, 0, 0)
	for _, s := range syms {
		nameOff := uint32(strtab.Len())
		strtab.WriteString(s.name)
		strtab.WriteByte(0)
		writeSym(&symtab, nameOff, s.value, s.size, s.info, s.shndx)
	}

	sections := []struct {
		name      string
		shType    uint32
		flags     uint32
		data      []byte
		link      uint32
		info      uint32
		entsize   uint32
	}{
		{"", 0, 0, nil, 0, 0, 0}, // SHT_NULL
		{".text", 1 /*PROGBITS*/, 0x6 /*ALLOC|EXECINSTR*/, text.Bytes(), 0, 0, 0},
		{".rel.text", 9 /*REL*/, 0, relSec.Bytes(), 3, 1, 8},
		{".symtab", 2 /*SYMTAB*/, 0, symtab.Bytes(), 4, 1, 16},
		{".strtab", 3 /*STRTAB*/, 0, strtab.Bytes(), 0, 0, 0},
		{".shstrtab", 3, 0, nil, 0, 0, 0}, // filled below
	}

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	names := make([]uint32, len(sections))
	for i, s := range sections {
		if s.name == "" {
			continue
		}
		names[i] = uint32(shstrtab.Len())
		shstrtab.WriteString(s.name)
		shstrtab.WriteByte(0)
	}
	sections[len(sections)-1].data = shstrtab.Bytes()

	const ehsize = 52
	const shentsize = 40

	var out bytes.Buffer
	out.Write([]byte{0x7f, 'E', 'L', 'F', 1, 2, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}) // e_ident
	binary.Write(&out, binary.BigEndian, uint16(1))                           // e_type = ET_REL
	binary.Write(&out, binary.BigEndian, uint16(8))                           // e_machine = EM_MIPS
	binary.Write(&out, binary.BigEndian, uint32(1))                           // e_version
	binary.Write(&out, binary.BigEndian, uint32(0))                           // e_entry
	binary.Write(&out, binary.BigEndian, uint32(0))                           // e_phoff
	shoffPos := out.Len()
	binary.Write(&out, binary.BigEndian, uint32(0)) // e_shoff, patched below
	binary.Write(&out, binary.BigEndian, uint32(0)) // e_flags
	binary.Write(&out, binary.BigEndian, uint16(ehsize))
	binary.Write(&out, binary.BigEndian, uint16(0)) // e_phentsize
	binary.Write(&out, binary.BigEndian, uint16(0)) // e_phnum
	binary.Write(&out, binary.BigEndian, uint16(shentsize))
	binary.Write(&out, binary.BigEndian, uint16(len(sections)))
	binary.Write(&out, binary.BigEndian, uint16(len(sections)-1)) // e_shstrndx

	offsets := make([]uint32, len(sections))
	for i, s := range sections {
		if len(s.data) == 0 {
			offsets[i] = 0
			continue
		}
		offsets[i] = uint32(out.Len())
		out.Write(s.data)
	}

	shoff := uint32(out.Len())
	for i, s := range sections {
		binary.Write(&out, binary.BigEndian, names[i])
		binary.Write(&out, binary.BigEndian, s.shType)
		binary.Write(&out, binary.BigEndian, s.flags)
		binary.Write(&out, binary.BigEndian, uint32(0)) // sh_addr
		binary.Write(&out, binary.BigEndian, offsets[i])
		binary.Write(&out, binary.BigEndian, uint32(len(s.data)))
		binary.Write(&out, binary.BigEndian, s.link)
		binary.Write(&out, binary.BigEndian, s.info)
		binary.Write(&out, binary.BigEndian, uint32(1)) // sh_addralign
		binary.Write(&out, binary.BigEndian, s.entsize)
	}

	buf := out.Bytes()
	binary.BigEndian.PutUint32(buf[shoffPos:shoffPos+4], shoff)
	return buf
}

// buildObjectNoText builds the smallest valid ELF32 big-endian MIPS ET_REL
// file that has no .text section at all (as opposed to an empty one).
func buildObjectNoText() []byte {
	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	shstrtabNameOff := uint32(shstrtab.Len())
	shstrtab.WriteString(".shstrtab")
	shstrtab.WriteByte(0)

	const ehsize = 52
	const shentsize = 40

	var out bytes.Buffer
	out.Write([]byte{0x7f, 'E', 'L', 'F', 1, 2, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	binary.Write(&out, binary.BigEndian, uint16(1)) // e_type
	binary.Write(&out, binary.BigEndian, uint16(8)) // e_machine
	binary.Write(&out, binary.BigEndian, uint32(1))
	binary.Write(&out, binary.BigEndian, uint32(0))
	binary.Write(&out, binary.BigEndian, uint32(0))
	shoffPos := out.Len()
	binary.Write(&out, binary.BigEndian, uint32(0))
	binary.Write(&out, binary.BigEndian, uint32(0))
	binary.Write(&out, binary.BigEndian, uint16(ehsize))
	binary.Write(&out, binary.BigEndian, uint16(0))
	binary.Write(&out, binary.BigEndian, uint16(0))
	binary.Write(&out, binary.BigEndian, uint16(shentsize))
	binary.Write(&out, binary.BigEndian, uint16(2)) // NULL + .shstrtab
	binary.Write(&out, binary.BigEndian, uint16(1)) // e_shstrndx

	shstrtabOff := uint32(out.Len())
	out.Write(shstrtab.Bytes())

	shoff := uint32(out.Len())
	// section 0: NULL
	out.Write(make([]byte, shentsize))
	// section 1: .shstrtab
	binary.Write(&out, binary.BigEndian, shstrtabNameOff)
	binary.Write(&out, binary.BigEndian, uint32(3)) // SHT_STRTAB
	binary.Write(&out, binary.BigEndian, uint32(0))
	binary.Write(&out, binary.BigEndian, uint32(0))
	binary.Write(&out, binary.BigEndian, shstrtabOff)
	binary.Write(&out, binary.BigEndian, uint32(shstrtab.Len()))
	binary.Write(&out, binary.BigEndian, uint32(0))
	binary.Write(&out, binary.BigEndian, uint32(0))
	binary.Write(&out, binary.BigEndian, uint32(1))
	binary.Write(&out, binary.BigEndian, uint32(0))

	buf := out.Bytes()
	binary.BigEndian.PutUint32(buf[shoffPos:shoffPos+4], shoff)
	return buf
}

func writeSym(buf *bytes.Buffer, nameOff, value, size uint32, info byte, shndx uint16) {
	binary.Write(buf, binary.BigEndian, nameOff)
	binary.Write(buf, binary.BigEndian, value)
	binary.Write(buf, binary.BigEndian, size)
	buf.WriteByte(info)
	buf.WriteByte(0) // st_other
	binary.Write(buf, binary.BigEndian, shndx)
}
