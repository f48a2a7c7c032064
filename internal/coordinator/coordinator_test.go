package coordinator

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbrandt/stencilscan/internal/namelist"
)

type testReloc struct {
	offset   uint32
	rType    uint32
	symIndex uint32
}

type testSym struct {
	name  string
	value uint32
	size  uint32
	info  byte
	shndx uint16
}

const (
	rMIPS26  = 4
	rMIPSHI  = 5
	rMIPSLO  = 6
	sttFuncT = 2
)

// buildObject assembles a minimal 32-bit big-endian MIPS ET_REL object, the
// same way internal/objfile's own test fixtures do -- duplicated locally
// since the ELF builder there is test-only and unexported.
func buildObject(t *testing.T, textWords []uint32, relocs []testReloc, syms []testSym) []byte {
	t.Helper()

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

	type section struct {
		name    string
		shType  uint32
		flags   uint32
		data    []byte
		link    uint32
		info    uint32
		entsize uint32
	}
	sections := []section{
		{"", 0, 0, nil, 0, 0, 0},
		{".text", 1, 0x6, text.Bytes(), 0, 0, 0},
		{".rel.text", 9, 0, relSec.Bytes(), 3, 1, 8},
		{".symtab", 2, 0, symtab.Bytes(), 4, 1, 16},
		{".strtab", 3, 0, strtab.Bytes(), 0, 0, 0},
		{".shstrtab", 3, 0, nil, 0, 0, 0},
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
	out.Write([]byte{0x7f, 'E', 'L', 'F', 1, 2, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	binary.Write(&out, binary.BigEndian, uint16(1))
	binary.Write(&out, binary.BigEndian, uint16(8))
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
	binary.Write(&out, binary.BigEndian, uint16(len(sections)))
	binary.Write(&out, binary.BigEndian, uint16(len(sections)-1))

	offsets := make([]uint32, len(sections))
	for i, s := range sections {
		if len(s.data) == 0 {
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
		binary.Write(&out, binary.BigEndian, uint32(0))
		binary.Write(&out, binary.BigEndian, offsets[i])
		binary.Write(&out, binary.BigEndian, uint32(len(s.data)))
		binary.Write(&out, binary.BigEndian, s.link)
		binary.Write(&out, binary.BigEndian, s.info)
		binary.Write(&out, binary.BigEndian, uint32(1))
		binary.Write(&out, binary.BigEndian, s.entsize)
	}

	buf := out.Bytes()
	binary.BigEndian.PutUint32(buf[shoffPos:shoffPos+4], shoff)
	return buf
}

func writeSym(buf *bytes.Buffer, nameOff, value, size uint32, info byte, shndx uint16) {
	binary.Write(buf, binary.BigEndian, nameOff)
	binary.Write(buf, binary.BigEndian, value)
	binary.Write(buf, binary.BigEndian, size)
	buf.WriteByte(info)
	buf.WriteByte(0)
	binary.Write(buf, binary.BigEndian, shndx)
}

func wordsToBigEndianBytes(ws []uint32) []byte {
	b := make([]byte, len(ws)*4)
	for i, w := range ws {
		binary.BigEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// TestExecuteScenarioS1 mirrors the HI16/LO16 end-to-end scenario: one
// object whose .text is embedded in the blob at word offset 8.
func TestExecuteScenarioS1(t *testing.T) {
	dir := t.TempDir()

	obj := buildObject(t,
		[]uint32{0x3C010000, 0x24210000},
		[]testReloc{{offset: 0, rType: rMIPSHI, symIndex: 1}, {offset: 4, rType: rMIPSLO, symIndex: 1}},
		[]testSym{{name: "foo", value: 0, size: 0, info: sttFuncT, shndx: 0}},
	)
	if err := os.WriteFile(filepath.Join(dir, "ex.o"), obj, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	blobWords := make([]uint32, 0, 18)
	blobWords = append(blobWords, make([]uint32, 8)...)
	blobWords = append(blobWords, 0x3C018000, 0x24211234)
	blobWords = append(blobWords, make([]uint32, 8)...)

	result, err := Execute(Run{
		BlobWords:  blobWords,
		RegionBase: 0,
		VRAMBase:   0x8000_0000,
		ObjectsDir: dir,
		Names:      namelist.Default,
		Logger:     slog.Default(),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	require.Len(t, result.Found, 1)
	require.Equal(t, FoundFile{
		Stem:       "ex",
		SourcePath: filepath.Join(dir, "ex.o"),
		TextStart:  32,
		TextSize:   8,
	}, result.Found[0])

	var fooAddr uint32
	var sawFoo bool
	for _, s := range result.Symbols {
		if s.Name == "foo" {
			fooAddr = s.Address
			sawFoo = true
		}
	}
	if !sawFoo || fooAddr != 0x8000_1234 {
		t.Errorf("symbols = %+v, want foo at 0x80001234", result.Symbols)
	}
}

// TestExecuteScenarioS3: two objects with identical .text both match the
// same blob offset, which must be flagged as an ambiguous address.
func TestExecuteScenarioS3(t *testing.T) {
	dir := t.TempDir()

	text := []uint32{0x0C000800, 0x0C000800}
	objA := buildObject(t, text, nil, nil)
	objB := buildObject(t, text, nil, nil)
	if err := os.WriteFile(filepath.Join(dir, "a.o"), objA, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.o"), objB, 0644); err != nil {
		t.Fatal(err)
	}

	blobWords := text

	result, err := Execute(Run{
		BlobWords:  blobWords,
		RegionBase: 0,
		VRAMBase:   0x8000_0000,
		ObjectsDir: dir,
		Names:      namelist.Default,
		Logger:     slog.Default(),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(result.Found) != 2 {
		t.Fatalf("Found = %+v, want both a and b found", result.Found)
	}
	if len(result.AmbiguousAddresses) != 1 || result.AmbiguousAddresses[0] != 0 {
		t.Errorf("AmbiguousAddresses = %v, want [0]", result.AmbiguousAddresses)
	}
}

// TestResolveAmbiguitiesPicksUniqueMatch builds one object ("bar_def")
// whose HI16/LO16 pair recovers symbol "bar" at 0x8000_2000, and a second
// object ("caller") whose single J26-relocated word only pins down the
// opcode under the precise stencil -- the masked-off target field lets it
// match two blob offsets. Re-synthesizing the word against the
// already-recovered "bar" address should resolve which offset is real.
func TestResolveAmbiguitiesPicksUniqueMatch(t *testing.T) {
	dir := t.TempDir()

	barDef := buildObject(t,
		[]uint32{0x3C010000, 0x24210000},
		[]testReloc{{offset: 0, rType: rMIPSHI, symIndex: 1}, {offset: 4, rType: rMIPSLO, symIndex: 1}},
		[]testSym{{name: "bar", value: 0, size: 0, info: sttFuncT, shndx: 0}},
	)
	if err := os.WriteFile(filepath.Join(dir, "bar_def.o"), barDef, 0644); err != nil {
		t.Fatal(err)
	}

	caller := buildObject(t,
		[]uint32{0x0C000000}, // JAL with a zero target field; the linker ORs in the symbol's address
		[]testReloc{{offset: 0, rType: rMIPS26, symIndex: 1}},
		[]testSym{{name: "bar", value: 0, size: 0, info: sttFuncT, shndx: 0}}, // undefined (shndx 0): external reference
	)
	if err := os.WriteFile(filepath.Join(dir, "caller.o"), caller, 0644); err != nil {
		t.Fatal(err)
	}

	blobWords := make([]uint32, 11)
	blobWords[3] = 0x3C018000 // bar_def hi
	blobWords[4] = 0x24212000 // bar_def lo -> bar = 0x8000_2000
	blobWords[7] = 0x0C000801 // wrong candidate for caller's JAL
	blobWords[9] = 0x0C000800 // real candidate: JAL bar (0x8000_2000 >> 2 & 0x3FFFFFF == 0x800)

	run := Run{
		BlobWords:  blobWords,
		RegionBase: 0,
		VRAMBase:   0x8000_0000,
		ObjectsDir: dir,
		Names:      namelist.Default,
		Logger:     slog.Default(),
	}
	result, err := Execute(run)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Ambiguous) != 1 || result.Ambiguous[0].Stem != "caller" {
		t.Fatalf("Ambiguous = %+v, want one entry for caller", result.Ambiguous)
	}
	if len(result.Ambiguous[0].Candidates) != 2 {
		t.Fatalf("caller.Candidates = %v, want 2 candidate offsets", result.Ambiguous[0].Candidates)
	}

	resolved := ResolveAmbiguities(run, result)
	if len(resolved.Ambiguous) != 0 {
		t.Errorf("resolved.Ambiguous = %+v, want caller resolved away", resolved.Ambiguous)
	}

	var callerFound *FoundFile
	for i := range resolved.Found {
		if resolved.Found[i].Stem == "caller" {
			callerFound = &resolved.Found[i]
		}
	}
	if callerFound == nil {
		t.Fatal("resolved.Found has no entry for caller")
	}
	if callerFound.TextStart != 36 {
		t.Errorf("caller.TextStart = %#x, want 0x24 (word index 9)", callerFound.TextStart)
	}
}

func TestExecuteNotFound(t *testing.T) {
	dir := t.TempDir()
	obj := buildObject(t, []uint32{0x3C010000}, nil, nil)
	if err := os.WriteFile(filepath.Join(dir, "missing.o"), obj, 0644); err != nil {
		t.Fatal(err)
	}

	result, err := Execute(Run{
		BlobWords:  []uint32{0, 0, 0},
		RegionBase: 0,
		VRAMBase:   0x8000_0000,
		ObjectsDir: dir,
		Names:      namelist.Default,
		Logger:     slog.Default(),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.NotFound) != 1 || result.NotFound[0] != "missing" {
		t.Errorf("NotFound = %v, want [missing]", result.NotFound)
	}
}

func TestBlobWordsFromRegionOutOfBounds(t *testing.T) {
	_, err := BlobWordsFromRegion(make([]byte, 16), 0, 32, 0)
	if err == nil {
		t.Fatal("BlobWordsFromRegion: expected error for out-of-bounds region")
	}
}

func TestBlobWordsFromRegionTruncates(t *testing.T) {
	data := wordsToBigEndianBytes([]uint32{1, 2, 3})
	data = append(data, 0xAA, 0xBB) // trailing partial word
	out, err := BlobWordsFromRegion(data, 0, uint32(len(data)), 0)
	if err != nil {
		t.Fatalf("BlobWordsFromRegion: %v", err)
	}
	if len(out) != 3 {
		t.Errorf("len(out) = %d, want 3 (trailing partial word truncated)", len(out))
	}
}
