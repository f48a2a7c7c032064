package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kbrandt/stencilscan/internal/coordinator"
	"github.com/kbrandt/stencilscan/internal/namelist"
)

func sampleResult() coordinator.Result {
	return coordinator.Result{
		Found: []coordinator.FoundFile{
			{Stem: "boot", TextStart: 0x1000, TextSize: 0x20},
			{Stem: "memcpy", TextStart: 0x1040, TextSize: 0x10},
		},
		Ambiguous: []coordinator.AmbiguousFile{
			{Stem: "padtext", Candidates: []uint32{0x2000, 0x3000}},
		},
		NotFound: []string{"missing_obj"},
		Symbols: []coordinator.Symbol{
			{Name: "gMainAddr", Address: 0x8000_1000, Size: 4, Origin: "boot", Defined: true},
		},
		AmbiguousAddresses: []uint32{0x1040},
	}
}

func TestBuildFoundEntriesInsertsGapFillers(t *testing.T) {
	result := sampleResult()
	entries := BuildFoundEntries(result, namelist.Default, 0)

	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, want 4 (gap, boot, gap, memcpy)", len(entries))
	}
	if !entries[0].IsGap || entries[0].Offset != 0 {
		t.Errorf("entries[0] = %+v, want gap filler at 0x0 (region start)", entries[0])
	}
	if entries[1].Name != "boot" || entries[1].Kind != namelist.KindC {
		t.Errorf("entries[1] = %+v, want boot classified as c (not in the handwritten list)", entries[1])
	}
	if !entries[2].IsGap || entries[2].Offset != 0x1020 {
		t.Errorf("entries[2] = %+v, want gap filler at 0x1020 (end of boot)", entries[2])
	}
	if entries[3].Name != "memcpy" || entries[3].Kind != namelist.KindHandAssembly || entries[3].Comment != "ambiguous" {
		t.Errorf("entries[3] = %+v, want memcpy classified hasm and flagged ambiguous", entries[3])
	}
}

func TestBuildFoundEntriesNoGapWhenContiguous(t *testing.T) {
	result := coordinator.Result{
		Found: []coordinator.FoundFile{
			{Stem: "a", TextStart: 0, TextSize: 0x10},
			{Stem: "b", TextStart: 0x10, TextSize: 0x10},
		},
	}
	entries := BuildFoundEntries(result, namelist.Default, 0)
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2 (no gap for contiguous objects)", len(entries))
	}
}

func TestBuildFoundEntriesGenericFormComment(t *testing.T) {
	result := coordinator.Result{
		Found: []coordinator.FoundFile{{Stem: "ucode_header", TextStart: 0, TextSize: 4}},
	}
	entries := BuildFoundEntries(result, namelist.Default, 0)
	if entries[0].Comment != "common form" {
		t.Errorf("Comment = %q, want %q", entries[0].Comment, "common form")
	}
}

func TestTextWriterWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := (TextWriter{}).Write(&buf, sampleResult(), namelist.Default, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Found:",
		"0x1000, c, boot",
		"0x1040, hasm, memcpy] # ambiguous",
		"Ambiguous:",
		"padtext: 0x2000 0x3000",
		"NotFound:",
		"missing_obj",
		"Symbols:",
		"gMainAddr, 0x80001000, 0x4, boot, true",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\nfull output:\n%s", want, out)
		}
	}
}
