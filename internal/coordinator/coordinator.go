// Package coordinator drives a full scan: loading every object in a
// directory, building stencils, matching against the blob, recovering
// symbols, and merging the per-object results into the report-ready
// summary of a run.
package coordinator

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kbrandt/stencilscan/internal/diagnostics"
	"github.com/kbrandt/stencilscan/internal/disambiguate"
	"github.com/kbrandt/stencilscan/internal/matcher"
	"github.com/kbrandt/stencilscan/internal/namelist"
	"github.com/kbrandt/stencilscan/internal/objfile"
	"github.com/kbrandt/stencilscan/internal/stencil"
	"github.com/kbrandt/stencilscan/internal/symrecover"
	"github.com/kbrandt/stencilscan/internal/words"
)

// FoundFile is a successful, unambiguous precise match.
type FoundFile struct {
	Stem       string
	SourcePath string
	TextStart  uint32
	TextSize   uint32
}

// AmbiguousFile is an object with more than one precise hit.
type AmbiguousFile struct {
	Stem       string
	SourcePath string
	Candidates []uint32
}

// Symbol is a recovered or symbol-table-lifted VRAM address, carrying the
// originating object name the core data model requires.
type Symbol struct {
	Name     string
	Address  uint32
	Size     uint32
	Origin   string
	Defined  bool
	Complete bool
}

// Result is everything the reporter needs.
type Result struct {
	Found              []FoundFile
	Ambiguous          []AmbiguousFile
	NotFound           []string
	Symbols            []Symbol
	AmbiguousAddresses []uint32
}

// Progress receives per-object events as Execute classifies them, letting
// a caller like internal/liveapi stream live status without this package
// depending on any particular transport.
type Progress interface {
	ObjectFound(FoundFile)
	ObjectAmbiguous(AmbiguousFile)
	ObjectNotFound(stem string)
}

// Run drives the full scan: blob words, VRAM base, the directory of
// objects, and the name lists that pre-mark certain objects ambiguous.
type Run struct {
	BlobWords  []uint32
	RegionBase uint32 // byte offset of BlobWords[0] within the original file
	VRAMBase   uint32
	ObjectsDir string
	Names      namelist.Lists
	Logger     *slog.Logger
	Progress   Progress // optional; nil disables live progress reporting
}

// Execute loads every regular file under r.ObjectsDir (sorted by name),
// runs the match/recover pipeline for each, and merges the results.
func Execute(r Run) (Result, error) {
	entries, err := os.ReadDir(r.ObjectsDir)
	if err != nil {
		return Result{}, fmt.Errorf("coordinator: read objects directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		found     []FoundFile
		ambiguous []AmbiguousFile
		notFound  []string
		symbols   []Symbol
	)

	for _, name := range names {
		path := filepath.Join(r.ObjectsDir, name)
		stem := strings.TrimSuffix(name, filepath.Ext(name))

		outcome, err := processObject(r, path, stem)
		if err != nil {
			return Result{}, fmt.Errorf("coordinator: %s: %w", name, err)
		}

		switch {
		case outcome.skipped:
			notFound = append(notFound, stem)
			if r.Progress != nil {
				r.Progress.ObjectNotFound(stem)
			}
		case outcome.ambiguous != nil:
			ambiguous = append(ambiguous, *outcome.ambiguous)
			if r.Progress != nil {
				r.Progress.ObjectAmbiguous(*outcome.ambiguous)
			}
		case outcome.found != nil:
			found = append(found, *outcome.found)
			symbols = append(symbols, outcome.symbols...)
			if r.Progress != nil {
				r.Progress.ObjectFound(*outcome.found)
			}
		default:
			notFound = append(notFound, stem)
			if r.Progress != nil {
				r.Progress.ObjectNotFound(stem)
			}
		}
	}

	symbols = dedupSymbols(symbols)
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].Address != symbols[j].Address {
			return symbols[i].Address < symbols[j].Address
		}
		return symbols[i].Size > symbols[j].Size
	})

	sort.Slice(found, func(i, j int) bool { return found[i].TextStart < found[j].TextStart })

	ambiguousAddrs := ambiguousAddresses(found)

	return Result{
		Found:              found,
		Ambiguous:          ambiguous,
		NotFound:           notFound,
		Symbols:            symbols,
		AmbiguousAddresses: ambiguousAddrs,
	}, nil
}

// ResolveAmbiguities runs the opt-in second pass: for each Ambiguous
// object, it re-synthesizes the .text words a linker would have produced
// at each candidate offset using the symbols already recovered elsewhere
// in result, and promotes the object to Found if exactly one candidate's
// reconstruction matches the blob bit-exactly. It never runs as part of
// Execute; a caller opts in explicitly because resolution depends on
// result.Symbols already being complete.
func ResolveAmbiguities(r Run, result Result) Result {
	known := make([]disambiguate.KnownSymbol, len(result.Symbols))
	for i, s := range result.Symbols {
		known[i] = disambiguate.KnownSymbol{Name: s.Name, Address: s.Address}
	}

	var stillAmbiguous []AmbiguousFile
	found := append([]FoundFile{}, result.Found...)
	symbols := append([]Symbol{}, result.Symbols...)

	for _, amb := range result.Ambiguous {
		resolved, newSymbols, ok := resolveOne(r, amb, known)
		if !ok {
			stillAmbiguous = append(stillAmbiguous, amb)
			continue
		}
		found = append(found, resolved)
		symbols = append(symbols, newSymbols...)
		if r.Logger != nil {
			diagnostics.Ambiguity(r.Logger, "disambiguated", fmt.Sprintf("%s -> 0x%X", amb.Stem, resolved.TextStart))
		}
	}

	symbols = dedupSymbols(symbols)
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].Address != symbols[j].Address {
			return symbols[i].Address < symbols[j].Address
		}
		return symbols[i].Size > symbols[j].Size
	})
	sort.Slice(found, func(i, j int) bool { return found[i].TextStart < found[j].TextStart })

	return Result{
		Found:              found,
		Ambiguous:          stillAmbiguous,
		NotFound:           result.NotFound,
		Symbols:            symbols,
		AmbiguousAddresses: ambiguousAddresses(found),
	}
}

// resolveOne tries every candidate offset of one Ambiguous object and
// reports the unique match, if any.
func resolveOne(r Run, amb AmbiguousFile, known []disambiguate.KnownSymbol) (FoundFile, []Symbol, bool) {
	data, err := os.ReadFile(amb.SourcePath)
	if err != nil {
		return FoundFile{}, nil, false
	}
	obj, err := objfile.Load(data)
	if err != nil {
		return FoundFile{}, nil, false
	}
	text, ok := obj.TextBytes()
	if !ok {
		return FoundFile{}, nil, false
	}
	relocs, err := obj.TextRelocations()
	if err != nil {
		return FoundFile{}, nil, false
	}
	precise, err := stencil.BuildPrecise(text, relocs)
	if err != nil {
		return FoundFile{}, nil, false
	}
	reconstructed, _, err := disambiguate.Relocate(obj, precise, known)
	if err != nil {
		return FoundFile{}, nil, false
	}

	var matchOffset uint32
	matches := 0
	for _, candidate := range amb.Candidates {
		wordIndex := int((candidate - r.RegionBase) / 4)
		if wordIndex < 0 || wordIndex+len(reconstructed) > len(r.BlobWords) {
			continue
		}
		if disambiguate.Matches(reconstructed, r.BlobWords[wordIndex:wordIndex+len(reconstructed)]) {
			matchOffset = candidate
			matches++
		}
	}
	if matches != 1 {
		return FoundFile{}, nil, false
	}

	ff := FoundFile{Stem: amb.Stem, SourcePath: amb.SourcePath, TextStart: matchOffset, TextSize: uint32(len(text))}

	wordIndex := int((matchOffset - r.RegionBase) / 4)
	region := r.BlobWords[wordIndex : wordIndex+len(precise)]
	recovered, _, err := symrecover.Recover(region, precise, relocs)
	if err != nil {
		return ff, nil, true
	}
	var syms []Symbol
	for _, s := range recovered {
		if s.Complete {
			syms = append(syms, Symbol{Name: s.Name, Address: s.Address, Size: s.Size, Origin: amb.Stem, Defined: s.Defined, Complete: true})
		}
	}
	return ff, syms, true
}

type objectOutcome struct {
	skipped   bool
	found     *FoundFile
	ambiguous *AmbiguousFile
	symbols   []Symbol
}

func processObject(r Run, path, stem string) (objectOutcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return objectOutcome{}, fmt.Errorf("read %s: %w", path, err)
	}

	obj, err := objfile.Load(data)
	if err != nil {
		return objectOutcome{}, fmt.Errorf("parse %s: %w", path, err)
	}

	text, ok := obj.TextBytes()
	if !ok || len(text) == 0 || isAllZero(text) {
		return objectOutcome{skipped: true}, nil
	}

	relocs, err := obj.TextRelocations()
	if err != nil {
		if r.Logger != nil {
			diagnostics.UnsupportedObject(r.Logger, stem, err)
		}
		return objectOutcome{skipped: true}, nil
	}

	rough, err := stencil.BuildRough(text)
	if err != nil {
		return objectOutcome{}, fmt.Errorf("build rough stencil: %w", err)
	}
	roughHits := matcher.RoughHits(r.BlobWords, rough)
	if len(roughHits) == 0 {
		return objectOutcome{skipped: true}, nil
	}

	precise, err := stencil.BuildPrecise(text, relocs)
	if err != nil {
		if r.Logger != nil {
			diagnostics.UnsupportedObject(r.Logger, stem, err)
		}
		return objectOutcome{skipped: true}, nil
	}

	hits := matcher.Find(r.BlobWords, rough, precise, r.RegionBase)
	switch {
	case len(hits) == 0:
		return objectOutcome{skipped: true}, nil
	case len(hits) > 1:
		offsets := make([]uint32, len(hits))
		for i, h := range hits {
			offsets[i] = h.ByteOffset
		}
		if r.Logger != nil {
			diagnostics.Ambiguity(r.Logger, "multiple-precise-hits", stem)
		}
		return objectOutcome{ambiguous: &AmbiguousFile{Stem: stem, SourcePath: path, Candidates: offsets}}, nil
	}

	hit := hits[0]
	ff := &FoundFile{Stem: stem, SourcePath: path, TextStart: hit.ByteOffset, TextSize: uint32(len(text))}

	if r.Names.IsAmbiguousByName(stem) {
		return objectOutcome{found: ff}, nil
	}

	region := r.BlobWords[hit.WordIndex : hit.WordIndex+len(precise)]
	recovered, dropped, err := symrecover.Recover(region, precise, relocs)
	if err != nil {
		return objectOutcome{}, fmt.Errorf("recover symbols: %w", err)
	}
	for _, d := range dropped {
		if r.Logger != nil {
			diagnostics.RecoveryAnomaly(r.Logger, stem, d.Offset, d.Reason)
		}
	}

	syms, err := obj.SymbolTable()
	if err != nil {
		return objectOutcome{}, fmt.Errorf("read symbol table: %w", err)
	}
	lifted := symrecover.FromSymbolTable(syms, r.VRAMBase, hit.WordIndex)

	var out []Symbol
	for _, s := range recovered {
		if !s.Complete {
			continue
		}
		out = append(out, Symbol{Name: s.Name, Address: s.Address, Size: s.Size, Origin: stem, Defined: s.Defined, Complete: true})
	}
	for _, s := range lifted {
		out = append(out, Symbol{Name: s.Name, Address: s.Address, Size: s.Size, Origin: stem, Defined: s.Defined, Complete: true})
	}

	return objectOutcome{found: ff, symbols: out}, nil
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// dedupSymbols deduplicates by address, keeping the largest size, then by
// (name, address).
func dedupSymbols(in []Symbol) []Symbol {
	byAddr := make(map[uint32]Symbol)
	for _, s := range in {
		existing, ok := byAddr[s.Address]
		if !ok || s.Size > existing.Size {
			byAddr[s.Address] = s
		}
	}

	seen := make(map[[2]any]bool)
	out := make([]Symbol, 0, len(byAddr))
	for _, s := range byAddr {
		key := [2]any{s.Name, s.Address}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func ambiguousAddresses(found []FoundFile) []uint32 {
	counts := make(map[uint32]int)
	for _, f := range found {
		counts[f.TextStart]++
	}
	var out []uint32
	for addr, n := range counts {
		if n > 1 {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BlobWordsFromRegion decodes bytes [start, end) of data into words,
// truncating any trailing partial word -- only the stencil build itself
// requires exactness, not the blob reader.
func BlobWordsFromRegion(data []byte, start, end uint32, endian words.Endianness) ([]uint32, error) {
	if int(end) > len(data) || start > end {
		return nil, fmt.Errorf("coordinator: region [%d, %d) out of bounds for %d-byte input", start, end, len(data))
	}
	return words.FromBytesTruncate(data[start:end], endian), nil
}
