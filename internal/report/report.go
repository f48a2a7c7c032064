// Package report renders a coordinator.Result into the textual form an
// operator or a splat config consumes: a Found list with gap fillers, an
// Ambiguous list, a NotFound list, and a deduplicated, sorted Symbol list.
package report

import (
	"fmt"
	"io"

	"github.com/kbrandt/stencilscan/internal/coordinator"
	"github.com/kbrandt/stencilscan/internal/namelist"
)

// Entry is one line of the Found section: either a matched object or a
// gap filler between two sequential matches.
type Entry struct {
	Offset  uint32
	Kind    namelist.Kind
	Name    string // empty for a gap filler
	IsGap   bool
	Comment string // "ambiguous", "common form", or both, joined by a comma
}

// BuildFoundEntries walks result.Found (already sorted by TextStart) and
// interleaves gap fillers wherever the previous object's .text doesn't
// reach the next object's start, starting the running cursor at
// regionStart (the ROM/binary offset the scan's word 0 corresponds to).
func BuildFoundEntries(result coordinator.Result, names namelist.Lists, regionStart uint32) []Entry {
	ambiguousAddr := make(map[uint32]bool, len(result.AmbiguousAddresses))
	for _, a := range result.AmbiguousAddresses {
		ambiguousAddr[a] = true
	}

	var entries []Entry
	cursor := regionStart
	for _, f := range result.Found {
		if cursor < f.TextStart {
			entries = append(entries, Entry{Offset: cursor, IsGap: true})
		}

		var comment string
		if names.IsGenericForm(f.Stem) {
			comment = "common form"
		}
		if ambiguousAddr[f.TextStart] {
			if comment != "" {
				comment += ","
			}
			comment += "ambiguous"
		}

		entries = append(entries, Entry{
			Offset:  f.TextStart,
			Kind:    names.Classify(f.Stem),
			Name:    f.Stem,
			Comment: comment,
		})

		cursor = f.TextStart + f.TextSize
	}

	return entries
}

// Writer renders a coordinator.Result to w.
type Writer interface {
	Write(w io.Writer, result coordinator.Result, names namelist.Lists, regionStart uint32) error
}

// TextWriter is the plain-text formatter matching the record shapes named
// by the reporting contract literally.
type TextWriter struct{}

func (TextWriter) Write(w io.Writer, result coordinator.Result, names namelist.Lists, regionStart uint32) error {
	fmt.Fprintln(w, "Found:")
	for _, e := range BuildFoundEntries(result, names, regionStart) {
		if e.IsGap {
			fmt.Fprintf(w, "  [%#x, asm]\n", e.Offset)
			continue
		}
		if e.Comment != "" {
			fmt.Fprintf(w, "  [%#x, %s, %s] # %s\n", e.Offset, e.Kind, e.Name, e.Comment)
			continue
		}
		fmt.Fprintf(w, "  [%#x, %s, %s]\n", e.Offset, e.Kind, e.Name)
	}

	fmt.Fprintln(w, "Ambiguous:")
	for _, a := range result.Ambiguous {
		fmt.Fprintf(w, "  %s:", a.Stem)
		for _, c := range a.Candidates {
			fmt.Fprintf(w, " %#x", c)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "NotFound:")
	for _, n := range result.NotFound {
		fmt.Fprintf(w, "  %s\n", n)
	}

	fmt.Fprintln(w, "Symbols:")
	for _, s := range result.Symbols {
		fmt.Fprintf(w, "  %s, %#x, %#x, %s, %t\n", s.Name, s.Address, s.Size, s.Origin, s.Defined)
	}

	return nil
}
