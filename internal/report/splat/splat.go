// Package splat renders a coordinator.Result the way a splat.us
// segment config expects: a YAML list of [offset, kind, name] triples
// for matched objects, [offset, "asm"] pairs for unmapped gaps between
// them, and a plain symbol_addrs.txt-style listing of recovered
// addresses for the linker.
package splat

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kbrandt/stencilscan/internal/coordinator"
	"github.com/kbrandt/stencilscan/internal/namelist"
	"github.com/kbrandt/stencilscan/internal/report"
)

// romStart is the byte offset splat segment configs conventionally start
// gap filling from: the end of an N64 ROM's IPL3 boot block.
const romStart = 0x1000

// Writer emits the Found/gap list as flow-style YAML sequences, each
// entry carrying its "ambiguous"/"common form" annotation as a line
// comment rather than as the literal commented-out line splat.rs
// produced, so the document stays parseable by a YAML-reading caller.
type Writer struct{}

func (Writer) Write(w io.Writer, result coordinator.Result, names namelist.Lists, regionStart uint32) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}

	segments := &yaml.Node{Kind: yaml.SequenceNode}
	start := regionStart
	if start == 0 {
		start = romStart
	}
	for _, e := range report.BuildFoundEntries(result, names, start) {
		segments.Content = append(segments.Content, segmentNode(e))
	}

	doc.Content = append(doc.Content,
		scalar("segments"), segments,
	)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("splat: encode segments: %w", err)
	}
	return writeSymbolAddrs(w, result.Symbols)
}

func segmentNode(e report.Entry) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	seq.Content = append(seq.Content, scalar(fmt.Sprintf("0x%X", e.Offset)))
	if e.IsGap {
		seq.Content = append(seq.Content, scalar(string(namelist.KindGap)))
		return seq
	}
	seq.Content = append(seq.Content, scalar(string(e.Kind)), scalar(e.Name))
	if e.Comment != "" {
		seq.LineComment = e.Comment
	}
	return seq
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s}
}

// writeSymbolAddrs prints the recovered symbols in the plain
// "name = 0XADDR; // size:0XN" form a symbol_addrs.txt expects, with
// local (dot-prefixed) symbols annotated by their originating object.
func writeSymbolAddrs(w io.Writer, symbols []coordinator.Symbol) error {
	fmt.Fprintln(w, "---")
	for _, s := range symbols {
		if len(s.Name) > 0 && s.Name[0] == '.' {
			fmt.Fprintf(w, "// %s%s+0x0 = %#X; // size:%#X\n", s.Origin, s.Name, s.Address, s.Size)
			continue
		}
		fmt.Fprintf(w, "%s = %#X; // size:%#X\n", s.Name, s.Address, s.Size)
	}
	return nil
}
