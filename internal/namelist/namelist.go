// Package namelist holds the heuristic name lists used to classify gap
// fillers and pre-mark certain objects as ambiguous by convention, with a
// compiled-in libultra-flavored default that a caller can override via
// internal/config.
package namelist

// Kind is the gap-filler classification a Found entry's name suggests.
type Kind string

const (
	KindHandAssembly Kind = "hasm"
	KindC            Kind = "c"
	KindGap          Kind = "asm"
)

// Lists is the set of name-based heuristics the reporter and coordinator
// consult. All three fields are plain name or glob-free stems; matching is
// exact against an object's filename stem.
type Lists struct {
	// HandwrittenFiles names objects known to be hand-written assembly
	// rather than compiler output (reported with Kind = hasm).
	HandwrittenFiles map[string]bool
	// GenericFiles names objects compiled from a "common form" source file
	// shared across many overlays; matches are reported with Kind = c but
	// flagged so the reporter can annotate them as template-derived.
	GenericFiles map[string]bool
	// AmbiguousByName names objects the coordinator treats as ambiguous a
	// priori: it excludes them from symbol recovery, regardless of how
	// many precise hits they produce. A single precise hit is still
	// reported as Found.
	AmbiguousByName map[string]bool
}

// Default is the compiled-in libultra heuristic name list. It is
// deliberately small: real projects are expected to override it via
// internal/config's NameList section.
var Default = Lists{
	HandwrittenFiles: setOf(
		"rsp",
		"rspboot",
		"aspMain",
		"memcpy",
		"bzero",
		"sprintf",
	),
	GenericFiles: setOf(
		"ucode_header",
		"ldiv",
		"ldivdi3",
	),
	AmbiguousByName: setOf(
		"padblock",
		"padtext",
	),
}

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// New builds a Lists from explicit slices, as loaded from a TOML config.
// A nil or empty slice leaves the corresponding set empty, not defaulted --
// callers that want the compiled-in defaults use Default directly or merge
// explicitly with Merge.
func New(handwritten, generic, ambiguous []string) Lists {
	return Lists{
		HandwrittenFiles: setOf(handwritten...),
		GenericFiles:     setOf(generic...),
		AmbiguousByName:  setOf(ambiguous...),
	}
}

// Merge returns a Lists containing the union of l and other.
func (l Lists) Merge(other Lists) Lists {
	return Lists{
		HandwrittenFiles: union(l.HandwrittenFiles, other.HandwrittenFiles),
		GenericFiles:     union(l.GenericFiles, other.GenericFiles),
		AmbiguousByName:  union(l.AmbiguousByName, other.AmbiguousByName),
	}
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

// Classify returns the Kind a Found entry named stem should be reported
// with: hasm for a hand-written file, c otherwise.
func (l Lists) Classify(stem string) Kind {
	if l.HandwrittenFiles[stem] {
		return KindHandAssembly
	}
	return KindC
}

// IsAmbiguousByName reports whether stem was pre-marked ambiguous,
// independent of how many precise hits it produced.
func (l Lists) IsAmbiguousByName(stem string) bool {
	return l.AmbiguousByName[stem]
}

// IsGenericForm reports whether stem is known to be compiled from a
// template ("common form") source shared across multiple overlays.
func (l Lists) IsGenericForm(stem string) bool {
	return l.GenericFiles[stem]
}
