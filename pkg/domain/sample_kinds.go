package domain

import (
	"sort"
	"strings"
)

// SampleKindName names the biological type of a sample.
type SampleKindName string

// Sample kinds known to the default catalog.
const (
	SampleKindBlood         SampleKindName = "BLOOD"
	SampleKindSaliva        SampleKindName = "SALIVA"
	SampleKindPlasma        SampleKindName = "PLASMA"
	SampleKindSerum         SampleKindName = "SERUM"
	SampleKindBuffyCoat     SampleKindName = "BUFFY COAT"
	SampleKindTissue        SampleKindName = "TISSUE"
	SampleKindCells         SampleKindName = "CELLS"
	SampleKindSwab          SampleKindName = "SWAB"
	SampleKindStool         SampleKindName = "STOOL"
	SampleKindTumor         SampleKindName = "TUMOR"
	SampleKindExpectoration SampleKindName = "EXPECTORATION"
	SampleKindGargle        SampleKindName = "GARGLE"
	SampleKindDNA           SampleKindName = "DNA"
	SampleKindRNA           SampleKindName = "RNA"
)

// SampleKind describes a biological sample type.
type SampleKind struct {
	Name SampleKindName
	// IsExtracted marks nucleic-acid kinds produced by extraction.
	IsExtracted bool
	// ConcentrationRequired marks kinds whose samples must carry a concentration.
	ConcentrationRequired bool
}

var tissueSources = map[SampleKindName]string{
	SampleKindBlood:         "Blood",
	SampleKindSaliva:        "Saliva",
	SampleKindPlasma:        "Plasma",
	SampleKindSerum:         "Serum",
	SampleKindBuffyCoat:     "Buffy coat",
	SampleKindTissue:        "Tissue",
	SampleKindCells:         "Cells",
	SampleKindSwab:          "Swab",
	SampleKindStool:         "Stool",
	SampleKindTumor:         "Tumor",
	SampleKindExpectoration: "Expectoration",
	SampleKindGargle:        "Gargle",
}

// TissueSourceFor maps a biospecimen kind to the tissue source recorded on
// samples extracted from it.
func TissueSourceFor(kind SampleKindName) (string, bool) {
	source, ok := tissueSources[kind]
	return source, ok
}

// IsTissueSource reports whether source is one of the tissue sources in the
// biospecimen table. Matching is exact.
func IsTissueSource(source string) bool {
	for _, known := range tissueSources {
		if known == source {
			return true
		}
	}
	return false
}

// SampleKinds is a read-only catalog of sample kinds.
type SampleKinds struct {
	kinds map[SampleKindName]SampleKind
}

// DefaultSampleKinds returns the standard catalog: every biospecimen with a
// tissue source plus the extracted DNA and RNA kinds.
func DefaultSampleKinds() SampleKinds {
	kinds := make(map[SampleKindName]SampleKind, len(tissueSources)+2)
	for name := range tissueSources {
		kinds[name] = SampleKind{Name: name}
	}
	kinds[SampleKindDNA] = SampleKind{Name: SampleKindDNA, IsExtracted: true, ConcentrationRequired: true}
	kinds[SampleKindRNA] = SampleKind{Name: SampleKindRNA, IsExtracted: true, ConcentrationRequired: true}
	return SampleKinds{kinds: kinds}
}

// NewSampleKinds builds a catalog from explicit kinds.
func NewSampleKinds(kinds ...SampleKind) SampleKinds {
	m := make(map[SampleKindName]SampleKind, len(kinds))
	for _, k := range kinds {
		m[k.Name] = k
	}
	return SampleKinds{kinds: m}
}

// Lookup resolves a kind name, ignoring case and surrounding whitespace.
func (c SampleKinds) Lookup(raw string) (SampleKind, bool) {
	kind, ok := c.kinds[SampleKindName(strings.ToUpper(strings.TrimSpace(raw)))]
	return kind, ok
}

// Names returns the catalog names sorted.
func (c SampleKinds) Names() []SampleKindName {
	out := make([]SampleKindName, 0, len(c.kinds))
	for name := range c.kinds {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
