package graph

import (
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/chronicle/pkg/common"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UnknownProviderName is the normalized name given to mentions whose name is
// empty or consists only of titles and credentials.
const UnknownProviderName = "unknown provider"

const unknownProviderConfidence = 10

var honorifics = map[string]bool{
	"dr": true, "doctor": true, "prof": true, "professor": true,
	"mr": true, "mrs": true, "ms": true, "miss": true,
}

var credentials = map[string]bool{
	"md": true, "do": true, "dds": true, "dmd": true, "dpm": true, "od": true,
	"phd": true, "mbbs": true, "facs": true, "facp": true, "faaos": true,
	"np": true, "fnp": true, "aprn": true, "pa": true, "pac": true, "rn": true,
	"lpn": true, "crna": true, "dpt": true, "pt": true, "mpt": true, "ot": true,
	"otr": true, "dc": true, "lac": true, "psyd": true, "lcsw": true,
	"jr": true, "sr": true, "ii": true, "iii": true,
}

var facilityWords = []string{
	"hospital", "medical center", "health", "clinic", "center", "centre",
	"urgent care", "emergency", "associates", "group", "llc", "inc",
}

var imagingWords = []string{"imaging", "radiology", "mri", "diagnostic"}

var therapyWords = []string{"physical therapy", "rehab", "rehabilitation", "therapy"}

var pharmacyWords = []string{"pharmacy", "drug", "walgreens", "cvs"}

// NormalizeProviderName canonicalizes a provider name for matching: unicode
// compatibility folding, diacritic removal, case folding, punctuation and
// whitespace collapsing, then honorific and credential stripping. It returns
// the normalized name and whether a recognized credential was present.
func NormalizeProviderName(raw string) (string, bool) {
	s := foldText(raw)

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '\'' || r == '-':
			// "M.D." -> "md", "PA-C" -> "pac", "O'Neil" -> "oneil"
		default:
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	hasCredential := false

	for len(tokens) > 0 && honorifics[tokens[0]] {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && credentials[tokens[len(tokens)-1]] {
		hasCredential = true
		tokens = tokens[:len(tokens)-1]
	}

	if len(tokens) == 0 {
		return UnknownProviderName, hasCredential
	}
	return strings.Join(tokens, " "), hasCredential
}

func foldText(raw string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, raw)
	if err != nil {
		s = raw
	}
	return cases.Fold().String(s)
}

// displayKey is the lightly normalized form used to judge whether raw forms
// agree with each other: case and whitespace only.
func displayKey(raw string) string {
	return strings.Join(strings.Fields(cases.Fold().String(raw)), " ")
}

// ProviderResolution maps every input mention to a canonical provider.
// MentionProviderIDs is aligned with the mentions passed to ResolveProviders.
type ProviderResolution struct {
	Providers          []common.Provider
	MentionProviderIDs []string
}

type providerGroup struct {
	normalized    string
	rawCounts     map[string]int
	typeCounts    map[common.ProviderType]int
	hasCredential bool
	hasHonorific  bool
}

// ResolveProviders deduplicates provider mentions. Two mentions whose
// normalized names are equal always resolve to the same provider id, and the
// result does not depend on the order of the mentions.
func ResolveProviders(mentions []ProviderMention) ProviderResolution {
	groups := make(map[string]*providerGroup)
	ids := make([]string, len(mentions))

	for i, m := range mentions {
		normalized, hasCredential := NormalizeProviderName(m.Name)
		g, ok := groups[normalized]
		if !ok {
			g = &providerGroup{
				normalized: normalized,
				rawCounts:  make(map[string]int),
				typeCounts: make(map[common.ProviderType]int),
			}
			groups[normalized] = g
		}
		raw := strings.Join(strings.Fields(m.Name), " ")
		g.rawCounts[raw]++
		if hasCredential {
			g.hasCredential = true
		}
		if hasHonorificPrefix(m.Name) {
			g.hasHonorific = true
		}
		if m.ProviderType != "" {
			g.typeCounts[common.ParseProviderType(m.ProviderType)]++
		}
		ids[i] = ProviderID(normalized)
	}

	providers := make([]common.Provider, 0, len(groups))
	for _, g := range groups {
		providers = append(providers, g.toProvider())
	}
	sortProviders(providers)

	return ProviderResolution{Providers: providers, MentionProviderIDs: ids}
}

func hasHonorificPrefix(raw string) bool {
	fields := strings.Fields(strings.NewReplacer(".", " ", ",", " ").Replace(foldText(raw)))
	return len(fields) > 0 && honorifics[fields[0]]
}

func (g *providerGroup) toProvider() common.Provider {
	raw := mostFrequent(g.rawCounts)
	p := common.Provider{
		ProviderID:      ProviderID(g.normalized),
		DetectedNameRaw: raw,
		NormalizedName:  g.normalized,
		ProviderType:    g.providerType(),
	}
	if g.normalized == UnknownProviderName {
		p.Confidence = unknownProviderConfidence
		return p
	}
	p.Confidence = g.confidence()
	return p
}

// confidence combines how consistently the distinct raw forms agree with the
// dominant form and whether a credential was seen. Range 0-100.
func (g *providerGroup) confidence() int {
	keyCounts := make(map[string]int)
	for raw := range g.rawCounts {
		keyCounts[displayKey(raw)]++
	}
	dominant := mostFrequent(keyCounts)
	consistent := float64(keyCounts[dominant]) / float64(len(g.rawCounts))

	score := 50 + int(consistent*30+0.5)
	if g.hasCredential {
		score += 20
	}
	return min(score, 100)
}

func (g *providerGroup) providerType() common.ProviderType {
	if len(g.typeCounts) > 0 {
		best := common.ProviderTypeOther
		bestCount := -1
		for t, c := range g.typeCounts {
			if c > bestCount || (c == bestCount && t < best) {
				best, bestCount = t, c
			}
		}
		return best
	}

	name := g.normalized
	switch {
	case containsAny(name, pharmacyWords):
		return common.ProviderTypePharmacy
	case containsAny(name, imagingWords):
		return common.ProviderTypeImagingCenter
	case containsAny(name, therapyWords):
		return common.ProviderTypeTherapist
	case containsAny(name, facilityWords):
		return common.ProviderTypeFacility
	case g.hasCredential || g.hasHonorific:
		return common.ProviderTypePhysician
	}
	return common.ProviderTypeOther
}

func containsAny(s string, words []string) bool {
	padded := " " + s + " "
	for _, w := range words {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}

// mostFrequent returns the key with the highest count, breaking ties by the
// lexically smallest key so the choice never depends on map order.
func mostFrequent(counts map[string]int) string {
	best := ""
	bestCount := -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	return best
}
