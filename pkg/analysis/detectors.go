package analysis

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	clauseSplit = regexp.MustCompile(`[.;!?\n]+|\bbut\b`)
	wordPattern = regexp.MustCompile(`[a-z0-9]+`)
)

var negationCues = map[string]bool{
	"no": true, "not": true, "denies": true, "denied": true, "deny": true,
	"denying": true, "without": true, "negative": true, "absent": true, "never": true,
}

// negationReach is how many words before a term a negation cue still applies.
const negationReach = 5

// clauses lower-cases text and splits it into word lists at sentence and
// clause boundaries so negation does not leak across them.
func clauses(text string) [][]string {
	var out [][]string
	for _, part := range clauseSplit.Split(strings.ToLower(text), -1) {
		if words := wordPattern.FindAllString(part, -1); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

func negatedAt(words []string, idx int) bool {
	for k := max(0, idx-negationReach); k < idx; k++ {
		if negationCues[words[k]] {
			return true
		}
	}
	return false
}

// LateralityDetector reports rows that place the same anatomical structure on
// different body sides.
type LateralityDetector struct{}

func (LateralityDetector) Category() string { return CategoryLaterality }

var sideWords = map[string]string{
	"left": "left", "lt": "left",
	"right": "right", "rt": "right",
	"bilateral": "bilateral", "bilaterally": "bilateral",
}

var anatomy = map[string]string{
	"leg": "leg", "legs": "leg", "arm": "arm", "arms": "arm",
	"knee": "knee", "knees": "knee", "shoulder": "shoulder", "shoulders": "shoulder",
	"hip": "hip", "hips": "hip", "ankle": "ankle", "ankles": "ankle",
	"wrist": "wrist", "wrists": "wrist", "hand": "hand", "hands": "hand",
	"foot": "foot", "feet": "foot", "elbow": "elbow", "elbows": "elbow",
	"thigh": "thigh", "thighs": "thigh", "calf": "calf", "calves": "calf",
	"heel": "heel", "heels": "heel", "toe": "toe", "toes": "toe",
	"finger": "finger", "fingers": "finger", "thumb": "thumb", "thumbs": "thumb",
	"eye": "eye", "eyes": "eye", "ear": "ear", "ears": "ear",
	"rib": "rib", "ribs": "rib", "buttock": "buttock", "buttocks": "buttock",
	"extremity": "extremity", "extremities": "extremity",
}

// sideReach is how many words may separate a side qualifier from the
// structure it qualifies ("left lower leg", "right L5 paraspinal shoulder").
const sideReach = 3

func lateralities(text string) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, words := range clauses(text) {
		for i, w := range words {
			side, ok := sideWords[w]
			if !ok || negatedAt(words, i) {
				continue
			}
			for k := i + 1; k < len(words) && k <= i+sideReach; k++ {
				structure, ok := anatomy[words[k]]
				if !ok {
					continue
				}
				if structure == "extremity" && k > 0 && (words[k-1] == "upper" || words[k-1] == "lower") {
					structure = words[k-1] + " extremity"
				}
				if out[structure] == nil {
					out[structure] = make(map[string]bool)
				}
				out[structure][side] = true
				break
			}
		}
	}
	return out
}

// singleSide returns the only side a structure was placed on, or "" when it
// was placed on both or bilaterally.
func singleSide(sides map[string]bool) string {
	if len(sides) != 1 || sides["bilateral"] {
		return ""
	}
	for s := range sides {
		return s
	}
	return ""
}

func (LateralityDetector) Detect(a, b *ClaimRow) (Finding, bool) {
	la, lb := lateralities(a.Assertion), lateralities(b.Assertion)
	if len(la) == 0 || len(lb) == 0 {
		return Finding{}, false
	}

	structures := make([]string, 0, len(la))
	for s := range la {
		if _, ok := lb[s]; ok {
			structures = append(structures, s)
		}
	}
	sort.Strings(structures)

	for _, s := range structures {
		sa, sb := singleSide(la[s]), singleSide(lb[s])
		if sa != "" && sb != "" && sa != sb {
			return Finding{Feature: s, LeftValue: sa, RightValue: sb}, true
		}
	}
	return Finding{}, false
}

// PainSeverityDetector reports numeric pain ratings on a 0-10 scale whose
// difference strictly exceeds Threshold.
type PainSeverityDetector struct {
	Threshold float64
}

func (PainSeverityDetector) Category() string { return CategoryPainSeverity }

var painPattern = regexp.MustCompile(`(?i)\b(\d{1,2}(?:\.\d)?)\s*(?:/|out\s+of)\s*10\b`)

// PainRating extracts the first pain rating on a 0-10 scale from text.
// Fractions that are part of a date such as 1/10/2025 are ignored.
func PainRating(text string) (float64, bool) {
	for _, m := range painPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if start > 0 && text[start-1] == '/' {
			continue
		}
		if end < len(text) && text[end] == '/' {
			continue
		}
		v, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err != nil || v < 0 || v > 10 {
			continue
		}
		return v, true
	}
	return 0, false
}

func (d PainSeverityDetector) Detect(a, b *ClaimRow) (Finding, bool) {
	pa, ok := PainRating(a.Assertion)
	if !ok {
		return Finding{}, false
	}
	pb, ok := PainRating(b.Assertion)
	if !ok {
		return Finding{}, false
	}
	delta := math.Round(math.Abs(pa-pb)*10) / 10
	if delta <= d.Threshold {
		return Finding{}, false
	}
	return Finding{
		Feature:    "pain_rating",
		LeftValue:  formatRating(pa),
		RightValue: formatRating(pb),
		Delta:      &delta,
	}, true
}

func formatRating(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "/10"
}

// SymptomNegationDetector reports a tracked symptom asserted in one row and
// explicitly negated in the other.
type SymptomNegationDetector struct{}

func (SymptomNegationDetector) Category() string { return CategorySymptomNegation }

var trackedSymptoms = []string{
	"back pain", "bruising", "dizziness", "headache", "headaches", "loss of consciousness",
	"nausea", "neck pain", "numbness", "paresthesia", "paresthesias", "radiating pain",
	"radiculopathy", "spasm", "spasms", "swelling", "tingling", "weakness",
}

var symptomAliases = map[string]string{
	"headaches": "headache", "paresthesias": "paresthesia", "spasms": "spasm",
}

const (
	polarityPresent = "present"
	polarityAbsent  = "absent"
	polarityMixed   = "mixed"
)

func symptomPolarities(text string) map[string]string {
	out := make(map[string]string)
	for _, words := range clauses(text) {
		for _, term := range trackedSymptoms {
			termWords := strings.Fields(term)
			for i := 0; i+len(termWords) <= len(words); i++ {
				if !equalWords(words[i:i+len(termWords)], termWords) {
					continue
				}
				name := term
				if alias, ok := symptomAliases[term]; ok {
					name = alias
				}
				p := polarityPresent
				if negatedAt(words, i) {
					p = polarityAbsent
				}
				if prev, ok := out[name]; ok && prev != p {
					p = polarityMixed
				}
				out[name] = p
			}
		}
	}
	return out
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (SymptomNegationDetector) Detect(a, b *ClaimRow) (Finding, bool) {
	pa, pb := symptomPolarities(a.Assertion), symptomPolarities(b.Assertion)
	if len(pa) == 0 || len(pb) == 0 {
		return Finding{}, false
	}

	symptoms := make([]string, 0, len(pa))
	for s := range pa {
		if _, ok := pb[s]; ok {
			symptoms = append(symptoms, s)
		}
	}
	sort.Strings(symptoms)

	for _, s := range symptoms {
		va, vb := pa[s], pb[s]
		if va == polarityMixed || vb == polarityMixed || va == vb {
			continue
		}
		return Finding{Feature: s, LeftValue: va, RightValue: vb}, true
	}
	return Finding{}, false
}
