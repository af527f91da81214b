package graph

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/OFFIS-RIT/chronicle/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func fixtureInput() *BuildInput {
	return &BuildInput{
		Pages: []common.Page{
			{PageID: "p1", SourceDocumentID: "doc-1", PageNumber: 1, Text: "Office visit", TextOrigin: common.TextOriginEmbeddedPDF, PageType: common.PageTypeClinicalNote},
			{PageID: "p2", SourceDocumentID: "doc-1", PageNumber: 2, Text: "Office visit cont.", TextOrigin: common.TextOriginEmbeddedPDF, PageType: common.PageTypeClinicalNote},
			{PageID: "p3", SourceDocumentID: "doc-2", PageNumber: 1, Text: "MRI lumbar spine", TextOrigin: common.TextOriginOCR, PageType: common.PageTypeImagingReport},
		},
		Atoms: []Atom{
			{
				AtomID:   "a1",
				PageID:   "p1",
				EventKey: "visit-1",
				RawText:  "Patient reports left leg numbness.",
				ExtractedFields: ExtractedFields{
					EventType:  "office_visit",
					EventClass: "clinical",
					FactKind:   "symptom",
					Verbatim:   true,
					Confidence: intPtr(80),
					BBox:       &common.BBox{X: 10, Y: 20, W: 300, H: 14.5},
				},
				CandidateDates:            []CandidateDate{{Value: "2025-01-01", Source: "TIER1", Confidence: 90}},
				CandidateProviderMentions: []ProviderMention{{Name: "Dr. John Smith, M.D."}},
			},
			{
				AtomID:   "a2",
				PageID:   "p2",
				EventKey: "visit-1",
				RawText:  "Pain 8/10.",
				ExtractedFields: ExtractedFields{
					FactKind:   "symptom",
					Confidence: intPtr(60),
					Flags:      []string{"needs_review"},
				},
				CandidateDates:            []CandidateDate{{Value: "2025-01-02", Source: "TIER2", Confidence: 95}},
				CandidateProviderMentions: []ProviderMention{{Name: "John Smith MD"}},
			},
			{
				AtomID:   "a3",
				PageID:   "p3",
				EventKey: "mri-1",
				RawText:  "MRI shows disc herniation at L4-L5.",
				ExtractedFields: ExtractedFields{
					EventType: "imaging",
					FactKind:  "imaging_impression",
					Snippet:   "disc herniation at L4-L5",
				},
				CandidateDates:            []CandidateDate{{Value: "January 10, 2025", Source: "TIER2", Confidence: 70}},
				CandidateProviderMentions: []ProviderMention{{Name: "Valley Imaging Center"}},
			},
			{
				AtomID:   "a4",
				PageID:   "p-missing",
				EventKey: "note-1",
				RawText:  "Follow-up recommended.",
			},
		},
	}
}

func TestBuild(t *testing.T) {
	g, err := Build(fixtureInput())
	require.NoError(t, err)

	assert.Equal(t, common.SchemaVersion, g.SchemaVersion)
	require.Len(t, g.Pages, 3)
	require.Len(t, g.Providers, 2)
	require.Len(t, g.Events, 3)
	require.Len(t, g.Citations, 3)

	assert.Equal(t, EventID("visit-1"), g.Events[0].EventID)
	assert.Equal(t, EventID("mri-1"), g.Events[1].EventID)
	assert.Equal(t, EventID("note-1"), g.Events[2].EventID, "undated events sort last")

	t.Run("multi page event", func(t *testing.T) {
		ev := g.Events[0]
		assert.Equal(t, common.EventTypeOfficeVisit, ev.EventType)
		assert.Equal(t, common.EventDate{Kind: common.DateKindSingle, Value: "2025-01-01", Source: common.DateSourceTier1}, ev.Date)
		require.NotNil(t, ev.ProviderID)
		assert.Equal(t, ProviderID("john smith"), *ev.ProviderID)
		assert.Equal(t, 70, ev.Confidence)
		assert.Equal(t, []int{1, 2}, ev.SourcePageNumbers)
		assert.Equal(t, []string{"NEEDS_REVIEW"}, ev.Flags)

		require.Len(t, ev.Facts, 2)
		assert.Equal(t, "Patient reports left leg numbness.", ev.Facts[0].Text)
		assert.Equal(t, common.FactKindSymptom, ev.Facts[0].Kind)
		assert.True(t, ev.Facts[0].Verbatim)
		require.NotNil(t, ev.Facts[0].CitationID)
		require.NotNil(t, ev.Facts[1].CitationID)
		assert.Equal(t, []string{*ev.Facts[0].CitationID, *ev.Facts[1].CitationID}, ev.CitationIDs)

		var class string
		ok, err := ev.Extensions.Get(ExtEventClass, &class)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "clinical", class)

		var atoms []string
		_, err = ev.Extensions.Get(ExtSourceAtomIDs, &atoms)
		require.NoError(t, err)
		assert.Equal(t, []string{"a1", "a2"}, atoms)
	})

	t.Run("snippet used for citation", func(t *testing.T) {
		ev := g.Events[1]
		require.Len(t, ev.CitationIDs, 1)
		assert.Equal(t, CitationID("doc-2", 1, "disc herniation at L4-L5", nil), ev.CitationIDs[0])
		assert.Equal(t, "2025-01-10", ev.Date.Value)
		assert.Equal(t, common.EventTypeImaging, ev.EventType)
	})

	t.Run("data quality gaps are flagged", func(t *testing.T) {
		ev := g.Events[2]
		assert.Nil(t, ev.ProviderID)
		assert.True(t, ev.Date.IsPlaceholder())
		assert.Empty(t, ev.CitationIDs)
		assert.Empty(t, ev.SourcePageNumbers)
		assert.Equal(t, []string{
			FlagMissingCitation,
			FlagMissingDate,
			FlagNoCitations,
			FlagUnknownPage,
			FlagUnresolvedProvider,
		}, ev.Flags)
		require.Len(t, ev.Facts, 1)
		assert.Nil(t, ev.Facts[0].CitationID)
		assert.Equal(t, defaultAtomConfidence, ev.Confidence)
	})

	t.Run("build summary", func(t *testing.T) {
		var summary BuildSummary
		ok, err := g.Extensions.Get(ExtBuildSummary, &summary)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 4, summary.AtomCount)
		assert.Equal(t, 3, summary.EventCount)
		assert.Equal(t, 1, summary.FlaggedEventCount)
		assert.Equal(t, 1, summary.UnknownPageAtoms)
		assert.Equal(t, 1, summary.UncitedFactsCount)
	})
}

func TestBuild_SharedCitation(t *testing.T) {
	in := &BuildInput{
		Pages: []common.Page{{PageID: "p1", SourceDocumentID: "doc", PageNumber: 1}},
		Atoms: []Atom{
			{AtomID: "a1", PageID: "p1", EventKey: "e1", RawText: "Lumbar strain.", CandidateDates: []CandidateDate{{Value: "2025-01-01", Source: "TIER1"}}},
			{AtomID: "a2", PageID: "p1", EventKey: "e2", RawText: "Lumbar strain.", CandidateDates: []CandidateDate{{Value: "2025-01-02", Source: "TIER1"}}},
		},
	}

	g, err := Build(in)
	require.NoError(t, err)
	require.Len(t, g.Citations, 1)
	assert.Equal(t, g.Events[0].CitationIDs, g.Events[1].CitationIDs)
}

func TestBuild_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *BuildInput)
	}{
		{name: "duplicate atom id", mutate: func(in *BuildInput) { in.Atoms[1].AtomID = "a1" }},
		{name: "duplicate page id", mutate: func(in *BuildInput) { in.Pages[1].PageID = "p1" }},
		{name: "missing event key", mutate: func(in *BuildInput) { in.Atoms[0].EventKey = "" }},
		{name: "page number zero", mutate: func(in *BuildInput) { in.Pages[0].PageNumber = 0 }},
		{name: "confidence above range", mutate: func(in *BuildInput) { in.Atoms[0].ExtractedFields.Confidence = intPtr(101) }},
		{name: "no pages", mutate: func(in *BuildInput) { in.Pages = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fixtureInput()
			tt.mutate(in)
			g, err := Build(in)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBuild_PermutationInvariant(t *testing.T) {
	base, err := Build(fixtureInput())
	require.NoError(t, err)
	want, err := Marshal(base)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		in := fixtureInput()
		rng.Shuffle(len(in.Atoms), func(a, b int) { in.Atoms[a], in.Atoms[b] = in.Atoms[b], in.Atoms[a] })
		rng.Shuffle(len(in.Pages), func(a, b int) { in.Pages[a], in.Pages[b] = in.Pages[b], in.Pages[a] })

		g, err := Build(in)
		require.NoError(t, err)
		got, err := Marshal(g)
		require.NoError(t, err)
		require.Equal(t, string(want), string(got), "permutation %d", i)
	}
}

// randomInput generates pages across a few documents and atoms that point at
// them, at missing pages, or carry no text at all.
func randomInput(rng *rand.Rand) *BuildInput {
	in := &BuildInput{}
	docs := 1 + rng.Intn(3)
	for d := 0; d < docs; d++ {
		pages := 1 + rng.Intn(5)
		for p := 1; p <= pages; p++ {
			in.Pages = append(in.Pages, common.Page{
				PageID:           fmt.Sprintf("d%d-p%d", d, p),
				SourceDocumentID: fmt.Sprintf("doc-%d", d),
				PageNumber:       p,
			})
		}
	}

	names := []string{"Dr. Ann Lee", "ANN LEE MD", "Bob Stone", "", "Mercy Hospital"}
	texts := []string{"Neck pain 6/10.", "Right shoulder tenderness.", "", "Denies numbness.", "X-ray negative."}
	dates := []string{"2025-01-01", "2025-02-14", "garbage", "", "03/05/2025"}

	atoms := rng.Intn(20)
	for i := 0; i < atoms; i++ {
		pageID := "missing"
		if rng.Intn(6) > 0 {
			pageID = in.Pages[rng.Intn(len(in.Pages))].PageID
		}
		a := Atom{
			AtomID:   fmt.Sprintf("a%d", i),
			PageID:   pageID,
			EventKey: fmt.Sprintf("e%d", rng.Intn(5)),
			RawText:  texts[rng.Intn(len(texts))],
		}
		if rng.Intn(2) == 0 {
			a.CandidateDates = []CandidateDate{{Value: dates[rng.Intn(len(dates))], Source: "TIER2", Confidence: rng.Intn(101)}}
		}
		if rng.Intn(2) == 0 {
			a.CandidateProviderMentions = []ProviderMention{{Name: names[rng.Intn(len(names))]}}
		}
		in.Atoms = append(in.Atoms, a)
	}
	return in
}

func TestBuild_InvariantsHoldForRandomInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		in := randomInput(rng)
		g, err := Build(in)
		require.NoError(t, err, "input %d", i)

		pageNumbers := make(map[int]bool)
		for _, p := range g.Pages {
			pageNumbers[p.PageNumber] = true
		}
		for _, c := range g.Citations {
			assert.True(t, pageNumbers[c.PageNumber], "citation %s points to missing page %d", c.CitationID, c.PageNumber)
		}
		for _, ev := range g.Events {
			flagged := false
			for _, f := range EvidenceFlags {
				flagged = flagged || ev.HasFlag(f)
			}
			assert.True(t, len(ev.CitationIDs) > 0 || flagged, "event %s has neither citations nor flag", ev.EventID)
		}
		assert.Empty(t, Validate(g))
	}
}
