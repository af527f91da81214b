package graph

import (
	"math/rand"
	"testing"

	"github.com/OFFIS-RIT/chronicle/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeProviderName(t *testing.T) {
	tests := []struct {
		raw            string
		want           string
		wantCredential bool
	}{
		{raw: "Dr. John Smith, M.D.", want: "john smith", wantCredential: true},
		{raw: "JOHN   SMITH MD", want: "john smith", wantCredential: true},
		{raw: "john smith", want: "john smith"},
		{raw: "José Álvarez", want: "jose alvarez"},
		{raw: "Jane Doe, PA-C", want: "jane doe", wantCredential: true},
		{raw: "St. Mary's Hospital", want: "st marys hospital"},
		{raw: "", want: UnknownProviderName},
		{raw: "Dr.", want: UnknownProviderName},
		{raw: "  , ; ", want: UnknownProviderName},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, hasCredential := NormalizeProviderName(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCredential, hasCredential)
		})
	}
}

func TestResolveProviders_SameNormalizedNameSameID(t *testing.T) {
	res := ResolveProviders([]ProviderMention{
		{Name: "Dr. John Smith, M.D."},
		{Name: "John Smith MD"},
		{Name: "Jane Doe"},
	})

	require.Len(t, res.Providers, 2)
	require.Len(t, res.MentionProviderIDs, 3)
	assert.Equal(t, res.MentionProviderIDs[0], res.MentionProviderIDs[1])
	assert.NotEqual(t, res.MentionProviderIDs[0], res.MentionProviderIDs[2])
	assert.Equal(t, ProviderID("john smith"), res.MentionProviderIDs[0])

	assert.Equal(t, "jane doe", res.Providers[0].NormalizedName)
	assert.Equal(t, "john smith", res.Providers[1].NormalizedName)
}

func TestResolveProviders_Confidence(t *testing.T) {
	res := ResolveProviders([]ProviderMention{
		{Name: "Dr. John Smith, M.D."},
		{Name: "John Smith MD"},
		{Name: "Jane Doe"},
		{Name: "Jane  Doe"},
		{Name: ""},
	})

	byName := make(map[string]common.Provider)
	for _, p := range res.Providers {
		byName[p.NormalizedName] = p
	}

	// two raw forms that disagree on display, credential seen
	assert.Equal(t, 85, byName["john smith"].Confidence)
	// one raw form after whitespace collapsing, no credential
	assert.Equal(t, 80, byName["jane doe"].Confidence)
	assert.Equal(t, unknownProviderConfidence, byName[UnknownProviderName].Confidence)
}

func TestResolveProviders_DetectedNameRaw(t *testing.T) {
	res := ResolveProviders([]ProviderMention{
		{Name: "John Smith MD"},
		{Name: "Dr. John Smith"},
		{Name: "John Smith MD"},
	})

	require.Len(t, res.Providers, 1)
	assert.Equal(t, "John Smith MD", res.Providers[0].DetectedNameRaw)
}

func TestResolveProviders_ProviderType(t *testing.T) {
	tests := []struct {
		name     string
		mentions []ProviderMention
		want     common.ProviderType
	}{
		{
			name:     "declared type wins",
			mentions: []ProviderMention{{Name: "Valley Imaging", ProviderType: "facility"}},
			want:     common.ProviderTypeFacility,
		},
		{
			name:     "imaging inferred from name",
			mentions: []ProviderMention{{Name: "Valley Imaging Center"}},
			want:     common.ProviderTypeImagingCenter,
		},
		{
			name:     "facility inferred from name",
			mentions: []ProviderMention{{Name: "St. Mary's Hospital"}},
			want:     common.ProviderTypeFacility,
		},
		{
			name:     "physician from credential",
			mentions: []ProviderMention{{Name: "John Smith MD"}},
			want:     common.ProviderTypePhysician,
		},
		{
			name:     "other without signal",
			mentions: []ProviderMention{{Name: "John Smith"}},
			want:     common.ProviderTypeOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveProviders(tt.mentions)
			require.Len(t, res.Providers, 1)
			assert.Equal(t, tt.want, res.Providers[0].ProviderType)
		})
	}
}

func TestResolveProviders_PermutationInvariant(t *testing.T) {
	mentions := []ProviderMention{
		{Name: "Dr. John Smith, M.D."},
		{Name: "John Smith MD"},
		{Name: "JOHN SMITH"},
		{Name: "Jane Doe, PA-C"},
		{Name: "jane doe"},
		{Name: "Valley Imaging Center"},
		{Name: "José Álvarez"},
		{Name: "Jose Alvarez, DC"},
		{Name: ""},
	}
	want := ResolveProviders(mentions)
	wantByName := idsByName(mentions, want)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]ProviderMention(nil), mentions...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := ResolveProviders(shuffled)
		require.Equal(t, want.Providers, got.Providers)
		require.Equal(t, wantByName, idsByName(shuffled, got))
	}
}

func idsByName(mentions []ProviderMention, res ProviderResolution) map[string]string {
	out := make(map[string]string, len(mentions))
	for i, m := range mentions {
		out[m.Name] = res.MentionProviderIDs[i]
	}
	return out
}
