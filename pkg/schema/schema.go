package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/OFFIS-RIT/chronicle/pkg/analysis"
	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"

	"github.com/invopop/jsonschema"
)

// Artifact names accepted by For.
const (
	ArtifactGraph          = "graph"
	ArtifactInput          = "input"
	ArtifactClaimRows      = "claim_rows"
	ArtifactContradictions = "contradictions"
	ArtifactNarrative      = "narrative"
	ArtifactComparative    = "comparative"
)

var artifacts = map[string]any{
	ArtifactGraph:          common.EvidenceGraph{},
	ArtifactInput:          graph.BuildInput{},
	ArtifactClaimRows:      []analysis.ClaimRow{},
	ArtifactContradictions: []analysis.Conflict{},
	ArtifactNarrative:      analysis.NarrativeDuality{},
	ArtifactComparative:    analysis.ComparativeSnapshot{},
}

// Artifacts lists the artifact names in sorted order.
func Artifacts() []string {
	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GenerateSchema creates a JSON Schema from the given Go type by reflection.
// Graph and event extensions are open maps, so additional properties are
// only forbidden where the struct says so.
func GenerateSchema(value any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		Mapper:                    mapOpaque,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

var (
	extensionsType = reflect.TypeOf(common.Extensions{})
	rawMapType     = reflect.TypeOf(map[string]json.RawMessage{})
)

// mapOpaque describes extension maps as free-form objects instead of maps of
// base64 strings.
func mapOpaque(t reflect.Type) *jsonschema.Schema {
	if t == extensionsType || t == rawMapType {
		return &jsonschema.Schema{Type: "object"}
	}
	return nil
}

// For returns the JSON Schema of a named artifact as indented JSON.
func For(artifact string) ([]byte, error) {
	v, ok := artifacts[artifact]
	if !ok {
		return nil, fmt.Errorf("unknown artifact %q", artifact)
	}
	s := GenerateSchema(v)
	s.Title = artifact
	if artifact == ArtifactGraph {
		s.Comments = "schema_version " + common.SchemaVersion
	}
	return json.MarshalIndent(s, "", "  ")
}
