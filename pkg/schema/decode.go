package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrMalformed is returned by UnmarshalStrict for input that only decodes
// after repair.
var ErrMalformed = errors.New("malformed json")

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// UnmarshalStrict decodes standard JSON and double-encoded JSON strings but
// never repairs. Evidence inputs go through here: a repaired payload can be a
// truncated one, and closing its brackets would silently drop pages or atoms.
func UnmarshalStrict(input string, out any) error {
	_, err := unmarshalUnrepaired(strings.TrimSpace(input), out)
	return err
}

// unmarshalUnrepaired returns the input to repair next when decoding fails;
// a double-encoded string is unwrapped first.
func unmarshalUnrepaired(input string, out any) (string, error) {
	err := json.Unmarshal([]byte(input), out)
	if err == nil {
		return input, nil
	}

	var asString string
	if json.Unmarshal([]byte(input), &asString) == nil {
		asString = strings.TrimSpace(asString)
		inner := json.Unmarshal([]byte(asString), out)
		if inner == nil {
			return asString, nil
		}
		return asString, fmt.Errorf("%w: %v", ErrMalformed, inner)
	}
	return input, fmt.Errorf("%w: %v", ErrMalformed, err)
}

// UnmarshalFlexible decodes upstream payloads that are not always well formed
// JSON. It first tries standard decoding, then unwraps double-encoded JSON
// strings and finally repairs the input before parsing.
//
// Control messages regularly arrive with trailing commas, single quotes or a
// truncated closing bracket; all of these decode:
//
//	var msg queue.RunMessage
//	UnmarshalFlexible(`{"run_id": "r1", "input_key": "k"}`, &msg)   // standard JSON
//	UnmarshalFlexible(`"{\"run_id\": \"r1\"}"`, &msg)               // double-encoded
//	UnmarshalFlexible(`{run_id: 'r1', input_key: 'k',}`, &msg)      // repaired
func UnmarshalFlexible(input string, out any) error {
	input, err := unmarshalUnrepaired(strings.TrimSpace(input), out)
	if err == nil {
		return nil
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w", err)
	}

	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: %w", err)
	}
	return nil
}
