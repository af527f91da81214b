package queue

import (
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/chronicle/internal/util"
	"github.com/OFFIS-RIT/chronicle/pkg/schema"

	"github.com/go-playground/validator"
)

// RunMessage asks a worker to build and analyse one chronology. InputKey
// points at a BuildInput JSON document in the bucket; BaselineKey optionally
// points at a JSON array of baseline case features.
type RunMessage struct {
	RunID       string `json:"run_id" validate:"required,max=128"`
	MatterID    string `json:"matter_id" validate:"required"`
	InputKey    string `json:"input_key" validate:"required"`
	WindowDays  *int   `json:"window_days,omitempty" validate:"omitempty,min=0"`
	BaselineKey string `json:"baseline_key,omitempty"`
}

var messageValidator = validator.New()

// DecodeRunMessage tolerantly decodes and validates a message body. Invalid
// messages are permanent failures.
func DecodeRunMessage(body []byte) (RunMessage, error) {
	var msg RunMessage
	if err := schema.UnmarshalFlexible(string(body), &msg); err != nil {
		return msg, util.Permanent(fmt.Errorf("decode run message: %w", err))
	}
	if err := messageValidator.Struct(msg); err != nil {
		return msg, util.Permanent(fmt.Errorf("invalid run message: %w", err))
	}
	return msg, nil
}

func EncodeRunMessage(msg RunMessage) ([]byte, error) {
	if err := messageValidator.Struct(msg); err != nil {
		return nil, fmt.Errorf("invalid run message: %w", err)
	}
	return json.Marshal(msg)
}
