package mentor

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// decodeOutput parses a raw model completion into T and validates it.
// Models wrap JSON in prose or emit slightly broken syntax often enough
// that a repair pass runs before the output is declared invalid. Repair
// failures and validation failures both wrap ErrOutputInvalid; the caller
// decides whether to re-prompt or substitute a default.
func decodeOutput[T Validator](raw string) (T, error) {
	var out T

	if raw == "" {
		return out, fmt.Errorf("%w: empty response", ErrOutputInvalid)
	}

	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return out, fmt.Errorf("%w: %v", ErrOutputInvalid, err)
		}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return out, fmt.Errorf("%w: %v", ErrOutputInvalid, err)
		}
	}

	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("%w: %v", ErrOutputInvalid, err)
	}
	return out, nil
}

// marshalParsed renders a parsed stage value for the step trace. It never
// fails; the trace records "{}" when marshaling is impossible.
func marshalParsed(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
