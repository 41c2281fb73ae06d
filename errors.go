package mentor

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Callers match with
// errors.Is; the end user never sees these, only the operators do via hooks
// and the step trace.
var (
	// ErrConfigLoad means the flow configuration was unreachable or
	// malformed and no cached copy exists. Fatal for the invocation: there
	// is no safe default for which pipeline to run.
	ErrConfigLoad = errors.New("flow configuration unavailable")

	// ErrTemplateNotFound means no production (or requested) version of a
	// named prompt template exists.
	ErrTemplateNotFound = errors.New("prompt template not found")

	// ErrOutputInvalid means a model output could not be parsed or failed
	// schema validation even after repair. Never retried at the adapter
	// layer; the caller decides whether to re-prompt or substitute a
	// default.
	ErrOutputInvalid = errors.New("model output failed validation")

	// ErrUpsertConflict means a store rejected a concurrent upsert.
	// Retryable: upserts are idempotent by key.
	ErrUpsertConflict = errors.New("artifact upsert conflict")
)

// ProviderError wraps a transport-level failure from an LLM provider.
// Retryable reports whether the adapter's bounded backoff should try again
// (timeouts, rate limits, 5xx). Auth and request errors are not retryable.
type ProviderError struct {
	Provider  string
	Status    int // HTTP status, 0 for transport failures
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error (%d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient provider failure worth
// retrying. Unknown error kinds are treated as retryable transport faults.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	// Parse and validation failures are never transport-retryable.
	if errors.Is(err, ErrOutputInvalid) {
		return false
	}
	return true
}
