package mentor

import (
	"errors"
	"testing"
)

func TestDecodeOutput(t *testing.T) {
	t.Run("valid_json", func(t *testing.T) {
		got, err := decodeOutput[KnowledgeResult](`{"key_concepts": ["channels"], "summary": "Channels move values between goroutines."}`)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if got.Summary != "Channels move values between goroutines." {
			t.Errorf("Unexpected summary: %q", got.Summary)
		}
		if len(got.KeyConcepts) != 1 || got.KeyConcepts[0] != "channels" {
			t.Errorf("Unexpected key concepts: %v", got.KeyConcepts)
		}
	})

	t.Run("repairs_broken_json", func(t *testing.T) {
		// Trailing comma plus single quotes, the usual model sloppiness.
		raw := `{'summary': 'Maps are hash tables.',}`
		got, err := decodeOutput[KnowledgeResult](raw)
		if err != nil {
			t.Fatalf("decode failed on repairable input: %v", err)
		}
		if got.Summary != "Maps are hash tables." {
			t.Errorf("Unexpected summary after repair: %q", got.Summary)
		}
	})

	t.Run("repairs_fenced_json", func(t *testing.T) {
		raw := "```json\n{\"summary\": \"Fenced.\"}\n```"
		got, err := decodeOutput[KnowledgeResult](raw)
		if err != nil {
			t.Fatalf("decode failed on fenced input: %v", err)
		}
		if got.Summary != "Fenced." {
			t.Errorf("Unexpected summary: %q", got.Summary)
		}
	})

	t.Run("empty_response", func(t *testing.T) {
		_, err := decodeOutput[KnowledgeResult]("")
		if !errors.Is(err, ErrOutputInvalid) {
			t.Errorf("Expected ErrOutputInvalid, got %v", err)
		}
	})

	t.Run("validation_failure", func(t *testing.T) {
		_, err := decodeOutput[KnowledgeResult](`{"key_concepts": ["x"]}`)
		if !errors.Is(err, ErrOutputInvalid) {
			t.Errorf("Expected ErrOutputInvalid for missing summary, got %v", err)
		}
	})

	t.Run("taxonomy_validation", func(t *testing.T) {
		raw := `{"needs_clarification": false, "subject": {"main_topic": "x"}, "intents": {"primary_intent": {"category": "cooking", "specific_type": "recipes", "confidence": 0.9}}}`
		_, err := decodeOutput[ClarificationOutcome](raw)
		if !errors.Is(err, ErrOutputInvalid) {
			t.Errorf("Expected ErrOutputInvalid for off-taxonomy intent, got %v", err)
		}
	})
}

func TestMarshalParsed(t *testing.T) {
	got := marshalParsed(KnowledgeResult{Summary: "s"})
	if got != `{"summary":"s"}` {
		t.Errorf("marshalParsed() = %q", got)
	}

	// Unmarshalable values degrade to an empty object, never an error.
	got = marshalParsed(make(chan int))
	if got != "{}" {
		t.Errorf("marshalParsed(chan) = %q, want {}", got)
	}
}
