package mentor

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerateJSONSchema(t *testing.T) {
	t.Run("knowledge_result", func(t *testing.T) {
		schema := generateJSONSchema[KnowledgeResult]()

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(schema), &parsed); err != nil {
			t.Fatalf("Schema is not valid JSON: %v", err)
		}

		props, ok := parsed["properties"].(map[string]interface{})
		if !ok {
			t.Fatalf("Missing properties: %s", schema)
		}
		if _, ok := props["summary"]; !ok {
			t.Error("summary property missing")
		}
		if _, ok := props["key_concepts"]; !ok {
			t.Error("key_concepts property missing")
		}

		// summary has no omitempty, so it must be required; key_concepts
		// does, so it must not be.
		required, _ := parsed["required"].([]interface{})
		foundSummary, foundConcepts := false, false
		for _, r := range required {
			switch r {
			case "summary":
				foundSummary = true
			case "key_concepts":
				foundConcepts = true
			}
		}
		if !foundSummary {
			t.Error("summary not marked required")
		}
		if foundConcepts {
			t.Error("key_concepts should be optional")
		}
	})

	t.Run("clarification_outcome", func(t *testing.T) {
		schema := generateJSONSchema[ClarificationOutcome]()

		if !strings.Contains(schema, "needs_clarification") {
			t.Errorf("needs_clarification missing from schema:\n%s", schema)
		}
		if !strings.Contains(schema, "follow_up_questions") {
			t.Errorf("follow_up_questions missing from schema:\n%s", schema)
		}
	})

	t.Run("memory_types", func(t *testing.T) {
		schema := generateJSONSchema[ConversationMemoryData]()

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(schema), &parsed); err != nil {
			t.Fatalf("Schema is not valid JSON: %v", err)
		}
		props := parsed["properties"].(map[string]interface{})

		topics := props["main_topics"].(map[string]interface{})
		if topics["type"] != "array" {
			t.Errorf("main_topics type = %v, want array", topics["type"])
		}
		obs := props["typical_observation"].(map[string]interface{})
		if obs["type"] != "string" {
			t.Errorf("typical_observation type = %v, want string", obs["type"])
		}
	})
}

func TestGoTypeToJSONType(t *testing.T) {
	tests := []struct {
		goType string
		want   string
	}{
		{"string", "string"},
		{"int", "integer"},
		{"float64", "number"},
		{"bool", "boolean"},
		{"[]string", "array"},
		{"map[string]string", "object"},
		{"*Subject", "object"},
	}

	for _, tt := range tests {
		if got := goTypeToJSONType(tt.goType); got != tt.want {
			t.Errorf("goTypeToJSONType(%q) = %q, want %q", tt.goType, got, tt.want)
		}
	}
}
