package mentor

import (
	"strings"
	"testing"
)

func TestPromptRender(t *testing.T) {
	t.Run("section_order", func(t *testing.T) {
		p := &Prompt{
			Task:        "Classify the query",
			Input:       "how do channels work",
			Context:     "Understood so far: learner knows goroutines",
			Schema:      `{"type": "object"}`,
			Constraints: []string{"confidence: 0.0 to 1.0"},
		}

		rendered := p.Render()

		taskIdx := strings.Index(rendered, "Task:")
		inputIdx := strings.Index(rendered, "Input:")
		contextIdx := strings.Index(rendered, "Context:")
		schemaIdx := strings.Index(rendered, "Return JSON:")
		constraintIdx := strings.Index(rendered, "Constraints:")

		if taskIdx == -1 || inputIdx == -1 || contextIdx == -1 || schemaIdx == -1 || constraintIdx == -1 {
			t.Fatalf("Missing section in render:\n%s", rendered)
		}
		if !(taskIdx < inputIdx && inputIdx < contextIdx && contextIdx < schemaIdx && schemaIdx < constraintIdx) {
			t.Errorf("Sections out of order:\n%s", rendered)
		}
	})

	t.Run("history_and_questions", func(t *testing.T) {
		p := &Prompt{
			Task: "Classify",
			History: []Message{
				{Role: RoleUser, Content: "help me with maps"},
				{Role: RoleAssistant, Content: "What about maps?"},
			},
			Questions: []string{"Which language are you using?"},
			Schema:    "{}",
		}

		rendered := p.Render()
		if !strings.Contains(rendered, "User: help me with maps") {
			t.Errorf("History user turn missing:\n%s", rendered)
		}
		if !strings.Contains(rendered, "AI: What about maps?") {
			t.Errorf("History assistant turn missing:\n%s", rendered)
		}
		if !strings.Contains(rendered, "1. Which language are you using?") {
			t.Errorf("Asked question missing:\n%s", rendered)
		}
	})

	t.Run("empty_sections_omitted", func(t *testing.T) {
		p := &Prompt{Task: "Summarize", Input: "text"}
		rendered := p.Render()

		if strings.Contains(rendered, "Context:") || strings.Contains(rendered, "Constraints:") {
			t.Errorf("Empty sections rendered:\n%s", rendered)
		}
	})
}

func TestPromptValidate(t *testing.T) {
	tests := []struct {
		name    string
		prompt  Prompt
		wantErr bool
	}{
		{"valid", Prompt{Task: "t", Input: "i"}, false},
		{"history_satisfies_input", Prompt{Task: "t", History: []Message{{Role: RoleUser, Content: "hi"}}}, false},
		{"missing_task", Prompt{Input: "i"}, true},
		{"missing_input_and_history", Prompt{Task: "t"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.prompt.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatHistory(t *testing.T) {
	history := []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "what is a slice"},
		{Role: RoleAssistant, Content: "a view over an array"},
	}

	got := FormatHistory(history)
	want := "System: be helpful\nUser: what is a slice\nAI: a view over an array"
	if got != want {
		t.Errorf("FormatHistory() = %q, want %q", got, want)
	}
}
