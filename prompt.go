package mentor

import (
	"fmt"
	"strings"
)

// Prompt represents a structured LLM prompt with consistent formatting.
// The clarifier and both synthesizers build their calls from it; the
// orchestrator's stages use stored templates plus the Injector instead.
type Prompt struct {
	Task        string    // Required: what the model should do
	Input       string    // Required: the main content to process
	Context     string    // Optional: additional context
	History     []Message // Optional: prior conversation turns
	Questions   []string  // Optional: follow-up questions already asked
	Schema      string    // Required: JSON schema for the response
	Constraints []string  // Optional: rules and constraints
}

// Render converts the structured prompt to a string for the model.
// It enforces consistent ordering and formatting across all call types.
func (p *Prompt) Render() string {
	var sections []string

	// Task is always first
	if p.Task != "" {
		sections = append(sections, "Task: "+p.Task)
	}

	// Input is always second
	if p.Input != "" {
		sections = append(sections, "Input: "+p.Input)
	}

	// Optional context
	if p.Context != "" {
		sections = append(sections, "Context: "+p.Context)
	}

	// Conversation history, oldest turn first
	if len(p.History) > 0 {
		hist := "History:\n"
		for _, msg := range p.History {
			hist += "  " + formatTurn(msg) + "\n"
		}
		sections = append(sections, strings.TrimSpace(hist))
	}

	// Follow-up questions already asked
	if len(p.Questions) > 0 {
		q := "Questions already asked:\n"
		for i, question := range p.Questions {
			q += fmt.Sprintf("  %d. %s\n", i+1, question)
		}
		sections = append(sections, strings.TrimSpace(q))
	}

	// Schema - always required
	if p.Schema != "" {
		sections = append(sections, "Return JSON:\n"+p.Schema)
	}

	// Constraints - always last
	if len(p.Constraints) > 0 {
		con := "Constraints:\n"
		for _, c := range p.Constraints {
			con += "- " + c + "\n"
		}
		sections = append(sections, strings.TrimSpace(con))
	}

	return strings.Join(sections, "\n\n")
}

// Validate checks if the prompt has required fields.
func (p *Prompt) Validate() error {
	if p.Task == "" {
		return fmt.Errorf("prompt missing required Task field")
	}
	if p.Input == "" && len(p.History) == 0 {
		return fmt.Errorf("prompt missing required Input or History field")
	}
	return nil
}

// formatTurn renders one message as a transcript line.
func formatTurn(msg Message) string {
	switch msg.Role {
	case RoleAssistant:
		return "AI: " + msg.Content
	case RoleSystem:
		return "System: " + msg.Content
	default:
		return "User: " + msg.Content
	}
}

// FormatHistory renders a conversation as transcript lines, oldest first.
func FormatHistory(history []Message) string {
	lines := make([]string, len(history))
	for i, msg := range history {
		lines[i] = formatTurn(msg)
	}
	return strings.Join(lines, "\n")
}
