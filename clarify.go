package mentor

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
)

// Clarification phases. Needing clarification is not a persisted phase:
// the turn that detects it surfaces the question and stores
// AwaitingResponse in the same Step, so the state machine a caller can
// observe is AwaitingQuery -> AwaitingResponse (0..cap times) -> Resolved,
// with Resolved reached either because the model reports sufficient context
// or because the iteration cap forces a best-effort resolution.
const (
	PhaseAwaitingQuery    = "awaiting_query"
	PhaseAwaitingResponse = "awaiting_clarification_response"
	PhaseResolved         = "resolved"
)

// ClarificationState is the caller-persisted state of one clarification
// sub-dialogue. The process handling turn N+1 may not be the process that
// handled turn N, so everything needed to continue lives here.
type ClarificationState struct {
	Phase                string   `json:"phase"`
	OriginalQuery        string   `json:"original_query"`
	AskedQuestions       []string `json:"asked_questions"`
	PartialUnderstanding string   `json:"partial_understanding"`
	IterationCount       int      `json:"iteration_count"`
}

// Resolved reports whether the sub-dialogue has terminated.
func (s ClarificationState) Resolved() bool {
	return s.Phase == PhaseResolved
}

// IntentTaxonomy is the closed set of intent categories and their specific
// types. Classification outside this set fails validation.
var IntentTaxonomy = map[string][]string{
	"learning":        {"concept_explanation", "skill_development", "factual_question"},
	"problem_solving": {"troubleshooting", "decision_support", "planning"},
	"exploration":     {"topic_discovery", "curiosity", "comparison"},
	"reflection":      {"progress_review", "feedback_request", "goal_setting"},
}

// Intent is one classified intent with its confidence score.
type Intent struct {
	Category     string  `json:"category"`
	SpecificType string  `json:"specific_type"`
	Confidence   float64 `json:"confidence"`
}

// Validate checks the intent against the closed taxonomy.
func (i Intent) Validate() error {
	types, ok := IntentTaxonomy[i.Category]
	if !ok {
		return fmt.Errorf("unknown intent category %q", i.Category)
	}
	found := false
	for _, t := range types {
		if t == i.SpecificType {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown specific type %q for category %q", i.SpecificType, i.Category)
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("confidence must be 0-1, got %f", i.Confidence)
	}
	return nil
}

// Subject is the topic breakdown of a resolved query.
type Subject struct {
	MainTopic     string   `json:"main_topic"`
	RelatedTopics []string `json:"related_topics,omitempty"`
}

// Intents pairs the primary classification with an optional secondary one.
type Intents struct {
	Primary   Intent  `json:"primary_intent"`
	Secondary *Intent `json:"secondary_intent,omitempty"`
}

// IntentContext carries the derived context fields of a resolved query.
type IntentContext struct {
	KnownInformation string `json:"known_information,omitempty"`
	Motivation       string `json:"motivation,omitempty"`
	LearningGoal     string `json:"learning_goal,omitempty"`
}

// ClarificationOutcome is the model's structured output contract: either a
// request for clarification (NeedsClarification true, follow-up questions,
// partial understanding) or a full resolution (query, subject, intents,
// context).
type ClarificationOutcome struct {
	NeedsClarification   bool     `json:"needs_clarification"`
	FollowUpQuestions    []string `json:"follow_up_questions,omitempty"`
	PartialUnderstanding string   `json:"partial_understanding,omitempty"`

	Query   string         `json:"query,omitempty"`
	Subject *Subject       `json:"subject,omitempty"`
	Intents *Intents       `json:"intents,omitempty"`
	Context *IntentContext `json:"context,omitempty"`
}

// Validate enforces whichever of the two shapes the outcome takes.
func (o ClarificationOutcome) Validate() error {
	if o.NeedsClarification {
		if len(o.FollowUpQuestions) == 0 {
			return fmt.Errorf("clarification requested but no follow-up questions")
		}
		return nil
	}
	if o.Subject == nil || o.Subject.MainTopic == "" {
		return fmt.Errorf("resolved outcome missing subject")
	}
	if o.Intents == nil {
		return fmt.Errorf("resolved outcome missing intents")
	}
	if err := o.Intents.Primary.Validate(); err != nil {
		return fmt.Errorf("primary intent: %w", err)
	}
	if o.Intents.Secondary != nil {
		if err := o.Intents.Secondary.Validate(); err != nil {
			return fmt.Errorf("secondary intent: %w", err)
		}
	}
	return nil
}

// StepResult is what one clarifier turn hands back to the caller: the
// updated state to persist, plus either a follow-up question to surface or
// the resolved outcome. RenderedPrompt and RawOutput carry the exact call
// contents for the audit trace.
type StepResult struct {
	State    ClarificationState
	Question string
	Outcome  *ClarificationOutcome

	RenderedPrompt string
	RawOutput      string
}

// Clarifier runs the bounded question loop that decides whether enough
// context exists to proceed. It is stateless across turns; the caller
// persists ClarificationState between them.
type Clarifier struct {
	adapter *Adapter
	cap     int
	schema  string
}

// NewClarifier creates a clarifier with the given iteration cap. A cap of
// zero resolves every query on the first turn.
func NewClarifier(adapter *Adapter, iterationCap int) *Clarifier {
	return &Clarifier{
		adapter: adapter,
		cap:     iterationCap,
		schema:  generateJSONSchema[ClarificationOutcome](),
	}
}

// withCap returns a copy of the clarifier with a different iteration cap,
// reusing the precomputed schema.
func (c *Clarifier) withCap(n int) *Clarifier {
	cp := *c
	cp.cap = n
	return &cp
}

// Step advances the state machine by one user turn. The returned state is
// always safe to persist; when Question is non-empty the caller should
// surface it and call Step again with the user's answer.
func (c *Clarifier) Step(ctx context.Context, state ClarificationState, userTurn string, history []Message) (StepResult, error) {
	if state.Phase == "" {
		state.Phase = PhaseAwaitingQuery
	}
	if state.Phase == PhaseResolved {
		return StepResult{State: state}, fmt.Errorf("clarification already resolved")
	}
	if state.OriginalQuery == "" {
		state.OriginalQuery = userTurn
	}

	outcome, rendered, raw, err := c.classify(ctx, state, userTurn, history)
	if err != nil {
		// Unparseable twice: force-resolve with partial understanding
		// rather than fail the whole request.
		outcome = c.forceResolve(state, userTurn)
	}

	if outcome.NeedsClarification && state.IterationCount < c.cap {
		// Contract violation: more than one question per turn. Truncate to
		// the first rather than reject.
		question := outcome.FollowUpQuestions[0]
		// The question goes straight out to the caller, so the persisted
		// phase is already waiting on the user's answer.
		state.Phase = PhaseAwaitingResponse
		state.IterationCount++
		state.AskedQuestions = append(state.AskedQuestions, question)
		if outcome.PartialUnderstanding != "" {
			state.PartialUnderstanding = outcome.PartialUnderstanding
		}

		capitan.Info(ctx, ClarifyQuestioned,
			QueryKey.Field(state.OriginalQuery),
			QuestionKey.Field(question),
			IterationKey.Field(state.IterationCount),
		)
		return StepResult{State: state, Question: question, RenderedPrompt: rendered, RawOutput: raw}, nil
	}

	if outcome.NeedsClarification {
		// Cap reached: best-effort resolution from what was understood.
		forced := c.forceResolve(state, userTurn)
		outcome = forced
	}

	state.Phase = PhaseResolved
	if outcome.PartialUnderstanding != "" {
		state.PartialUnderstanding = outcome.PartialUnderstanding
	}

	capitan.Info(ctx, ClarifyResolved,
		QueryKey.Field(state.OriginalQuery),
		IterationKey.Field(state.IterationCount),
	)
	return StepResult{State: state, Outcome: &outcome, RenderedPrompt: rendered, RawOutput: raw}, nil
}

// classify invokes the model once, with a single re-prompt when the output
// fails to parse or validate. The rendered prompt and last raw output are
// returned for the audit trace regardless of outcome.
func (c *Clarifier) classify(ctx context.Context, state ClarificationState, userTurn string, history []Message) (ClarificationOutcome, string, string, error) {
	prompt := c.buildPrompt(state, userTurn, history)
	rendered := prompt.Render()

	raw, _, err := c.adapter.Invoke(ctx, CallClarify, rendered, nil)
	if err != nil {
		return ClarificationOutcome{}, rendered, raw, err
	}

	outcome, decodeErr := decodeOutput[ClarificationOutcome](raw)
	if decodeErr == nil {
		return outcome, rendered, raw, nil
	}

	// One re-prompt for malformed output, then give up.
	raw, _, err = c.adapter.Invoke(ctx, CallClarify, rendered, nil)
	if err != nil {
		return ClarificationOutcome{}, rendered, raw, err
	}
	outcome, decodeErr = decodeOutput[ClarificationOutcome](raw)
	return outcome, rendered, raw, decodeErr
}

// buildPrompt constructs the classification prompt from the accumulated
// state: original query, prior follow-up questions, the latest response,
// and history.
func (c *Clarifier) buildPrompt(state ClarificationState, userTurn string, history []Message) *Prompt {
	extra := ""
	if userTurn != state.OriginalQuery {
		extra = "Latest user response: " + userTurn
	}
	if state.PartialUnderstanding != "" {
		if extra != "" {
			extra += "\n"
		}
		extra += "Understood so far: " + state.PartialUnderstanding
	}

	constraints := []string{
		"needs_clarification: true only when the query cannot be addressed without more information",
		"follow_up_questions: at most one question",
		"confidence: 0.0 to 1.0",
		"category: one of learning, problem_solving, exploration, reflection",
		"secondary_intent: null when there is no meaningful second intent",
	}

	return &Prompt{
		Task: "Decide whether enough context exists to coach the user on their query. " +
			"If not, ask one clarifying question. If so, classify the intent and " +
			"summarize the subject and context.",
		Input:       state.OriginalQuery,
		Context:     extra,
		History:     history,
		Questions:   state.AskedQuestions,
		Schema:      c.schema,
		Constraints: constraints,
	}
}

// forceResolve builds the best-effort outcome used when the model cannot be
// parsed twice or the iteration cap is hit.
func (c *Clarifier) forceResolve(state ClarificationState, userTurn string) ClarificationOutcome {
	topic := state.PartialUnderstanding
	if topic == "" {
		topic = state.OriginalQuery
	}
	if topic == "" {
		topic = userTurn
	}
	return ClarificationOutcome{
		NeedsClarification:   false,
		PartialUnderstanding: state.PartialUnderstanding,
		Query:                state.OriginalQuery,
		Subject:              &Subject{MainTopic: topic},
		Intents: &Intents{
			Primary: Intent{
				Category:     "exploration",
				SpecificType: "topic_discovery",
				Confidence:   0.0,
			},
		},
		Context: &IntentContext{KnownInformation: state.PartialUnderstanding},
	}
}
