package mentor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// Input is one message-processing invocation from the external backend.
type Input struct {
	UserID         string
	ConversationID string
	MessageID      string
	Query          string
	Purpose        string
	History        []Message
	Memory         *ConversationMemoryData
	Persona        *UserPersonaData

	// Clarification resumes a suspended clarification sub-dialogue; nil
	// starts fresh.
	Clarification *ClarificationState
}

// StepRecord captures one pipeline stage for the audit trace. The rendered
// prompt is exactly the text sent to the provider.
type StepRecord struct {
	StepName       string    `json:"step_name"`
	RenderedPrompt string    `json:"rendered_prompt"`
	RawModelOutput string    `json:"raw_model_output"`
	ParsedOutput   string    `json:"parsed_output"`
	Timestamp      time.Time `json:"timestamp"`
}

// Output is delivered back to the external backend. When FollowUpQuestion
// is non-empty, the request is suspended awaiting the user's answer and
// Clarification must be persisted and resent with the next turn.
type Output struct {
	ResponseText     string
	Steps            []StepRecord
	Clarification    *ClarificationState
	FollowUpQuestion string
}

// KnowledgeResult is the structured output of the knowledge-retrieval
// stage.
type KnowledgeResult struct {
	KeyConcepts []string `json:"key_concepts,omitempty"`
	Summary     string   `json:"summary"`
}

// Validate checks the result against its schema.
func (k KnowledgeResult) Validate() error {
	if k.Summary == "" {
		return fmt.Errorf("summary required but empty")
	}
	return nil
}

// EnhancementResult is the structured output of the learning-enhancement
// stage.
type EnhancementResult struct {
	Response    string `json:"response"`
	LearningTip string `json:"learning_tip,omitempty"`
}

// Validate checks the result against its schema.
func (e EnhancementResult) Validate() error {
	if e.Response == "" {
		return fmt.Errorf("response required but empty")
	}
	return nil
}

// genericReply is the worst-case user-visible text. Internal failure detail
// stays in the step trace and hooks.
const genericReply = "Let's keep going. Could you tell me a bit more about what " +
	"you'd like to explore? That will help me give you something useful."

// Stage names recorded in the step trace.
const (
	stageIntent      = "intent_identification"
	stageKnowledge   = "knowledge_retrieval"
	stageResponse    = "response_generation"
	stageEnhancement = "learning_enhancement"
	stageSimplified  = "simplified_response"
)

// Orchestrator sequences the processing of one user message: either the
// simplified single-call mode or the full four-stage pipeline, chosen per
// invocation by FlowConfig. Orchestrators are stateless across requests
// and safe for concurrent use; only the template cache is shared.
type Orchestrator struct {
	adapter   *Adapter
	templates *TemplateCache
	builtins  StaticTemplates
	injector  *Injector
	clarifier *Clarifier
	callback  func(Output)
}

// NewOrchestrator wires an orchestrator to its adapter and template cache.
// templates may be nil, in which case only the built-in prompts are used.
func NewOrchestrator(adapter *Adapter, templates *TemplateCache) *Orchestrator {
	return &Orchestrator{
		adapter:   adapter,
		templates: templates,
		builtins:  DefaultTemplates(),
		injector:  NewInjector(),
		clarifier: NewClarifier(adapter, 1),
	}
}

// WithCallback registers a delivery callback invoked with every completed
// Output before Process returns.
func (o *Orchestrator) WithCallback(cb func(Output)) *Orchestrator {
	o.callback = cb
	return o
}

// Injector exposes the placeholder engine so deployments can register
// additional context kinds.
func (o *Orchestrator) Injector() *Injector {
	return o.injector
}

// Process turns one user message plus its accumulated context into a reply
// and a step trace. Stage failures never surface to the user: the worst
// case is a generic reply with the failure detail retained in the trace.
// Only a missing flow configuration is fatal, and that is the caller's to
// detect before calling Process.
func (o *Orchestrator) Process(ctx context.Context, in Input, cfg FlowConfig) (Output, error) {
	requestID := uuid.New().String()

	capitan.Info(ctx, RequestStarted,
		RequestIDKey.Field(requestID),
		ConversationIDKey.Field(in.ConversationID),
		UserIDKey.Field(in.UserID),
		QueryKey.Field(in.Query),
	)

	var out Output
	if cfg.Simplified() {
		out = o.processSimplified(ctx, in)
	} else {
		out = o.processFull(ctx, in, cfg)
	}

	if out.ResponseText == genericReply {
		// The user still got a reply, but it is the degradation path;
		// operators see that as a failed request.
		capitan.Error(ctx, RequestFailed,
			RequestIDKey.Field(requestID),
			ConversationIDKey.Field(in.ConversationID),
			ErrorKey.Field("degraded to generic reply"),
		)
	} else {
		capitan.Info(ctx, RequestCompleted,
			RequestIDKey.Field(requestID),
			ConversationIDKey.Field(in.ConversationID),
			ResponseKey.Field(out.ResponseText),
		)
	}

	if o.callback != nil {
		o.callback(out)
	}
	return out, nil
}

// processSimplified executes the single-call path. The rendered prompt
// always carries the full conversation history, not just the latest turn,
// so short context-dependent follow-ups resolve correctly.
func (o *Orchestrator) processSimplified(ctx context.Context, in Input) Output {
	var out Output
	o.stageStart(ctx, stageSimplified)

	tpl := o.template(ctx, string(CallSimplified))
	body := o.injector.Inject(tpl.Text, buildContextValues(in.Memory, in.Persona))

	prompt := body
	if len(in.History) > 0 {
		prompt += "\n\nConversation so far:\n" + FormatHistory(in.History)
	}
	prompt += "\n\nUser: " + in.Query + "\n\nReply as the coach."

	raw, _, err := o.adapter.Invoke(ctx, CallSimplified, prompt, nil)
	if err != nil {
		o.record(ctx, &out, stageSimplified, prompt, raw, marshalParsed(map[string]string{"error": err.Error()}))
		out.ResponseText = genericReply
		return out
	}

	o.record(ctx, &out, stageSimplified, prompt, raw, marshalParsed(map[string]string{"response": raw}))
	out.ResponseText = raw
	return out
}

// processFull executes the four-stage pipeline in strict sequence. Each
// stage records a step regardless of success; a stage that cannot produce
// usable output contributes a safe default instead of aborting.
func (o *Orchestrator) processFull(ctx context.Context, in Input, cfg FlowConfig) Output {
	var out Output
	values := buildContextValues(in.Memory, in.Persona)

	// Stage 1: intent identification, routed through the clarifier. A
	// follow-up question suspends the request until the user answers.
	intent, suspended := o.identifyIntent(ctx, in, cfg, &out)
	if suspended {
		return out
	}

	// Stage 2: knowledge retrieval.
	knowledgeTpl := o.template(ctx, string(CallKnowledge))
	knowledgePrompt := o.injector.Inject(knowledgeTpl.Text, values) +
		"\n\nLearner need:\n" + marshalParsed(intent) +
		"\n\nQuery: " + in.Query +
		"\n\nReturn JSON:\n" + generateJSONSchema[KnowledgeResult]()
	knowledge, ok := runStage(ctx, o, &out, stageKnowledge, CallKnowledge, knowledgePrompt,
		KnowledgeResult{Summary: "No additional background was retrieved."})
	if !ok && ctx.Err() != nil {
		return o.bestPartial(ctx, in, out)
	}

	// Stage 3: response generation. The raw completion is the draft reply;
	// there is nothing to parse, so this stage cannot produce a schema
	// failure, only a transport one.
	responseTpl := o.template(ctx, string(CallResponse))
	responsePrompt := o.injector.Inject(responseTpl.Text, values) +
		"\n\nBackground: " + knowledge.Summary
	if len(in.History) > 0 {
		responsePrompt += "\n\nConversation so far:\n" + FormatHistory(in.History)
	}
	responsePrompt += "\n\nUser: " + in.Query

	o.stageStart(ctx, stageResponse)
	draft, _, err := o.adapter.Invoke(ctx, CallResponse, responsePrompt, nil)
	if err != nil {
		o.record(ctx, &out, stageResponse, responsePrompt, draft, marshalParsed(map[string]string{"error": err.Error()}))
		capitan.Error(ctx, StageFellBack,
			StageKey.Field(stageResponse),
			ErrorKey.Field(err.Error()),
		)
		out.ResponseText = genericReply
		return o.bestPartial(ctx, in, out)
	}
	o.record(ctx, &out, stageResponse, responsePrompt, draft, marshalParsed(map[string]string{"response": draft}))
	out.ResponseText = draft

	// Stage 4: learning enhancement. Fallback keeps the draft unchanged.
	enhanceTpl := o.template(ctx, string(CallEnhancement))
	enhancePrompt := o.injector.Inject(enhanceTpl.Text, values) +
		"\n\nDraft reply:\n" + draft +
		"\n\nReturn JSON:\n" + generateJSONSchema[EnhancementResult]()
	enhanced, ok := runStage(ctx, o, &out, stageEnhancement, CallEnhancement, enhancePrompt,
		EnhancementResult{Response: draft})
	if ok || enhanced.Response != "" {
		out.ResponseText = enhanced.Response
		if enhanced.LearningTip != "" {
			out.ResponseText += "\n\n" + enhanced.LearningTip
		}
	}

	if out.ResponseText == "" {
		out.ResponseText = genericReply
	}
	return out
}

// identifyIntent runs the clarification state machine for this turn. The
// second return value reports that a follow-up question was surfaced and
// the request is suspended.
func (o *Orchestrator) identifyIntent(ctx context.Context, in Input, cfg FlowConfig, out *Output) (ClarificationOutcome, bool) {
	o.stageStart(ctx, stageIntent)
	state := ClarificationState{}
	if in.Clarification != nil {
		state = *in.Clarification
	}

	clarifier := o.clarifier
	if cfg.ClarificationCap != clarifier.cap {
		clarifier = clarifier.withCap(cfg.ClarificationCap)
	}
	if state.Resolved() {
		// A previously resolved dialogue means this turn needs a fresh
		// classification, forced to resolve immediately.
		state = ClarificationState{}
		clarifier = clarifier.withCap(0)
	}

	result, err := clarifier.Step(ctx, state, in.Query, in.History)
	parsed := ""
	switch {
	case err != nil:
		parsed = marshalParsed(map[string]string{"error": err.Error()})
	case result.Question != "":
		parsed = marshalParsed(map[string]string{"follow_up_question": result.Question})
	default:
		parsed = marshalParsed(result.Outcome)
	}
	o.record(ctx, out, stageIntent, result.RenderedPrompt, result.RawOutput, parsed)

	if result.Question != "" {
		out.FollowUpQuestion = result.Question
		out.ResponseText = result.Question
		st := result.State
		out.Clarification = &st
		return ClarificationOutcome{}, true
	}

	st := result.State
	out.Clarification = &st
	if result.Outcome != nil {
		return *result.Outcome, false
	}
	// Step force-resolves internally; a nil outcome only happens on
	// programmer error. Degrade to a topic-only outcome.
	return ClarificationOutcome{Subject: &Subject{MainTopic: in.Query}}, false
}

// bestPartial honors the overall request timeout: rather than returning
// nothing, it returns whatever reply exists, or the simplified path's
// output when none does and time remains.
func (o *Orchestrator) bestPartial(ctx context.Context, in Input, out Output) Output {
	if out.ResponseText != "" && out.ResponseText != genericReply {
		return out
	}
	if ctx.Err() != nil {
		if out.ResponseText == "" {
			out.ResponseText = genericReply
		}
		return out
	}
	simplified := o.processSimplified(ctx, in)
	simplified.Steps = append(out.Steps, simplified.Steps...)
	simplified.Clarification = out.Clarification
	return simplified
}

// runStage executes one structured stage: invoke, decode with one re-prompt
// for malformed output, then substitute the fallback. The step is recorded
// in every case, with the raw output preserved even when unparseable.
func runStage[T Validator](ctx context.Context, o *Orchestrator, out *Output, name string, ct CallType, prompt string, fallback T) (T, bool) {
	o.stageStart(ctx, name)
	raw, _, err := o.adapter.Invoke(ctx, ct, prompt, nil)
	if err != nil {
		o.record(ctx, out, name, prompt, raw, marshalParsed(fallback))
		capitan.Error(ctx, StageFellBack, StageKey.Field(name), ErrorKey.Field(err.Error()))
		return fallback, false
	}

	parsed, decodeErr := decodeOutput[T](raw)
	if decodeErr != nil {
		// One re-prompt, then the safe default.
		retryRaw, _, retryErr := o.adapter.Invoke(ctx, ct, prompt, nil)
		if retryErr == nil {
			raw = retryRaw
			parsed, decodeErr = decodeOutput[T](raw)
		}
	}
	if decodeErr != nil {
		o.record(ctx, out, name, prompt, raw, marshalParsed(fallback))
		capitan.Error(ctx, StageFellBack,
			StageKey.Field(name),
			ErrorKey.Field(decodeErr.Error()),
			ErrorTypeKey.Field("validation_error"),
		)
		return fallback, false
	}

	o.record(ctx, out, name, prompt, raw, marshalParsed(parsed))
	return parsed, true
}

func (o *Orchestrator) stageStart(ctx context.Context, name string) {
	capitan.Info(ctx, StageStarted, StageKey.Field(name))
}

// record appends a step to the trace unconditionally and emits the stage
// hook.
func (o *Orchestrator) record(ctx context.Context, out *Output, name, prompt, raw, parsed string) {
	out.Steps = append(out.Steps, StepRecord{
		StepName:       name,
		RenderedPrompt: prompt,
		RawModelOutput: raw,
		ParsedOutput:   parsed,
		Timestamp:      time.Now(),
	})
	capitan.Info(ctx, StageRecorded, StageKey.Field(name))
}

// template returns the production version of a named template, degrading
// to the built-in default when the external store cannot serve one. A
// missing template never fails a request.
func (o *Orchestrator) template(ctx context.Context, name string) Template {
	if o.templates != nil {
		if tpl, err := o.templates.Production(ctx, name); err == nil {
			return tpl
		}
	}
	if versions, err := o.builtins.Fetch(ctx, name); err == nil {
		for _, v := range versions {
			if v.Production {
				return v
			}
		}
	}
	// Last resort: a bare template that still renders the context.
	return Template{Name: name, Text: "{{CONVERSATION_MEMORY}}\n\n{{USER_PERSONA}}"}
}

// buildContextValues assembles the injection data for one request. Absent
// artifacts stay absent so their tokens render as fallback sentences.
func buildContextValues(mem *ConversationMemoryData, persona *UserPersonaData) ContextValues {
	values := ContextValues{}
	if mem != nil {
		values[KindConversationMemory] = mem.InjectionValues()
	}
	if persona != nil {
		values[KindUserPersona] = persona.InjectionValues()
	}
	return values
}
