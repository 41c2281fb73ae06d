package mentor

import "github.com/zoobzio/capitan"

// Signals for hook events.
const (
	RequestStarted   = capitan.Signal("coach.request.started")
	RequestCompleted = capitan.Signal("coach.request.completed")
	RequestFailed    = capitan.Signal("coach.request.failed")

	StageStarted  = capitan.Signal("coach.stage.started")
	StageRecorded = capitan.Signal("coach.stage.recorded")
	StageFellBack = capitan.Signal("coach.stage.fellback")

	ProviderCallStarted   = capitan.Signal("coach.provider.call.started")
	ProviderCallCompleted = capitan.Signal("coach.provider.call.completed")
	ProviderCallFailed    = capitan.Signal("coach.provider.call.failed")

	ClarifyQuestioned = capitan.Signal("coach.clarify.questioned")
	ClarifyResolved   = capitan.Signal("coach.clarify.resolved")

	SynthCompleted = capitan.Signal("coach.synth.completed")
	SynthSkipped   = capitan.Signal("coach.synth.skipped")
)

// Keys for hook event fields.
var (
	// Request identification.
	RequestIDKey      = capitan.NewStringKey("coach.request.id")
	CallTypeKey       = capitan.NewStringKey("coach.call.type")
	StageKey          = capitan.NewStringKey("coach.stage.name")
	ConversationIDKey = capitan.NewStringKey("coach.conversation.id")
	UserIDKey         = capitan.NewStringKey("coach.user.id")
	TemperatureKey    = capitan.NewFloat64Key("coach.temperature")

	// Input/Output data.
	QueryKey    = capitan.NewStringKey("coach.query")
	ResponseKey = capitan.NewStringKey("coach.response")

	// Clarification data.
	QuestionKey  = capitan.NewStringKey("coach.clarify.question")
	IterationKey = capitan.NewIntKey("coach.clarify.iteration")

	// Error information.
	ErrorKey     = capitan.NewStringKey("coach.error")
	ErrorTypeKey = capitan.NewStringKey("coach.error.type")

	// Provider information.
	ProviderKey = capitan.NewStringKey("coach.provider")
	ModelKey    = capitan.NewStringKey("coach.model")

	// Provider metrics.
	PromptTokensKey     = capitan.NewIntKey("coach.tokens.prompt")
	CompletionTokensKey = capitan.NewIntKey("coach.tokens.completion")
	TotalTokensKey      = capitan.NewIntKey("coach.tokens.total")
	DurationMsKey       = capitan.NewIntKey("coach.duration.ms")

	// HTTP/API metadata.
	HTTPStatusCodeKey = capitan.NewIntKey("coach.http.status.code")
	APIErrorTypeKey   = capitan.NewStringKey("coach.api.error.type")
	APIErrorCodeKey   = capitan.NewStringKey("coach.api.error.code")

	// Response metadata.
	ResponseIDKey           = capitan.NewStringKey("coach.response.id")
	ResponseFinishReasonKey = capitan.NewStringKey("coach.response.finish.reason")
)
