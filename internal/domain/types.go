package domain

// SessionState models the recognition session lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateStarting   SessionState = "starting"
	SessionStateActive     SessionState = "active"
	SessionStateRestarting SessionState = "restarting"
	SessionStateClosed     SessionState = "closed"
	SessionStateFailed     SessionState = "failed"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonStarted           SessionStateReason = "session_started"
	SessionReasonActive            SessionStateReason = "session_active"
	SessionReasonProactiveRestart  SessionStateReason = "proactive_restart"
	SessionReasonStreamEnded       SessionStateReason = "stream_ended"
	SessionReasonRetryScheduled    SessionStateReason = "retry_scheduled"
	SessionReasonRetriesExhausted  SessionStateReason = "retries_exhausted"
	SessionReasonConfigUpdated     SessionStateReason = "config_updated"
	SessionReasonLanguagesChanged  SessionStateReason = "languages_changed"
	SessionReasonStopped           SessionStateReason = "stopped"
	SessionReasonTranslationFailed SessionStateReason = "translation_degraded"
)

// ErrorCode identifies recoverable and fatal engine errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeStream        ErrorCode = "stream"
	ErrorCodeTranslation   ErrorCode = "translation"
	ErrorCodeRetryBudget   ErrorCode = "retry_budget"
	ErrorCodeConfiguration ErrorCode = "configuration"
)

// EngineError is surfaced to the event sink. Recoverable errors are handled
// internally by the retry machinery; non-recoverable ones require a fresh Start.
type EngineError struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
}

// Channel identifies which provider stream produced a fragment.
type Channel string

const (
	ChannelPrimary   Channel = "primary"
	ChannelSecondary Channel = "secondary"
)

// TranscriptFragment is a single provider result, immutable once received.
// Confidence is 0 when the provider did not report one.
type TranscriptFragment struct {
	Channel    Channel `json:"channel"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence,omitempty"`
}

// StreamEventKind distinguishes transcript payloads from control signals.
type StreamEventKind string

const (
	StreamEventFragment  StreamEventKind = "fragment"
	StreamEventSpeechEnd StreamEventKind = "speech_end"
)

// StreamEvent is what a recognition stream delivers to the engine.
type StreamEvent struct {
	Kind     StreamEventKind    `json:"kind"`
	Fragment TranscriptFragment `json:"fragment,omitempty"`
}

// ResultKind classifies an emitted synchronized result.
type ResultKind string

const (
	ResultKindInterim ResultKind = "interim"
	ResultKindFinal   ResultKind = "final"
	// ResultKindUpdate replaces the previously emitted final in place rather
	// than appending a new caption line.
	ResultKindUpdate ResultKind = "update"
)

// SynchronizedResult is the unit emitted to consumers: a transcript paired
// with whatever translation arrived inside the synchronization window.
type SynchronizedResult struct {
	Original       string     `json:"original"`
	Translated     string     `json:"translated"`
	SourceLanguage string     `json:"sourceLanguage"`
	TargetLanguage string     `json:"targetLanguage,omitempty"`
	Kind           ResultKind `json:"kind"`
	IsFinal        bool       `json:"isFinal"`
	Confidence     float64    `json:"confidence,omitempty"`
}

// AudioChunk is raw audio plus its arrival sequence number. Ordering is
// preserved end to end; chunks are only ever dropped from the oldest end.
type AudioChunk struct {
	Seq  uint64
	Data []byte
}

// Status summarizes the current engine status.
type Status struct {
	State   SessionState `json:"state"`
	Active  bool         `json:"active"`
	Message string       `json:"message,omitempty"`
}
