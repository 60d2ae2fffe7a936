package realtime

import "encoding/json"

// Client event types sent to the conversation service.
const (
	EventSessionUpdate    = "session.update"
	EventInputAudioAppend = "input_audio_buffer.append"
	EventInputAudioCommit = "input_audio_buffer.commit"
	EventItemCreate       = "conversation.item.create"
	EventItemDelete       = "conversation.item.delete"
	EventItemTruncate     = "conversation.item.truncate"
	EventResponseCreate   = "response.create"
	EventResponseCancel   = "response.cancel"
)

// Server event types received from the conversation service.
const (
	EventSessionCreated       = "session.created"
	EventItemCreated          = "conversation.item.created"
	EventItemDeleted          = "conversation.item.deleted"
	EventItemTruncated        = "conversation.item.truncated"
	EventInputTranscriptDone  = "conversation.item.input_audio_transcription.completed"
	EventSpeechStarted        = "input_audio_buffer.speech_started"
	EventSpeechStopped        = "input_audio_buffer.speech_stopped"
	EventResponseCreated      = "response.created"
	EventResponseAudioDelta   = "response.audio.delta"
	EventResponseAudioDone    = "response.audio.done"
	EventTranscriptDelta      = "response.audio_transcript.delta"
	EventTranscriptDone       = "response.audio_transcript.done"
	EventFunctionCallArgsDone = "response.function_call_arguments.done"
	EventResponseDone         = "response.done"
	EventError                = "error"
)

// clientEvent is the envelope for every message written to the socket.
type clientEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`

	Session  *SessionConfig  `json:"session,omitempty"`
	Audio    string          `json:"audio,omitempty"`
	Item     *wireItem       `json:"item,omitempty"`
	ItemID   string          `json:"item_id,omitempty"`
	Response *responseParams `json:"response,omitempty"`

	// conversation.item.truncate fields.
	ContentIndex int   `json:"content_index,omitempty"`
	AudioEndMS   int64 `json:"audio_end_ms,omitempty"`

	// response.cancel field.
	ResponseID string `json:"response_id,omitempty"`
}

// serverEvent is the envelope for every message read from the socket.
type serverEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`

	Session *json.RawMessage `json:"session,omitempty"`
	Item    *wireItem        `json:"item,omitempty"`
	ItemID  string           `json:"item_id,omitempty"`

	ResponseID string `json:"response_id,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`

	Delta      string        `json:"delta,omitempty"`
	Audio      string        `json:"audio,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Response   *wireResponse `json:"response,omitempty"`

	Error *WireError `json:"error,omitempty"`

	raw json.RawMessage
}

// wireItem matches the conversation item object on the wire.
type wireItem struct {
	ID      string     `json:"id,omitempty"`
	Type    string     `json:"type"`
	Role    string     `json:"role,omitempty"`
	Status  string     `json:"status,omitempty"`
	Content []wirePart `json:"content,omitempty"`

	// function_call / function_call_output fields.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// wirePart matches one content part of an item.
type wirePart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Audio      string `json:"audio,omitempty"`
}

// wireResponse matches the response object carried by response.done.
type wireResponse struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Output []wireItem `json:"output,omitempty"`
}

// responseParams customises a response.create request.
type responseParams struct {
	Instructions string   `json:"instructions,omitempty"`
	Modalities   []string `json:"modalities,omitempty"`
}

// WireError is the structured error payload of an error event.
type WireError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// TurnDetection configures remote voice-activity detection. A nil value on
// SessionConfig disables detection entirely (manual turn signalling).
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// InputTranscription selects the model transcribing user audio.
type InputTranscription struct {
	Model string `json:"model"`
}

// ToolSchema declares one callable tool to the remote agent.
type ToolSchema struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SessionConfig is the session.update payload.
type SessionConfig struct {
	Instructions       string              `json:"instructions,omitempty"`
	Voice              string              `json:"voice,omitempty"`
	Modalities         []string            `json:"modalities,omitempty"`
	InputAudioFormat   string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat  string              `json:"output_audio_format,omitempty"`
	InputTranscription *InputTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection      *TurnDetection      `json:"turn_detection"`
	Tools              []ToolSchema        `json:"tools,omitempty"`
}
