package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

// Topics for the asynchronous sources feeding the orchestrator. One inbound
// topic per source keeps capture, playback and network callbacks from
// re-entering each other: every consumer drains its own queue in a single
// dispatch loop.
const (
	TopicCaptureFrame       Topic = "capture.frame"
	TopicCaptureState       Topic = "capture.state"
	TopicPlaybackProgress   Topic = "playback.progress"
	TopicPlaybackInterrupt  Topic = "playback.interrupt"
	TopicChannelEvent       Topic = "channel.event"
	TopicChannelError       Topic = "channel.error"
	TopicChannelInterrupted Topic = "channel.interrupted"
	TopicChannelItemUpdated Topic = "channel.item_updated"
	TopicSessionLifecycle   Topic = "session.lifecycle"
	TopicBargeTriggered     Topic = "barge.triggered"
)

// Source describes which component produced an event.
type Source string

const (
	SourceCapture  Source = "capture"
	SourcePlayback Source = "playback"
	SourceChannel  Source = "channel"
	SourceSession  Source = "session"
	SourceBarge    Source = "barge"
	SourceTurn     Source = "turn"
	SourceUnknown  Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// AudioEncoding identifies the codec of an audio stream.
type AudioEncoding string

const (
	AudioEncodingPCM16 AudioEncoding = "pcm_s16le"
)

// AudioFormat describes the characteristics of an audio buffer.
type AudioFormat struct {
	Encoding   AudioEncoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// CaptureState mirrors the operating state reported by an audio capture source.
type CaptureState string

const (
	CaptureIdle      CaptureState = "idle"
	CaptureRecording CaptureState = "recording"
	CapturePaused    CaptureState = "paused"
)

// CaptureFrameEvent carries one mono PCM frame delivered by the capture source.
type CaptureFrameEvent struct {
	SessionID string
	Sequence  uint64
	Format    AudioFormat
	Data      []byte
	Captured  time.Time
}

// CaptureStateEvent notifies observers that the capture source changed state.
type CaptureStateEvent struct {
	SessionID string
	State     CaptureState
	Timestamp time.Time
}

// PlaybackProgressEvent reports synthesized audio appended to or drained from
// a playback track. Final marks the track as fully played out.
type PlaybackProgressEvent struct {
	SessionID string
	TrackID   string
	Samples   int64
	Final     bool
}

// PlaybackInterruptedEvent records where a track actually stopped.
type PlaybackInterruptedEvent struct {
	SessionID    string
	TrackID      string
	SampleOffset int64
	Timestamp    time.Time
}

// EventOrigin distinguishes client-sent from server-sent channel traffic.
type EventOrigin string

const (
	OriginClient EventOrigin = "client"
	OriginServer EventOrigin = "server"
)

// ChannelEvent is the raw wire traffic feed consumed by the event log.
type ChannelEvent struct {
	SessionID string
	Origin    EventOrigin
	Type      string
	Payload   any
	Timestamp time.Time
}

// ChannelErrorEvent surfaces an asynchronous error from the remote channel.
// It does not by itself tear the session down.
type ChannelErrorEvent struct {
	SessionID string
	Code      string
	Message   string
	Timestamp time.Time
}

// ChannelInterruptedEvent signals that the remote side detected the user
// speaking over agent playback.
type ChannelInterruptedEvent struct {
	SessionID string
	Timestamp time.Time
}

// ItemUpdatedEvent notifies that the channel's conversation item list changed.
// Consumers re-read the list from the channel rather than applying the delta.
type ItemUpdatedEvent struct {
	SessionID string
	ItemID    string
	DeltaType string
}

// SessionState summarises orchestrator lifecycle transitions.
type SessionState string

const (
	SessionStateIdle          SessionState = "idle"
	SessionStateConnecting    SessionState = "connecting"
	SessionStateConnected     SessionState = "connected"
	SessionStateDisconnecting SessionState = "disconnecting"
)

// SessionLifecycleEvent notifies consumers about session state transitions.
type SessionLifecycleEvent struct {
	SessionID string
	State     SessionState
	Reason    string
}

// BargeTriggeredEvent records a completed barge-in: playback stopped at
// SampleOffset and the matching cancellation has been issued.
type BargeTriggeredEvent struct {
	SessionID    string
	TrackID      string
	SampleOffset int64
	Reason       string
	Timestamp    time.Time
}

// ---------------------------------------------------------------------------
// Typed topic descriptors
// ---------------------------------------------------------------------------
// Each TopicDef binds a Topic constant to its payload type, enabling
// compile-time enforcement via Publish[T] and SubscribeTo[T].

// Capture groups capture-source topic descriptors.
var Capture = struct {
	Frame TopicDef[CaptureFrameEvent]
	State TopicDef[CaptureStateEvent]
}{
	Frame: NewTopicDef[CaptureFrameEvent](TopicCaptureFrame),
	State: NewTopicDef[CaptureStateEvent](TopicCaptureState),
}

// Playback groups playback-sink topic descriptors.
var Playback = struct {
	Progress  TopicDef[PlaybackProgressEvent]
	Interrupt TopicDef[PlaybackInterruptedEvent]
}{
	Progress:  NewTopicDef[PlaybackProgressEvent](TopicPlaybackProgress),
	Interrupt: NewTopicDef[PlaybackInterruptedEvent](TopicPlaybackInterrupt),
}

// Channel groups remote-channel topic descriptors.
var Channel = struct {
	Event       TopicDef[ChannelEvent]
	Error       TopicDef[ChannelErrorEvent]
	Interrupted TopicDef[ChannelInterruptedEvent]
	ItemUpdated TopicDef[ItemUpdatedEvent]
}{
	Event:       NewTopicDef[ChannelEvent](TopicChannelEvent),
	Error:       NewTopicDef[ChannelErrorEvent](TopicChannelError),
	Interrupted: NewTopicDef[ChannelInterruptedEvent](TopicChannelInterrupted),
	ItemUpdated: NewTopicDef[ItemUpdatedEvent](TopicChannelItemUpdated),
}

// Session groups session lifecycle topic descriptors.
var Session = struct {
	Lifecycle TopicDef[SessionLifecycleEvent]
}{
	Lifecycle: NewTopicDef[SessionLifecycleEvent](TopicSessionLifecycle),
}

// Barge groups barge-in topic descriptors.
var Barge = struct {
	Triggered TopicDef[BargeTriggeredEvent]
}{
	Triggered: NewTopicDef[BargeTriggeredEvent](TopicBargeTriggered),
}
