// Package realtime implements the bidirectional event channel to the remote
// conversational agent. The channel owns the authoritative, ordered
// conversation item list; every other component reads it back after each
// mutating event instead of applying deltas locally.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxloop-ai/voxloop/internal/audio/audiofmt"
	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

var (
	// ErrNotConnected indicates an operation on a closed channel.
	ErrNotConnected = errors.New("realtime: channel not connected")
	// ErrAlreadyConnected indicates Connect on an open channel.
	ErrAlreadyConnected = errors.New("realtime: channel already connected")
)

// AudioWriter receives decoded agent audio tagged by track.
type AudioWriter interface {
	AppendPCM(data []byte, trackID string) error
}

// TrackCompleter is optionally implemented by an AudioWriter that wants to
// know when a track's final delta has arrived.
type TrackCompleter interface {
	Complete(trackID string)
}

// Config carries the dial parameters for the conversation service.
type Config struct {
	URL    string
	APIKey string
	Model  string

	// OutputSampleRate is used to convert sample offsets into the
	// millisecond-based truncation requests the wire protocol expects.
	OutputSampleRate int
}

// Option configures the client.
type Option func(*Client)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAudioSink routes decoded response audio to the given writer.
func WithAudioSink(sink AudioWriter) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

// WithDialer overrides the websocket dialer, primarily for tests.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// Client is the websocket conversation channel.
type Client struct {
	bus       *eventbus.Bus
	logger    *log.Logger
	dialer    *websocket.Dialer
	sink      AudioWriter
	sessionID string

	cfg   Config
	items *itemStore
	tools *toolRegistry

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	readDone  chan struct{}

	writeMu sync.Mutex

	trackMu    sync.Mutex
	trackItems map[string]string // response id -> item id carrying its audio
}

// New constructs a disconnected channel client for the given session.
func New(bus *eventbus.Bus, sessionID string, cfg Config, opts ...Option) *Client {
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = 24000
	}
	c := &Client{
		bus:       bus,
		logger:    log.Default(),
		sessionID: sessionID,
		cfg:       cfg,
		items:     newItemStore(),
		tools:     newToolRegistry(),
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		},
		trackItems: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterTool makes a tool callable by the agent. Tools registered after
// Connect take effect on the next UpdateSessionConfig.
func (c *Client) RegisterTool(schema ToolSchema, handler ToolHandler) {
	c.tools.register(schema, handler)
}

// Connect dials the service and pushes the initial session configuration.
func (c *Client) Connect(ctx context.Context, session SessionConfig) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	url := c.cfg.URL
	if c.cfg.Model != "" {
		url = fmt.Sprintf("%s?model=%s", url, c.cfg.Model)
	}

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime: dial %s: status %d: %w", c.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("realtime: dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.UpdateSessionConfig(ctx, session); err != nil {
		_ = c.Close(ctx)
		return err
	}
	return nil
}

// Close tears the connection down. Safe to call repeatedly and when never
// connected.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	done := c.readDone
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()

	err := conn.Close()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Items returns a value snapshot of the conversation in order.
func (c *Client) Items() []Item {
	return c.items.snapshot()
}

// Reset drops the local item view. Used on session teardown.
func (c *Client) Reset() {
	c.items.reset()
	c.trackMu.Lock()
	c.trackItems = make(map[string]string)
	c.trackMu.Unlock()
}

// UpdateSessionConfig pushes a session.update carrying the registered tools.
func (c *Client) UpdateSessionConfig(ctx context.Context, session SessionConfig) error {
	session.Tools = c.tools.schemas()
	return c.send(ctx, clientEvent{Type: EventSessionUpdate, Session: &session})
}

// AppendInputAudio streams one capture frame into the input audio buffer.
func (c *Client) AppendInputAudio(ctx context.Context, frame []byte) error {
	return c.send(ctx, clientEvent{
		Type:  EventInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// CommitInputAudio closes the current input buffer segment, marking the end
// of a manual turn.
func (c *Client) CommitInputAudio(ctx context.Context) error {
	return c.send(ctx, clientEvent{Type: EventInputAudioCommit})
}

// SendUserContent creates a user message item from the given parts.
func (c *Client) SendUserContent(ctx context.Context, parts []ContentPart) error {
	return c.CreateItem(ctx, RoleUser, parts)
}

// CreateItem creates a message item with the given role and content.
func (c *Client) CreateItem(ctx context.Context, role Role, parts []ContentPart) error {
	wire := wireItem{
		ID:   "item_" + uuid.NewString()[:8],
		Type: "message",
		Role: string(role),
	}
	for _, part := range parts {
		switch part.Kind {
		case ContentText:
			kind := "input_text"
			if role == RoleAssistant {
				kind = "text"
			}
			wire.Content = append(wire.Content, wirePart{Type: kind, Text: part.Text})
		case ContentTranscript:
			wire.Content = append(wire.Content, wirePart{Type: "input_audio", Transcript: part.Transcript})
		}
	}
	return c.send(ctx, clientEvent{Type: EventItemCreate, Item: &wire})
}

// DeleteItem asks the service to remove the item. The local view updates when
// the deletion event comes back.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.send(ctx, clientEvent{Type: EventItemDelete, ItemID: id})
}

// CreateResponse explicitly requests an agent response.
func (c *Client) CreateResponse(ctx context.Context) error {
	return c.send(ctx, clientEvent{Type: EventResponseCreate})
}

// CancelResponse cancels the in-flight response identified by trackID and
// truncates its stored audio at sampleOffset, so the transcript cannot drift
// past what the user actually heard. Both writes complete before return,
// which lets callers order the cancellation ahead of new turn audio.
func (c *Client) CancelResponse(ctx context.Context, trackID string, sampleOffset int64) error {
	if err := c.send(ctx, clientEvent{Type: EventResponseCancel, ResponseID: trackID}); err != nil {
		return err
	}

	c.trackMu.Lock()
	itemID := c.trackItems[trackID]
	c.trackMu.Unlock()
	if itemID == "" {
		return nil
	}

	err := c.send(ctx, clientEvent{
		Type:       EventItemTruncate,
		ItemID:     itemID,
		AudioEndMS: audiofmt.MillisFromSamples(c.cfg.OutputSampleRate, sampleOffset),
	})
	if err != nil {
		return err
	}

	c.items.mutate(itemID, func(item *Item) {
		item.Status = StatusTruncated
	})
	c.publishItemUpdated(itemID, EventItemTruncate)
	return nil
}

// send marshals and writes one client event, mirroring it onto the bus as
// the client half of the raw event feed.
func (c *Client) send(ctx context.Context, evt clientEvent) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	if evt.EventID == "" {
		evt.EventID = "evt_" + uuid.NewString()[:8]
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s: %w", evt.Type, err)
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("realtime: write %s: %w", evt.Type, err)
	}

	eventbus.Publish(ctx, c.bus, eventbus.Channel.Event, eventbus.SourceChannel, eventbus.ChannelEvent{
		SessionID: c.sessionID,
		Origin:    eventbus.OriginClient,
		Type:      evt.Type,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.readDone != nil {
			close(c.readDone)
			c.readDone = nil
		}
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			open := c.connected
			c.mu.Unlock()
			if open && c.logger != nil {
				c.logger.Printf("[Realtime] read loop ended: %v", err)
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			if c.logger != nil {
				c.logger.Printf("[Realtime] invalid server event: %v", err)
			}
			continue
		}
		evt.raw = payload

		c.handleServerEvent(evt)
	}
}

func (c *Client) handleServerEvent(evt serverEvent) {
	ctx := context.Background()

	eventbus.Publish(ctx, c.bus, eventbus.Channel.Event, eventbus.SourceChannel, eventbus.ChannelEvent{
		SessionID: c.sessionID,
		Origin:    eventbus.OriginServer,
		Type:      evt.Type,
		Payload:   evt.raw,
		Timestamp: time.Now().UTC(),
	})

	switch evt.Type {
	case EventItemCreated:
		if evt.Item != nil {
			c.items.upsert(itemFromWire(*evt.Item))
			c.publishItemUpdated(evt.Item.ID, evt.Type)
		}

	case EventItemDeleted:
		if c.items.remove(evt.ItemID) {
			c.publishItemUpdated(evt.ItemID, evt.Type)
		}

	case EventItemTruncated:
		c.items.mutate(evt.ItemID, func(item *Item) {
			item.Status = StatusTruncated
		})
		c.publishItemUpdated(evt.ItemID, evt.Type)

	case EventInputTranscriptDone:
		c.items.mutate(evt.ItemID, func(item *Item) {
			setTranscript(item, evt.Transcript)
		})
		c.publishItemUpdated(evt.ItemID, evt.Type)

	case EventTranscriptDelta:
		c.items.mutate(evt.ItemID, func(item *Item) {
			appendTranscript(item, evt.Delta)
		})
		c.publishItemUpdated(evt.ItemID, evt.Type)

	case EventTranscriptDone:
		c.items.mutate(evt.ItemID, func(item *Item) {
			setTranscript(item, evt.Transcript)
		})
		c.publishItemUpdated(evt.ItemID, evt.Type)

	case EventResponseAudioDelta:
		c.handleAudioDelta(evt)

	case EventResponseDone:
		c.handleResponseDone(evt)

	case EventSpeechStarted:
		eventbus.Publish(ctx, c.bus, eventbus.Channel.Interrupted, eventbus.SourceChannel, eventbus.ChannelInterruptedEvent{
			SessionID: c.sessionID,
			Timestamp: time.Now().UTC(),
		})

	case EventFunctionCallArgsDone:
		go c.runTool(evt.CallID, evt.Name, evt.Arguments)

	case EventError:
		code, message := "", ""
		if evt.Error != nil {
			code, message = evt.Error.Code, evt.Error.Message
		}
		if c.logger != nil {
			c.logger.Printf("[Realtime] channel error code=%s: %s", code, message)
		}
		eventbus.Publish(ctx, c.bus, eventbus.Channel.Error, eventbus.SourceChannel, eventbus.ChannelErrorEvent{
			SessionID: c.sessionID,
			Code:      code,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (c *Client) handleAudioDelta(evt serverEvent) {
	trackID := evt.ResponseID
	if trackID == "" {
		return
	}

	if evt.ItemID != "" {
		c.trackMu.Lock()
		if _, seen := c.trackItems[trackID]; !seen {
			c.trackItems[trackID] = evt.ItemID
			c.items.mutate(evt.ItemID, func(item *Item) {
				item.Content = append(item.Content, ContentPart{Kind: ContentAudioRef, TrackID: trackID})
			})
		}
		c.trackMu.Unlock()
	}

	if c.sink == nil {
		return
	}
	data := evt.Delta
	if data == "" {
		data = evt.Audio
	}
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("[Realtime] bad audio delta for track %s: %v", trackID, err)
		}
		return
	}
	if err := c.sink.AppendPCM(pcm, trackID); err != nil && c.logger != nil {
		c.logger.Printf("[Realtime] sink append track %s: %v", trackID, err)
	}
}

func (c *Client) handleResponseDone(evt serverEvent) {
	if evt.Response == nil {
		return
	}
	for _, out := range evt.Response.Output {
		c.items.mutate(out.ID, func(item *Item) {
			if item.Status != StatusTruncated {
				item.Status = StatusCompleted
			}
		})
		c.publishItemUpdated(out.ID, evt.Type)
	}
	if completer, ok := c.sink.(TrackCompleter); ok && evt.Response.ID != "" {
		completer.Complete(evt.Response.ID)
	}
}

func (c *Client) runTool(callID, name, argsJSON string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	output, err := c.tools.invoke(ctx, name, argsJSON)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("[Realtime] tool %s failed: %v", name, err)
		}
		output = fmt.Sprintf(`{"error":%q}`, err.Error())
	}

	item := wireItem{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}
	if err := c.send(ctx, clientEvent{Type: EventItemCreate, Item: &item}); err != nil {
		if c.logger != nil {
			c.logger.Printf("[Realtime] tool result for %s not delivered: %v", name, err)
		}
		return
	}
	if err := c.CreateResponse(ctx); err != nil && c.logger != nil {
		c.logger.Printf("[Realtime] follow-up response after %s: %v", name, err)
	}
}

func (c *Client) publishItemUpdated(itemID, deltaType string) {
	eventbus.Publish(context.Background(), c.bus, eventbus.Channel.ItemUpdated, eventbus.SourceChannel, eventbus.ItemUpdatedEvent{
		SessionID: c.sessionID,
		ItemID:    itemID,
		DeltaType: deltaType,
	})
}

func itemFromWire(wire wireItem) Item {
	item := Item{
		ID:     wire.ID,
		Role:   Role(wire.Role),
		Status: ItemStatus(wire.Status),
	}
	if item.Status == "" {
		item.Status = StatusInProgress
	}
	switch wire.Type {
	case "function_call":
		item.Role = RoleTool
		item.Content = append(item.Content, ContentPart{
			Kind:     ContentToolCall,
			ToolName: wire.Name,
			ToolArgs: wire.Arguments,
		})
	case "function_call_output":
		item.Role = RoleTool
		item.Content = append(item.Content, ContentPart{
			Kind:       ContentToolResult,
			ToolOutput: wire.Output,
		})
	default:
		for _, part := range wire.Content {
			switch part.Type {
			case "input_text", "text":
				item.Content = append(item.Content, ContentPart{Kind: ContentText, Text: part.Text})
			case "input_audio", "audio":
				item.Content = append(item.Content, ContentPart{Kind: ContentTranscript, Transcript: part.Transcript})
			}
		}
	}
	return item
}

func setTranscript(item *Item, transcript string) {
	for i := range item.Content {
		if item.Content[i].Kind == ContentTranscript {
			item.Content[i].Transcript = transcript
			return
		}
	}
	item.Content = append(item.Content, ContentPart{Kind: ContentTranscript, Transcript: transcript})
}

func appendTranscript(item *Item, delta string) {
	for i := range item.Content {
		if item.Content[i].Kind == ContentTranscript {
			item.Content[i].Transcript += delta
			return
		}
	}
	item.Content = append(item.Content, ContentPart{Kind: ContentTranscript, Transcript: delta})
}
