package realtime_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
	"github.com/voxloop-ai/voxloop/internal/realtime"
)

// fakeService is an in-process stand-in for the conversation service. It
// upgrades one websocket connection, decodes every client event onto recv,
// and writes raw server events pushed through send.
type fakeService struct {
	t    *testing.T
	srv  *httptest.Server
	recv chan map[string]any
	send chan string
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	fs := &fakeService{
		t:    t,
		recv: make(chan map[string]any, 32),
		send: make(chan string, 32),
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		go func() {
			for raw := range fs.send {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
					return
				}
			}
		}()

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			fs.recv <- msg
		}
	})
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeService) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeService) nextEvent(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-fs.recv:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client event")
		return nil
	}
}

func (fs *fakeService) push(raw string) {
	fs.send <- raw
}

type recordedAudio struct {
	trackID string
	data    []byte
}

type fakeSink struct {
	appended chan recordedAudio
	done     chan string
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		appended: make(chan recordedAudio, 8),
		done:     make(chan string, 8),
	}
}

func (s *fakeSink) AppendPCM(data []byte, trackID string) error {
	s.appended <- recordedAudio{trackID: trackID, data: append([]byte(nil), data...)}
	return nil
}

func (s *fakeSink) Complete(trackID string) {
	s.done <- trackID
}

func connectedClient(t *testing.T, fs *fakeService, bus *eventbus.Bus, opts ...realtime.Option) *realtime.Client {
	t.Helper()
	client := realtime.New(bus, "sess-test", realtime.Config{
		URL:              fs.url(),
		APIKey:           "sk-test",
		OutputSampleRate: 24000,
	}, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx, realtime.SessionConfig{Voice: "verse"}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Close(shutdownCtx)
	})
	return client
}

func TestConnectSendsSessionUpdate(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	fs := newFakeService(t)

	client := realtime.New(bus, "sess-test", realtime.Config{URL: fs.url()})
	client.RegisterTool(realtime.ToolSchema{
		Name:        "get_memory",
		Description: "reads a remembered value",
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return "{}", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx, realtime.SessionConfig{}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close(ctx)

	msg := fs.nextEvent(t)
	if msg["type"] != "session.update" {
		t.Fatalf("expected session.update first, got %v", msg["type"])
	}
	session, ok := msg["session"].(map[string]any)
	if !ok {
		t.Fatalf("session.update missing session payload: %v", msg)
	}
	tools, ok := session["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("expected one registered tool in session.update, got %v", session["tools"])
	}

	if err := client.Connect(ctx, realtime.SessionConfig{}); err != realtime.ErrAlreadyConnected {
		t.Fatalf("expected ErrAlreadyConnected on second connect, got %v", err)
	}
}

func TestAppendInputAudioEncodesFrame(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	fs := newFakeService(t)
	client := connectedClient(t, fs, bus)
	fs.nextEvent(t) // session.update

	frame := []byte{0x01, 0x02, 0x03, 0x04}
	ctx := context.Background()
	if err := client.AppendInputAudio(ctx, frame); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	msg := fs.nextEvent(t)
	if msg["type"] != "input_audio_buffer.append" {
		t.Fatalf("expected input_audio_buffer.append, got %v", msg["type"])
	}
	decoded, err := base64.StdEncoding.DecodeString(msg["audio"].(string))
	if err != nil {
		t.Fatalf("audio payload not base64: %v", err)
	}
	if string(decoded) != string(frame) {
		t.Fatalf("frame mismatch: got %v want %v", decoded, frame)
	}
}

func TestServerItemCreatedVisibleInItems(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	fs := newFakeService(t)
	client := connectedClient(t, fs, bus)
	fs.nextEvent(t)

	updates := eventbus.SubscribeTo[eventbus.ItemUpdatedEvent](bus, eventbus.Channel.ItemUpdated)
	defer updates.Close()

	fs.push(`{"type":"conversation.item.created","item":{"id":"item_1","type":"message","role":"user","content":[{"type":"input_text","text":"hello there"}]}}`)

	select {
	case env := <-updates.C():
		if env.Payload.ItemID != "item_1" {
			t.Fatalf("unexpected item id %q", env.Payload.ItemID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for item update")
	}

	items := client.Items()
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].ID != "item_1" || items[0].Role != realtime.RoleUser {
		t.Fatalf("unexpected item: %+v", items[0])
	}
	if got := items[0].Text(); got != "hello there" {
		t.Fatalf("unexpected item text %q", got)
	}
}

func TestAudioDeltaRoutedToSink(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	fs := newFakeService(t)
	sink := newFakeSink()
	client := connectedClient(t, fs, bus, realtime.WithAudioSink(sink))
	fs.nextEvent(t)
	_ = client

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	encoded := base64.StdEncoding.EncodeToString(pcm)
	fs.push(`{"type":"conversation.item.created","item":{"id":"item_a","type":"message","role":"assistant"}}`)
	fs.push(`{"type":"response.audio.delta","response_id":"resp_1","item_id":"item_a","delta":"` + encoded + `"}`)

	select {
	case got := <-sink.appended:
		if got.trackID != "resp_1" {
			t.Fatalf("expected track resp_1, got %q", got.trackID)
		}
		if string(got.data) != string(pcm) {
			t.Fatalf("pcm mismatch: got %v want %v", got.data, pcm)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink append")
	}

	fs.push(`{"type":"response.done","response":{"id":"resp_1","status":"completed","output":[{"id":"item_a","type":"message","role":"assistant"}]}}`)

	select {
	case trackID := <-sink.done:
		if trackID != "resp_1" {
			t.Fatalf("expected completion of resp_1, got %q", trackID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for track completion")
	}
}

func TestCancelResponseTruncatesTrack(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	fs := newFakeService(t)
	sink := newFakeSink()
	client := connectedClient(t, fs, bus, realtime.WithAudioSink(sink))
	fs.nextEvent(t)

	fs.push(`{"type":"conversation.item.created","item":{"id":"item_a","type":"message","role":"assistant"}}`)
	fs.push(`{"type":"response.audio.delta","response_id":"resp_1","item_id":"item_a","delta":"` +
		base64.StdEncoding.EncodeToString(make([]byte, 960)) + `"}`)
	<-sink.appended

	// 4800 samples at 24kHz is 200ms of audio actually played.
	if err := client.CancelResponse(context.Background(), "resp_1", 4800); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	cancelMsg := fs.nextEvent(t)
	if cancelMsg["type"] != "response.cancel" {
		t.Fatalf("expected response.cancel first, got %v", cancelMsg["type"])
	}
	if cancelMsg["response_id"] != "resp_1" {
		t.Fatalf("unexpected response id %v", cancelMsg["response_id"])
	}

	truncMsg := fs.nextEvent(t)
	if truncMsg["type"] != "conversation.item.truncate" {
		t.Fatalf("expected conversation.item.truncate second, got %v", truncMsg["type"])
	}
	if truncMsg["item_id"] != "item_a" {
		t.Fatalf("unexpected item id %v", truncMsg["item_id"])
	}
	if ms := truncMsg["audio_end_ms"].(float64); ms != 200 {
		t.Fatalf("expected audio_end_ms 200, got %v", ms)
	}

	items := client.Items()
	if len(items) != 1 || items[0].Status != realtime.StatusTruncated {
		t.Fatalf("expected truncated item, got %+v", items)
	}
}

func TestSpeechStartedPublishesInterrupted(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	fs := newFakeService(t)
	_ = connectedClient(t, fs, bus)
	fs.nextEvent(t)

	interrupts := eventbus.SubscribeTo[eventbus.ChannelInterruptedEvent](bus, eventbus.Channel.Interrupted)
	defer interrupts.Close()

	fs.push(`{"type":"input_audio_buffer.speech_started"}`)

	select {
	case env := <-interrupts.C():
		if env.Payload.SessionID != "sess-test" {
			t.Fatalf("unexpected session id %q", env.Payload.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for interruption event")
	}
}

func TestErrorEventKeepsChannelOpen(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	fs := newFakeService(t)
	client := connectedClient(t, fs, bus)
	fs.nextEvent(t)

	errs := eventbus.SubscribeTo[eventbus.ChannelErrorEvent](bus, eventbus.Channel.Error)
	defer errs.Close()

	fs.push(`{"type":"error","error":{"code":"rate_limit","message":"slow down"}}`)

	select {
	case env := <-errs.C():
		if env.Payload.Code != "rate_limit" {
			t.Fatalf("unexpected error code %q", env.Payload.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel error")
	}

	if !client.IsConnected() {
		t.Fatal("channel should stay open after an error event")
	}
	if err := client.AppendInputAudio(context.Background(), []byte{0x00, 0x01}); err != nil {
		t.Fatalf("channel unusable after error event: %v", err)
	}
}

func TestToolInvocationRoundTrip(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	fs := newFakeService(t)

	client := realtime.New(bus, "sess-test", realtime.Config{URL: fs.url()})
	client.RegisterTool(realtime.ToolSchema{Name: "set_memory"}, func(ctx context.Context, args map[string]any) (string, error) {
		if args["key"] != "color" {
			t.Errorf("unexpected args %v", args)
		}
		return `{"ok":true}`, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx, realtime.SessionConfig{}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close(ctx)
	fs.nextEvent(t)

	fs.push(`{"type":"response.function_call_arguments.done","call_id":"call_1","name":"set_memory","arguments":"{\"key\":\"color\",\"value\":\"blue\"}"}`)

	created := fs.nextEvent(t)
	if created["type"] != "conversation.item.create" {
		t.Fatalf("expected conversation.item.create, got %v", created["type"])
	}
	item := created["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" {
		t.Fatalf("unexpected tool result item: %v", item)
	}
	if item["output"] != `{"ok":true}` {
		t.Fatalf("unexpected tool output %v", item["output"])
	}

	followup := fs.nextEvent(t)
	if followup["type"] != "response.create" {
		t.Fatalf("expected response.create after tool result, got %v", followup["type"])
	}
}

func TestOperationsFailWhenDisconnected(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()

	client := realtime.New(bus, "sess-test", realtime.Config{URL: "ws://127.0.0.1:1"})
	ctx := context.Background()

	if err := client.AppendInputAudio(ctx, []byte{0x00}); err != realtime.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := client.CreateResponse(ctx); err != realtime.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := client.Close(ctx); err != nil {
		t.Fatalf("close on disconnected client should be a no-op, got %v", err)
	}
}
