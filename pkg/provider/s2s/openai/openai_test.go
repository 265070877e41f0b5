package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voiceguide/pkg/audio"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startOpenAIServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startOpenAIServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// handshake announces the session and consumes the client's session.update.
func handshake(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	writeJSON(t, conn, map[string]any{"type": "session.created", "session": map[string]any{}})
	var update map[string]any
	readJSON(t, conn, &update)
	return update
}

func connect(t *testing.T, srv *httptest.Server, cfg s2s.SessionConfig) s2s.SessionHandle {
	t.Helper()
	p := openai.New("key", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })
	return handle
}

func nextEvent(t *testing.T, h s2s.SessionHandle) s2s.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return s2s.Event{}
}

// ── Connect ──────────────────────────────────────────────────────────────────

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, r *http.Request) {
		modelCh <- r.URL.Query().Get("model")
		handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("key", openai.WithModel("gpt-realtime-test"), openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if got := <-modelCh; got != "gpt-realtime-test" {
		t.Errorf("model = %q; want gpt-realtime-test", got)
	}
}

func TestConnect_SendsAuthHeaders(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := openai.New("my-secret-token", openai.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	h := <-headers
	if auth := h.Get("Authorization"); auth != "Bearer my-secret-token" {
		t.Errorf("Authorization = %q; want Bearer my-secret-token", auth)
	}
	if beta := h.Get("OpenAI-Beta"); beta != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q; want realtime=v1", beta)
	}
}

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	updates := make(chan map[string]any, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		updates <- handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, s2s.SessionConfig{
		Voice:        "verse",
		Instructions: "Be brief.",
		Tools: []s2s.ToolDefinition{{
			Name:       "navigateToPage",
			Parameters: map[string]any{"type": "object"},
		}},
		InputTranscription: true,
	})

	msg := <-updates
	if msg["type"] != "session.update" {
		t.Fatalf("type = %v; want session.update", msg["type"])
	}
	sess := msg["session"].(map[string]any)
	if sess["voice"] != "verse" {
		t.Errorf("voice = %v; want verse", sess["voice"])
	}
	if sess["instructions"] != "Be brief." {
		t.Errorf("instructions = %v", sess["instructions"])
	}
	if sess["input_audio_format"] != "pcm16" || sess["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v/%v; want pcm16", sess["input_audio_format"], sess["output_audio_format"])
	}
	tools := sess["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["type"] != "function" {
		t.Errorf("tools = %v", tools)
	}
	if sess["input_audio_transcription"] == nil {
		t.Error("input_audio_transcription should be set")
	}
}

func TestConnect_ForeignVoiceOmitted(t *testing.T) {
	t.Parallel()

	updates := make(chan map[string]any, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		updates <- handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, s2s.SessionConfig{Voice: "Charon"})

	sess := (<-updates)["session"].(map[string]any)
	if _, ok := sess["voice"]; ok {
		t.Errorf("voice = %v; want omitted", sess["voice"])
	}
}

func TestConnect_HandshakeTimeout(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := openai.New("key", openai.WithBaseURL(wsURL(srv))).Connect(ctx, s2s.SessionConfig{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect err = %v; want deadline exceeded", err)
	}
}

func TestConnect_HandshakeError(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]any{"code": "invalid_api_key", "message": "Incorrect API key"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	_, err := openai.New("key", openai.WithBaseURL(wsURL(srv))).Connect(context.Background(), s2s.SessionConfig{})
	if err == nil || !strings.Contains(err.Error(), "invalid_api_key") {
		t.Fatalf("Connect err = %v; want invalid_api_key", err)
	}
}

// ── SendAudio ────────────────────────────────────────────────────────────────

func TestSendAudio_ResamplesTo24k(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	received := make(chan appendMsg, 1)

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		var msg appendMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})

	blob := audio.EncodeBlob(audio.NewFrame(make([]float32, 160), audio.CaptureSampleRate))
	if err := handle.SendAudio(blob); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if len(pcm) != 240*2 {
			t.Errorf("got %d bytes; want %d (160 samples at 16k → 240 at 24k)", len(pcm), 240*2)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio append message")
	}
}

func TestSendAudio_AfterClose_ReturnsErrSessionClosed(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	_ = handle.Close()

	if err := handle.SendAudio(audio.Blob{}); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Fatalf("SendAudio after Close = %v; want ErrSessionClosed", err)
	}
}

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	blob := audio.EncodeBlob(audio.NewFrame(make([]float32, 32), audio.CaptureSampleRate))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				_ = handle.SendAudio(blob)
			}
		}()
	}
	wg.Wait()
}

// ── Events ───────────────────────────────────────────────────────────────────

func TestEvents_Translation(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		writeJSON(t, conn, map[string]any{"type": "session.updated"})
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "show photos"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Sure"})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": "AAAA"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})

	want := []s2s.Event{
		{Kind: s2s.EventTranscript, Role: s2s.RoleUser, Text: "show photos"},
		{Kind: s2s.EventTranscript, Role: s2s.RoleModel, Text: "Sure"},
		{Kind: s2s.EventAudio, Audio: "AAAA", SampleRate: 24000},
		{Kind: s2s.EventInterrupted},
		{Kind: s2s.EventTurnComplete},
	}
	for i, w := range want {
		got := nextEvent(t, handle)
		if got.Kind != w.Kind || got.Role != w.Role || got.Text != w.Text || got.Audio != w.Audio || got.SampleRate != w.SampleRate {
			t.Errorf("event %d = %+v; want %+v", i, got, w)
		}
	}
}

func TestToolCall_RoundTrip(t *testing.T) {
	t.Parallel()

	received := make(chan []map[string]any, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		writeJSON(t, conn, map[string]any{
			"type":      "response.function_call_arguments.done",
			"call_id":   "call_42",
			"name":      "navigateToPage",
			"arguments": `{"page":"about"}`,
		})
		var item, create map[string]any
		readJSON(t, conn, &item)
		readJSON(t, conn, &create)
		received <- []map[string]any{item, create}
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})

	ev := nextEvent(t, handle)
	if ev.Kind != s2s.EventToolCall || ev.ToolCall == nil {
		t.Fatalf("event = %+v; want tool call", ev)
	}
	if ev.ToolCall.ID != "call_42" || ev.ToolCall.Args["page"] != "about" {
		t.Errorf("tool call = %+v", ev.ToolCall)
	}

	if err := handle.SendToolResponse(s2s.ToolResponse{ID: "call_42", Name: "navigateToPage", Result: "ok"}); err != nil {
		t.Fatalf("SendToolResponse: %v", err)
	}

	select {
	case msgs := <-received:
		item := msgs[0]["item"].(map[string]any)
		if msgs[0]["type"] != "conversation.item.create" || item["type"] != "function_call_output" {
			t.Errorf("item message = %v", msgs[0])
		}
		if item["call_id"] != "call_42" || item["output"] != "ok" {
			t.Errorf("item = %v", item)
		}
		if msgs[1]["type"] != "response.create" {
			t.Errorf("second message = %v; want response.create", msgs[1])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tool response")
	}
}

func TestToolCall_MalformedArgumentsStillDelivered(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		writeJSON(t, conn, map[string]any{
			"type":      "response.function_call_arguments.done",
			"call_id":   "c1",
			"name":      "navigateToPage",
			"arguments": `{not json`,
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	ev := nextEvent(t, handle)
	if ev.Kind != s2s.EventToolCall || ev.ToolCall.ID != "c1" {
		t.Fatalf("event = %+v; want tool call c1", ev)
	}
	if ev.ToolCall.Args == nil {
		t.Error("Args should be non-nil")
	}
}

func TestNonFatalError_KeepsSession(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "no active response"}})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	if ev := nextEvent(t, handle); ev.Kind != s2s.EventTurnComplete {
		t.Fatalf("event = %+v; want turn complete", ev)
	}
	if err := handle.Err(); err != nil {
		t.Errorf("Err() = %v; want nil", err)
	}
}

func TestFatalError_EndsSession(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"code": "session_expired", "message": "expired"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	for range handle.Events() {
	}
	if err := handle.Err(); err == nil || !strings.Contains(err.Error(), "session_expired") {
		t.Errorf("Err() = %v; want session_expired", err)
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_IdempotentAndClosesEvents(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		handshake(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	if err := handle.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for range handle.Events() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}
