package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestClientOverWebsocket(t *testing.T) {
	received := make(chan string, 16)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ws-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{"id":"sess_ws","model":"`+r.URL.Query().Get("model")+`"}}`))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var message struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &message); err != nil {
				continue
			}
			received <- message.Type

			if message.Type == typeResponseCreate {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.created","response":{"id":"resp_ws"}}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.audio.delta","response_id":"resp_ws","delta":"AAAA"}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.audio.done","response_id":"resp_ws"}`))
			}
		}
	}))
	defer server.Close()

	recorder := &eventRecorder{}
	client := NewClient(
		WithURL("ws"+strings.TrimPrefix(server.URL, "http")),
		WithTokenSource(StaticToken("ws-key")),
		WithEventHandler(recorder.record),
		WithCloseGracePeriod(time.Second),
	)

	if err := client.Connect(context.Background(), DefaultSessionConfig()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if got := client.Session().Model; got != "gpt-4o-realtime-preview" {
		t.Fatalf("expected model to round trip, got %q", got)
	}

	if err := client.SendText("hello"); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	events := recorder.waitForCount(t, 3)
	if events[0].Kind != EventResponseCreated || events[1].Kind != EventAudioSegment || events[2].Kind != EventResponseComplete {
		t.Fatalf("unexpected events %v", events)
	}

	for _, expected := range []string{typeSessionUpdate, typeConversationItemCreate, typeResponseCreate} {
		select {
		case got := <-received:
			if got != expected {
				t.Fatalf("expected server to receive %s, got %s", expected, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", expected)
		}
	}

	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if client.State() != StateClosed {
		t.Fatalf("expected closed, got %s", client.State())
	}
}

func TestWebsocketDialRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(WithURL("ws"+strings.TrimPrefix(server.URL, "http")), WithTokenSource(StaticToken("bad")))
	err := client.Connect(context.Background(), DefaultSessionConfig())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected dial error with status, got %v", err)
	}
	if client.State() != StateFailed {
		t.Fatalf("expected failed, got %s", client.State())
	}
}

func TestEphemeralTokenSourceCachesSecret(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/v1/realtime/sessions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var body ephemeralSessionRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "gpt-test" {
			http.Error(w, "bad model", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_secret": map[string]any{
				"value":      "ek_secret",
				"expires_at": time.Now().Add(time.Minute).Unix(),
			},
		})
	}))
	defer server.Close()

	source := NewEphemeralTokenSource("sk-test", server.URL+"/", "gpt-test", "alloy")
	for range 2 {
		token, err := source.Token(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token != "ek_secret" {
			t.Fatalf("expected ek_secret, got %q", token)
		}
	}
	if requests != 1 {
		t.Fatalf("expected a single request, got %d", requests)
	}

	source.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := source.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected the expired secret to be refreshed, got %d requests", requests)
	}
}

func TestEphemeralTokenSourceReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	source := NewEphemeralTokenSource("sk-test", server.URL, "gpt-test", "")
	_, err := source.Token(context.Background())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}
