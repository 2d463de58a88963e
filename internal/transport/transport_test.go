package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/broker"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/store"
)

func TestHub_RegisterAndFanOut(t *testing.T) {
	hub := NewHub()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	hub.Register("s1", conn1)
	hub.Register("s1", conn2)
	if got := len(hub.Connections("s1")); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
	if hub.ActiveSessions() != 1 {
		t.Errorf("active sessions = %d, want 1", hub.ActiveSessions())
	}

	hub.Unregister("s1", conn1)
	if got := len(hub.Connections("s1")); got != 1 {
		t.Errorf("connections after unregister = %d, want 1", got)
	}

	hub.Unregister("s1", conn2)
	if hub.ActiveSessions() != 0 {
		t.Errorf("active sessions after last unregister = %d, want 0", hub.ActiveSessions())
	}
}

func TestHub_UnknownSession(t *testing.T) {
	hub := NewHub()
	if conns := hub.Connections("nope"); len(conns) != 0 {
		t.Errorf("connections for unknown session = %d, want 0", len(conns))
	}
	// Unregistering something never registered must not panic.
	hub.Unregister("nope", &websocket.Conn{})
}

type wsTestEnv struct {
	handler *Handler
	repo    *store.SQLiteStore
	queue   *broker.MemoryBroker

	mu        sync.Mutex
	published []domain.QueuedRequest
}

func newWSTestEnv(t *testing.T) *wsTestEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	env := &wsTestEnv{repo: repo, queue: broker.NewMemory(log)}
	env.queue.ConsumeRequests(context.Background(), func(_ context.Context, req domain.QueuedRequest) error {
		env.mu.Lock()
		env.published = append(env.published, req)
		env.mu.Unlock()
		return nil
	})

	env.handler = NewHandler(repo, env.queue, NewHub(), "", true, log)
	return env
}

func (env *wsTestEnv) requests() []domain.QueuedRequest {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]domain.QueuedRequest(nil), env.published...)
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	var frame envelope
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	return frame
}

func TestConnectGreetsAndCreatesSession(t *testing.T) {
	env := newWSTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	frame := readEvent(t, ctx, conn)
	if frame.Event != EventMessage {
		t.Fatalf("first event = %q, want %q", frame.Event, EventMessage)
	}
	var greeting MessagePayload
	if err := json.Unmarshal(frame.Data, &greeting); err != nil {
		t.Fatalf("decoding greeting: %v", err)
	}
	if greeting.IsFromUser || greeting.Content == "" {
		t.Errorf("greeting = %+v, want non-empty bot message", greeting)
	}
}

func TestInboundMessagePersistsPublishesAndStartsTyping(t *testing.T) {
	env := newWSTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"?user_id=42", nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readEvent(t, ctx, conn) // greeting

	data, _ := json.Marshal(MessagePayload{Content: "looking for red shoes size 9"})
	frame, _ := json.Marshal(envelope{Event: EventMessage, Data: data})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	typing := readEvent(t, ctx, conn)
	if typing.Event != EventTyping {
		t.Fatalf("event = %q, want %q", typing.Event, EventTyping)
	}
	var tp TypingPayload
	if err := json.Unmarshal(typing.Data, &tp); err != nil || !tp.IsTyping {
		t.Errorf("typing payload = %+v, want isTyping true", tp)
	}

	reqs := env.requests()
	if len(reqs) != 1 {
		t.Fatalf("published requests = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Content != "looking for red shoes size 9" || req.SessionID == "" || req.MessageID == "" {
		t.Errorf("request = %+v", req)
	}
	if req.UserID == nil || *req.UserID != 42 {
		t.Errorf("userID = %v, want 42", req.UserID)
	}

	history, err := env.repo.History(ctx, req.SessionID, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || !history[0].IsFromUser || history[0].ID != req.MessageID {
		t.Errorf("history = %+v, want the persisted user message", history)
	}
}

func TestDisconnectDeactivatesSession(t *testing.T) {
	env := newWSTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	readEvent(t, ctx, conn)

	data, _ := json.Marshal(MessagePayload{Content: "hi"})
	frame, _ := json.Marshal(envelope{Event: EventMessage, Data: data})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
	readEvent(t, ctx, conn) // typing

	sessionID := env.requests()[0].SessionID
	conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		session, err := env.repo.GetSession(ctx, sessionID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if session != nil && !session.Active {
			// History survives deactivation.
			history, err := env.repo.History(ctx, sessionID, 10)
			if err != nil || len(history) == 0 {
				t.Fatalf("history after disconnect = %v, %v", history, err)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("session never deactivated after disconnect")
}
