package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"exam_portal_backend/internal/attempt"

	"github.com/gorilla/websocket"
)

func dialTopic(t *testing.T, hub *AttemptHub, topic string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, topic)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitFor(t, "subscription", func() bool { return hub.Subscribers(topic) > 0 })
	return conn
}

func TestAttemptHub_LocalDelivery(t *testing.T) {
	hub := NewAttemptHub(nil)
	defer hub.Stop()

	got := make(chan attempt.Snapshot, 1)
	hub.OnSnapshot = func(s attempt.Snapshot) { got <- s }

	userConn := dialTopic(t, hub, UserTopic(7))
	examConn := dialTopic(t, hub, ExamTopic("exam-1"))
	otherConn := dialTopic(t, hub, UserTopic(8))

	snap := attempt.Snapshot{AttemptID: "a1", ExamID: "exam-1", UserID: 7, Answered: 3, At: time.Now()}
	hub.Publish(context.Background(), snap)

	select {
	case s := <-got:
		if s.AttemptID != "a1" || s.Answered != 3 {
			t.Fatalf("callback snapshot = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnSnapshot not called")
	}

	for name, conn := range map[string]*websocket.Conn{"user": userConn, "exam": examConn} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("%s topic read: %v", name, err)
		}
		var msg struct {
			Type string           `json:"type"`
			Data attempt.Snapshot `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("%s topic decode: %v", name, err)
		}
		if msg.Type != snapshotType || msg.Data.AttemptID != "a1" {
			t.Fatalf("%s topic message = %+v", name, msg)
		}
	}

	otherConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := otherConn.ReadMessage(); err == nil {
		t.Fatal("unrelated user received the snapshot")
	}
}

func TestAttemptHub_PendingSnapshotsStayOffTheWire(t *testing.T) {
	hub := NewAttemptHub(nil)
	defer hub.Stop()
	conn := dialTopic(t, hub, UserTopic(7))

	ctx := context.Background()
	hub.Publish(ctx, attempt.Snapshot{AttemptID: "a1", ExamID: "exam-1", UserID: 7, Answered: 1, PendingWrites: true, At: time.Now()})
	hub.Publish(ctx, attempt.Snapshot{AttemptID: "a1", ExamID: "exam-1", UserID: 7, Answered: 2, At: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Data attempt.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Data.PendingWrites || msg.Data.Answered != 2 {
		t.Fatalf("first message = %+v, want the confirmed snapshot", msg.Data)
	}
}

func TestAttemptHub_StopClosesClients(t *testing.T) {
	hub := NewAttemptHub(nil)
	conn := dialTopic(t, hub, UserTopic(1))

	hub.Stop()
	if hub.Subscribers(UserTopic(1)) != 0 {
		t.Fatal("subscribers left after Stop")
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection still open after Stop")
	}
}
