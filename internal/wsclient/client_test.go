package wsclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientReceivesMessages(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("one"))
		conn.WriteMessage(websocket.TextMessage, []byte("two"))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	msgs := make(chan string, 4)
	connected := make(chan struct{}, 1)
	client := New(Config{
		URL:            url,
		ReconnectDelay: 10 * time.Millisecond,
		Log:            slog.New(slog.DiscardHandler),
		OnConnect:      func() { connected <- struct{}{} },
		OnMessage:      func(data []byte) { msgs <- string(data) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- client.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}
	for _, want := range []string{"one", "two"} {
		select {
		case got := <-msgs:
			if got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("never received %q", want)
		}
	}

	cancel()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestClientStopsAfterMaxAttempts(t *testing.T) {
	client := New(Config{
		URL:            "ws://127.0.0.1:1/ws",
		ReconnectDelay: 5 * time.Millisecond,
		MaxAttempts:    2,
		Log:            slog.New(slog.DiscardHandler),
	})

	err := client.Run(context.Background())
	if !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("expected ErrMaxAttempts, got %v", err)
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("hi"))
		conn.Close()
	})

	connects := make(chan struct{}, 8)
	drops := make(chan error, 8)
	client := New(Config{
		URL:            url,
		ReconnectDelay: 5 * time.Millisecond,
		MaxAttempts:    5,
		Log:            slog.New(slog.DiscardHandler),
		OnConnect:      func() { connects <- struct{}{} },
		OnDrop:         func(err error) { drops <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- client.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-connects:
		case <-time.After(2 * time.Second):
			t.Fatalf("connect %d never happened", i+1)
		}
	}
	select {
	case err := <-drops:
		if err == nil {
			t.Fatal("expected a drop error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drop callback never fired")
	}

	cancel()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
