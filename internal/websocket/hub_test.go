package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/worker"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, subject string) *Client {
	return &Client{
		hub:     hub,
		subject: subject,
		send:    make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "U1")
	c2 := mockClient(hub, "U2")

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "U1")
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestPublishTargetsSubject(t *testing.T) {
	hub := NewHub(slog.Default())

	a1 := mockClient(hub, "U1")
	a2 := mockClient(hub, "U1")
	b := mockClient(hub, "U2")
	for _, c := range []*Client{a1, a2, b} {
		hub.Register(c)
	}

	if n := hub.Publish("U1", premium.State{Premium: true}); n != 2 {
		t.Errorf("reached %d clients, want 2", n)
	}

	for _, c := range []*Client{a1, a2} {
		select {
		case data := <-c.send:
			msg, ok, err := worker.ParseMessage(data)
			if err != nil || !ok {
				t.Fatalf("parse: %v %v", ok, err)
			}
			if msg.Type != worker.TypeStatusUpdate || !msg.Premium {
				t.Errorf("msg = %+v", msg)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}
	select {
	case <-b.send:
		t.Error("other subject received the update")
	default:
	}
}

func TestPublishFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub, "U1")
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Publish("U1", premium.State{})
	}
	if n := hub.Publish("U1", premium.State{}); n != 0 {
		t.Errorf("full client counted as reached")
	}
	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered %d, want %d", got, sendBufferSize)
	}

	hub.Unregister(c)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "U1")
			hub.Register(c)
			hub.Publish("U1", premium.State{Premium: true})
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

type staticChecker map[string]bool

func (s staticChecker) Premium(_ context.Context, subject string) (bool, error) {
	return s[subject], nil
}

func TestHandleWebSocket(t *testing.T) {
	v, err := identity.NewHMACVerifier("0123456789abcdef0123456789abcdef", "https://issuer.test", "daily")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(HandleWebSocket(hub, v, staticChecker{"U1": true}, nil, slog.Default()))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := ws.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("anonymous dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous response = %v", resp)
	}

	tok, _ := v.Sign("U1", "", time.Hour)
	conn, _, err := ws.Dial(ctx, wsURL, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + tok}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() worker.Message {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg worker.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != worker.TypeStatusUpdate || !msg.Premium {
		t.Errorf("initial msg = %+v", msg)
	}

	req, _ := json.Marshal(worker.Message{Type: worker.TypeRequestStatus})
	if err := conn.Write(ctx, ws.MessageText, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(); !msg.Premium {
		t.Errorf("reply = %+v", msg)
	}

	hub.Publish("U1", premium.State{})
	if msg := read(); msg.Premium || msg.Pending {
		t.Errorf("published = %+v", msg)
	}
}
