package hints

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

	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/worker"
)

type applied struct {
	subject string
	state   premium.State
}

type fakeTarget struct {
	mu      sync.Mutex
	subject string
	got     []applied
	ch      chan struct{}
}

func (f *fakeTarget) Subject() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subject
}

func (f *fakeTarget) Apply(subject string, st premium.State) {
	f.mu.Lock()
	f.got = append(f.got, applied{subject, st})
	f.mu.Unlock()
	f.ch <- struct{}{}
}

func statusServer(t *testing.T, msgs ...worker.Message) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for _, m := range msgs {
			data, _ := json.Marshal(m)
			if err := conn.Write(r.Context(), ws.MessageText, data); err != nil {
				return
			}
		}
		// Hold the connection open until the client leaves.
		conn.Read(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListenerAppliesResolvedUpdates(t *testing.T) {
	srv := statusServer(t,
		worker.StatusUpdate(premium.State{Pending: true}),
		worker.Message{Type: worker.TypeRequestStatus},
		worker.StatusUpdate(premium.State{Premium: true}),
	)
	target := &fakeTarget{subject: "U1", ch: make(chan struct{}, 4)}
	l := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), MinBackoff: 10 * time.Millisecond}, target, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-target.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no update applied")
	}
	cancel()
	<-done

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.got) != 1 {
		t.Fatalf("applied %d updates, want 1", len(target.got))
	}
	if target.got[0] != (applied{"U1", premium.State{Premium: true}}) {
		t.Errorf("applied = %+v", target.got[0])
	}
}

func TestListenerWaitsForIdentity(t *testing.T) {
	dials := 0
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	target := &fakeTarget{ch: make(chan struct{}, 1)}
	l := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), MinBackoff: 5 * time.Millisecond, MaxBackoff: 5 * time.Millisecond}, target, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if dials != 0 {
		t.Errorf("anonymous listener dialed %d times", dials)
	}
}
