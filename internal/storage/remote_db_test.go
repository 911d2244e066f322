// ABOUTME: Tests for the REST realtime database client against a fake server.
// ABOUTME: Covers verb mapping, auth query, push keys, and event-stream handling.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
)

// recordedRequest captures what the fake server saw.
type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

type fakeRemote struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.URL.Query().Get("auth"),
		Body:   string(body),
	})
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeRemote) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func quietLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newFakeRemote(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*fakeRemote, *RemoteDB) {
	t.Helper()
	fake := &fakeRemote{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	db := NewRemoteDB(srv.URL+"/", "s3cret",
		WithRemoteLogger(quietLogger()),
		WithReconnectBackoff(time.Millisecond, 5*time.Millisecond),
	)
	t.Cleanup(func() { _ = db.Close() })
	return fake, db
}

func TestRemoteGet(t *testing.T) {
	fake, db := newFakeRemote(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"likes":3}`))
	})

	data, err := db.Get(context.Background(), "posts/a")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(data) != `{"likes":3}` {
		t.Errorf("unexpected body %s", data)
	}

	req := fake.last()
	if req.Method != http.MethodGet || req.Path != "/posts/a.json" {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Auth != "s3cret" {
		t.Errorf("expected auth query, got %q", req.Auth)
	}
}

func TestRemoteGetNullIsNotFound(t *testing.T) {
	_, db := newFakeRemote(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	})

	_, err := db.Get(context.Background(), "posts/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoteWriteVerbs(t *testing.T) {
	fake, db := newFakeRemote(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"name":"-Nabc"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	ctx := context.Background()

	if err := db.Update(ctx, "posts/a", map[string]any{"likes": 4}); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got := fake.last(); got.Method != http.MethodPatch || got.Body != `{"likes":4}` {
		t.Errorf("unexpected update request %+v", got)
	}

	if err := db.Set(ctx, "posts/a", map[string]any{"postName": "x"}); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if got := fake.last(); got.Method != http.MethodPut {
		t.Errorf("expected PUT, got %s", got.Method)
	}

	id, err := db.Push(ctx, "posts", map[string]any{"postName": "y"})
	if err != nil {
		t.Fatalf("Push error: %v", err)
	}
	if id != "-Nabc" {
		t.Errorf("expected pushed key -Nabc, got %q", id)
	}
	if got := fake.last(); got.Method != http.MethodPost || got.Path != "/posts.json" {
		t.Errorf("unexpected push request %+v", got)
	}
}

func TestRemoteErrorStatus(t *testing.T) {
	_, db := newFakeRemote(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Permission denied"}`, http.StatusUnauthorized)
	})

	err := db.Update(context.Background(), "posts/a", map[string]any{"likes": 1})
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestRemotePing(t *testing.T) {
	var shallow atomic.Value
	_, db := newFakeRemote(t, func(w http.ResponseWriter, r *http.Request) {
		shallow.Store(r.URL.Query().Get("shallow"))
		_, _ = w.Write([]byte(`{"a":true}`))
	})

	if err := db.Ping(context.Background(), "posts"); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
	if shallow.Load() != "true" {
		t.Errorf("expected shallow=true, got %v", shallow.Load())
	}
}

func writeEvent(w http.ResponseWriter, event, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func decodeSnapshot(t *testing.T, sub *Subscription) map[string]any {
	t.Helper()
	v := nextSnapshot(t, sub)
	m, _ := v.(map[string]any)
	return m
}

func TestRemoteSubscribePutAndPatch(t *testing.T) {
	_, db := newFakeRemote(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			_, _ = w.Write([]byte(`{"a":{"likes":2}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "put", `{"path":"/","data":{"a":{"likes":1}}}`)
		writeEvent(w, "keep-alive", "null")
		writeEvent(w, "patch", `{"path":"/a","data":{"likes":2}}`)
		<-r.Context().Done()
	})

	sub, err := db.Subscribe(context.Background(), "posts")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close()

	want := []map[string]any{
		{"a": map[string]any{"likes": float64(1)}},
		{"a": map[string]any{"likes": float64(2)}},
	}
	var got []map[string]any
	deadline := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case snap := <-sub.Snapshots():
			var m map[string]any
			_ = json.Unmarshal(snap.Data, &m)
			// Latest-wins delivery may coalesce the first snapshot.
			if len(got) == 0 && cmp.Equal(m, want[1]) {
				got = append(got, want[0])
			}
			got = append(got, m)
		case <-deadline:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshots mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoteSubscribeCancelEndsStream(t *testing.T) {
	_, db := newFakeRemote(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "cancel", "null")
	})

	sub, err := db.Subscribe(context.Background(), "posts")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end after cancel event")
	}
	if !errors.Is(sub.Err(), errStreamRevoked) {
		t.Errorf("expected revoked error, got %v", sub.Err())
	}
}

func TestRemoteSubscribeReconnects(t *testing.T) {
	var connects atomic.Int32
	_, db := newFakeRemote(t, func(w http.ResponseWriter, r *http.Request) {
		if connects.Add(1) == 1 {
			// First connection drops without sending anything.
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "put", `{"path":"/","data":{"b":{"likes":5}}}`)
		<-r.Context().Done()
	})

	sub, err := db.Subscribe(context.Background(), "posts")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close()

	got := decodeSnapshot(t, sub)
	want := map[string]any{"b": map[string]any{"likes": float64(5)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if connects.Load() < 2 {
		t.Errorf("expected a reconnect, got %d connections", connects.Load())
	}
}
