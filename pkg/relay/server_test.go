package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collabsync/pkg/util/logging"
)

func newTestServer(t *testing.T) (*Hub, *WSDialer, string) {
	t.Helper()
	hub := NewHub(WithLogger(logging.Discard()))
	srv := httptest.NewServer(NewServer(hub, logging.Discard()).Handler())
	t.Cleanup(srv.Close)

	d := &WSDialer{
		BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Timeout: 5 * time.Second,
		Logger:  logging.Discard(),
	}
	return hub, d, srv.URL
}

func TestServer_RelaysBetweenClients(t *testing.T) {
	_, d, _ := newTestServer(t)
	a := dial(t, d, "doc", "a")
	b := dial(t, d, "doc", "b")

	msg := update(`{"type":"Sequence"}`)
	msg.From = "spoofed"
	if err := a.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := receive(t, b)
	if got.From != "a" || got.Room != "doc" || string(got.Sync.Data) != `{"type":"Sequence"}` {
		t.Fatalf("unexpected message: %+v", got)
	}

	reply := update("{}")
	reply.To = "a"
	if err := b.Send(context.Background(), reply); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := receive(t, a); got.From != "b" || got.To != "a" {
		t.Fatalf("unexpected reply: %+v", got)
	}
}

func TestServer_CloseLeavesRoom(t *testing.T) {
	hub, d, _ := newTestServer(t)
	a := dial(t, d, "doc", "a")
	dial(t, d, "doc", "b")

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	expectClosed(t, a)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, clients := hub.Stats(); clients == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("closed client still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_Health(t *testing.T) {
	_, d, base := newTestServer(t)
	dial(t, d, "doc", "a")

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Rooms   int    `json:"rooms"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Rooms != 1 || body.Clients != 1 {
		t.Fatalf("unexpected health: %+v", body)
	}
}

func TestServer_RequiresClientID(t *testing.T) {
	_, _, base := newTestServer(t)

	resp, err := http.Get(base + "/rooms/doc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWSDialer_Unreachable(t *testing.T) {
	d := &WSDialer{BaseURL: "ws://127.0.0.1:1", Timeout: time.Second}
	_, err := d.Dial(context.Background(), "doc", "a")
	var terr *TransportError
	if err == nil || !errors.As(err, &terr) || terr.Op != "dial" {
		t.Fatalf("Dial() = %v, want dial TransportError", err)
	}
}
