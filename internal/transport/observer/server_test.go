package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bombarena.ai/internal/match"
	"bombarena.ai/internal/observerproto"
)

type fakeSource struct {
	join  chan match.ObserverJoinRequest
	sub   chan match.ObserverSubscribeRequest
	leave chan string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		join:  make(chan match.ObserverJoinRequest, 4),
		sub:   make(chan match.ObserverSubscribeRequest, 4),
		leave: make(chan string, 4),
	}
}

func (f *fakeSource) Bootstrap() observerproto.BootstrapResponse {
	return observerproto.BootstrapResponse{ProtocolVersion: observerproto.Version, MatchID: "match_test", Tick: 4}
}
func (f *fakeSource) ObserverJoin() chan<- match.ObserverJoinRequest { return f.join }
func (f *fakeSource) ObserverSubscribe() chan<- match.ObserverSubscribeRequest {
	return f.sub
}
func (f *fakeSource) ObserverLeave() chan<- string { return f.leave }

func TestBootstrapHandler(t *testing.T) {
	s := NewServer(newFakeSource(), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var boot observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.MatchID != "match_test" || boot.Tick != 4 {
		t.Fatalf("bootstrap %+v", boot)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/observer/bootstrap", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote status %d", rec.Code)
	}
}

func TestWSSubscribeAndStream(t *testing.T) {
	src := newFakeSource()
	srv := httptest.NewServer(NewServer(src, nil).WSHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, IncludeTurns: true, Phase: "world"}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var req match.ObserverJoinRequest
	select {
	case req = <-src.join:
	case <-time.After(2 * time.Second):
		t.Fatalf("no join request")
	}
	if !req.IncludeTurns || req.Phase != match.PhaseWorld || req.SessionID == "" {
		t.Fatalf("join %+v", req)
	}

	req.TickOut <- []byte(`{"type":"TICK","tick":1}`)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"TICK"`) {
		t.Fatalf("message %s", msg)
	}

	sub.IncludeTurns = false
	sub.Phase = ""
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	select {
	case u := <-src.sub:
		if u.SessionID != req.SessionID || u.IncludeTurns {
			t.Fatalf("update %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no subscribe update")
	}

	_ = conn.Close()
	select {
	case id := <-src.leave:
		if id != req.SessionID {
			t.Fatalf("leave %q want %q", id, req.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no leave")
	}
}

func TestWSRejectsBadHandshake(t *testing.T) {
	src := newFakeSource()
	srv := httptest.NewServer(NewServer(src, nil).WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err %v", err)
	}
	if len(src.join) != 0 {
		t.Fatalf("join sent for bad handshake")
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: %v", addr, got)
		}
	}
}
