package exchange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestWSHub_BroadcastReachesClient(t *testing.T) {
	h := NewWSHub()
	go h.Run()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	waitForClients(t, h, 1)

	h.Broadcast(WSMessage{
		Type:      "swap_executed",
		TokenA:    "atom",
		TokenB:    "usdc",
		TokenIn:   "atom",
		TokenOut:  "usdc",
		Kind:      KindExactIn,
		AmountIn:  10000,
		AmountOut: 8159,
		FillPrice: "0.8159",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("no broadcast received: %v", err)
	}
	var got WSMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to decode broadcast %q: %v", data, err)
	}
	if got.Type != "swap_executed" || got.AmountOut != 8159 || got.FillPrice != "0.8159" {
		t.Errorf("unexpected broadcast payload: %+v", got)
	}
}

// waitForClients polls until the hub's client set reaches n.
func waitForClients(t *testing.T, h *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.RLock()
		got := len(h.clients)
		h.mu.RUnlock()
		if got == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSHub_DeadClientRemoved(t *testing.T) {
	h := NewWSHub()
	go h.Run()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	waitForClients(t, h, 1)
	conn.Close()

	// A closed connection leaves the set through the read pump's
	// unregister or a failed broadcast write, whichever hits first.
	// Broadcasting concurrently also exercises the removal locking.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.Broadcast(WSMessage{Type: "swap_executed"})
		h.mu.RLock()
		n := len(h.clients)
		h.mu.RUnlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("dead client not pruned, %d remaining", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
