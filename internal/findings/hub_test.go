// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package findings

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck
	}
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	return conn
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastReachesClients(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	c1 := dialHub(t, srv)
	c2 := dialHub(t, srv)
	waitForClients(t, h, 2)

	sent := testFinding("speed", 42000)
	sent.ID = "f-1"
	h.Broadcast(&sent)

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		var got Finding
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("decode broadcast: %v", err)
		}
		if got.ID != "f-1" || got.Check != "speed" {
			t.Errorf("broadcast = %+v", got)
		}
	}
}

func TestHubDropsDisconnectedClient(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialHub(t, srv)
	waitForClients(t, h, 1)

	conn.Close() //nolint:errcheck
	waitForClients(t, h, 0)

	// Broadcasting into an empty hub must not panic or block.
	f := testFinding("speed", 1)
	h.Broadcast(&f)
}
