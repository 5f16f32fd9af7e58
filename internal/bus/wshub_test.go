package bus

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/dexbridge/node/internal/chain"
)

func testLoggerMaker() *fakeLoggerMaker {
	backend := slog.NewBackend(nil)
	log := backend.Logger("BUSTEST")
	log.SetLevel(slog.LevelOff)
	return &fakeLoggerMaker{log: log}
}

type fakeLoggerMaker struct {
	log slog.Logger
}

func (f *fakeLoggerMaker) SubLogger(parent, name string) slog.Logger {
	return f.log
}

func dialTestHub(t *testing.T, hub *WSHub, baseAddress, quoteAddress string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"?baseAddress=" + baseAddress + "&quoteAddress=" + quoteAddress
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEmitSignatureDeliversOnlyToMatchingSubnet(t *testing.T) {
	hub := NewWSHub(testLoggerMaker())

	matched := dialTestHub(t, hub, "A", "B")
	other := dialTestHub(t, hub, "C", "D")

	// Give the server's Join goroutines a moment to register.
	time.Sleep(50 * time.Millisecond)

	if err := hub.EmitSignature("A", "B", SignatureEvent{Signature: "sig1", PublicKey: "pub1"}); err != nil {
		t.Fatalf("EmitSignature failed: %v", err)
	}

	matched.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := matched.ReadMessage()
	if err != nil {
		t.Fatalf("expected matched peer to receive the event: %v", err)
	}
	if !strings.Contains(string(msg), "sig1") {
		t.Fatalf("expected payload to contain the signature, got %s", msg)
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("expected the other subnet's peer to receive nothing")
	}
}

func TestOnSignatureFiresOnInboundPeerEvent(t *testing.T) {
	hub := NewWSHub(testLoggerMaker())

	received := make(chan SignatureEvent, 1)
	hub.OnSignature(func(ev SignatureEvent) {
		received <- ev
	})

	conn := dialTestHub(t, hub, "A", "B")
	payload := `{"event":"A|B:signature","data":{"signature":"s1","transactionId":"A:1","publicKey":"p1"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Signature != "s1" || ev.PublicKey != "p1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnSignature handler to fire")
	}
}

func TestOnBlocksChangeFiresOnInboundPeerEvent(t *testing.T) {
	hub := NewWSHub(testLoggerMaker())

	received := make(chan chain.Height, 1)
	hub.OnBlocksChange("chainA", func(h chain.Height) {
		received <- h
	})

	conn := dialTestHub(t, hub, "A", "B")
	payload := `{"event":"chainA:blocks:change","data":{"height":42}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case h := <-received:
		if h != 42 {
			t.Fatalf("expected height 42, got %d", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnBlocksChange handler to fire")
	}
}
