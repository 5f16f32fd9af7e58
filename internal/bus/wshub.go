package bus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dexbridge/node/internal/chain"
)

// wireEvent is the "network:event" envelope spec.md §6 describes.
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sigData struct {
	Signature     string         `json:"signature"`
	TransactionID chain.GlobalID `json:"transactionId"`
	PublicKey     string         `json:"publicKey"`
}

type blocksChangeData struct {
	Height chain.Height `json:"height"`
}

// LoggerMaker supplies a per-connection sub-logger, so each joined peer's
// debug lines are tagged with its connection id without opening a new
// Backend per connection.
type LoggerMaker interface {
	SubLogger(parent, name string) slog.Logger
}

// WSHub is a websocket-backed Bus, following server/comms's Broadcast
// convention: peers register a connection, EmitSignature fans out to every
// peer whose subnet key matches.
type WSHub struct {
	log slog.Logger
	lm  LoggerMaker

	upgrader websocket.Upgrader

	mtx   sync.RWMutex
	peers map[string]map[*websocket.Conn]struct{} // subnetKey -> connections

	sigHandlers   []func(SignatureEvent)
	blockHandlers map[string][]func(chain.Height)
}

// NewWSHub creates an empty hub. lm mints the hub's own "BUS" logger and a
// per-connection sub-logger for each joined peer.
func NewWSHub(lm LoggerMaker) *WSHub {
	return &WSHub{
		log:           lm.SubLogger("BUS", "hub"),
		lm:            lm,
		peers:         make(map[string]map[*websocket.Conn]struct{}),
		blockHandlers: make(map[string][]func(chain.Height)),
	}
}

func subnetKey(baseAddress, quoteAddress string) string {
	return fmt.Sprintf("%s|%s", baseAddress, quoteAddress)
}

// Join registers conn as a peer on the given subnet. Call from the HTTP
// handler that accepts inbound peer connections.
func (h *WSHub) Join(baseAddress, quoteAddress string, conn *websocket.Conn) {
	key := subnetKey(baseAddress, quoteAddress)
	connID := uuid.New().String()
	h.mtx.Lock()
	set, ok := h.peers[key]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.peers[key] = set
	}
	set[conn] = struct{}{}
	h.mtx.Unlock()

	connLog := h.lm.SubLogger("BUS", connID)
	connLog.Debugf("bus: joined subnet %s", key)
	go h.readLoop(key, connID, conn, connLog)
}

func (h *WSHub) readLoop(key, connID string, conn *websocket.Conn, connLog slog.Logger) {
	defer func() {
		h.mtx.Lock()
		delete(h.peers[key], conn)
		h.mtx.Unlock()
		conn.Close()
		connLog.Debugf("bus: left subnet %s", key)
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(msg)
	}
}

func (h *WSHub) dispatch(raw []byte) {
	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.log.Debugf("bus: dropping malformed event: %v", err)
		return
	}
	switch {
	case len(ev.Event) > len(":signature") && ev.Event[len(ev.Event)-len(":signature"):] == ":signature":
		var d sigData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return
		}
		se := SignatureEvent{Signature: d.Signature, TransactionID: d.TransactionID, PublicKey: d.PublicKey}
		h.mtx.RLock()
		handlers := append([]func(SignatureEvent){}, h.sigHandlers...)
		h.mtx.RUnlock()
		for _, fn := range handlers {
			fn(se)
		}
	case len(ev.Event) > len(":blocks:change") && ev.Event[len(ev.Event)-len(":blocks:change"):] == ":blocks:change":
		alias := ev.Event[:len(ev.Event)-len(":blocks:change")]
		var d blocksChangeData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return
		}
		h.mtx.RLock()
		handlers := append([]func(chain.Height){}, h.blockHandlers[alias]...)
		h.mtx.RUnlock()
		for _, fn := range handlers {
			fn(d.Height)
		}
	}
}

// EmitSignature implements Bus.
func (h *WSHub) EmitSignature(baseAddress, quoteAddress string, ev SignatureEvent) error {
	key := subnetKey(baseAddress, quoteAddress)
	payload, err := json.Marshal(wireEvent{
		Event: fmt.Sprintf("signature?baseAddress=%s&quoteAddress=%s:signature", baseAddress, quoteAddress),
		Data: mustJSON(sigData{
			Signature:     ev.Signature,
			TransactionID: ev.TransactionID,
			PublicKey:     ev.PublicKey,
		}),
	})
	if err != nil {
		return err
	}

	h.mtx.RLock()
	defer h.mtx.RUnlock()
	for conn := range h.peers[key] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Debugf("bus: emit to peer failed: %v", err)
		}
	}
	return nil
}

// OnSignature implements Bus.
func (h *WSHub) OnSignature(handler func(SignatureEvent)) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.sigHandlers = append(h.sigHandlers, handler)
}

// OnBlocksChange implements Bus.
func (h *WSHub) OnBlocksChange(chainModuleAlias string, handler func(height chain.Height)) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.blockHandlers[chainModuleAlias] = append(h.blockHandlers[chainModuleAlias], handler)
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// ServeHTTP upgrades an inbound connection and joins it to the subnet named
// by its query parameters, mirroring dcrdex's websocketHandler entry point.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("baseAddress")
	quote := r.URL.Query().Get("quoteAddress")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("bus: upgrade failed: %v", err)
		return
	}
	h.Join(base, quote, conn)
}
