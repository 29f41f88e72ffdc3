package moonrakertest

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
)

// frame is every JSON-RPC 2.0 message the fake server reads or writes.
// Requests and notifications carry Method; responses carry Result or Error.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type frameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// peer is one accepted socket. gorilla/websocket allows a single concurrent writer.
type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(f frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	f.JSONRPC = "2.0"
	return p.conn.WriteJSON(f)
}

// wsHub accepts WebSocket upgrades and answers a small set of JSON-RPC methods.
type wsHub struct {
	server   *Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

func newWSHub(s *Server) *wsHub {
	return &wsHub{
		server: s,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}
}

func (h *wsHub) track(p *peer, open bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if open {
		h.peers[p] = struct{}{}
	} else {
		delete(h.peers, p)
	}
}

func (h *wsHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// closeAll drops every open socket; their read loops then exit and untrack.
func (h *wsHub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.peers))
	for p := range h.peers {
		conns = append(conns, p.conn)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *wsHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &peer{conn: conn}
	h.track(p, true)
	defer func() {
		h.track(p, false)
		_ = conn.Close()
	}()

	// Moonraker pushes notifications unprompted; clients have to skip them.
	_ = p.write(frame{Method: "notify_klippy_ready"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req frame
		if err := json.Unmarshal(data, &req); err != nil {
			_ = p.write(frame{Error: &frameError{Code: codeParseError, Message: "Parse error"}})
			continue
		}
		_ = p.write(h.answer(req))
	}
}

func (h *wsHub) answer(req frame) frame {
	resp := frame{ID: req.ID}

	switch req.Method {
	case "server.info":
		resp.Result = h.server.serverInfo()
	case "server.connection.identify":
		resp.Result = map[string]any{"connection_id": 1}
	case "printer.info":
		resp.Result = map[string]any{
			"state":            "ready",
			"state_message":    "Printer is ready",
			"hostname":         "moonrakertest",
			"software_version": "v0.12.0-1",
		}
	case "printer.emergency_stop", "printer.restart", "printer.firmware_restart":
		resp.Result = "ok"
	default:
		resp.Error = &frameError{Code: codeMethodNotFound, Message: "Method not found"}
	}
	return resp
}
