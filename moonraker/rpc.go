package moonraker

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// rpcRequest is an outgoing JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint64 `json:"id"`
}

// rpcMessage is any incoming frame: a response when ID is set, otherwise a
// server notification.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// RPCError is an error object returned by the server for a request.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("moonraker rpc error %d: %s", e.Code, e.Message)
}

// responseID extracts the numeric request id from a response frame.
func (m *rpcMessage) responseID() (uint64, bool) {
	if len(m.ID) == 0 || string(m.ID) == "null" {
		return 0, false
	}
	var n uint64
	if err := json.Unmarshal(m.ID, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(m.ID, &s); err == nil {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
