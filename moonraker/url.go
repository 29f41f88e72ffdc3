package moonraker

import "strings"

const socketPath = "/websocket"

// BuildURL derives the REST or WebSocket base URL from a configured address.
//
// For WebSocket URLs the leading "http" scheme token is rewritten to "ws", so
// "https" becomes "wss". One trailing slash is removed. The address is not
// validated.
func BuildURL(address string, websocket bool) string {
	u := address
	if websocket && strings.HasPrefix(u, "http") {
		u = "ws" + strings.TrimPrefix(u, "http")
	}
	return strings.TrimSuffix(u, "/")
}
