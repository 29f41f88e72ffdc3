// Package moonrakertest provides an in-process Moonraker server for tests.
//
// The server answers the REST endpoints and the JSON-RPC WebSocket used by
// package moonraker, records every request it sees, and can be told to fail
// individual paths.
package moonrakertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Request is one REST request observed by the server.
type Request struct {
	Method string
	Path   string
	Query  string
	APIKey string
}

// Server is a fake Moonraker instance.
type Server struct {
	*httptest.Server

	mux   *http.ServeMux
	wsHub *wsHub

	mu         sync.Mutex
	requests   []Request
	statuses   map[string]int
	updateBody []byte
	apiKey     string
}

// DefaultVersionInfo mirrors a typical Klipper/Moonraker install: two
// repositories, one system package entry, and a boolean-shaped entry.
const DefaultVersionInfo = `{
	"klipper": {"version": "v0.12.0-1", "remote_version": "v0.12.0-5", "commits_behind": [{"sha": "a"}, {"sha": "b"}, {"sha": "c"}, {"sha": "d"}]},
	"moonraker": {"version": "v0.9.3", "remote_version": "v0.9.3", "commits_behind": []},
	"system": {"package_count": 2, "package_list": ["libssl3", "openssh-server"]},
	"mainsail": true
}`

// NewServer starts a fake Moonraker server. Call Close when done.
func NewServer() *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		statuses: make(map[string]int),
	}
	s.SetVersionInfo(DefaultVersionInfo)
	s.wsHub = newWSHub(s)
	s.registerRoutes()
	s.Server = httptest.NewServer(s.record(s.mux))
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("POST /printer/emergency_stop", s.handleOK)
	s.mux.HandleFunc("POST /printer/restart", s.handleOK)
	s.mux.HandleFunc("POST /printer/firmware_restart", s.handleOK)
	s.mux.HandleFunc("POST /machine/update_status", s.handleUpdateStatus)
	s.mux.HandleFunc("GET /websocket", s.wsHub.handleWebSocket)
}

// record logs the request, enforces the API key, and applies any forced status.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			APIKey: key,
		})
		code, forced := s.statuses[r.URL.Path]
		want := s.apiKey
		s.mu.Unlock()

		if want != "" && key != want {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if forced {
			writeError(w, code, http.StatusText(code))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Requests returns a copy of every request seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsTo returns the requests seen for path.
func (s *Server) RequestsTo(path string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// FailPath makes every request to path answer with code.
func (s *Server) FailPath(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[path] = code
}

// RequireAPIKey rejects requests that do not carry key in X-Api-Key.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = key
}

// SetVersionInfo sets the raw JSON object served as result.version_info.
func (s *Server) SetVersionInfo(raw string) {
	s.SetUpdateBody(`{"result": {"busy": false, "github_rate_limit": null, "version_info": ` + raw + `}}`)
}

// SetUpdateBody sets the complete raw body served by the update-status endpoint.
func (s *Server) SetUpdateBody(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateBody = []byte(raw)
}

// SocketClients returns the number of open WebSocket connections.
func (s *Server) SocketClients() int {
	return s.wsHub.count()
}

// Close shuts down the server, including open WebSocket connections.
func (s *Server) Close() {
	s.wsHub.closeAll()
	s.Server.Close()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"result": "Welcome to Moonraker",
	})
}

func (s *Server) handleOK(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"result": "ok",
	})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body := s.updateBody
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) serverInfo() map[string]any {
	return map[string]any{
		"klippy_connected":   true,
		"klippy_state":       "ready",
		"components":         []string{"server", "machine", "update_manager"},
		"failed_components":  []string{},
		"warnings":           []string{},
		"websocket_count":    s.wsHub.count(),
		"moonraker_version":  "v0.9.3",
		"api_version":        []int{1, 5, 0},
		"api_version_string": "1.5.0",
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
