package printer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured is returned by operations on a printer with no backend.
	ErrNotConfigured = errors.New("printer connection not configured")
	// ErrUnsupportedBackend is returned when no adapter exists for a connection type.
	ErrUnsupportedBackend = errors.New("unsupported printer backend")
)

// ConnectionType identifies the firmware-management server family behind a connection.
type ConnectionType string

const (
	Moonraker ConnectionType = "moonraker"
	OctoPrint ConnectionType = "octoprint"
	None      ConnectionType = "none"
)

// ParseConnectionType maps a configured type name onto a ConnectionType.
// An empty name means None.
func ParseConnectionType(s string) (ConnectionType, error) {
	switch ConnectionType(strings.ToLower(strings.TrimSpace(s))) {
	case Moonraker:
		return Moonraker, nil
	case OctoPrint:
		return OctoPrint, nil
	case None, "":
		return None, nil
	}
	return "", fmt.Errorf("unknown connection type %q", s)
}

// Connection identifies one backend instance.
type Connection struct {
	Type    ConnectionType `json:"connection_type" yaml:"type" toml:"type"`
	Address string         `json:"connection_address" yaml:"address" toml:"address"`
	APIKey  string         `json:"connection_api_key,omitempty" yaml:"api_key" toml:"api_key"`
}

// Printer is the set of operations every backend adapter provides.
//
// Failures never cross this boundary as errors: TestConnection reports false,
// CheckForUpdates reports ok=false, and the control commands are fire-and-forget.
type Printer interface {
	TestConnection(ctx context.Context) bool
	EmergencyStop(ctx context.Context)
	Restart(ctx context.Context)
	FirmwareRestart(ctx context.Context)
	CheckForUpdates(ctx context.Context, refresh bool) (UpdateCheckResult, bool)
	OpenSocketConnection(ctx context.Context) (SocketSession, error)
	Close() error
}

// SocketSession is a live WebSocket session owned by a Printer.
type SocketSession interface {
	// Call sends a JSON-RPC request and decodes the result into result, which may be nil.
	Call(ctx context.Context, method string, params, result any) error
	Close() error
}

// APIResult is the envelope wrapping every successful backend response.
type APIResult[T any] struct {
	Result T `json:"result"`
}
