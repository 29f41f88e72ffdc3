package printer

import "context"

// Unconfigured is the Printer used when no backend is set up.
type Unconfigured struct{}

var _ Printer = Unconfigured{}

func (Unconfigured) TestConnection(context.Context) bool { return false }
func (Unconfigured) EmergencyStop(context.Context)       {}
func (Unconfigured) Restart(context.Context)             {}
func (Unconfigured) FirmwareRestart(context.Context)     {}

func (Unconfigured) CheckForUpdates(context.Context, bool) (UpdateCheckResult, bool) {
	return nil, false
}

func (Unconfigured) OpenSocketConnection(context.Context) (SocketSession, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) Close() error { return nil }
