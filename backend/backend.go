// Package backend picks the printer.Printer implementation for a connection.
package backend

import (
	"fmt"

	"github.com/john/printer_remote/moonraker"
	"github.com/john/printer_remote/printer"
)

// New returns the adapter for conn's backend type. Moonraker options are
// ignored for other backends.
func New(conn printer.Connection, opts ...moonraker.Option) (printer.Printer, error) {
	switch conn.Type {
	case printer.Moonraker:
		if conn.Address == "" {
			return nil, fmt.Errorf("moonraker connection has no address")
		}
		return moonraker.New(conn, opts...), nil
	case printer.None, "":
		return printer.Unconfigured{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", printer.ErrUnsupportedBackend, conn.Type)
	}
}
