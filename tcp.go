package jetstream

import (
	"context"
	"log/slog"
	"net"
	"syscall"
)

// NewTCPListener binds a TCP listener at address and wraps it to spawn
// ServerConns bound to exchange on every accept (spec.md §4.F). The
// listening socket is configured with SO_REUSEADDR via a raw-conn Control
// callback, the same SyscallConn/Control pattern nishisan-dev-n-backup's
// agent package uses for TOS/DSCP socket options — net's own API gives no
// portable way to request this, so syscall is used directly rather than
// adding a socket-options dependency the corpus doesn't carry.
func NewTCPListener(address string, exchange *Exchange, opts ...StreamOption) (*Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = setReuseAddr(fd)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", address)
	if err != nil {
		return nil, err
	}
	return newListener(ln, exchange, slog.Default(), opts), nil
}
