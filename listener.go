package jetstream

import (
	"log/slog"
	"net"
	"sync"
)

// Listener accepts sockets on a net.Listener and spawns a ServerConn bound
// to an Exchange for each one (spec.md §4.F). TCP and Unix-domain flavours
// differ only in how the net.Listener is constructed; see NewTCPListener
// and NewUnixListener.
type Listener struct {
	ln       net.Listener
	exchange *Exchange
	logger   *slog.Logger
	opts     []StreamOption

	mu    sync.Mutex
	conns map[*ServerConn]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newListener(ln net.Listener, exchange *Exchange, logger *slog.Logger, opts []StreamOption) *Listener {
	var o StreamOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.Logger != nil {
		logger = o.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		ln:       ln,
		exchange: exchange,
		logger:   logger,
		opts:     opts,
		conns:    make(map[*ServerConn]struct{}),
		done:     make(chan struct{}),
	}
}

// Serve runs the accept loop until Stop is called or the listener errors.
// Per-accept construction failures are logged and swallowed; they do not
// kill the listener, matching spec.md §4.F.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return nil
			default:
			}
			l.logger.Error("accept failed", slog.String("error", err.Error()))
			return err
		}
		sc := NewServerConn(conn, l.exchange, l.opts...)
		l.track(sc)
		go func() {
			sc.Serve()
			l.untrack(sc)
		}()
	}
}

func (l *Listener) track(sc *ServerConn) {
	l.mu.Lock()
	l.conns[sc] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) untrack(sc *ServerConn) {
	l.mu.Lock()
	delete(l.conns, sc)
	l.mu.Unlock()
}

// Stop deregisters the listening socket, closes it, and disconnects every
// connection it has accepted so far — fixing the source's SocketAdapter.
// stop() bug (spec.md §9: it iterated a listener-local client set that was
// never populated). Here the Listener keeps its own accepted-connections
// set precisely so Stop has something real to close.
func (l *Listener) Stop() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.ln.Close()
		l.mu.Lock()
		conns := make([]*ServerConn, 0, len(l.conns))
		for sc := range l.conns {
			conns = append(conns, sc)
		}
		l.mu.Unlock()
		for _, sc := range conns {
			sc.Close()
		}
	})
	return err
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
