package jetstream

import (
	"log/slog"
	"net"
)

// ServerConn is the accept-side shim binding one Stream to an Exchange
// (spec.md §4.E). It decodes inbound frames into exchange operations and
// holds the per-connection egress fair queue that schedules outbound
// MESSAGE frames across the qids this connection's peer has subscribed to.
//
// Like session.go's Session, all connection-local state (mq, fq, recving)
// is owned by a single goroutine (dispatchLoop) and only ever touched from
// that goroutine; OnMessage, called concurrently from other connections'
// dispatch goroutines, and the write-completion callback, called from the
// Stream's own writeLoop goroutine, both only ever hand work off through
// channels that dispatchLoop selects on — mirroring how session.go hands
// writeRequest/writeResult values across its recvLoop/sendLoop boundary
// instead of sharing state under a lock.
type ServerConn struct {
	exchange *Exchange
	stream   *Stream
	addr     net.Addr
	logger   *slog.Logger

	connected bool // set once CONNECT is processed; gates every other op

	incoming chan queuedMessage // OnMessage hand-off into dispatchLoop
	sent     chan string        // write-completion hand-off: qid just flushed
	done     chan struct{}

	// mq/fq/active/recving are owned exclusively by dispatchLoop.
	mq      map[string][][]byte
	fq      []string
	active  map[string]struct{} // qid currently in fq OR being written right now
	recving bool
}

type queuedMessage struct {
	qid     string
	message []byte
}

// NewServerConn wraps conn in a Stream and returns a ServerConn bound to
// exchange, ready to be driven by Serve.
func NewServerConn(conn net.Conn, exchange *Exchange, opts ...StreamOption) *ServerConn {
	o := defaultStreamOptions
	for _, fn := range opts {
		fn(&o)
	}
	sc := &ServerConn{
		exchange: exchange,
		addr:     conn.RemoteAddr(),
		logger:   o.Logger,
		incoming: make(chan queuedMessage, 64),
		sent:     make(chan string, 1),
		done:     make(chan struct{}),
		mq:       make(map[string][][]byte),
		active:   make(map[string]struct{}),
	}
	sc.stream = NewStream(conn, opts...)
	sc.stream.SetCloseCallback(sc.onStreamClosed)
	return sc
}

// Close tears down the underlying stream; used by a Listener's Stop to
// force-close every connection it has accepted.
func (sc *ServerConn) Close() error {
	return sc.stream.Close()
}

// onStreamClosed runs once, from whichever goroutine first observes
// closure (readLoop, writeLoop, or an explicit Close), detaching from the
// exchange and stopping dispatchLoop.
func (sc *ServerConn) onStreamClosed() {
	close(sc.done)
	if sc.connected {
		sc.exchange.Disconnect(sc)
	}
}

// Serve runs the inbound parser loop until the stream closes. It is
// intended to be called from its own goroutine by the Listener; it blocks
// for the connection's lifetime.
func (sc *ServerConn) Serve() {
	go sc.dispatchLoop()
	for {
		raw, err := sc.stream.ReadExactly(frameHeaderLen)
		if err != nil {
			return
		}
		h := decodeHeader(raw)
		if !sc.connected && h.op != OpConnect {
			sc.logger.Warn("frame before handshake, closing", slog.String("op", h.op.String()))
			sc.stream.Close()
			return
		}
		if err := sc.handleFrame(h); err != nil {
			sc.logger.Warn("protocol violation, closing",
				slog.String("remote", sc.addrString()), slog.String("error", err.Error()))
			sc.stream.Close()
			return
		}
	}
}

func (sc *ServerConn) addrString() string {
	if sc.addr == nil {
		return "?"
	}
	return sc.addr.String()
}

// handleFrame executes one decoded header's worth of protocol state
// transition, reading whatever trailing qid/body bytes the op requires.
func (sc *ServerConn) handleFrame(h header) error {
	switch h.op {
	case OpConnect:
		sc.connected = true
		enc := encodeHeader(header{op: OpConnected})
		if err := sc.stream.Write(enc[:], nil); err != nil {
			return err
		}
		sc.exchange.Connect(sc)
		return nil

	case OpDisconnect:
		// Close now; the stream close callback detaches us from the
		// exchange, mirroring spec.md's "close callback will detach".
		sc.stream.Close()
		return nil

	case OpSubscribe, OpUnsubscribe:
		if h.messageLen != 0 {
			return ErrProtocol
		}
		qidBytes, err := sc.stream.ReadExactly(h.qidLen)
		if err != nil {
			return nil // stream already closing; nothing more to do
		}
		qid, err := qidFromWire(string(qidBytes), h.flag)
		if err != nil {
			return err
		}
		if h.op == OpSubscribe {
			return sc.exchange.Subscribe(qid, sc)
		}
		return sc.exchange.Unsubscribe(qid, sc)

	case OpSend:
		qidBytes, err := sc.stream.ReadExactly(h.qidLen)
		if err != nil {
			return nil
		}
		var body []byte
		if h.messageLen > 0 {
			body, err = sc.stream.ReadExactly(h.messageLen)
			if err != nil {
				return nil
			}
		}
		// multicast flag carried in h.flag per spec.md §4.D's SEND row.
		sc.exchange.Dispatch(string(qidBytes), body, h.flag)
		return nil

	default:
		return ErrProtocol
	}
}

func qidFromWire(s string, isPattern bool) (Qid, error) {
	if isPattern {
		return NewPattern(s)
	}
	return Literal(s), nil
}

// OnMessage implements Subscriber. It is called from whatever goroutine is
// dispatching on the exchange (possibly many at once); it only ever hands
// the message off to this connection's own dispatchLoop, never touching
// mq/fq/recving directly.
func (sc *ServerConn) OnMessage(qid string, message []byte) {
	select {
	case sc.incoming <- queuedMessage{qid: qid, message: message}:
	case <-sc.done:
	}
}

// dispatchLoop owns mq/fq/recving for this connection's lifetime: it is the
// single-threaded cooperative loop smux's shaperLoop plays for session
// writes, here driving the per-qid fair-queue egress scheduler of
// spec.md §4.E instead of a token bucket. It never sends a second frame
// while one is in flight: sendNext is only called when recving flips false
// to true, or when sent reports the previous frame drained.
func (sc *ServerConn) dispatchLoop() {
	for {
		select {
		case m := <-sc.incoming:
			sc.enqueue(m.qid, m.message)
			if !sc.recving {
				sc.recving = true
				sc.sendNext()
			}
		case qid := <-sc.sent:
			sc.completeSend(qid)
		case <-sc.done:
			return
		}
	}
}

// enqueue appends message to qid's queue, activating it in the fair queue
// on the empty-to-non-empty transition (spec.md §4.E step 1). "Active"
// tracks membership in fq OR currently-being-written, not just mq's raw
// length: a qid whose single in-flight message is still being written has
// an empty mq entry but must NOT be reinserted into fq by a fresh arrival,
// or it would appear twice once the in-flight write's completion also
// tries to re-queue it (violating fq's at-most-once invariant).
func (sc *ServerConn) enqueue(qid string, message []byte) {
	sc.mq[qid] = append(sc.mq[qid], message)
	if _, already := sc.active[qid]; !already {
		sc.active[qid] = struct{}{}
		sc.fq = append(sc.fq, qid)
	}
}

// sendNext pops the most recently reactivated qid off the back of fq
// (spec.md's explicit LIFO-of-reactivation requirement) and writes one
// frame for it. The write's completion reports back via sc.sent so
// dispatchLoop can decide the next step without ever sharing fq/mq with
// the writer goroutine. qid stays marked active for the duration of the
// write; completeSend is what finally clears it if nothing more arrived.
func (sc *ServerConn) sendNext() {
	if len(sc.fq) == 0 {
		sc.recving = false
		return
	}
	last := len(sc.fq) - 1
	qid := sc.fq[last]
	sc.fq = sc.fq[:last]

	queue := sc.mq[qid]
	msg := queue[0]
	sc.mq[qid] = queue[1:]

	h := encodeHeader(header{op: OpMessage, qidLen: len(qid), messageLen: len(msg)})
	frame := [][]byte{h[:], []byte(qid), msg}

	if err := sc.stream.WriteVectored(frame, func() {
		select {
		case sc.sent <- qid:
		case <-sc.done:
		}
	}); err != nil {
		delete(sc.active, qid)
		sc.recving = false
	}
}

// completeSend runs on dispatchLoop after qid's frame has been flushed: if
// more messages queued up behind it (either already pending, or arriving
// while the write was in flight), qid goes back into fq at the front,
// behind every qid already waiting, so the back of fq stays the most
// recently reactivated qid and a backlogged qid cannot starve the others;
// otherwise its now-empty queue is dropped and it is cleared from active.
// Either way the scheduler moves on to whatever is next in fq, or goes
// idle if fq has drained.
func (sc *ServerConn) completeSend(qid string) {
	if len(sc.mq[qid]) > 0 {
		sc.fq = append([]string{qid}, sc.fq...)
	} else {
		delete(sc.mq, qid)
		delete(sc.active, qid)
	}
	sc.sendNext()
}
