package jetstream

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// RemoteClient is the client-side peer of the wire protocol (spec.md
// §4.G): it performs the CONNECT/CONNECTED handshake, serializes
// user-initiated SUBSCRIBE/UNSUBSCRIBE/SEND frames onto the wire, and
// decodes inbound MESSAGE frames into OnMessageFunc callbacks.
//
// Unlike the Python source's TcpClient/IpcClient, Connect never performs a
// blocking connect(2) before wrapping the socket: net.Dialer.DialContext
// makes establishment itself cancellable, and on_connected only
// fires once the CONNECTED frame is actually read back — the fix spec.md
// §9 calls for explicitly.
type RemoteClient struct {
	stream *Stream
	logger *slog.Logger

	mu        sync.Mutex
	connected bool

	// outbox serializes user sends so one frame's header/qid/body stay
	// contiguous on the wire even if Subscribe/Unsubscribe/Send are called
	// concurrently — the role the source's _sending queue plays, drained
	// here by sendLoop instead of a reschedule-via-deferred-callback chain.
	outbox chan outboxFrame
	rcDone chan struct{}

	OnConnectedFunc    func()
	OnDisconnectedFunc func()
	OnMessageFunc      func(qid string, message []byte)
}

type outboxFrame struct {
	pieces [][]byte
}

// NewRemoteClient constructs a RemoteClient with no connection yet.
func NewRemoteClient(opts ...StreamOption) *RemoteClient {
	o := defaultStreamOptions
	for _, fn := range opts {
		fn(&o)
	}
	return &RemoteClient{
		logger: o.Logger,
		outbox: make(chan outboxFrame, 64),
		rcDone: make(chan struct{}),
	}
}

// Connect dials network/address (e.g. "tcp"/"host:port" or "unix"/path)
// and performs the handshake over the resulting socket. ctx bounds only
// the dial; the handshake read uses the Stream's own ReadExactly, which
// has no independent timeout.
func (rc *RemoteClient) Connect(ctx context.Context, network, address string, opts ...StreamOption) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return err
	}
	return rc.attach(conn, opts...)
}

// attach performs the CONNECT/CONNECTED handshake over an
// already-established conn and starts the background send and receive
// loops. Split out from Connect so tests can drive it over a net.Pipe()
// without a real dial.
func (rc *RemoteClient) attach(conn net.Conn, opts ...StreamOption) error {
	rc.stream = NewStream(conn, opts...)
	rc.stream.SetCloseCallback(rc.onStreamClosed)

	connectHdr := encodeHeader(header{op: OpConnect})
	if err := rc.stream.Write(connectHdr[:], nil); err != nil {
		rc.stream.Close()
		return err
	}
	raw, err := rc.stream.ReadExactly(frameHeaderLen)
	if err != nil {
		rc.stream.Close()
		return ErrHandshake
	}
	h := decodeHeader(raw)
	if h.op != OpConnected {
		rc.stream.Close()
		return ErrHandshake
	}

	rc.mu.Lock()
	rc.connected = true
	cb := rc.OnConnectedFunc
	rc.mu.Unlock()

	go rc.recvLoop()
	go rc.sendLoop()
	if cb != nil {
		cb()
	}
	return nil
}

// DialTCP is a convenience wrapper around Connect with a dial timeout,
// matching the common case of spec.md §4.G's "the source uses a blocking
// connect... implementers SHOULD make this non-blocking".
func DialTCP(address string, timeout time.Duration, opts ...StreamOption) (*RemoteClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	rc := NewRemoteClient(opts...)
	if err := rc.Connect(ctx, "tcp", address, opts...); err != nil {
		return nil, err
	}
	return rc, nil
}

// DialUnix is DialTCP's Unix-domain-socket counterpart.
func DialUnix(path string, timeout time.Duration, opts ...StreamOption) (*RemoteClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	rc := NewRemoteClient(opts...)
	if err := rc.Connect(ctx, "unix", path, opts...); err != nil {
		return nil, err
	}
	return rc, nil
}

func (rc *RemoteClient) onStreamClosed() {
	rc.mu.Lock()
	wasConnected := rc.connected
	rc.connected = false
	cb := rc.OnDisconnectedFunc
	rc.mu.Unlock()
	close(rc.rcDone)
	if wasConnected && cb != nil {
		cb()
	}
}

// recvLoop awaits 4-byte headers; on MESSAGE it reads qid_length then
// message_length bytes and invokes OnMessageFunc. Any other opcode is a
// protocol error, per spec.md §4.G ("Any other opcode is a protocol
// error → close").
func (rc *RemoteClient) recvLoop() {
	for {
		raw, err := rc.stream.ReadExactly(frameHeaderLen)
		if err != nil {
			return
		}
		h := decodeHeader(raw)
		if h.op != OpMessage {
			rc.logger.Warn("unexpected opcode from server, closing", slog.String("op", h.op.String()))
			rc.stream.Close()
			return
		}
		qidBytes, err := rc.stream.ReadExactly(h.qidLen)
		if err != nil {
			return
		}
		var body []byte
		if h.messageLen > 0 {
			body, err = rc.stream.ReadExactly(h.messageLen)
			if err != nil {
				return
			}
		}
		rc.mu.Lock()
		cb := rc.OnMessageFunc
		rc.mu.Unlock()
		if cb != nil {
			cb(string(qidBytes), body)
		}
	}
}

// sendLoop drains the outbox strictly in order, so a frame's header, qid,
// and body are always written back-to-back even when Subscribe/Send are
// called from multiple goroutines.
func (rc *RemoteClient) sendLoop() {
	for {
		select {
		case frame := <-rc.outbox:
			done := make(chan struct{})
			if err := rc.stream.WriteVectored(frame.pieces, func() { close(done) }); err != nil {
				return
			}
			select {
			case <-done:
			case <-rc.rcDone:
				return
			}
		case <-rc.rcDone:
			return
		}
	}
}

func (rc *RemoteClient) enqueue(pieces [][]byte) error {
	rc.mu.Lock()
	connected := rc.connected
	rc.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	// outbox is a bounded channel; a full one simply blocks the caller
	// rather than growing without limit, since spec.md places no cap on
	// the source's _sending queue but an unbounded one just moves mq's
	// unboundedness here instead.
	select {
	case rc.outbox <- outboxFrame{pieces: pieces}:
		return nil
	case <-rc.rcDone:
		return ErrClosed
	}
}

// Subscribe sends a SUBSCRIBE frame for qid.
func (rc *RemoteClient) Subscribe(qid Qid) error {
	if err := validateQidAndMessage(len(qid.bytes()), 0); err != nil {
		return err
	}
	h := encodeHeader(header{op: OpSubscribe, flag: qid.isPattern(), qidLen: len(qid.bytes())})
	return rc.enqueue([][]byte{h[:], []byte(qid.bytes())})
}

// Unsubscribe sends an UNSUBSCRIBE frame for qid.
func (rc *RemoteClient) Unsubscribe(qid Qid) error {
	if err := validateQidAndMessage(len(qid.bytes()), 0); err != nil {
		return err
	}
	h := encodeHeader(header{op: OpUnsubscribe, flag: qid.isPattern(), qidLen: len(qid.bytes())})
	return rc.enqueue([][]byte{h[:], []byte(qid.bytes())})
}

// Send sends a SEND frame addressed to qid with message, multicast or
// unicast per the multicast flag.
func (rc *RemoteClient) Send(qid string, message []byte, multicast bool) error {
	if err := validateQidAndMessage(len(qid), len(message)); err != nil {
		return err
	}
	h := encodeHeader(header{op: OpSend, flag: multicast, qidLen: len(qid), messageLen: len(message)})
	return rc.enqueue([][]byte{h[:], []byte(qid), message})
}

// Disconnect sends a DISCONNECT frame, waits for it to flush, and then
// closes the stream — matching the source's write(..., callback=close)
// idiom so the frame actually reaches the peer instead of racing Close.
func (rc *RemoteClient) Disconnect() error {
	rc.mu.Lock()
	connected := rc.connected
	rc.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	h := encodeHeader(header{op: OpDisconnect})
	done := make(chan struct{})
	if err := rc.stream.Write(h[:], func() { close(done) }); err != nil {
		return rc.stream.Close()
	}
	select {
	case <-done:
	case <-rc.rcDone:
	}
	return rc.stream.Close()
}

// Connected reports whether the handshake has completed and the stream
// has not yet closed.
func (rc *RemoteClient) Connected() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.connected
}
