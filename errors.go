// Package jetstream implements an in-process publish/subscribe message
// exchange together with a TCP/Unix stream-socket transport so remote
// clients can subscribe and publish through a compact binary framing
// protocol.
//
// Subscribers register interest in a queue identifier (qid) — a literal
// string or a compiled regular expression — and publishers emit messages
// addressed to a qid. The exchange routes each message to every matching
// subscriber (multicast) or to exactly one, chosen at random (unicast).
//
// jetstream does not provide durability, delivery guarantees,
// authentication, encryption, or cross-exchange federation. Slow or
// disconnected subscribers simply miss messages; flow control back to a
// publisher is whatever TCP already provides.
package jetstream

import (
	"errors"
	"net"
)

var (
	// ErrClosed is returned by operations attempted on a closed Stream,
	// server connection, or remote client.
	ErrClosed = errors.New("jetstream: use of closed stream")

	// ErrNotConnected is returned when an operation that requires an
	// attached exchange (subscribe, unsubscribe, send) is attempted on a
	// Client that has not connected.
	ErrNotConnected = errors.New("jetstream: client is not connected")

	// ErrAlreadyConnected is returned by Connect when the client is
	// already attached to an exchange.
	ErrAlreadyConnected = errors.New("jetstream: client is already connected")

	// ErrProtocol reports a frame that violates the wire protocol: an
	// unexpected opcode, a non-zero message_length on a SUBSCRIBE or
	// UNSUBSCRIBE frame, or a frame received before the CONNECT handshake.
	ErrProtocol = errors.New("jetstream: protocol violation")

	// ErrHandshake reports that a remote client's CONNECT was not answered
	// with CONNECTED.
	ErrHandshake = errors.New("jetstream: handshake failed")

	// ErrBufferOverflow reports that a peer sent more bytes than
	// max_buffer_size without a matching read_exactly consumer.
	ErrBufferOverflow = errors.New("jetstream: read buffer overflow")

	// ErrTooLarge reports a qid or message that exceeds the wire format's
	// field widths (qid: 255 bytes, message: 2^20-1 bytes). Message size is
	// not checked against a stream's max_buffer_size.
	ErrTooLarge = errors.New("jetstream: qid or message too large for the wire format")

	// ErrReadInFlight is returned by ReadExactly when another read is
	// already pending on the same Stream.
	ErrReadInFlight = errors.New("jetstream: a read is already in flight")
)

// timeoutError implements net.Error so callers that type-assert on
// network errors (e.g. via errors.As) see a well-formed timeout, matching
// the convention of net.Conn deadline errors.
type timeoutError struct{}

func (timeoutError) Error() string   { return "jetstream: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// ErrTimeout is returned when the context deadline passed to
// RemoteClient.Connect elapses during the dial. The handshake that follows
// has no deadline of its own.
var ErrTimeout net.Error = timeoutError{}
