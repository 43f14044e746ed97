package jetstream

import "encoding/binary"

// Op is a frame opcode (§4.D of the protocol: CONNECT, CONNECTED,
// DISCONNECT, SUBSCRIBE, UNSUBSCRIBE, MESSAGE, SEND).
type Op uint8

const (
	OpConnect Op = iota
	OpConnected
	OpDisconnect
	OpSubscribe
	OpUnsubscribe
	OpMessage
	OpSend
)

func (op Op) String() string {
	switch op {
	case OpConnect:
		return "CONNECT"
	case OpConnected:
		return "CONNECTED"
	case OpDisconnect:
		return "DISCONNECT"
	case OpSubscribe:
		return "SUBSCRIBE"
	case OpUnsubscribe:
		return "UNSUBSCRIBE"
	case OpMessage:
		return "MESSAGE"
	case OpSend:
		return "SEND"
	default:
		return "UNKNOWN"
	}
}

// Wire format limits (§4.D / §5 "Resource caps").
const (
	maxQidLen     = 255        // bits 27..20, 8 bits
	maxMessageLen = 1<<20 - 1  // bits 19..0, 20 bits
	frameHeaderLen = 4
)

// header is the 4-byte big-endian bit-packed frame header:
//
//	bits 31..29 (3): op code
//	bit  28     (1): flag (pattern-subscription / multicast)
//	bits 27..20 (8): qid_length
//	bits 19..0  (20): message_length
type header struct {
	op         Op
	flag       bool
	qidLen     int
	messageLen int
}

// encodeHeader packs h into a 4-byte big-endian frame header.
func encodeHeader(h header) [frameHeaderLen]byte {
	var flagBit uint32
	if h.flag {
		flagBit = 1
	}
	v := uint32(h.op)<<29 | flagBit<<28 | uint32(h.qidLen)<<20 | uint32(h.messageLen)
	var b [frameHeaderLen]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

// decodeHeader unpacks a 4-byte big-endian frame header.
func decodeHeader(b []byte) header {
	v := binary.BigEndian.Uint32(b)
	return header{
		op:         Op(v >> 29),
		flag:       (v>>28)&1 == 1,
		qidLen:     int((v >> 20) & 0xFF),
		messageLen: int(v & 0x000FFFFF),
	}
}

// validateQidAndMessage checks the wire format's field-width limits before
// a frame is encoded for the socket.
func validateQidAndMessage(qidLen, messageLen int) error {
	if qidLen > maxQidLen {
		return ErrTooLarge
	}
	if messageLen > maxMessageLen {
		return ErrTooLarge
	}
	return nil
}
