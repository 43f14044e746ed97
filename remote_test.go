package jetstream

import (
	"net"
	"testing"
	"time"
)

// fakeHandshakeServer completes the CONNECT/CONNECTED handshake on one end
// of a net.Pipe and then lets the test drive the rest of the protocol by
// hand, exercising RemoteClient without a real Listener.
func fakeHandshakeServer(t *testing.T, conn net.Conn) *rawPeer {
	t.Helper()
	p := &rawPeer{conn: conn}
	h := p.readHeader(t)
	if h.op != OpConnect {
		t.Fatalf("expected CONNECT, got %s", h.op)
	}
	p.writeHeader(header{op: OpConnected})
	return p
}

func TestRemoteClient_HandshakeSucceeds(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	rc := NewRemoteClient()
	errCh := make(chan error, 1)
	go func() { errCh <- rc.attach(clientConn) }()

	fakeHandshakeServer(t, serverConn)

	if err := <-errCh; err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !rc.Connected() {
		t.Error("expected Connected() to report true after handshake")
	}
}

func TestRemoteClient_HandshakeFailureOnWrongOp(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	rc := NewRemoteClient()
	errCh := make(chan error, 1)
	go func() { errCh <- rc.attach(clientConn) }()

	peer := &rawPeer{conn: serverConn}
	peer.readHeader(t) // CONNECT
	peer.writeHeader(header{op: OpDisconnect})

	err := <-errCh
	if err != ErrHandshake {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
}

func TestRemoteClient_ReceivesMessage(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	rc := NewRemoteClient()
	var got []string
	rc.OnMessageFunc = func(qid string, message []byte) {
		got = append(got, qid+":"+string(message))
	}
	errCh := make(chan error, 1)
	go func() { errCh <- rc.attach(clientConn) }()
	peer := fakeHandshakeServer(t, serverConn)
	if err := <-errCh; err != nil {
		t.Fatalf("attach: %v", err)
	}

	peer.writeHeader(header{op: OpMessage, qidLen: 2, messageLen: 2})
	peer.conn.Write([]byte("/q"))
	peer.conn.Write([]byte("hi"))

	deadline := time.After(time.Second)
	for len(got) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for OnMessageFunc")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got[0] != "/q:hi" {
		t.Fatalf("expected \"/q:hi\", got %q", got[0])
	}
}

func TestRemoteClient_SubscribeSendWireFormat(t *testing.T) {
	t.Parallel()
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	rc := NewRemoteClient()
	errCh := make(chan error, 1)
	go func() { errCh <- rc.attach(clientConn) }()
	peer := fakeHandshakeServer(t, serverConn)
	if err := <-errCh; err != nil {
		t.Fatalf("attach: %v", err)
	}

	pat, _ := NewPattern("^/room")
	if err := rc.Subscribe(pat); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	h := peer.readHeader(t)
	if h.op != OpSubscribe || !h.flag || h.qidLen != len("^/room") {
		t.Fatalf("unexpected SUBSCRIBE header: %+v", h)
	}
	if qid := peer.readN(t, h.qidLen); string(qid) != "^/room" {
		t.Fatalf("unexpected qid bytes: %q", qid)
	}

	if err := rc.Send("/room/1", []byte("hey"), true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h = peer.readHeader(t)
	if h.op != OpSend || !h.flag {
		t.Fatalf("unexpected SEND header: %+v", h)
	}
	qid := peer.readN(t, h.qidLen)
	body := peer.readN(t, h.messageLen)
	if string(qid) != "/room/1" || string(body) != "hey" {
		t.Fatalf("unexpected SEND payload: qid=%q body=%q", qid, body)
	}
}
