package jetstream

import "testing"

func TestClient_ConnectDisconnectLifecycle(t *testing.T) {
	e := NewExchange()
	c := NewClient()

	connected := false
	c.OnConnectedFunc = func() { connected = true }
	disconnected := false
	c.OnDisconnectedFunc = func() { disconnected = true }

	if err := c.Connect(e); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !connected {
		t.Error("expected OnConnectedFunc to fire")
	}
	if err := c.Connect(e); err != ErrAlreadyConnected {
		t.Errorf("expected ErrAlreadyConnected on double connect, got %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !disconnected {
		t.Error("expected OnDisconnectedFunc to fire")
	}
	if err := c.Disconnect(); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected on double disconnect, got %v", err)
	}
}

func TestClient_OperationsRequireConnect(t *testing.T) {
	c := NewClient()
	if err := c.Subscribe(Literal("/q")); err != ErrNotConnected {
		t.Errorf("Subscribe before connect: got %v", err)
	}
	if err := c.Unsubscribe(Literal("/q")); err != ErrNotConnected {
		t.Errorf("Unsubscribe before connect: got %v", err)
	}
	if err := c.Send("/q", []byte("m"), true); err != ErrNotConnected {
		t.Errorf("Send before connect: got %v", err)
	}
}

func TestClient_SendAndReceiveThroughExchange(t *testing.T) {
	e := NewExchange()
	a := NewClient()
	var got []string
	a.OnMessageFunc = func(qid string, message []byte) {
		got = append(got, qid+":"+string(message))
	}
	if err := a.Connect(e); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := a.Subscribe(Literal("/q")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b := NewClient()
	if err := b.Connect(e); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := b.Send("/q", []byte("hi"), true); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(got) != 1 || got[0] != "/q:hi" {
		t.Errorf("expected exactly one delivery \"/q:hi\", got %+v", got)
	}
}
