package jetstream

import "sync"

// Client is an in-process participant attached directly to an Exchange
// (spec.md §4.C). Callbacks are optional; a nil callback is simply not
// invoked.
type Client struct {
	mu        sync.Mutex
	exchange  *Exchange
	connected bool

	// OnConnectedFunc, OnDisconnectedFunc, and OnMessageFunc are invoked from
	// whatever goroutine calls Connect/Disconnect/Dispatch. For a Client
	// attached to a multi-connection Exchange, OnMessageFunc may be called
	// concurrently with itself from different publishers' goroutines;
	// callers needing serialized delivery should synchronize inside the
	// callback, the same way a Subscriber backed by a server connection
	// hands delivery off to its own single-goroutine loop.
	OnConnectedFunc    func()
	OnDisconnectedFunc func()
	OnMessageFunc      func(qid string, message []byte)
}

// NewClient returns a disconnected Client.
func NewClient() *Client {
	return &Client{}
}

// Connect attaches the client to exchange. It is an error to connect an
// already-connected client.
func (c *Client) Connect(exchange *Exchange) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.exchange = exchange
	c.connected = true
	cb := c.OnConnectedFunc
	c.mu.Unlock()

	exchange.Connect(c)
	if cb != nil {
		cb()
	}
	return nil
}

// Disconnect detaches the client from its exchange, removing every
// subscription it holds.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	exchange := c.exchange
	c.exchange = nil
	c.connected = false
	cb := c.OnDisconnectedFunc
	c.mu.Unlock()

	exchange.Disconnect(c)
	if cb != nil {
		cb()
	}
	return nil
}

// Subscribe registers interest in qid. It requires the client be connected.
func (c *Client) Subscribe(qid Qid) error {
	c.mu.Lock()
	exchange, connected := c.exchange, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return exchange.Subscribe(qid, c)
}

// Unsubscribe removes one subscription occurrence of qid.
func (c *Client) Unsubscribe(qid Qid) error {
	c.mu.Lock()
	exchange, connected := c.exchange, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return exchange.Unsubscribe(qid, c)
}

// Send dispatches message to qid through the exchange. With multicast true
// every matching subscriber receives it; with multicast false exactly one
// randomly chosen matching subscriber does.
func (c *Client) Send(qid string, message []byte, multicast bool) error {
	c.mu.Lock()
	exchange, connected := c.exchange, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	exchange.Dispatch(qid, message, multicast)
	return nil
}

// OnMessage implements Subscriber.
func (c *Client) OnMessage(qid string, message []byte) {
	c.mu.Lock()
	cb := c.OnMessageFunc
	c.mu.Unlock()
	if cb != nil {
		cb(qid, message)
	}
}
