package lanchat

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"lanchat/internal/protocol"
)

// Client lifecycle errors.
var (
	ErrAlreadyConnected = errors.New("client already connected")
	ErrNotConnected     = errors.New("client not connected")
	ErrClientClosed     = errors.New("client closed")
)

// Client connection states.
const (
	clientUnconnected = iota
	clientConnected
	clientClosed
)

// Client maintains one TCP connection to a chat server: it registers the
// display name, sends SAY frames, and surfaces every SAY_DISPATCH as a
// message event. Callbacks must be set before Connect.
type Client struct {
	mu    sync.Mutex // guards state, conn
	state int
	conn  net.Conn

	// writeMu is the exclusive writer slot: every frame written to the
	// connection goes through it. The receive loop never takes it.
	writeMu sync.Mutex

	// nameMu guards name and nameBytes; the getter, the setter, and the
	// connect-time SET_NAME push may race.
	nameMu    sync.Mutex
	name      string
	nameBytes []byte

	wg sync.WaitGroup // receive loop

	cbMu      sync.RWMutex
	onMessage func(name, msg string)
	onLost    func()
}

// NewClient returns an unconnected client.
func NewClient() *Client {
	return &Client{}
}

// SetOnMessage registers the callback invoked for every received
// SAY_DISPATCH. It runs on the receive loop and must not block.
func (c *Client) SetOnMessage(fn func(name, msg string)) {
	c.cbMu.Lock()
	c.onMessage = fn
	c.cbMu.Unlock()
}

// SetOnConnectionLost registers the callback invoked when the receive loop
// terminates because the transport failed (not because of Close).
func (c *Client) SetOnConnectionLost(fn func()) {
	c.cbMu.Lock()
	c.onLost = fn
	c.cbMu.Unlock()
}

// Name returns the stored display name, or "" while unset.
func (c *Client) Name() string {
	c.nameMu.Lock()
	defer c.nameMu.Unlock()
	return c.name
}

// SetName validates and stores the display name and, when connected,
// pushes a SET_NAME frame to the server.
func (c *Client) SetName(name string) error {
	trimmed, encoded, err := protocol.ValidateName(name)
	if err != nil {
		return err
	}

	c.nameMu.Lock()
	c.name = trimmed
	c.nameBytes = encoded
	c.nameMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	connected := c.state == clientConnected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.writeFrame(conn, protocol.AppendSetName(nil, encoded))
}

// Connect opens a TCP session to addr, registers the stored name if one has
// been set, and starts the receive loop.
func (c *Client) Connect(addr string) error {
	c.mu.Lock()
	switch c.state {
	case clientConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case clientClosed:
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	c.nameMu.Lock()
	encoded := c.nameBytes
	c.nameMu.Unlock()
	if encoded != nil {
		if err := c.writeFrame(conn, protocol.AppendSetName(nil, encoded)); err != nil {
			conn.Close()
			return err
		}
	}

	c.mu.Lock()
	if c.state != clientUnconnected {
		// A concurrent Connect or Close won the race.
		c.mu.Unlock()
		conn.Close()
		if c.closedLocked() {
			return ErrClientClosed
		}
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.state = clientConnected
	c.wg.Add(1)
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// closedLocked reports whether the client is terminally closed. Callers
// must not hold mu.
func (c *Client) closedLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == clientClosed
}

// Say validates msg and writes one SAY frame. The node, not the client, is
// responsible for backlogging while unconnected.
func (c *Client) Say(msg string) error {
	_, encoded, err := protocol.ValidateMessage(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state == clientConnected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return c.writeFrame(conn, protocol.AppendSay(nil, encoded))
}

// writeFrame serialises frame writes through the exclusive writer slot.
func (c *Client) writeFrame(conn net.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop reassembles SAY_DISPATCH frames until the connection dies.
// Unknown opcodes are skipped for forward compatibility.
func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()
	r := bufio.NewReader(conn)
	for {
		op, err := r.ReadByte()
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		if op != protocol.OpSayDispatch {
			continue
		}
		name, msg, err := protocol.ReadDispatch(r)
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		c.cbMu.RLock()
		fn := c.onMessage
		c.cbMu.RUnlock()
		if fn != nil {
			fn(name, msg)
		}
	}
}

// connectionLost transitions back to unconnected and raises the
// ConnectionLost callback, unless the loop ended because of Close.
func (c *Client) connectionLost(conn net.Conn, err error) {
	c.mu.Lock()
	closed := c.state == clientClosed
	if !closed && c.conn == conn {
		c.conn.Close()
		c.conn = nil
		c.state = clientUnconnected
	}
	c.mu.Unlock()
	if closed {
		return
	}

	slog.Debug("chat client connection lost", "err", err)
	c.cbMu.RLock()
	fn := c.onLost
	c.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Close is idempotent. It signals the receive loop by closing the
// transport, then waits until no reader or writer is touching it.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == clientClosed {
		c.mu.Unlock()
		return
	}
	c.state = clientClosed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()

	// Take the writer slot once so an in-flight Say has drained before
	// Close returns.
	c.writeMu.Lock()
	c.writeMu.Unlock() //nolint:staticcheck // quiescence barrier, not a critical section
}
