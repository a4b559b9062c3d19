// Package lanchat implements zero-configuration group chat for a single
// LAN broadcast domain. Every peer runs a Node; the first node up hosts
// the session and the rest discover and join it over UDP broadcast. When
// the hosting peer dies, the survivors elect a replacement among
// themselves and reconnect.
package lanchat

import (
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"lanchat/internal/protocol"
)

// noticeClient is the sender name on node-local status notices.
const noticeClient = "CLIENT"

// Node is the peer-level session manager and the public API: it joins an
// existing session or transparently hosts a new one, reconnects through
// rediscovery when its server dies, and buffers outbound messages while
// offline.
type Node struct {
	cfg Config

	cbMu      sync.RWMutex
	onMessage func(name, msg string)

	nameMu sync.Mutex
	name   string

	// clientMu serialises the non-thread-safe client operations: Connect,
	// Close, swapping the client or server instance, and the backlog
	// drain.
	clientMu sync.Mutex
	client   *Client
	server   *Server

	// active is the connected client, published for the lock-free Say
	// fast path; nil while the node is offline.
	active atomic.Pointer[Client]

	backlogMu sync.Mutex
	backlog   []string

	// lostMu serialises the reconnect decision in handleConnectionLost
	// against Close, so no acquisition worker registers with wg after
	// Close has started waiting on it.
	lostMu sync.Mutex

	started   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New returns an idle node. Zero cfg fields are filled with defaults.
func New(cfg Config) *Node {
	return &Node{
		cfg:  cfg.withDefaults(),
		done: make(chan struct{}),
	}
}

// SetOnMessage registers the MessageSaid callback. Set it before Start.
// The callback runs on internal workers and must not block; name is
// "SERVER" for server notices and "CLIENT" for node-local status notices.
func (n *Node) SetOnMessage(fn func(name, msg string)) {
	n.cbMu.Lock()
	n.onMessage = fn
	n.cbMu.Unlock()
}

// Start begins session acquisition in the background. Calling Start more
// than once has no effect.
func (n *Node) Start() {
	if !n.started.CompareAndSwap(false, true) {
		return
	}
	n.wg.Add(1)
	go n.acquireSession()
}

// Say sends msg to the session, or buffers it while the node is offline.
// Messages empty after trimming, or over the wire limit, are rejected
// synchronously and never reach a socket or the backlog.
func (n *Node) Say(msg string) error {
	trimmed, _, err := protocol.ValidateMessage(msg)
	if err != nil {
		return err
	}

	if c := n.active.Load(); c != nil {
		if err := c.Say(trimmed); err == nil {
			return nil
		}
		// The transport failed or we raced with a connection loss; fall
		// through to the backlog so the reconnect drain redelivers it.
	}

	n.backlogMu.Lock()
	n.backlog = append(n.backlog, trimmed)
	n.backlogMu.Unlock()
	return nil
}

// Name returns the display name, or "" while unset.
func (n *Node) Name() string {
	n.nameMu.Lock()
	defer n.nameMu.Unlock()
	return n.name
}

// SetName validates and stores the display name and, when connected,
// pushes it to the session.
func (n *Node) SetName(name string) error {
	trimmed, _, err := protocol.ValidateName(name)
	if err != nil {
		return err
	}

	n.nameMu.Lock()
	n.name = trimmed
	n.nameMu.Unlock()

	if c := n.active.Load(); c != nil {
		return c.SetName(trimmed)
	}
	return nil
}

// Close stops session acquisition, closes the client, and disposes the
// owned server. Idempotent.
func (n *Node) Close() {
	n.closeOnce.Do(func() { close(n.done) })

	// A concurrent handleConnectionLost either already observed done
	// closed, or completed its wg.Add before this lock came free.
	n.lostMu.Lock()
	n.lostMu.Unlock() //nolint:staticcheck // quiescence barrier, not a critical section

	// Join any in-flight acquisition pass first so the client and server
	// fields are stable before they are disposed.
	n.wg.Wait()
	n.active.Store(nil)

	n.clientMu.Lock()
	if n.client != nil {
		n.client.Close()
		n.client = nil
	}
	if n.server != nil {
		n.server.Close()
		n.server = nil
	}
	n.clientMu.Unlock()
}

func (n *Node) closed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

// emit delivers a MessageSaid event synchronously on the calling worker.
func (n *Node) emit(name, msg string) {
	n.cbMu.RLock()
	fn := n.onMessage
	n.cbMu.RUnlock()
	if fn != nil {
		fn(name, msg)
	}
}

// acquireSession loops until a TCP connection to some server holds:
// discover candidates, try each oldest-first, and self-host when nobody
// answers or nobody accepts.
func (n *Node) acquireSession() {
	defer n.wg.Done()
	if n.closed() {
		return
	}
	n.emit(noticeClient, "Searching for session…")

	for !n.closed() {
		cands, err := discover(n.cfg, n.done)
		if err != nil {
			slog.Warn("discovery failed", "err", err)
		}
		sortCandidates(cands, time.Now())

		connected := false
		for _, cand := range cands {
			if n.closed() {
				return
			}
			addr := net.JoinHostPort(cand.addr.String(), strconv.Itoa(n.cfg.Port))
			if n.connectTo(addr) {
				connected = true
				break
			}
		}
		if connected || n.closed() {
			return
		}
		if n.selfHost() {
			return
		}
		// Self-hosting failed (port race with another starting peer is the
		// usual cause); go back to discovery.
	}
}

// connectTo replaces the node's client with a fresh instance wired to this
// node and dials addr. On success the node is connected and the backlog is
// drained in order.
func (n *Node) connectTo(addr string) bool {
	n.clientMu.Lock()
	defer n.clientMu.Unlock()

	if n.client != nil {
		n.client.Close()
		n.client = nil
	}

	c := NewClient()
	c.SetOnMessage(n.emit)
	c.SetOnConnectionLost(n.handleConnectionLost)

	n.nameMu.Lock()
	name := n.name
	n.nameMu.Unlock()
	if name != "" {
		if err := c.SetName(name); err != nil {
			slog.Debug("stored name rejected", "err", err)
		}
	}

	if err := c.Connect(addr); err != nil {
		slog.Debug("candidate connect failed", "addr", addr, "err", err)
		c.Close()
		return false
	}

	n.client = c
	n.active.Store(c)
	n.emit(noticeClient, "Connected.")
	n.drainBacklog(c)
	return true
}

// selfHost starts a new session: dispose any previously owned server, spin
// up a fresh one, and connect to it over loopback.
func (n *Node) selfHost() bool {
	n.emit(noticeClient, "Starting new session.")

	n.clientMu.Lock()
	if n.server != nil {
		n.server.Close()
		n.server = nil
	}
	srv, err := NewServer(n.cfg)
	if err != nil {
		n.clientMu.Unlock()
		slog.Warn("self-hosting failed", "err", err)
		return false
	}
	n.server = srv
	n.clientMu.Unlock()

	return n.connectTo(net.JoinHostPort("127.0.0.1", strconv.Itoa(n.cfg.Port)))
}

// handleConnectionLost re-enters session acquisition. The owned server, if
// still running, is retained: after a yield elsewhere on the LAN this node
// may now be the best candidate itself.
func (n *Node) handleConnectionLost() {
	n.active.Store(nil)

	n.lostMu.Lock()
	if n.closed() {
		n.lostMu.Unlock()
		return
	}
	n.wg.Add(1)
	n.lostMu.Unlock()

	n.emit(noticeClient, "Connection Lost.")
	go n.acquireSession()
}

// drainBacklog flushes the messages queued while offline, preserving
// order. Per-message validation errors are swallowed; a transport error
// stops the drain and the unsent tail stays queued for the next
// connection. Called with clientMu held.
func (n *Node) drainBacklog(c *Client) {
	n.backlogMu.Lock()
	queued := n.backlog
	n.backlog = nil
	n.backlogMu.Unlock()

	for i, msg := range queued {
		if err := c.Say(msg); err != nil {
			if errors.Is(err, protocol.ErrInvalidArgument) {
				continue
			}
			n.backlogMu.Lock()
			n.backlog = append(queued[i:], n.backlog...)
			n.backlogMu.Unlock()
			return
		}
	}
}

// hostedServer returns the server this node currently owns, or nil.
func (n *Node) hostedServer() *Server {
	n.clientMu.Lock()
	defer n.clientMu.Unlock()
	return n.server
}
