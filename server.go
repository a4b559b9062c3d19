package lanchat

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"lanchat/internal/protocol"
)

// serverNotice is the reserved sender name for server-originated notices.
const serverNotice = "SERVER"

// dispatch is one queued fan-out message.
type dispatch struct {
	name string
	text string
}

// serverClient is the server-side record of one connected client.
type serverClient struct {
	id   uint64
	conn net.Conn

	mu   sync.Mutex // guards name
	name string
}

// displayName returns the client's current name: the remote IP until a
// SET_NAME replaces it.
func (sc *serverClient) displayName() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.name
}

// Server accepts chat clients on TCP, fans their messages out to everyone,
// and advertises itself with UDP broadcast beacons. Redundant servers on
// one broadcast domain converge to a single survivor; see election.go.
type Server struct {
	cfg     Config
	uid     uint64
	started time.Time

	ln  net.Listener
	udp *net.UDPConn

	mu      sync.RWMutex // guards clients
	clients map[uint64]*serverClient
	nextID  atomic.Uint64

	queue    chan dispatch
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Stats, reset on each Stats call.
	dispatched atomic.Uint64
	bytesOut   atomic.Uint64
}

// NewServer binds the TCP listener and the UDP beacon socket, draws the
// random server uid, and starts the accept, dispatch, and election workers.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()

	var uidBuf [8]byte
	if _, err := rand.Read(uidBuf[:]); err != nil {
		return nil, fmt.Errorf("generate server uid: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		uid:     binary.LittleEndian.Uint64(uidBuf[:]),
		started: time.Now(),
		clients: make(map[uint64]*serverClient),
		queue:   make(chan dispatch, dispatchQueueDepth),
		done:    make(chan struct{}),
	}

	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen tcp port %d: %w", cfg.Port, err)
	}
	udp, err := listenBroadcastUDP(cfg.Port)
	if err != nil {
		ln.Close()
		return nil, err
	}
	s.ln = ln
	s.udp = udp

	s.wg.Add(3)
	go s.acceptLoop()
	go s.dispatchLoop()
	go s.electionLoop()

	slog.Info("chat server started", "port", cfg.Port, "uid", s.uid)
	return s, nil
}

// UID returns the server's random lifetime identity.
func (s *Server) UID() uint64 {
	return s.uid
}

// Age reports whole seconds since the server was created, as advertised in
// beacons.
func (s *Server) Age() uint32 {
	return uint32(time.Since(s.started) / time.Second)
}

// ClientCount returns the number of currently registered clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Stopped is closed once the server has begun shutting down, whether from
// Close or from yielding the election.
func (s *Server) Stopped() <-chan struct{} {
	return s.done
}

func (s *Server) stopping() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue queues one message for fan-out. It gives up when the server is
// stopping so drained workers never block on a dead dispatcher.
func (s *Server) enqueue(name, text string) {
	select {
	case s.queue <- dispatch{name: name, text: text}:
	case <-s.done:
	}
}

// acceptLoop registers incoming TCP connections until the listener closes.
// A listener failure outside shutdown takes the whole server down.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.stopping() {
				slog.Warn("chat server accept failed", "err", err)
				s.signalStop()
			}
			return
		}
		s.addClient(conn)
	}
}

// addClient assigns the next id, defaults the name to the peer IP, records
// the client, and announces the arrival. A connection that Accept handed
// over after shutdown began is turned away here, so signalStop's sweep of
// the client table misses nobody.
func (s *Server) addClient(conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	sc := &serverClient{
		id:   s.nextID.Add(1),
		conn: conn,
		name: host,
	}

	s.mu.Lock()
	if s.stopping() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[sc.id] = sc
	s.mu.Unlock()

	s.wg.Add(1)
	go s.clientLoop(sc)

	slog.Debug("client connected", "id", sc.id, "addr", conn.RemoteAddr())
	s.enqueue(serverNotice, host+" connected.")
}

// clientLoop reads frames from one client until its transport fails or the
// server shuts down. Unknown opcodes are skipped.
func (s *Server) clientLoop(sc *serverClient) {
	defer s.wg.Done()
	r := bufio.NewReader(sc.conn)
	for {
		op, err := r.ReadByte()
		if err != nil {
			s.removeClient(sc, err)
			return
		}
		switch op {
		case protocol.OpSay:
			text, err := protocol.ReadSay(r)
			if err != nil {
				s.removeClient(sc, err)
				return
			}
			s.enqueue(sc.displayName(), text)
		case protocol.OpSetName:
			name, err := protocol.ReadSetName(r)
			if err != nil {
				s.removeClient(sc, err)
				return
			}
			s.renameClient(sc, name)
		default:
		}
	}
}

// renameClient stores the new name and announces the change. Re-sending the
// current name is ignored.
func (s *Server) renameClient(sc *serverClient, name string) {
	sc.mu.Lock()
	old := sc.name
	if name == old {
		sc.mu.Unlock()
		return
	}
	sc.name = name
	sc.mu.Unlock()
	s.enqueue(serverNotice, old+" changed their name to "+name)
}

// removeClient drops the record at most once, closes the transport, and
// announces the departure.
func (s *Server) removeClient(sc *serverClient, cause error) {
	s.mu.Lock()
	_, present := s.clients[sc.id]
	delete(s.clients, sc.id)
	s.mu.Unlock()
	if !present {
		return
	}

	sc.conn.Close()
	if cause != nil && !s.stopping() {
		slog.Debug("client dropped", "id", sc.id, "err", cause)
	}
	s.enqueue(serverNotice, sc.displayName()+" disconnected.")
}

// dispatchLoop encodes each queued message once and writes the frame to
// every registered client. A write failure drops that client only; the
// fan-out proceeds for the rest.
func (s *Server) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case d := <-s.queue:
			frame, err := protocol.AppendDispatch(nil, d.name, d.text)
			if err != nil {
				slog.Warn("dropping undispatchable message", "name", d.name, "err", err)
				continue
			}
			s.dispatched.Add(1)

			s.mu.RLock()
			targets := make([]*serverClient, 0, len(s.clients))
			for _, sc := range s.clients {
				targets = append(targets, sc)
			}
			s.mu.RUnlock()

			for _, sc := range targets {
				if _, err := sc.conn.Write(frame); err != nil {
					s.removeClient(sc, err)
					continue
				}
				s.bytesOut.Add(uint64(len(frame)))
			}
		}
	}
}

// Stats returns the dispatch and byte counters accumulated since the last
// call, plus the current client count. Counters reset on each call.
func (s *Server) Stats() (dispatches, bytes uint64, clients int) {
	dispatches = s.dispatched.Swap(0)
	bytes = s.bytesOut.Swap(0)
	clients = s.ClientCount()
	return
}

// signalStop begins shutdown: stop accepting, close every socket so blocked
// workers drain, and let the loops wind down. Safe to call repeatedly.
func (s *Server) signalStop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.ln.Close()
		s.udp.Close()

		s.mu.RLock()
		targets := make([]*serverClient, 0, len(s.clients))
		for _, sc := range s.clients {
			targets = append(targets, sc)
		}
		s.mu.RUnlock()
		for _, sc := range targets {
			sc.conn.Close()
		}

		slog.Info("chat server stopping", "uid", s.uid, "age_s", s.Age())
	})
}

// Close signals shutdown and joins every worker. Idempotent; it does not
// return while any worker may still touch a socket.
func (s *Server) Close() {
	s.signalStop()
	s.wg.Wait()
}
