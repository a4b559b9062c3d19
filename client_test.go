package lanchat

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"lanchat/internal/protocol"
)

// fakeServer is a minimal scripted TCP peer for client tests.
type fakeServer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeServer{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fs.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return fs
}

func (fs *fakeServer) addr() string {
	return fs.ln.Addr().String()
}

func (fs *fakeServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no client connected")
		return nil
	}
}

func TestClientReceivesDispatch(t *testing.T) {
	fs := newFakeServer(t)

	got := make(chan event, 1)
	c := NewClient()
	c.SetOnMessage(func(name, msg string) { got <- event{name: name, msg: msg} })
	if err := c.Connect(fs.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)

	conn := fs.accept(t)
	frame, err := protocol.AppendDispatch(nil, "bob", "hi there")
	if err != nil {
		t.Fatalf("build dispatch: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write dispatch: %v", err)
	}

	select {
	case e := <-got:
		if e.name != "bob" || e.msg != "hi there" {
			t.Errorf("got (%q, %q)", e.name, e.msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message event")
	}
}

func TestClientIgnoresUnknownOpcode(t *testing.T) {
	fs := newFakeServer(t)

	got := make(chan event, 1)
	c := NewClient()
	c.SetOnMessage(func(name, msg string) { got <- event{name: name, msg: msg} })
	if err := c.Connect(fs.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)

	conn := fs.accept(t)
	frame, err := protocol.AppendDispatch(nil, "bob", "after junk")
	if err != nil {
		t.Fatalf("build dispatch: %v", err)
	}
	if _, err := conn.Write(append([]byte{0x63}, frame...)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case e := <-got:
		if e.msg != "after junk" {
			t.Errorf("got %q", e.msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch after unknown opcode was not surfaced")
	}
}

func TestClientSendsStoredNameOnConnect(t *testing.T) {
	fs := newFakeServer(t)

	c := NewClient()
	if err := c.SetName("alice"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := c.Connect(fs.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)

	conn := fs.accept(t)
	r := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	op, err := r.ReadByte()
	if err != nil || op != protocol.OpSetName {
		t.Fatalf("opcode = %d, %v; want SET_NAME", op, err)
	}
	name, err := protocol.ReadSetName(r)
	if err != nil {
		t.Fatalf("read set_name: %v", err)
	}
	if name != "alice" {
		t.Errorf("got %q, want %q", name, "alice")
	}
}

func TestClientSetNameWhileConnected(t *testing.T) {
	fs := newFakeServer(t)

	c := NewClient()
	if err := c.Connect(fs.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	conn := fs.accept(t)

	if err := c.SetName("carol"); err != nil {
		t.Fatalf("set name: %v", err)
	}

	r := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	op, err := r.ReadByte()
	if err != nil || op != protocol.OpSetName {
		t.Fatalf("opcode = %d, %v; want SET_NAME", op, err)
	}
	name, err := protocol.ReadSetName(r)
	if err != nil {
		t.Fatalf("read set_name: %v", err)
	}
	if name != "carol" {
		t.Errorf("got %q", name)
	}
}

func TestClientSayWritesFrame(t *testing.T) {
	fs := newFakeServer(t)

	c := NewClient()
	if err := c.Connect(fs.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	conn := fs.accept(t)

	if err := c.Say("  hello  "); err != nil {
		t.Fatalf("say: %v", err)
	}

	r := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	op, err := r.ReadByte()
	if err != nil || op != protocol.OpSay {
		t.Fatalf("opcode = %d, %v; want SAY", op, err)
	}
	msg, err := protocol.ReadSay(r)
	if err != nil {
		t.Fatalf("read say: %v", err)
	}
	if msg != "hello" {
		t.Errorf("got %q, want %q (trimmed before send)", msg, "hello")
	}
}

func TestClientSayValidation(t *testing.T) {
	c := NewClient()
	if err := c.Say("   "); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("empty say = %v, want ErrInvalidArgument", err)
	}
	if err := c.Say(strings.Repeat("a", 40000)); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("oversized say = %v, want ErrInvalidArgument", err)
	}
}

func TestClientSayNotConnected(t *testing.T) {
	c := NewClient()
	if err := c.Say("hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestClientSetNameValidation(t *testing.T) {
	c := NewClient()
	if err := c.SetName(" "); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("empty name = %v, want ErrInvalidArgument", err)
	}
	if err := c.SetName(strings.Repeat("n", 300)); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("oversized name = %v, want ErrInvalidArgument", err)
	}
}

func TestClientAlreadyConnected(t *testing.T) {
	fs := newFakeServer(t)

	c := NewClient()
	if err := c.Connect(fs.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	fs.accept(t)

	if err := c.Connect(fs.addr()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestClientConnectionLost(t *testing.T) {
	fs := newFakeServer(t)

	lost := make(chan struct{}, 1)
	c := NewClient()
	c.SetOnConnectionLost(func() { lost <- struct{}{} })
	if err := c.Connect(fs.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)

	conn := fs.accept(t)
	conn.Close()

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("ConnectionLost not raised after server-side close")
	}
}

func TestClientCloseSuppressesConnectionLost(t *testing.T) {
	fs := newFakeServer(t)

	lost := make(chan struct{}, 1)
	c := NewClient()
	c.SetOnConnectionLost(func() { lost <- struct{}{} })
	if err := c.Connect(fs.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fs.accept(t)

	c.Close()
	select {
	case <-lost:
		t.Fatal("ConnectionLost raised for an explicit Close")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	fs := newFakeServer(t)

	c := NewClient()
	if err := c.Connect(fs.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fs.accept(t)

	c.Close()
	c.Close()
}

func TestClientClosedIsTerminal(t *testing.T) {
	fs := newFakeServer(t)

	c := NewClient()
	c.Close()
	if err := c.Connect(fs.addr()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("connect after close = %v, want ErrClientClosed", err)
	}
}
