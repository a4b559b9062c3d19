package lanchat

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Tests share one process, so every test takes a fresh protocol port and
// keeps its traffic on the loopback broadcast address.

var testPortCounter atomic.Int32

func init() {
	testPortCounter.Store(47100)
}

func testConfig() Config {
	return Config{
		Port:      int(testPortCounter.Add(1)),
		Broadcast: "127.255.255.255",
	}
}

// event is one recorded MessageSaid emission.
type event struct {
	name string
	msg  string
}

// recorder captures MessageSaid events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) callback(name, msg string) {
	r.mu.Lock()
	r.events = append(r.events, event{name: name, msg: msg})
	r.mu.Unlock()
}

func (r *recorder) count(name, msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.name == name && e.msg == msg {
			n++
		}
	}
	return n
}

func (r *recorder) has(name, msg string) bool {
	return r.count(name, msg) > 0
}

// saysFrom returns, in order, the messages recorded under the given sender
// name.
func (r *recorder) saysFrom(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e.msg)
		}
	}
	return out
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

// waitFor blocks until at least want events matching (name, msg) have been
// recorded, or fails the test after timeout.
func (r *recorder) waitForCount(t *testing.T, name, msg string, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.count(name, msg) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d × (%q, %q); recorded: %v", want, name, msg, r.snapshot())
}

func (r *recorder) waitFor(t *testing.T, name, msg string, timeout time.Duration) {
	t.Helper()
	r.waitForCount(t, name, msg, 1, timeout)
}
