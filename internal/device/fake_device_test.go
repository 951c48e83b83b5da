package device

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"caen-hv-bridge/internal/protocol"
)

// action tells the fake device what to do with one received command line.
type action struct {
	reply  string        // written back followed by "\r\n"
	raw    string        // written back as is (no terminator added)
	delay  time.Duration // before replying
	hangup bool          // close the connection instead of replying
	silent bool          // never reply
}

// fakeDevice is an in-process TCP server speaking the DT5533E line protocol.
type fakeDevice struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	conns    int
	received []string
	handle   func(connIndex int, cmd protocol.Command, line string) action
}

func newFakeDevice(t *testing.T, handle func(connIndex int, cmd protocol.Command, line string) action) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDevice{t: t, ln: ln, handle: handle}
	go d.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return d
}

// okHandler answers every MON with a fixed value and every SET with a bare OK.
func okHandler(value string) func(int, protocol.Command, string) action {
	return func(_ int, cmd protocol.Command, _ string) action {
		if cmd.Op == protocol.OpMonitor {
			return action{reply: "#CMD:OK,VAL:" + value + ";"}
		}
		return action{reply: "#CMD:OK;"}
	}
}

func (d *fakeDevice) addr() string { return d.ln.Addr().String() }

func (d *fakeDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		idx := d.conns
		d.conns++
		d.mu.Unlock()
		go d.serveConn(idx, conn)
	}
}

func (d *fakeDevice) serveConn(idx int, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		d.mu.Lock()
		d.received = append(d.received, line)
		d.mu.Unlock()

		cmd, _ := protocol.ParseCommand(line)
		a := d.handle(idx, cmd, line)
		if a.delay > 0 {
			time.Sleep(a.delay)
		}
		switch {
		case a.hangup:
			return
		case a.silent:
			continue
		case a.raw != "":
			_, _ = conn.Write([]byte(a.raw))
		default:
			_, _ = conn.Write([]byte(a.reply + "\r\n"))
		}
	}
}

func (d *fakeDevice) connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns
}

func (d *fakeDevice) lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

func newTestClient(addr string) *Client {
	return New(Config{
		Address:      addr,
		Timeout:      200 * time.Millisecond,
		RetryBackoff: 10 * time.Millisecond,
	})
}
