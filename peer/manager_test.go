package peer

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/soulseek-go/peercore/netconn"
	"github.com/soulseek-go/peercore/wire"
)

func listenLoopback(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln, ln.Addr().String()
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		t.Fatal(err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Fatal(err)
	}
	return body
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ConnOptions.ConnectTimeout = 500 * time.Millisecond
	opts.WaiterTimeout = time.Second
	return opts
}

// TestGetOrAddDirectWins covers the design direct-wins path: the
// winning socket must announce itself with PeerInit before continuous
// reading starts.
func TestGetOrAddDirectWins(t *testing.T) {
	ln, addr := listenLoopback(t)
	defer ln.Close()

	handshake := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handshake <- readFrame(t, conn)
	}()

	m := New("me", nil, testOptions())
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mc, err := m.GetOrAdd(ctx, "alice", addr)
	if err != nil {
		t.Fatal(err)
	}
	if mc.Username() != "alice" {
		t.Fatalf("username = %q", mc.Username())
	}
	if mc.Path() != netconn.Direct {
		t.Fatalf("path = %v, want Direct", mc.Path())
	}

	body := <-handshake
	code, payload, err := wire.ReadHandshakeCode(body)
	if err != nil {
		t.Fatal(err)
	}
	if code != wire.HandshakePeerInit {
		t.Fatalf("handshake code = %v", code)
	}
	username, connType, _, err := wire.DecodePeerInit(payload)
	if err != nil {
		t.Fatal(err)
	}
	if username != "me" || connType != connTypePeer {
		t.Fatalf("got PeerInit(%q, %q)", username, connType)
	}
}

// TestGetOrAddCachesSlot covers the lazy cache slot: a second lookup
// for the same username returns the same message connection without
// establishing a new one.
func TestGetOrAddCachesSlot(t *testing.T) {
	ln, addr := listenLoopback(t)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			readFrame(t, conn)
		}
	}()

	m := New("me", nil, testOptions())
	defer m.Close()

	ctx := context.Background()
	first, err := m.GetOrAdd(ctx, "alice", addr)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.GetOrAdd(ctx, "alice", addr)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("expected the cached slot to be reused")
	}
}

type fakeSender struct {
	ch chan uint32
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan uint32, 1)}
}

func (f *fakeSender) SendConnectToPeerRequest(ctx context.Context, token uint32, username, connType string) error {
	f.ch <- token
	return nil
}

// TestGetOrAddIndirectWins covers the indirect rendezvous path: the
// direct dial fails immediately (nothing listens on the chosen port),
// so establishment must solicit the server and wait for the
// PierceFirewall this test delivers directly (the design step b,
// §4.4 waiter correlation).
func TestGetOrAddIndirectWins(t *testing.T) {
	sender := newFakeSender()
	m := New("me", sender, testOptions())
	defer m.Close()

	type getOrAddResult struct {
		mc  *netconn.MessageConnection
		err error
	}
	resultCh := make(chan getOrAddResult, 1)
	go func() {
		mc, err := m.GetOrAdd(context.Background(), "bob", "127.0.0.1:1")
		resultCh <- getOrAddResult{mc, err}
	}()

	var tok uint32
	select {
	case tok = <-sender.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ConnectToPeerRequest")
	}

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	if err := m.ResolvePierceFirewall(tok, serverSide); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatal(r.err)
		}
		if r.mc.Path() != netconn.Indirect {
			t.Fatalf("path = %v, want Indirect", r.mc.Path())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for GetOrAdd to resolve")
	}
}

// TestResolvePierceFirewallUnknownToken covers an arriving
// PierceFirewall whose token was never solicited, or already resolved
//.
func TestResolvePierceFirewallUnknownToken(t *testing.T) {
	m := New("me", nil, testOptions())
	defer m.Close()

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	err := m.ResolvePierceFirewall(12345, serverSide)
	if _, ok := err.(*UnknownTokenError); !ok {
		t.Fatalf("got %v, want *UnknownTokenError", err)
	}
}

// TestAddMessageConnectionSupersedes covers the design supersession
// rule: a newer inbound connection for the same username always wins,
// and the older one is disconnected.
func TestAddMessageConnectionSupersedes(t *testing.T) {
	m := New("me", nil, testOptions())
	defer m.Close()

	oldServer, oldClient := net.Pipe()
	defer oldClient.Close()

	mc1 := m.AddMessageConnection("carol", oldServer)

	disconnected := make(chan struct{})
	mc1.OnDisconnect(func(error) { close(disconnected) })

	newServer, newClient := net.Pipe()
	defer newClient.Close()

	mc2 := m.AddMessageConnection("carol", newServer)
	if mc2 == mc1 {
		t.Fatal("expected a distinct message connection for the superseding socket")
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("old connection was never disconnected")
	}

	if cur, ok := m.cache.Load("carol"); !ok {
		t.Fatal("expected carol to remain cached")
	} else if _, conn, _ := cur.snapshot(); conn != mc2 {
		t.Fatal("cache does not point at the superseding connection")
	}
}

// TestGetTransferDirectWins covers the design transfer path: on a
// direct win, PeerInit("F", tok) is sent, then the raw token is
// written regardless of path.
func TestGetTransferDirectWins(t *testing.T) {
	ln, addr := listenLoopback(t)
	defer ln.Close()

	const tok = uint32(42)
	type handshakeResult struct {
		connType string
		tokBytes uint32
	}
	got := make(chan handshakeResult, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		body := readFrame(t, conn)
		_, payload, err := wire.ReadHandshakeCode(body)
		if err != nil {
			t.Error(err)
			return
		}
		_, connType, _, err := wire.DecodePeerInit(payload)
		if err != nil {
			t.Error(err)
			return
		}
		var tb [4]byte
		if _, err := io.ReadFull(conn, tb[:]); err != nil {
			t.Error(err)
			return
		}
		got <- handshakeResult{connType, binary.LittleEndian.Uint32(tb[:])}
	}()

	m := New("me", nil, testOptions())
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := m.GetTransfer(ctx, "dave", addr, tok)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect(nil)

	select {
	case r := <-got:
		if r.connType != connTypeTransfer {
			t.Fatalf("connType = %q", r.connType)
		}
		if r.tokBytes != tok {
			t.Fatalf("token = %d, want %d", r.tokBytes, tok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the handshake")
	}
}

// TestAddTransferConnection covers the inbound transfer path: it reads
// the remote token and completes the waiter the original download
// call is blocked on.
func TestAddTransferConnection(t *testing.T) {
	m := New("me", nil, testOptions())
	defer m.Close()

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	const remoteToken = uint32(777)
	go func() {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], remoteToken)
		clientSide.Write(b[:])
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := m.AddTransferConnection(ctx, "eve", 99, serverSide)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect(nil)

	v, err := m.WaitTransfer(ctx, "eve", remoteToken)
	if err != nil {
		t.Fatal(err)
	}
	if v != conn {
		t.Fatal("expected WaitTransfer to resolve to the same connection AddTransferConnection returned")
	}
}
