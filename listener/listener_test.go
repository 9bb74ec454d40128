package listener

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/soulseek-go/peercore/peer"
	"github.com/soulseek-go/peercore/wire"
)

// TestHandshakePeerInitCachesMessageConnection covers "P" routing: an
// accepted socket opening with PeerInit(username, "P", token) must
// land in the PCM's message connection cache under username.
func TestHandshakePeerInitCachesMessageConnection(t *testing.T) {
	pcm := peer.New("me", nil, peer.DefaultOptions())
	defer pcm.Close()
	l := New(pcm, DefaultOptions())

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	ctx := context.Background()
	go l.handshake(ctx, serverSide)

	frame := wire.EncodePeerInit("alice", "P", 7)
	if _, err := clientSide.Write(frame); err != nil {
		t.Fatal(err)
	}

	// Give the handshake goroutine time to process before asserting the
	// cache already holds alice's connection.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		getCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		mc, err := pcm.GetOrAdd(getCtx, "alice", "")
		cancel()
		if err == nil {
			if mc.Username() != "alice" {
				t.Fatalf("username = %q", mc.Username())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("alice's message connection was never cached")
}

// TestHandshakeUnknownPierceFirewallClosesSocket: a PierceFirewall
// bearing a token nobody solicited must not hang the socket open.
func TestHandshakeUnknownPierceFirewallClosesSocket(t *testing.T) {
	pcm := peer.New("me", nil, peer.DefaultOptions())
	defer pcm.Close()
	l := New(pcm, DefaultOptions())

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	go l.handshake(context.Background(), serverSide)

	frame := wire.EncodePierceFirewall(999)
	if _, err := clientSide.Write(frame); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := clientSide.Write([]byte("x")); err != nil {
			return // the peer side closed, as expected
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("socket was never closed for an unrecognized PierceFirewall token")
}

// TestHandshakeTransferRoutesToWaitTransfer covers the "F" handshake
// path end to end: PeerInit("F", token) followed by the 4-byte remote
// token must resolve a WaitTransfer call for that token.
func TestHandshakeTransferRoutesToWaitTransfer(t *testing.T) {
	pcm := peer.New("me", nil, peer.DefaultOptions())
	defer pcm.Close()
	l := New(pcm, DefaultOptions())

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	go l.handshake(context.Background(), serverSide)

	const peerInitToken = uint32(5)
	const remoteToken = uint32(9001)

	frame := wire.EncodePeerInit("frank", "F", peerInitToken)
	if _, err := clientSide.Write(frame); err != nil {
		t.Fatal(err)
	}

	var tb [4]byte
	binary.LittleEndian.PutUint32(tb[:], remoteToken)
	go clientSide.Write(tb[:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := pcm.WaitTransfer(ctx, "frank", remoteToken)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect(nil)
}
