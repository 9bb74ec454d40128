// Package listener implements the inbound TCP accept loop and the
// tiny handshake that tags a freshly accepted socket as either a
// peer's message channel, a file transfer, or a PierceFirewall answer
// to one of our own solicitations.
package listener

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/soulseek-go/peercore/peer"
	"github.com/soulseek-go/peercore/wire"
)

// ConnTypeDistributed is the handshake's third connection type, used
// by the distributed search network. Message connections of this
// type are routed through the same inbound path as "P" and tagged
// the same way; nothing downstream distinguishes the two.
const ConnTypeDistributed = "D"

// Options configures the listener.
type Options struct {
	// Addr is the TCP address to listen on, e.g. ":2234".
	Addr string

	// HandshakeTimeout bounds how long a freshly accepted socket has
	// to send its PeerInit/PierceFirewall handshake before it is
	// dropped.
	HandshakeTimeout time.Duration

	// AttemptNATPMP, when true, tries to map Addr's port on the LAN
	// gateway at startup. Best-effort: failures are logged, not fatal.
	AttemptNATPMP bool
}

// DefaultOptions returns a listener configuration with a generous
// handshake timeout and NAT-PMP disabled (most deployments sit behind
// a manually forwarded port or rely purely on the indirect path).
func DefaultOptions() Options {
	return Options{
		Addr:             ":2234",
		HandshakeTimeout: 15 * time.Second,
	}
}

// Listener accepts inbound peer sockets and hands them to the Peer
// Connection Manager once their handshake identifies what they are
// for.
type Listener struct {
	opts Options
	pcm  *peer.Manager
}

// New constructs a Listener that feeds accepted, handshaked sockets to
// pcm.
func New(pcm *peer.Manager, opts Options) *Listener {
	return &Listener{pcm: pcm, opts: opts}
}

// Serve implements suture.Service: it listens on opts.Addr until ctx
// is cancelled or Accept fails, spawning one handshake goroutine per
// accepted socket. An Accept failure is returned so a supervisor
// restarts the listener.
func (lst *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", lst.opts.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	if lst.opts.AttemptNATPMP {
		go lst.tryMapPort(ln.Addr())
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if debug {
				l.Debugf("accept error: %v", err)
			}
			return err
		}
		go lst.handshake(ctx, conn)
	}
}

// handshake reads the single frame every inbound socket must open
// with and routes it to the PCM based on its handshake code.
func (lst *Listener) handshake(ctx context.Context, conn net.Conn) {
	if lst.opts.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(lst.opts.HandshakeTimeout))
	}

	body, err := readFrame(conn)
	if err != nil {
		if debug {
			l.Debugf("handshake read from %s failed: %v", conn.RemoteAddr(), err)
		}
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	code, payload, err := wire.ReadHandshakeCode(body)
	if err != nil {
		conn.Close()
		return
	}

	switch code {
	case wire.HandshakePeerInit:
		lst.handlePeerInit(ctx, conn, payload)
	case wire.HandshakePierceFirewall:
		lst.handlePierceFirewall(conn, payload)
	default:
		conn.Close()
	}
}

func (lst *Listener) handlePeerInit(ctx context.Context, conn net.Conn, payload []byte) {
	username, connType, tok, err := wire.DecodePeerInit(payload)
	if err != nil {
		conn.Close()
		return
	}

	switch connType {
	case "P", ConnTypeDistributed:
		lst.pcm.AddMessageConnection(username, conn)
	case "F":
		if _, err := lst.pcm.AddTransferConnection(ctx, username, tok, conn); err != nil {
			if debug {
				l.Debugf("inbound transfer from %s failed: %v", username, err)
			}
		}
	default:
		conn.Close()
	}
}

func (lst *Listener) handlePierceFirewall(conn net.Conn, payload []byte) {
	tok, err := wire.DecodePierceFirewall(payload)
	if err != nil {
		conn.Close()
		return
	}
	if err := lst.pcm.ResolvePierceFirewall(tok, conn); err != nil {
		if debug {
			l.Debugf("piercefirewall token %d: %v", tok, err)
		}
		conn.Close()
	}
}

func readFrame(conn net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

// tryMapPort best-effort maps the listener's TCP port on the LAN
// gateway via NAT-PMP. Failure is logged and otherwise ignored: a peer
// that cannot reach us directly still works over the indirect
// rendezvous path.
func (lst *Listener) tryMapPort(addr net.Addr) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok || tcpAddr.Port == 0 {
		return
	}

	gw, err := gateway.DiscoverGateway()
	if err != nil {
		if debug {
			l.Debugf("nat-pmp: gateway discovery failed: %v", err)
		}
		return
	}

	client := natpmp.NewClient(gw)
	if _, err := client.AddPortMapping("tcp", tcpAddr.Port, tcpAddr.Port, 3600); err != nil {
		if debug {
			l.Debugf("nat-pmp: port mapping failed: %v", err)
		}
		return
	}
	if debug {
		l.Debugf("nat-pmp: mapped tcp port %d on %s", tcpAddr.Port, gw)
	}
}
