package peer

import (
	"context"
	"encoding/binary"
	"net"

	"github.com/soulseek-go/peercore/netconn"
	"github.com/soulseek-go/peercore/waiter"
	"github.com/soulseek-go/peercore/wire"
)

// NewTransferToken mints a token from the same monotonically
// increasing counter used for solicitation tokens, for callers that
// need one to pass into GetTransfer before they know whether the race
// will go direct or indirect.
func (m *Manager) NewTransferToken() uint32 {
	return m.nowToken()
}

// GetTransfer establishes an outbound transfer (file byte-pipe)
// connection to username, racing direct against indirect exactly like
// GetOrAdd, but the result is never cached: each transfer owns its own
// socket. tok is written on the wire regardless of which path wins, so
// the remote side can correlate this socket with the transfer it
// requested.
func (m *Manager) GetTransfer(ctx context.Context, username, endpoint string, tok uint32) (*netconn.Connection, error) {
	conn, path, err := m.race(ctx, username,
		func(c context.Context) (*netconn.Connection, error) {
			return m.dialDirect(c, endpoint)
		},
		func(c context.Context) (*netconn.Connection, error) {
			return m.dialIndirectTransfer(c, username, tok)
		},
	)
	if err != nil {
		return nil, err
	}

	if path == netconn.Direct {
		frame := wire.EncodePeerInit(m.localUsername, connTypeTransfer, tok)
		if werr := conn.Write(ctx, frame, nil); werr != nil {
			return nil, werr
		}
	}

	var tokBytes [4]byte
	binary.LittleEndian.PutUint32(tokBytes[:], tok)
	if werr := conn.Write(ctx, tokBytes[:], nil); werr != nil {
		return nil, werr
	}

	return conn, nil
}

// dialIndirectTransfer mirrors dialIndirectMessage but solicits a
// connection of type "F" using the caller-supplied transfer token
// directly as the solicitation token, matching the real protocol's
// reuse of the file-transfer token for ConnectToPeerRequest/
// PierceFirewall correlation on the transfer path.
func (m *Manager) dialIndirectTransfer(ctx context.Context, username string, tok uint32) (*netconn.Connection, error) {
	if m.sender == nil {
		return nil, errNoSender
	}

	m.pending.Store(tok, username)
	defer m.pending.Delete(tok)

	if err := m.sender.SendConnectToPeerRequest(ctx, tok, username, connTypeTransfer); err != nil {
		return nil, err
	}

	raw, err := m.waitForPierceFirewall(ctx, username, tok)
	if err != nil {
		return nil, err
	}

	// the design: the source mistags this path Inbound|Outbound;
	// specified here as Outbound|Indirect, since logically we
	// initiated the request even though the peer made the TCP connect.
	conn := netconn.New(raw.RemoteAddr().String(), netconn.Outbound, netconn.Indirect, m.options.ConnOptions)
	conn.Adopt(raw)
	return conn, nil
}

// AddTransferConnection handles an unsolicited inbound transfer
// socket: Listener has already read its PeerInit("F", peerInitToken)
// handshake and hands the raw socket here. This reads the 4-byte
// remote token that follows on the wire and completes the waiter the
// original download call is blocked on (the design "Inbound
// transfer connection", §6 scenario 4).
func (m *Manager) AddTransferConnection(ctx context.Context, username string, peerInitToken uint32, raw net.Conn) (*netconn.Connection, error) {
	conn := netconn.New(raw.RemoteAddr().String(), netconn.Inbound, netconn.Direct, m.options.ConnOptions)
	conn.Adopt(raw)

	tokBytes, err := conn.Read(ctx, 4, nil)
	if err != nil {
		return nil, err
	}
	remoteToken := binary.LittleEndian.Uint32(tokBytes)

	waiter.Complete(m.wait, directTransferKey(username, remoteToken), conn)
	return conn, nil
}

// WaitTransfer blocks for the inbound transfer connection a peer
// establishes unsolicited against a token exchanged out-of-band (by
// whatever higher-level download logic arranges file transfers; out
// of scope for this core. AddTransferConnection
// completes this waiter once it has read the matching remote token off
// the freshly accepted socket (the design "Inbound transfer
// connection... The caller that issued the download will be blocked
// on that waiter and receives the socket").
func (m *Manager) WaitTransfer(ctx context.Context, username string, token uint32) (*netconn.Connection, error) {
	waitCtx, cancel := m.boundedCtx(ctx)
	defer cancel()
	return waiter.Wait[*netconn.Connection](waitCtx, m.wait, directTransferKey(username, token))
}
