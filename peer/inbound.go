package peer

import (
	"net"

	"github.com/soulseek-go/peercore/netconn"
	"github.com/soulseek-go/peercore/waiter"
)

// AddMessageConnection absorbs an inbound peer message socket:
// Listener has already read and validated its
// PeerInit(username, "P", token) handshake and hands the raw socket
// here. If a connection is already cached for username, the new one
// supersedes it — the cache always holds the most recently
// established connection, and the displaced one is disconnected
// (the design "Inbound message connection", §8 "Supersession
// ordering").
func (m *Manager) AddMessageConnection(username string, raw net.Conn) *netconn.MessageConnection {
	conn := netconn.New(raw.RemoteAddr().String(), netconn.Inbound, netconn.Direct, m.options.ConnOptions)
	conn.Adopt(raw)
	mc := netconn.NewMessageConnection(conn, username)

	s := newReadySlot(mc)
	m.installDisconnectEviction(username, s, mc)

	old, hadOld := m.cache.Load(username)
	m.cache.Store(username, s)

	if hadOld {
		if oldState, oldConn, _ := old.snapshot(); oldState == slotReady && oldConn != nil {
			oldConn.Disconnect(errSuperseded)
			m.metrics.supersessions.Inc()
		}
		// An old slot still InFlight is left to resolve on its own.
		// If its establishment fails, evictIfCurrent finds the cache no
		// longer points at it and leaves the cache alone; if it
		// succeeds, its connection goes to the callers already waiting
		// on that slot but is not cached.
	}

	mc.StartContinuousRead(m.ctx)
	return mc
}

// ResolvePierceFirewall completes the waiter an indirect outbound
// establishment (message or transfer — both solicit under the same
// key kind) is blocked on, using the solicitation token a freshly
// accepted socket announced via PierceFirewall (the design, §8
// "Waiter correlation"). Listener calls this after reading the
// handshake; an unrecognized token means the solicitation already
// resolved, expired, or was never ours.
func (m *Manager) ResolvePierceFirewall(tok uint32, raw net.Conn) error {
	username, ok := m.pending.Load(tok)
	if !ok {
		if _, dup := m.recentToken.Get(tok); dup {
			m.metrics.duplicateTokens.Inc()
		}
		return &UnknownTokenError{Token: tok}
	}
	m.pending.Delete(tok)
	m.recentToken.Add(tok, struct{}{})

	waiter.Complete(m.wait, solicitedPeerKey(username, tok), raw)
	return nil
}
