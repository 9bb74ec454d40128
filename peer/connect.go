package peer

import (
	"context"
	"errors"
	"net"

	"github.com/soulseek-go/peercore/netconn"
	"github.com/soulseek-go/peercore/waiter"
	"github.com/soulseek-go/peercore/wire"
)

// GetOrAdd returns the cached message connection to username,
// establishing one if none exists yet (the design "Outbound message
// connection"). Concurrent callers for the same username share the
// single in-flight establishment; only the first to arrive drives it.
//
// ctx bounds only this call's wait for the result, not the
// establishment itself: if ctx is cancelled while another caller is
// still waiting on the same slot, establishment continues for them
// (the design "a second lookup arriving mid-establishment must block
// on the same in-flight attempt, not race a duplicate").
func (m *Manager) GetOrAdd(ctx context.Context, username, endpoint string) (*netconn.MessageConnection, error) {
	s, loaded := m.cache.LoadOrStore(username, newSlot())
	if !loaded {
		s.mu.Lock()
		s.state = slotInFlight
		s.mu.Unlock()
		go m.establishMessageConnection(username, endpoint, s)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, classifyCtxErr(ctx.Err())
	}

	state, conn, err := s.snapshot()
	if state == slotFailed {
		m.evictIfCurrent(username, s)
		return nil, err
	}
	return conn, nil
}

func (m *Manager) establishMessageConnection(username, endpoint string, s *slot) {
	conn, path, err := m.race(m.ctx, username,
		func(ctx context.Context) (*netconn.Connection, error) {
			return m.dialDirect(ctx, endpoint)
		},
		func(ctx context.Context) (*netconn.Connection, error) {
			return m.dialIndirectMessage(ctx, username)
		},
	)
	if err != nil {
		m.evictIfCurrent(username, s)
		s.resolve(nil, err)
		return
	}

	mc := netconn.NewMessageConnection(conn, username)
	m.installDisconnectEviction(username, s, mc)

	if path == netconn.Direct {
		// the design step e: direct winner must announce itself
		// before the peer will treat frames on this socket as ours.
		frame := wire.EncodePeerInit(m.localUsername, connTypePeer, m.nowToken())
		if werr := mc.WriteFrame(m.ctx, frame); werr != nil {
			m.evictIfCurrent(username, s)
			s.resolve(nil, werr)
			return
		}
	}

	mc.StartContinuousRead(m.ctx)
	s.resolve(mc, nil)
}

// dialDirect dials endpoint directly, used by both message and
// transfer establishment races.
func (m *Manager) dialDirect(ctx context.Context, endpoint string) (*netconn.Connection, error) {
	conn := netconn.New(endpoint, netconn.Outbound, netconn.Direct, m.options.ConnOptions)
	if err := conn.ConnectAsync(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// dialIndirectMessage solicits username to connect back to us for a
// peer message channel and waits for Listener to hand us the
// resulting socket.
func (m *Manager) dialIndirectMessage(ctx context.Context, username string) (*netconn.Connection, error) {
	if m.sender == nil {
		return nil, errNoSender
	}

	tok := m.nowToken()
	m.pending.Store(tok, username)
	defer m.pending.Delete(tok)

	if err := m.sender.SendConnectToPeerRequest(ctx, tok, username, connTypePeer); err != nil {
		return nil, err
	}

	raw, err := m.waitForPierceFirewall(ctx, username, tok)
	if err != nil {
		return nil, err
	}

	conn := netconn.New(raw.RemoteAddr().String(), netconn.Outbound, netconn.Indirect, m.options.ConnOptions)
	conn.Adopt(raw)
	return conn, nil
}

// waitForPierceFirewall blocks on the (SolicitedPeerConnection,
// username, tok) waiter that ResolvePierceFirewall completes, bounding
// an otherwise-undeadlined ctx with the manager's configured waiter
// timeout (the design, §8 "Inactivity idempotence" sibling property
// for the waiter itself).
func (m *Manager) waitForPierceFirewall(ctx context.Context, username string, tok uint32) (net.Conn, error) {
	waitCtx, cancel := m.boundedCtx(ctx)
	defer cancel()

	raw, err := waiter.Wait[net.Conn](waitCtx, m.wait, solicitedPeerKey(username, tok))
	if errors.Is(err, context.DeadlineExceeded) {
		m.metrics.waiterTimeouts.Inc()
		return nil, netconn.ErrTimeout
	}
	return raw, err
}

// installDisconnectEviction drops username from the cache once mc
// disconnects, but only if the cache still points at the slot this
// mc belongs to — a supersession (or a subsequent establishment) may
// already have replaced it, in which case this is a no-op (the design
// §4.5 "the older is disposed" covers the socket; the cache entry
// itself is already somebody else's).
func (m *Manager) installDisconnectEviction(username string, s *slot, mc *netconn.MessageConnection) {
	mc.OnDisconnect(func(error) {
		m.evictIfCurrent(username, s)
	})
}

func (m *Manager) evictIfCurrent(username string, s *slot) {
	if cur, ok := m.cache.Load(username); ok && cur == s {
		m.cache.Delete(username)
	}
}

// boundedCtx applies the manager's configured waiter timeout when ctx
// carries no deadline of its own (the design "timeout... default
// comes from client options").
func (m *Manager) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	if m.options.WaiterTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.options.WaiterTimeout)
}

func classifyCtxErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return netconn.ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return netconn.ErrTimeout
	}
	return err
}
