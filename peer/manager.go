// Package peer implements the Peer Connection Manager:
// the sole owner of the per-username message connection cache and the
// pending-solicitation map, and the sole creator of transfer
// connections. It races a direct dial against an indirect,
// server-mediated solicitation for every outbound connection, and
// arbitrates supersession for inbound ones.
package peer

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/thejerf/suture/v4"

	"github.com/soulseek-go/peercore/token"
	"github.com/soulseek-go/peercore/waiter"
)

// RequestSender is the one thing the manager needs from the server
// connection: the ability to emit a ConnectToPeerRequest frame
// (the design step b, §4.7 "The only interaction PCM has with
// [Server Connection] is writing ConnectToPeerRequest frames").
// server.Connection satisfies this; tests supply a fake.
type RequestSender interface {
	SendConnectToPeerRequest(ctx context.Context, token uint32, username, connType string) error
}

const (
	connTypePeer     = "P"
	connTypeTransfer = "F"
)

// Manager is the Peer Connection Manager. The zero value is not
// usable; use New.
type Manager struct {
	localUsername string
	sender        RequestSender
	options       Options

	cache       *xsync.MapOf[string, *slot]
	pending     *xsync.MapOf[uint32, string]
	recentToken *lru.Cache[uint32, struct{}]
	tokens      *token.Counter
	wait        *waiter.Waiter

	metrics *metrics
	sup     *suture.Supervisor

	// ctx bounds the connection-establishment goroutines the manager
	// itself spawns (the message-connection race branches, the
	// continuous readers it starts); GetTransfer's race runs on its
	// caller's ctx instead. It is independent of any single caller's ctx, so one
	// GetOrAdd caller giving up does not abort an establishment that
	// other concurrent callers for the same username are still
	// awaiting (the design "a second lookup... must block on the same
	// in-flight attempt, not race a duplicate").
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Manager. localUsername is sent in our own PeerInit
// on direct-winning races. sender issues ConnectToPeerRequest frames
// on the Server Connection; it may be nil until the server connection
// is established, in which case indirect attempts fail immediately and
// only the direct path can win.
func New(localUsername string, sender RequestSender, opts Options) *Manager {
	recent, _ := lru.New[uint32, struct{}](opts.RecentTokenCacheSize)

	sup := suture.New("peer-connection-manager", suture.Spec{})
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		localUsername: localUsername,
		sender:        sender,
		options:       opts,
		cache:         xsync.NewMapOf[string, *slot](),
		pending:       xsync.NewMapOf[uint32, string](),
		recentToken:   recent,
		tokens:        &token.Counter{},
		wait:          waiter.New(),
		metrics:       newMetrics(),
		sup:           sup,
		ctx:           ctx,
		cancel:        cancel,
	}
	sup.Add(&janitor{m: m})
	return m
}

// SetSender attaches the server connection once it has been
// established, for callers that construct the Manager before dialing
// the server.
func (m *Manager) SetSender(sender RequestSender) {
	m.sender = sender
}

// Supervisor exposes the manager's supervisor tree so a composing
// binary can add sibling services (the listener accept loop, the
// server connection's reader) under the same lifecycle, the way
// cmd/syncthing's connectionSvc composes with other suture services.
func (m *Manager) Supervisor() *suture.Supervisor {
	return m.sup
}

// Run blocks serving the manager's own supervised services (currently
// just the slot janitor) until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	return m.sup.Serve(ctx)
}

// Metrics returns the manager's private Prometheus registry.
func (m *Manager) Metrics() *prometheus.Registry {
	return m.metrics.registry
}

// Close disposes every cached connection and clears the
// pending-solicitation map.
func (m *Manager) Close() {
	m.cancel()
	m.wait.CancelAll()

	m.pending.Range(func(tok uint32, _ string) bool {
		m.pending.Delete(tok)
		return true
	})

	m.cache.Range(func(username string, s *slot) bool {
		m.cache.Delete(username)
		if _, conn, _ := s.snapshot(); conn != nil {
			conn.Disconnect(errClosed)
		}
		return true
	})
}

func (m *Manager) nowToken() uint32 {
	return m.tokens.Next()
}

// janitor is the manager's only standing suture service: it periodically
// publishes the cache size gauge and exists mainly as the place a
// composing binary sees the manager behave like every other syncthing-style
// supervised component (the design "transient tasks for connection attempts
// and for the direct/indirect races" run outside the supervisor; this is the
// one long-lived loop the manager itself owns).
type janitor struct {
	m *Manager
}

func (j *janitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			size := 0
			j.m.cache.Range(func(string, *slot) bool {
				size++
				return true
			})
			j.m.metrics.cacheSize.Set(float64(size))
		}
	}
}
