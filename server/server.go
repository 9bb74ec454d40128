// Package server implements the Server Connection: a
// single long-lived message connection to the Soulseek server that
// emits ConnectToPeerRequest solicitations and routes inbound
// ConnectToPeerResponse notifications back into the Peer Connection
// Manager. The higher-level login/session facade is explicitly out of
// scope; this package carries only the wire plumbing PCM
// needs to drive the indirect path.
package server

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/soulseek-go/peercore/netconn"
	"github.com/soulseek-go/peercore/peer"
	"github.com/soulseek-go/peercore/wire"
)

// Handler receives every frame the server sends that this core does
// not itself consume. Connection decodes and acts on
// ConnectToPeerResponse itself; everything else is handed to Handler
// unparsed so a composing binary can implement the rest of the
// message catalog without this package growing it.
type Handler func(body []byte)

// Options configures the Server Connection.
type Options struct {
	// Addr is the server endpoint, e.g. "server.slsknet.org:2242".
	Addr string

	ConnOptions netconn.Options
}

// DefaultOptions points at the network's well-known server endpoint.
func DefaultOptions() Options {
	return Options{
		Addr:        "server.slsknet.org:2242",
		ConnOptions: netconn.DefaultOptions(),
	}
}

// Connection is the Server Connection. It satisfies peer.RequestSender
// so a Manager can be handed one directly via SetSender.
type Connection struct {
	opts Options
	pcm  *peer.Manager
	mc   *netconn.MessageConnection

	onUnhandled Handler
}

// New constructs a Connection bound to pcm: inbound
// ConnectToPeerResponse frames are routed straight into pcm's
// get-or-add/get-transfer paths.
func New(pcm *peer.Manager, opts Options) *Connection {
	return &Connection{opts: opts, pcm: pcm}
}

// OnUnhandled registers a handler for every server frame this
// connection does not itself interpret: login replies, room chat,
// search results, and the rest of the message catalog this core
// leaves to a composing binary.
func (c *Connection) OnUnhandled(h Handler) {
	c.onUnhandled = h
}

// Dial establishes the connection to the server and starts its
// continuous reader. It does not perform a login handshake; callers
// that need one write the Login frame themselves via Send once Dial
// returns.
func (c *Connection) Dial(ctx context.Context) error {
	conn := netconn.New(c.opts.Addr, netconn.Outbound, netconn.Direct, c.opts.ConnOptions)
	if err := conn.ConnectAsync(ctx); err != nil {
		return err
	}

	c.mc = netconn.NewMessageConnection(conn, "")
	c.mc.OnMessage(c.dispatch)
	c.mc.StartContinuousRead(ctx)
	return nil
}

// Serve implements suture.Service: it runs until ctx is cancelled,
// tearing the connection down on exit, or until the server connection
// drops, in which case it returns an error so a supervisor restart
// dials fresh.
func (c *Connection) Serve(ctx context.Context) error {
	if err := c.Dial(ctx); err != nil {
		return err
	}
	dropped := make(chan error, 1)
	c.mc.OnDisconnect(func(reason error) { dropped <- reason })
	if c.mc.State() == netconn.Disconnected {
		return errors.New("server: connection dropped")
	}
	select {
	case <-ctx.Done():
		c.mc.Disconnect(ctx.Err())
		return ctx.Err()
	case reason := <-dropped:
		if reason == nil {
			reason = errors.New("server: connection dropped")
		}
		return reason
	}
}

// Send writes a pre-built frame (e.g. wire.ConnectToPeerRequest{}.Encode(),
// or a Login frame a composing binary builds itself) on the server
// connection.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	if c.mc == nil {
		return errNotDialed
	}
	return c.mc.WriteFrame(ctx, frame)
}

// SetListenPort announces our inbound listen port to the server
// (Server.SetListenPort, code 2), required for other peers to learn
// where to dial us directly.
func (c *Connection) SetListenPort(ctx context.Context, port uint32) error {
	w := wire.NewWriter(wire.ServerSetListenPort)
	w.WriteUint32(port)
	return c.Send(ctx, w.Build())
}

// SendConnectToPeerRequest implements peer.RequestSender: it asks the
// server to tell username to connect back to us for token/connType.
func (c *Connection) SendConnectToPeerRequest(ctx context.Context, token uint32, username, connType string) error {
	req := wire.ConnectToPeerRequest{Token: token, Username: username, Type: connType}
	return c.Send(ctx, req.Encode())
}

// dispatch is the message connection's single OnMessage handler: it
// peeks the code, and for ConnectToPeerResponse only, acts on it
// directly; everything else goes to onUnhandled. PCM's only
// interaction with this connection is sending ConnectToPeerRequest
// frames; receipt of the matching response is routed back into PCM
// here.
func (c *Connection) dispatch(body []byte) {
	r := wire.NewReader(body)
	code, err := r.ReadCode()
	if err != nil {
		return
	}

	if code != wire.ServerConnectToPeer {
		if c.onUnhandled != nil {
			c.onUnhandled(body)
		}
		return
	}

	resp, err := wire.DecodeConnectToPeerResponse(body)
	if err != nil {
		if debug {
			l.Debugf("malformed ConnectToPeerResponse: %v", err)
		}
		return
	}
	c.routeConnectToPeer(resp)
}

// routeConnectToPeer routes type "P" responses into PCM's outbound
// message path and type "F" into its transfer path. Both run in their
// own goroutine since they block on the direct/indirect race and must
// not stall the server connection's reader.
func (c *Connection) routeConnectToPeer(resp wire.ConnectToPeerResponse) {
	endpoint := net.JoinHostPort(resp.IP.String(), strconv.FormatUint(uint64(resp.Port), 10))

	switch resp.Type {
	case "P", "D":
		go func() {
			if _, err := c.pcm.GetOrAdd(context.Background(), resp.Username, endpoint); err != nil {
				if debug {
					l.Debugf("ConnectToPeerResponse(P) for %s: %v", resp.Username, err)
				}
			}
		}()
	case "F":
		go func() {
			if _, err := c.pcm.GetTransfer(context.Background(), resp.Username, endpoint, resp.Token); err != nil {
				if debug {
					l.Debugf("ConnectToPeerResponse(F) for %s: %v", resp.Username, err)
				}
			}
		}()
	}
}

var errNotDialed = errors.New("server: connection not dialed")
var errNoSTUNHost = errors.New("server: stun discovery returned no host")
