// Command slskpeer is a thin demonstration binary over the peercore
// library: connect to the server, accept inbound peer connections,
// and browse another user's shares. It is not a Soulseek client —
// no login flow, no UI, no persistence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	_ "github.com/soulseek-go/peercore/internal/automaxprocs"
	"github.com/soulseek-go/peercore/listener"
	"github.com/soulseek-go/peercore/peer"
	"github.com/soulseek-go/peercore/server"
	"github.com/soulseek-go/peercore/wire"
)

type cli struct {
	Serve  ServeCmd  `cmd:"" help:"Connect to the server and accept inbound peer connections."`
	Browse BrowseCmd `cmd:"" help:"Fetch a peer's share listing."`
}

type ServeCmd struct {
	Username   string `arg:"" help:"Our username, announced in PeerInit handshakes."`
	ServerAddr string `default:"server.slsknet.org:2242" help:"Soulseek server address."`
	ListenAddr string `default:":2234" help:"Address to accept inbound peer connections on."`
	NATPMP     bool   `help:"Attempt a best-effort NAT-PMP port mapping at startup."`
}

func (c *ServeCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pcm := peer.New(c.Username, nil, peer.DefaultOptions())
	defer pcm.Close()

	srvOpts := server.DefaultOptions()
	srvOpts.Addr = c.ServerAddr
	srv := server.New(pcm, srvOpts)
	pcm.SetSender(srv)

	lnOpts := listener.DefaultOptions()
	lnOpts.Addr = c.ListenAddr
	lnOpts.AttemptNATPMP = c.NATPMP
	ln := listener.New(pcm, lnOpts)

	// Both the listener's accept loop and the server connection's
	// reader are suture.Services (Serve(ctx) error); adding them to the
	// PCM's own supervisor, alongside its janitor, means a dropped
	// server connection or a failed Accept gets suture's restart-with-
	// backoff rather than aborting the whole process — the point of a
	// "long-lived" server connection per spec.md §4.7.
	pcm.Supervisor().Add(srv)
	pcm.Supervisor().Add(ln)

	return pcm.Run(ctx)
}

type BrowseCmd struct {
	Username string `arg:"" help:"Our username, announced in PeerInit handshakes."`
	Peer     string `arg:"" help:"Username of the peer to browse."`
	Endpoint string `arg:"" help:"host:port to dial the peer directly."`
}

func (c *BrowseCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pcm := peer.New(c.Username, nil, peer.DefaultOptions())
	defer pcm.Close()

	mc, err := pcm.GetOrAdd(ctx, c.Peer, c.Endpoint)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.Peer, err)
	}

	respCh := make(chan wire.BrowseResponse, 1)
	errCh := make(chan error, 1)
	mc.OnMessage(func(body []byte) {
		if code, err := wire.NewReader(body).ReadCode(); err != nil || code != wire.PeerBrowseResponse {
			return
		}

		resp, err := wire.DecodeBrowseResponse(body)
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		select {
		case respCh <- resp:
		default:
		}
	})

	req := wire.NewWriter(wire.PeerBrowseRequest).Build()
	if err := mc.WriteFrame(ctx, req); err != nil {
		return fmt.Errorf("send browse request: %w", err)
	}

	select {
	case resp := <-respCh:
		printDirectories(resp)
		return nil
	case err := <-errCh:
		return fmt.Errorf("decode browse response: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printDirectories(resp wire.BrowseResponse) {
	for _, d := range resp.Directories {
		lock := ""
		if d.Locked {
			lock = " (locked)"
		}
		fmt.Printf("%s%s\n", d.Name, lock)
		for _, f := range d.Files {
			fmt.Printf("  %s\t%d bytes\n", f.Name, f.Size)
		}
	}
}

func main() {
	var c cli
	ktx := kong.Parse(&c, kong.Name("slskpeer"),
		kong.Description("Soulseek peer connection core demo client."))
	if err := ktx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
