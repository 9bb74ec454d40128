package server

import (
	"github.com/ccding/go-stun/stun"
)

// DiscoverExternalAddr best-effort resolves our externally visible
// address via STUN before announcing a listen port to the server. A
// failure here is not fatal: the caller can still announce the
// configured listen port and rely on the indirect path for peers
// behind the same kind of NAT we are.
func DiscoverExternalAddr(stunServer string) (ip string, port uint16, err error) {
	client := stun.NewClient()
	if stunServer != "" {
		client.SetServerAddr(stunServer)
	}

	_, host, err := client.Discover()
	if err != nil {
		return "", 0, err
	}
	if host == nil {
		return "", 0, errNoSTUNHost
	}
	return host.IP(), host.Port(), nil
}
