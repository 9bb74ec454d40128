package peer

import (
	"time"

	"github.com/soulseek-go/peercore/netconn"
)

// Options configures the manager's connection establishment behavior,
// mirroring the teacher's small, struct-passed config pattern rather
// than a package-level global (the design excludes persistent config;
// this is purely in-process).
type Options struct {
	// ConnOptions is applied to every Connection the manager creates,
	// direct or indirect, message or transfer.
	ConnOptions netconn.Options

	// WaiterTimeout bounds an indirect establishment's wait for a
	// PierceFirewall, and WaitTransfer's wait for an inbound transfer
	// connection, when the caller's own ctx carries no deadline (the design "Waiter
	// default timeout bounds unresolved rendezvous").
	WaiterTimeout time.Duration

	// RecentTokenCacheSize bounds the LRU of resolved solicitation
	// tokens kept to recognize late/duplicate PierceFirewall arrivals.
	RecentTokenCacheSize int
}

// DefaultOptions returns sane defaults: the netconn package's own
// defaults, a 30s waiter timeout, and a small dedup cache.
func DefaultOptions() Options {
	return Options{
		ConnOptions:          netconn.DefaultOptions(),
		WaiterTimeout:        30 * time.Second,
		RecentTokenCacheSize: 256,
	}
}
