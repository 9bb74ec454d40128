package peer

import "github.com/soulseek-go/peercore/waiter"

// Wait-key kinds. Composed with NewKey into the
// composite tuples the waiter matches structurally.
const (
	kindSolicitedPeerConnection = "solicited-peer-connection"
	kindDirectTransfer          = "direct-transfer"
)

func solicitedPeerKey(username string, tok uint32) waiter.Key {
	return waiter.NewKey(kindSolicitedPeerConnection, username, tok)
}

func directTransferKey(username string, tok uint32) waiter.Key {
	return waiter.NewKey(kindDirectTransfer, username, tok)
}
