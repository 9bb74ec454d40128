package peer

import "fmt"

// ConnectError reports that both the direct and indirect establishment
// attempts for a username failed (the design step c, §7: "raised as
// Error::Connect only if both fail").
type ConnectError struct {
	Username string
	Direct   error
	Indirect error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("peer: could not establish a connection to %q (direct: %v, indirect: %v)",
		e.Username, e.Direct, e.Indirect)
}

// UnknownTokenError is returned when a PierceFirewall carries a token
// this manager never solicited (already resolved, expired, or never
// ours).
type UnknownTokenError struct {
	Token uint32
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("peer: no pending solicitation for token %d", e.Token)
}

// closedError is the disconnect reason Close gives every cached
// connection it disposes.
type closedError struct{}

func (closedError) Error() string { return "peer: manager closed" }

var errClosed = closedError{}

type simpleError string

func (e simpleError) Error() string { return string(e) }

var (
	// errNoSender is the indirect branch's immediate failure when no
	// Server Connection has been attached yet (the design "it may be
	// nil until the server connection is established").
	errNoSender = simpleError("peer: no server connection attached for indirect solicitation")

	// errRaceLost tears down whichever branch's socket arrives after
	// the other branch already won (the design "Race winner owns the
	// slot": "the other is either never established or is disconnected
	// before return").
	errRaceLost = simpleError("peer: connection lost the direct/indirect establishment race")

	// errSuperseded is the disconnect reason given to a cached
	// connection replaced by a newer inbound one for the same username
	//.
	errSuperseded = simpleError("peer: superseded by a newer inbound connection")
)
