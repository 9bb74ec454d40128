package peer

import (
	"sync"

	"github.com/soulseek-go/peercore/netconn"
)

// slotState is the lazy cache-slot state machine from the design
// ("model each slot as a state machine {Empty, InFlight(future),
// Ready(connection), Failed}"). A slot starts Empty; the GetOrAdd
// caller whose LoadOrStore installs it in the cache moves it to
// InFlight and starts its establishment, and it settles into Ready or
// Failed exactly once.
type slotState int32

const (
	slotEmpty slotState = iota
	slotInFlight
	slotReady
	slotFailed
)

func (s slotState) String() string {
	switch s {
	case slotEmpty:
		return "Empty"
	case slotInFlight:
		return "InFlight"
	case slotReady:
		return "Ready"
	case slotFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// slot is one cache entry: at most one in-flight establishment per
// username. Only the GetOrAdd caller that installs the slot in the
// cache starts an establishment, so concurrent callers for the same
// username share a single race (the design step 2: "executed at most
// once per slot").
type slot struct {
	once sync.Once
	done chan struct{}

	mu    sync.Mutex
	state slotState
	conn  *netconn.MessageConnection
	err   error
}

func newSlot() *slot {
	return &slot{done: make(chan struct{}), state: slotEmpty}
}

// closedDone is shared by every slot constructed already-Ready, since
// a completed slot's done channel is only ever read from, never
// re-closed.
var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// newReadySlot builds a slot that is Ready from the moment it is
// installed in the cache, for inbound connections: there is no race to
// run, the socket already exists (the design "add(username,
// raw-socket)").
func newReadySlot(conn *netconn.MessageConnection) *slot {
	return &slot{done: closedDone, state: slotReady, conn: conn}
}

func (s *slot) resolve(conn *netconn.MessageConnection, err error) {
	s.mu.Lock()
	if err != nil {
		s.state = slotFailed
		s.err = err
	} else {
		s.state = slotReady
		s.conn = conn
	}
	s.mu.Unlock()
	close(s.done)
}

func (s *slot) snapshot() (slotState, *netconn.MessageConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.conn, s.err
}
