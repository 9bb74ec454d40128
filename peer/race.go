package peer

import (
	"context"

	"github.com/soulseek-go/peercore/netconn"
)

// dialFunc attempts one branch of a direct/indirect establishment
// race. It must respect ctx cancellation promptly: once the other
// branch wins, ctx is cancelled so the loser can stop dialing or
// waiting (the design "Cancellation during a direct/indirect race
// cancels both branches").
type dialFunc func(ctx context.Context) (*netconn.Connection, error)

type dialOutcome struct {
	conn *netconn.Connection
	err  error
}

// race runs direct and indirect concurrently and returns whichever
// produces a connection first, tagging which path won. If both fail,
// it returns a *ConnectError carrying both causes (the design step
// c, §7, §8 "Race winner owns the slot").
//
// Grounded on the teacher's goroutine-plus-channel connect race in
// cmd/syncthing/connections.go:connect, reworked around two labeled
// result channels instead of one fan-in, since (unlike the teacher)
// this race must report which specific branch won.
func (m *Manager) race(ctx context.Context, username string, direct, indirect dialFunc) (*netconn.Connection, netconn.Path, error) {
	raceCtx, cancel := context.WithCancel(ctx)

	directCh := make(chan dialOutcome, 1)
	indirectCh := make(chan dialOutcome, 1)

	go func() {
		conn, err := direct(raceCtx)
		directCh <- dialOutcome{conn, err}
	}()
	go func() {
		conn, err := indirect(raceCtx)
		indirectCh <- dialOutcome{conn, err}
	}()

	var dRes, iRes dialOutcome
	var dDone, iDone bool

	for !dDone || !iDone {
		select {
		case dRes = <-directCh:
			dDone = true
			if dRes.err == nil {
				cancel()
				go discardLoser(indirectCh, iDone)
				m.metrics.raceOutcome.WithLabelValues("direct").Inc()
				return dRes.conn, netconn.Direct, nil
			}
		case iRes = <-indirectCh:
			iDone = true
			if iRes.err == nil {
				cancel()
				go discardLoser(directCh, dDone)
				m.metrics.raceOutcome.WithLabelValues("indirect").Inc()
				return iRes.conn, netconn.Indirect, nil
			}
		}
	}

	cancel()
	m.metrics.raceOutcome.WithLabelValues("both-failed").Inc()
	return nil, 0, &ConnectError{Username: username, Direct: dRes.err, Indirect: iRes.err}
}

// discardLoser drains the channel belonging to the branch that lost
// (or was never consulted because the winner's channel already
// carried an error we'd already seen), disconnecting any connection
// that the loser established anyway after the race was decided.
// alreadyDrained is true when the caller already received a value
// from ch as part of ordinary loop processing, in which case there is
// nothing left to read.
func discardLoser(ch chan dialOutcome, alreadyDrained bool) {
	if alreadyDrained {
		return
	}
	r := <-ch
	if r.err == nil && r.conn != nil {
		r.conn.Disconnect(errRaceLost)
	}
}
