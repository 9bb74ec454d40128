// Package token hands out the process-wide monotonic solicitation and
// transfer tokens used to correlate indirect connection rendezvous
// (§3 "Pending Solicitation", §4.5 of the connection-core spec).
package token

import "sync/atomic"

// Counter is a wrap-around-safe 32-bit monotonic counter. The zero
// value is ready to use and starts from 1, so 0 can be reserved as
// "no token" by callers that want it.
type Counter struct {
	next uint32
}

// Next returns the next token. Wrap-around is acceptable: uniqueness
// only needs to hold over the lifetime of any single open waiter, and
// a 32-bit space will not wrap in the time any solicitation is ever
// outstanding.
func (c *Counter) Next() uint32 {
	return atomic.AddUint32(&c.next, 1)
}
