package netconn

import (
	"context"

	"golang.org/x/time/rate"
)

// SetRateLimiters attaches optional byte-rate limiters to this
// Connection, applied to transfer byte-pipes since each transfer owns
// its own uncached socket.
func (c *Connection) SetRateLimiters(read, write *rate.Limiter) {
	c.mu.Lock()
	c.readLimiter = read
	c.writeLimiter = write
	c.mu.Unlock()
}

func waitN(ctx context.Context, lim *rate.Limiter, n int) {
	if lim == nil || n <= 0 {
		return
	}
	_ = lim.WaitN(ctx, n)
}
