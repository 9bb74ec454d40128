package netconn

import "time"

// Options configures a Connection's timeouts and buffer sizes
//.
type Options struct {
	// ReadBufferSize and WriteBufferSize size the socket's OS-level
	// buffers (SO_RCVBUF/SO_SNDBUF); zero leaves the OS default.
	ReadBufferSize  int
	WriteBufferSize int

	// ConnectTimeout bounds a single ConnectAsync attempt. Zero means
	// no explicit timeout beyond the caller's context.
	ConnectTimeout time.Duration

	// InactivityTimeout tears down a connection that has seen no
	// successful read or write for this long. Zero disables it.
	InactivityTimeout time.Duration
}

// DefaultOptions mirrors typical Soulseek client defaults: a 10
// second connect timeout and no inactivity teardown for message
// connections (peers can go quiet between searches).
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
	}
}

const watchdogInterval = 250 * time.Millisecond
