package netconn

import (
	"context"
	"encoding/binary"
	"sync"
)

// MessageHandler receives one decoded frame body (the bytes after the
// 4-byte length prefix) in strict wire order.
type MessageHandler func(body []byte)

// MessageConnection specializes Connection to frame-level I/O: a
// background reader that decodes one length-prefixed frame at a time
// and hands the body to every registered MessageHandler.
type MessageConnection struct {
	*Connection

	username string

	handlersMu sync.Mutex
	handlers   []MessageHandler

	readStarted bool
	readDone    chan struct{}
}

// NewMessageConnection wraps conn, tagging it with the peer's
// username, its identity in the cache.
func NewMessageConnection(conn *Connection, username string) *MessageConnection {
	return &MessageConnection{Connection: conn, username: username}
}

func (m *MessageConnection) Username() string { return m.username }

// OnMessage registers a handler called for every frame decoded by the
// continuous reader, in the order frames arrive on the wire.
func (m *MessageConnection) OnMessage(h MessageHandler) {
	m.handlersMu.Lock()
	m.handlers = append(m.handlers, h)
	m.handlersMu.Unlock()
}

// StartContinuousRead spawns the background frame reader. Outbound
// direct connections defer this call until after their PeerInit
// handshake has been written; outbound indirect and all inbound
// connections start it immediately.
func (m *MessageConnection) StartContinuousRead(ctx context.Context) {
	m.handlersMu.Lock()
	if m.readStarted {
		m.handlersMu.Unlock()
		return
	}
	m.readStarted = true
	m.readDone = make(chan struct{})
	done := m.readDone
	m.handlersMu.Unlock()

	go func() {
		defer close(done)
		for {
			lenBytes, err := m.Connection.Read(ctx, 4, nil)
			if err != nil {
				return // Connection.Read already disconnected us.
			}
			n := binary.LittleEndian.Uint32(lenBytes)
			body, err := m.Connection.Read(ctx, int(n), nil)
			if err != nil {
				return
			}
			m.dispatch(body)
		}
	}()
}

func (m *MessageConnection) dispatch(body []byte) {
	m.handlersMu.Lock()
	handlers := append([]MessageHandler(nil), m.handlers...)
	m.handlersMu.Unlock()
	for _, h := range handlers {
		h(body)
	}
}

// WriteFrame writes a pre-built, length-prefixed frame (as produced
// by wire.Writer.Build) atomically with respect to other writers on
// this connection.
func (m *MessageConnection) WriteFrame(ctx context.Context, frame []byte) error {
	return m.Connection.Write(ctx, frame, nil)
}
