package wire

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"net"
)

// Writer builds one frame body: a 4-byte message code followed by
// typed payload fields, little-endian throughout.
// A Writer is single-use: begin with NewWriter, append fields, then
// call Build to obtain the length-prefixed frame.
type Writer struct {
	body bytes.Buffer
}

// NewWriter begins a frame carrying the given message code.
func NewWriter(code int32) *Writer {
	w := &Writer{}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(code))
	w.body.Write(b[:])
	return w
}

func (w *Writer) WriteByte(v byte) *Writer {
	w.body.WriteByte(v)
	return w
}

func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		w.body.WriteByte(1)
	} else {
		w.body.WriteByte(0)
	}
	return w
}

func (w *Writer) WriteInt32(v int32) *Writer {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.body.Write(b[:])
	return w
}

func (w *Writer) WriteUint32(v uint32) *Writer {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.body.Write(b[:])
	return w
}

func (w *Writer) WriteInt64(v int64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.body.Write(b[:])
	return w
}

func (w *Writer) WriteUint64(v uint64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.body.Write(b[:])
	return w
}

// WriteString writes a 4-byte byte-length prefix followed by the raw
// UTF-8 bytes of s (no terminator; length is byte count, not rune
// count).
func (w *Writer) WriteString(s string) *Writer {
	w.WriteUint32(uint32(len(s)))
	w.body.WriteString(s)
	return w
}

// WriteBytes writes a 4-byte byte-length prefix followed by b.
func (w *Writer) WriteBytes(b []byte) *Writer {
	w.WriteUint32(uint32(len(b)))
	w.body.Write(b)
	return w
}

// WriteRaw appends b with no length prefix, for fields whose length
// is implied by the surrounding message (e.g. a fixed-size token
// appended after a handshake).
func (w *Writer) WriteRaw(b []byte) *Writer {
	w.body.Write(b)
	return w
}

// WriteIPReversed writes a dotted-quad IPv4 address as 4 bytes in
// reverse order.
func (w *Writer) WriteIPReversed(ip net.IP) *Writer {
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	w.body.WriteByte(v4[3])
	w.body.WriteByte(v4[2])
	w.body.WriteByte(v4[1])
	w.body.WriteByte(v4[0])
	return w
}

func (w *Writer) WriteFile(f File) *Writer {
	w.WriteString(f.Name)
	w.WriteUint64(f.Size)
	w.WriteString(f.Extension)
	w.WriteUint32(uint32(len(f.Attributes)))
	for _, a := range f.Attributes {
		w.WriteInt32(a.Type)
		w.WriteInt32(a.Value)
	}
	return w
}

func (w *Writer) WriteDirectory(d Directory) *Writer {
	w.WriteString(d.Name)
	w.WriteUint32(uint32(len(d.Files)))
	for _, f := range d.Files {
		w.WriteFile(f)
	}
	return w
}

// Compress replaces every byte written so far after the 4-byte
// message code with its raw DEFLATE compression. Only messages whose
// compression boundary starts right after the code (e.g.
// BrowseResponse) call this.
func (w *Writer) Compress() *Writer {
	full := w.body.Bytes()
	code := append([]byte(nil), full[:4]...)
	payload := full[4:]

	var compressed bytes.Buffer
	fw, _ := flate.NewWriter(&compressed, flate.DefaultCompression)
	_, _ = fw.Write(payload)
	_ = fw.Close()

	w.body.Reset()
	w.body.Write(code)
	w.body.Write(compressed.Bytes())
	return w
}

// Build patches the 4-byte little-endian length prefix (the body
// length, not including the prefix itself) onto the accumulated body
// and returns the complete frame, ready to write to a socket.
func (w *Writer) Build() []byte {
	body := w.body.Bytes()
	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame
}
