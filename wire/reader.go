package wire

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"
	"net"
)

// Reader decodes one frame body. ReadCode must be the first call; it
// yields the message code, which callers in a given code space
// compare against the code they expected.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps a frame body (the bytes after the 4-byte length
// prefix has already been stripped by the framer).
func NewReader(body []byte) *Reader {
	return &Reader{data: body}
}

func (r *Reader) remaining() []byte {
	return r.data[r.pos:]
}

// HasMore reports whether any unread bytes remain.
func (r *Reader) HasMore() bool {
	return r.pos < len(r.data)
}

// ReadCode reads the 4-byte message code that leads every frame body.
func (r *Reader) ReadCode() (int32, error) {
	if len(r.remaining()) < 4 {
		return 0, truncated("code")
	}
	v := int32(binary.LittleEndian.Uint32(r.remaining()))
	r.pos += 4
	return v, nil
}

// ExpectCode reads the code and fails with *CodeMismatchError if it
// does not equal want.
func (r *Reader) ExpectCode(want int32) error {
	got, err := r.ReadCode()
	if err != nil {
		return err
	}
	if got != want {
		return &CodeMismatchError{Expected: want, Actual: got}
	}
	return nil
}

// Decompress replaces every remaining unread byte with its inflated
// form. Messages with a compressed payload (e.g.
// BrowseResponse) call this immediately after ReadCode/ExpectCode.
func (r *Reader) Decompress() error {
	zr := flate.NewReader(bytes.NewReader(r.remaining()))
	defer zr.Close()
	inflated, err := io.ReadAll(zr)
	if err != nil {
		return err
	}
	r.data = inflated
	r.pos = 0
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if len(r.remaining()) < 1 {
		return 0, truncated("byte")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	if len(r.remaining()) < 4 {
		return 0, truncated("int32")
	}
	v := int32(binary.LittleEndian.Uint32(r.remaining()))
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadInt32()
	return uint32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	if len(r.remaining()) < 8 {
		return 0, truncated("int64")
	}
	v := int64(binary.LittleEndian.Uint64(r.remaining()))
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	v, err := r.ReadInt64()
	return uint64(v), err
}

// ReadString reads a 4-byte byte-length followed by that many bytes,
// lossily decoding invalid UTF-8 rather than failing.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if uint32(len(r.remaining())) < n {
		return "", truncated("string")
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return decodeLossyString(b), nil
}

// ReadBytes reads a 4-byte byte-length followed by that many raw
// bytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if uint32(len(r.remaining())) < n {
		return nil, truncated("bytes")
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

// ReadRaw reads exactly n raw bytes with no length prefix.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if len(r.remaining()) < n {
		return nil, truncated("raw")
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// ReadIPReversed reads 4 bytes and returns them as a dotted-quad
// IPv4 address, reversing the on-wire byte order.
func (r *Reader) ReadIPReversed() (net.IP, error) {
	b, err := r.ReadRaw(4)
	if err != nil {
		return nil, err
	}
	return net.IPv4(b[3], b[2], b[1], b[0]), nil
}

func (r *Reader) ReadFile() (File, error) {
	var f File
	var err error
	if f.Name, err = r.ReadString(); err != nil {
		return f, err
	}
	if f.Size, err = r.ReadUint64(); err != nil {
		return f, err
	}
	if f.Extension, err = r.ReadString(); err != nil {
		return f, err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return f, err
	}
	if n > 0 {
		f.Attributes = make([]Attribute, 0, n)
	}
	for i := uint32(0); i < n; i++ {
		t, err := r.ReadInt32()
		if err != nil {
			return f, err
		}
		v, err := r.ReadInt32()
		if err != nil {
			return f, err
		}
		f.Attributes = append(f.Attributes, Attribute{Type: t, Value: v})
	}
	return f, nil
}

func (r *Reader) ReadDirectory() (Directory, error) {
	var d Directory
	var err error
	if d.Name, err = r.ReadString(); err != nil {
		return d, err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return d, err
	}
	d.Files = make([]File, 0, n)
	for i := uint32(0); i < n; i++ {
		f, err := r.ReadFile()
		if err != nil {
			return d, err
		}
		d.Files = append(d.Files, f)
	}
	return d, nil
}
