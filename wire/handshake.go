package wire

import "encoding/binary"

// HandshakeCode tags the very first frame on a freshly accepted
// inbound socket. Unlike ordinary frames these carry a single-byte
// code, not a 4-byte one, and live outside the three code spaces
//.
type HandshakeCode byte

const (
	HandshakePierceFirewall HandshakeCode = 0
	HandshakePeerInit       HandshakeCode = 1
)

// ReadHandshakeCode peels the leading code byte off a handshake frame
// body, returning the remaining payload.
func ReadHandshakeCode(body []byte) (HandshakeCode, []byte, error) {
	if len(body) < 1 {
		return 0, nil, truncated("handshake code")
	}
	return HandshakeCode(body[0]), body[1:], nil
}

// EncodePeerInit builds a length-prefixed PeerInit frame: a direct
// connection's very first bytes, identifying the sender and what the
// new socket will be used for.
func EncodePeerInit(username, connType string, tok uint32) []byte {
	var body []byte
	body = append(body, byte(HandshakePeerInit))
	body = appendString(body, username)
	body = appendString(body, connType)
	body = appendUint32(body, tok)
	return framed(body)
}

// DecodePeerInit parses the payload following the handshake code byte
// (i.e. what ReadHandshakeCode returned alongside HandshakePeerInit).
func DecodePeerInit(payload []byte) (username, connType string, tok uint32, err error) {
	pos := 0
	username, pos, err = readString(payload, pos)
	if err != nil {
		return
	}
	connType, pos, err = readString(payload, pos)
	if err != nil {
		return
	}
	tok, _, err = readUint32(payload, pos)
	return
}

// EncodePierceFirewall builds a length-prefixed PierceFirewall frame:
// the indirect-path peer's response identifying which solicitation
// token it is answering.
func EncodePierceFirewall(tok uint32) []byte {
	var body []byte
	body = append(body, byte(HandshakePierceFirewall))
	body = appendUint32(body, tok)
	return framed(body)
}

// DecodePierceFirewall parses the payload following the handshake
// code byte for a PierceFirewall frame.
func DecodePierceFirewall(payload []byte) (uint32, error) {
	tok, _, err := readUint32(payload, 0)
	return tok, err
}

func framed(body []byte) []byte {
	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendString(b []byte, s string) []byte {
	b = appendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func readUint32(b []byte, pos int) (uint32, int, error) {
	if len(b)-pos < 4 {
		return 0, pos, truncated("uint32")
	}
	return binary.LittleEndian.Uint32(b[pos : pos+4]), pos + 4, nil
}

func readString(b []byte, pos int) (string, int, error) {
	n, pos, err := readUint32(b, pos)
	if err != nil {
		return "", pos, err
	}
	if len(b)-pos < int(n) {
		return "", pos, truncated("string")
	}
	s := decodeLossyString(b[pos : pos+int(n)])
	return s, pos + int(n), nil
}
