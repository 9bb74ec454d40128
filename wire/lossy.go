package wire

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// lossyUTF8 substitutes the Unicode replacement character for any
// invalid byte sequence instead of failing.1: peers
// send mixed encodings in practice, so a string field must never fail
// to decode on bad UTF-8.
var lossyUTF8 = encoding.ReplaceUnsupported(unicode.UTF8.NewDecoder())

func decodeLossyString(b []byte) string {
	out, _, err := transform.Bytes(lossyUTF8, b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
