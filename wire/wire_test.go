package wire

import (
	"net"
	"reflect"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	w := NewWriter(ServerLogin)
	w.WriteString("alice")
	w.WriteString("hunter2")
	w.WriteInt32(181)
	frame := w.Build()

	gotLen := int(frame[0]) | int(frame[1])<<8 | int(frame[2])<<16 | int(frame[3])<<24
	if gotLen != len(frame)-4 {
		t.Fatalf("length prefix %d != body length %d", gotLen, len(frame)-4)
	}

	r := NewReader(frame[4:])
	if err := r.ExpectCode(ServerLogin); err != nil {
		t.Fatal(err)
	}
	user, err := r.ReadString()
	if err != nil || user != "alice" {
		t.Fatalf("username = %q, %v", user, err)
	}
	pass, err := r.ReadString()
	if err != nil || pass != "hunter2" {
		t.Fatalf("password = %q, %v", pass, err)
	}
	ver, err := r.ReadInt32()
	if err != nil || ver != 181 {
		t.Fatalf("version = %d, %v", ver, err)
	}
	if r.HasMore() {
		t.Fatal("unexpected trailing bytes")
	}
}

func TestCodeMismatch(t *testing.T) {
	w := NewWriter(PeerSearchRequest)
	w.WriteString("query")
	frame := w.Build()

	r := NewReader(frame[4:])
	err := r.ExpectCode(PeerBrowseResponse)
	mismatch, ok := err.(*CodeMismatchError)
	if !ok {
		t.Fatalf("expected *CodeMismatchError, got %T (%v)", err, err)
	}
	if mismatch.Expected != PeerBrowseResponse || mismatch.Actual != PeerSearchRequest {
		t.Fatalf("mismatch = %+v", mismatch)
	}
}

func TestTruncatedFrame(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.ReadCode(); err == nil {
		t.Fatal("expected truncated error")
	}
}

func TestIPReversed(t *testing.T) {
	w := NewWriter(ServerGetPeerAddress)
	w.WriteString("bob")
	w.WriteIPReversed(net.IPv4(1, 2, 3, 4))
	w.WriteUint32(2234)
	frame := w.Build()

	resp, err := DecodeUserAddressResponse(frame[4:])
	if err != nil {
		t.Fatal(err)
	}
	if resp.Username != "bob" {
		t.Fatalf("username = %q", resp.Username)
	}
	if !resp.IP.Equal(net.IPv4(1, 2, 3, 4)) {
		t.Fatalf("ip = %v", resp.IP)
	}
	if resp.Port != 2234 {
		t.Fatalf("port = %d", resp.Port)
	}
}

func TestInvalidUTF8IsLossy(t *testing.T) {
	w := NewWriter(ServerLogin)
	w.WriteBytes([]byte{0xff, 0xfe, 'h', 'i'})
	frame := w.Build()

	r := NewReader(frame[4:])
	if err := r.ExpectCode(ServerLogin); err != nil {
		t.Fatal(err)
	}
	n, err := r.ReadUint32()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := r.ReadRaw(int(n))
	if err != nil {
		t.Fatal(err)
	}
	s := decodeLossyString(raw)
	if s == "" {
		t.Fatal("expected a non-empty, non-failing decode")
	}
}

func TestBrowseResponseCompressedRoundTrip(t *testing.T) {
	in := BrowseResponse{
		Directories: []Directory{
			{Name: `a\b`, Files: []File{{Name: "file1", Size: 100, Extension: "mp3"}}},
			{Name: "c/d", Files: []File{{Name: "file2", Size: 200, Extension: "flac"}}, Locked: true},
		},
	}

	encoded := EncodeBrowseResponse(in)
	out, err := DecodeBrowseResponse(encoded[4:])
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in.Directories, out.Directories) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in.Directories, out.Directories)
	}
}

func TestBrowseResponseNoLockedDirectories(t *testing.T) {
	in := BrowseResponse{
		Directories: []Directory{
			{Name: "shared", Files: []File{{Name: "song.mp3", Size: 1}}},
		},
	}
	encoded := EncodeBrowseResponse(in)
	out, err := DecodeBrowseResponse(encoded[4:])
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Directories) != 1 || out.Directories[0].Locked {
		t.Fatalf("got %+v", out.Directories)
	}
}

func TestPeerInitRoundTrip(t *testing.T) {
	frame := EncodePeerInit("alice", "P", 42)
	code, payload, err := ReadHandshakeCode(frame[4:])
	if err != nil {
		t.Fatal(err)
	}
	if code != HandshakePeerInit {
		t.Fatalf("code = %v", code)
	}
	user, typ, tok, err := DecodePeerInit(payload)
	if err != nil {
		t.Fatal(err)
	}
	if user != "alice" || typ != "P" || tok != 42 {
		t.Fatalf("got %q %q %d", user, typ, tok)
	}
}

func TestPierceFirewallRoundTrip(t *testing.T) {
	frame := EncodePierceFirewall(99)
	code, payload, err := ReadHandshakeCode(frame[4:])
	if err != nil {
		t.Fatal(err)
	}
	if code != HandshakePierceFirewall {
		t.Fatalf("code = %v", code)
	}
	tok, err := DecodePierceFirewall(payload)
	if err != nil {
		t.Fatal(err)
	}
	if tok != 99 {
		t.Fatalf("token = %d", tok)
	}
}

func TestDistributedSearchRequestLeadingUnknownIgnored(t *testing.T) {
	w := NewWriter(DistributedSearchRequest)
	w.WriteUint32(0xdeadbeef) // the unknown leading field
	w.WriteString("carol")
	w.WriteUint32(7)
	w.WriteString("pink floyd flac")
	frame := w.Build()

	got, err := DecodeDistributedSearchRequest(frame[4:])
	if err != nil {
		t.Fatal(err)
	}
	if got.Username != "carol" || got.Token != 7 || got.Query != "pink floyd flac" {
		t.Fatalf("got %+v", got)
	}
}
