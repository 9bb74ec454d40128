package wire

import "net"

// ConnectToPeerRequest is what we send to the server to ask it to
// tell username to connect back to us for the given token: the
// indirect rendezvous solicitation.
type ConnectToPeerRequest struct {
	Token    uint32
	Username string
	Type     string // "P", "F", or "D"
}

func (m ConnectToPeerRequest) Encode() []byte {
	w := NewWriter(ServerConnectToPeer)
	w.WriteUint32(m.Token)
	w.WriteString(m.Username)
	w.WriteString(m.Type)
	return w.Build()
}

// ConnectToPeerResponse is the server's notification that a peer
// could not be reached directly and should be contacted indirectly,
// or (received by us) that a peer wants us to pierce our firewall.
type ConnectToPeerResponse struct {
	Username   string
	Type       string
	IP         net.IP
	Port       uint32
	Token      uint32
	Privileged bool
}

func DecodeConnectToPeerResponse(body []byte) (ConnectToPeerResponse, error) {
	var m ConnectToPeerResponse
	r := NewReader(body)
	if err := r.ExpectCode(ServerConnectToPeer); err != nil {
		return m, err
	}
	var err error
	if m.Username, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Type, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.IP, err = r.ReadIPReversed(); err != nil {
		return m, err
	}
	if m.Port, err = r.ReadUint32(); err != nil {
		return m, err
	}
	if m.Token, err = r.ReadUint32(); err != nil {
		return m, err
	}
	priv, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.Privileged = priv != 0
	return m, nil
}

// PrivateMessage is a room-less message from one user to another.
type PrivateMessage struct {
	ID       uint32
	Seconds  uint32
	Username string
	Message  string
	IsAdmin  bool
}

func DecodePrivateMessage(body []byte) (PrivateMessage, error) {
	var m PrivateMessage
	r := NewReader(body)
	if err := r.ExpectCode(ServerPrivateMessage); err != nil {
		return m, err
	}
	var err error
	if m.ID, err = r.ReadUint32(); err != nil {
		return m, err
	}
	if m.Seconds, err = r.ReadUint32(); err != nil {
		return m, err
	}
	if m.Username, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Message, err = r.ReadString(); err != nil {
		return m, err
	}
	admin, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.IsAdmin = admin != 0
	return m, nil
}

// UserAddressResponse answers a GetPeerAddress lookup.
type UserAddressResponse struct {
	Username string
	IP       net.IP
	Port     uint32
}

func DecodeUserAddressResponse(body []byte) (UserAddressResponse, error) {
	var m UserAddressResponse
	r := NewReader(body)
	if err := r.ExpectCode(ServerGetPeerAddress); err != nil {
		return m, err
	}
	var err error
	if m.Username, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.IP, err = r.ReadIPReversed(); err != nil {
		return m, err
	}
	if m.Port, err = r.ReadUint32(); err != nil {
		return m, err
	}
	return m, nil
}

// BrowseResponse is a peer's reply to a BrowseRequest: every shared
// directory, plus any directories the peer marks as locked. The
// payload is DEFLATE-compressed after the message code.
type BrowseResponse struct {
	Directories []Directory
}

func EncodeBrowseResponse(m BrowseResponse) []byte {
	w := NewWriter(PeerBrowseResponse)

	var unlocked, locked []Directory
	for _, d := range m.Directories {
		if d.Locked {
			locked = append(locked, d)
		} else {
			unlocked = append(unlocked, d)
		}
	}

	w.WriteUint32(uint32(len(unlocked)))
	for _, d := range unlocked {
		w.WriteDirectory(d)
	}
	if len(locked) > 0 {
		w.WriteUint32(0) // the leading "nobody knows what this is" field, preserved
		w.WriteUint32(uint32(len(locked)))
		for _, d := range locked {
			w.WriteDirectory(d)
		}
	}
	return w.Compress().Build()
}

// DecodeBrowseResponse inflates and parses a BrowseResponse body. The
// optional trailing locked-directories block (with its leading
// unknown integer) is read iff bytes remain.1.
func DecodeBrowseResponse(body []byte) (BrowseResponse, error) {
	var m BrowseResponse
	r := NewReader(body)
	if err := r.ExpectCode(PeerBrowseResponse); err != nil {
		return m, err
	}
	if err := r.Decompress(); err != nil {
		return m, err
	}

	n, err := r.ReadUint32()
	if err != nil {
		return m, err
	}
	for i := uint32(0); i < n; i++ {
		d, err := r.ReadDirectory()
		if err != nil {
			return m, err
		}
		m.Directories = append(m.Directories, d)
	}

	if !r.HasMore() {
		return m, nil
	}

	if _, err := r.ReadUint32(); err != nil { // unknown field, ignored
		return m, err
	}
	lockedCount, err := r.ReadUint32()
	if err != nil {
		return m, err
	}
	for i := uint32(0); i < lockedCount; i++ {
		d, err := r.ReadDirectory()
		if err != nil {
			return m, err
		}
		d.Locked = true
		m.Directories = append(m.Directories, d)
	}
	return m, nil
}

// DistributedSearchRequestPayload carries a leading integer of
// undocumented purpose; it is preserved on encode and ignored on
// decode, followed by the search query fields.
type DistributedSearchRequestPayload struct {
	Username string
	Token    uint32
	Query    string
}

func DecodeDistributedSearchRequest(body []byte) (DistributedSearchRequestPayload, error) {
	var m DistributedSearchRequestPayload
	r := NewReader(body)
	if err := r.ExpectCode(DistributedSearchRequest); err != nil {
		return m, err
	}
	if _, err := r.ReadUint32(); err != nil { // unknown, preserved-and-ignored
		return m, err
	}
	var err error
	if m.Username, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Token, err = r.ReadUint32(); err != nil {
		return m, err
	}
	if m.Query, err = r.ReadString(); err != nil {
		return m, err
	}
	return m, nil
}
