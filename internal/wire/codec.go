package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Code identifies the kind of message carried in a frame's payload. It is
// always the first byte of the payload.
type Code uint8

const (
	CodeConnectRequest   Code = 0
	CodeConnectResponse  Code = 1
	CodeUsersRequest     Code = 2
	CodeUsersResponse    Code = 3
	CodeMessagesRequest  Code = 4
	CodeMessagesResponse Code = 5
	CodePostRequest      Code = 6
	CodePostResponse     Code = 7
)

func (c Code) String() string {
	switch c {
	case CodeConnectRequest:
		return "CONNECT_REQUEST"
	case CodeConnectResponse:
		return "CONNECT_RESPONSE"
	case CodeUsersRequest:
		return "USERS_REQUEST"
	case CodeUsersResponse:
		return "USERS_RESPONSE"
	case CodeMessagesRequest:
		return "MESSAGES_REQUEST"
	case CodeMessagesResponse:
		return "MESSAGES_RESPONSE"
	case CodePostRequest:
		return "POST_REQUEST"
	case CodePostResponse:
		return "POST_RESPONSE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// RejectUID is the sentinel uid returned in a CONNECT_RESPONSE when
// authentication fails. It is distinct from uid 0, which is reserved for
// server-originated messages.
const RejectUID uint64 = math.MaxUint64

// RejectMID is the sentinel mid returned in a POST_RESPONSE when the
// claimed uid does not match the session's authenticated uid.
const RejectMID uint64 = math.MaxUint64

var (
	// ErrMalformed is returned when a payload is shorter than its fixed
	// header, a variable-length tail is shorter than declared, or a string
	// field fails UTF-8 validation.
	ErrMalformed = errors.New("wire: malformed payload")
	// ErrUnknownCode is returned when the payload's leading code byte is
	// outside the 0..7 range defined by the protocol.
	ErrUnknownCode = errors.New("wire: unknown code")
)

// ConnectRequest is code 0.
type ConnectRequest struct {
	UID      uint64
	Username string
	Password string
}

// ConnectResponse is code 1.
type ConnectResponse struct {
	UID uint64
}

// UsersRequest is code 2.
type UsersRequest struct {
	UID        uint64
	TargetUIDs []uint64
}

// UserEntry is one (uid, name) pair inside a UsersResponse.
type UserEntry struct {
	UID  uint64
	Name string
}

// UsersResponse is code 3.
type UsersResponse struct {
	UID   uint64
	Users []UserEntry
}

// MessagesRequest is code 4.
type MessagesRequest struct {
	UID      uint64
	ThreadID uint64
	Count    uint8
}

// MessageEntry is one message inside a MessagesResponse.
type MessageEntry struct {
	MID       uint64
	Timestamp float64
	AuthorUID uint64
	Body      string
}

// MessagesResponse is code 5.
type MessagesResponse struct {
	UID      uint64
	Messages []MessageEntry
}

// PostRequest is code 6.
type PostRequest struct {
	UID      uint64
	ThreadID uint64
	Body     string
}

// PostResponse is code 7. MID == RejectMID denotes a rejected post.
type PostResponse struct {
	UID      uint64
	ThreadID uint64
	MID      uint64
}

// Decode inspects the leading code byte of payload and decodes it into the
// matching message type, returned as one of the *Request/*Response structs
// above via the any return value.
func Decode(payload []byte) (Code, any, error) {
	if len(payload) < 1 {
		return 0, nil, ErrMalformed
	}
	code := Code(payload[0])
	body := payload[1:]
	switch code {
	case CodeConnectRequest:
		m, err := decodeConnectRequest(body)
		return code, m, err
	case CodeConnectResponse:
		m, err := decodeConnectResponse(body)
		return code, m, err
	case CodeUsersRequest:
		m, err := decodeUsersRequest(body)
		return code, m, err
	case CodeUsersResponse:
		m, err := decodeUsersResponse(body)
		return code, m, err
	case CodeMessagesRequest:
		m, err := decodeMessagesRequest(body)
		return code, m, err
	case CodeMessagesResponse:
		m, err := decodeMessagesResponse(body)
		return code, m, err
	case CodePostRequest:
		m, err := decodePostRequest(body)
		return code, m, err
	case CodePostResponse:
		m, err := decodePostResponse(body)
		return code, m, err
	default:
		return code, nil, ErrUnknownCode
	}
}

// --- CONNECT_REQUEST ---

func (m ConnectRequest) Encode() ([]byte, error) {
	nameBytes := []byte(m.Username)
	pwBytes := []byte(m.Password)
	if len(nameBytes) > math.MaxUint8 || len(pwBytes) > math.MaxUint8 {
		return nil, fmt.Errorf("wire: username/password too long")
	}
	buf := make([]byte, 1+8+1+1+len(nameBytes)+len(pwBytes))
	buf[0] = byte(CodeConnectRequest)
	binary.BigEndian.PutUint64(buf[1:9], m.UID)
	buf[9] = byte(len(nameBytes))
	buf[10] = byte(len(pwBytes))
	off := 11
	off += copy(buf[off:], nameBytes)
	copy(buf[off:], pwBytes)
	return buf, nil
}

func decodeConnectRequest(b []byte) (ConnectRequest, error) {
	if len(b) < 10 {
		return ConnectRequest{}, ErrMalformed
	}
	uid := binary.BigEndian.Uint64(b[0:8])
	nu := int(b[8])
	np := int(b[9])
	rest := b[10:]
	if len(rest) < nu+np {
		return ConnectRequest{}, ErrMalformed
	}
	username := rest[:nu]
	password := rest[nu : nu+np]
	if !utf8.Valid(username) || !utf8.Valid(password) {
		return ConnectRequest{}, ErrMalformed
	}
	return ConnectRequest{UID: uid, Username: string(username), Password: string(password)}, nil
}

// --- CONNECT_RESPONSE ---

func (m ConnectResponse) Encode() ([]byte, error) {
	buf := make([]byte, 1+8)
	buf[0] = byte(CodeConnectResponse)
	binary.BigEndian.PutUint64(buf[1:9], m.UID)
	return buf, nil
}

func decodeConnectResponse(b []byte) (ConnectResponse, error) {
	if len(b) < 8 {
		return ConnectResponse{}, ErrMalformed
	}
	return ConnectResponse{UID: binary.BigEndian.Uint64(b[0:8])}, nil
}

// --- USERS_REQUEST ---

func (m UsersRequest) Encode() ([]byte, error) {
	if len(m.TargetUIDs) > math.MaxUint8 {
		return nil, fmt.Errorf("wire: too many target uids")
	}
	buf := make([]byte, 1+8+1+8*len(m.TargetUIDs))
	buf[0] = byte(CodeUsersRequest)
	binary.BigEndian.PutUint64(buf[1:9], m.UID)
	buf[9] = byte(len(m.TargetUIDs))
	off := 10
	for _, id := range m.TargetUIDs {
		binary.BigEndian.PutUint64(buf[off:off+8], id)
		off += 8
	}
	return buf, nil
}

func decodeUsersRequest(b []byte) (UsersRequest, error) {
	if len(b) < 9 {
		return UsersRequest{}, ErrMalformed
	}
	uid := binary.BigEndian.Uint64(b[0:8])
	n := int(b[8])
	rest := b[9:]
	if len(rest) < n*8 {
		return UsersRequest{}, ErrMalformed
	}
	targets := make([]uint64, n)
	for i := 0; i < n; i++ {
		targets[i] = binary.BigEndian.Uint64(rest[i*8 : i*8+8])
	}
	return UsersRequest{UID: uid, TargetUIDs: targets}, nil
}

// --- USERS_RESPONSE ---

func (m UsersResponse) Encode() ([]byte, error) {
	if len(m.Users) > math.MaxUint8 {
		return nil, fmt.Errorf("wire: too many users")
	}
	headerSize := 1 + 8 + 1 + len(m.Users)*9
	nameBytes := make([][]byte, len(m.Users))
	total := headerSize
	for i, u := range m.Users {
		nb := []byte(u.Name)
		if len(nb) > math.MaxUint8 {
			return nil, fmt.Errorf("wire: username too long")
		}
		nameBytes[i] = nb
		total += len(nb)
	}
	buf := make([]byte, total)
	buf[0] = byte(CodeUsersResponse)
	binary.BigEndian.PutUint64(buf[1:9], m.UID)
	buf[9] = byte(len(m.Users))
	off := 10
	for i, u := range m.Users {
		binary.BigEndian.PutUint64(buf[off:off+8], u.UID)
		buf[off+8] = byte(len(nameBytes[i]))
		off += 9
	}
	for _, nb := range nameBytes {
		off += copy(buf[off:], nb)
	}
	return buf, nil
}

func decodeUsersResponse(b []byte) (UsersResponse, error) {
	if len(b) < 9 {
		return UsersResponse{}, ErrMalformed
	}
	uid := binary.BigEndian.Uint64(b[0:8])
	n := int(b[8])
	off := 9
	if len(b) < off+n*9 {
		return UsersResponse{}, ErrMalformed
	}
	type header struct {
		uid     uint64
		nameLen int
	}
	headers := make([]header, n)
	for i := 0; i < n; i++ {
		headers[i] = header{
			uid:     binary.BigEndian.Uint64(b[off : off+8]),
			nameLen: int(b[off+8]),
		}
		off += 9
	}
	users := make([]UserEntry, n)
	for i, h := range headers {
		if len(b) < off+h.nameLen {
			return UsersResponse{}, ErrMalformed
		}
		name := b[off : off+h.nameLen]
		if !utf8.Valid(name) {
			return UsersResponse{}, ErrMalformed
		}
		users[i] = UserEntry{UID: h.uid, Name: string(name)}
		off += h.nameLen
	}
	return UsersResponse{UID: uid, Users: users}, nil
}

// --- MESSAGES_REQUEST ---

func (m MessagesRequest) Encode() ([]byte, error) {
	buf := make([]byte, 1+8+8+1)
	buf[0] = byte(CodeMessagesRequest)
	binary.BigEndian.PutUint64(buf[1:9], m.UID)
	binary.BigEndian.PutUint64(buf[9:17], m.ThreadID)
	buf[17] = m.Count
	return buf, nil
}

func decodeMessagesRequest(b []byte) (MessagesRequest, error) {
	if len(b) < 17 {
		return MessagesRequest{}, ErrMalformed
	}
	return MessagesRequest{
		UID:      binary.BigEndian.Uint64(b[0:8]),
		ThreadID: binary.BigEndian.Uint64(b[8:16]),
		Count:    b[16],
	}, nil
}

// --- MESSAGES_RESPONSE ---

func (m MessagesResponse) Encode() ([]byte, error) {
	if len(m.Messages) > math.MaxUint8 {
		return nil, fmt.Errorf("wire: too many messages")
	}
	headerSize := 1 + 8 + 1 + len(m.Messages)*(8+8+8+2)
	bodyBytes := make([][]byte, len(m.Messages))
	total := headerSize
	for i, msg := range m.Messages {
		bb := []byte(msg.Body)
		if len(bb) > math.MaxUint16 {
			return nil, fmt.Errorf("wire: message body too long")
		}
		bodyBytes[i] = bb
		total += len(bb)
	}
	buf := make([]byte, total)
	buf[0] = byte(CodeMessagesResponse)
	binary.BigEndian.PutUint64(buf[1:9], m.UID)
	buf[9] = byte(len(m.Messages))
	off := 10
	for i, msg := range m.Messages {
		binary.BigEndian.PutUint64(buf[off:off+8], msg.MID)
		binary.BigEndian.PutUint64(buf[off+8:off+16], math.Float64bits(msg.Timestamp))
		binary.BigEndian.PutUint64(buf[off+16:off+24], msg.AuthorUID)
		binary.BigEndian.PutUint16(buf[off+24:off+26], uint16(len(bodyBytes[i])))
		off += 26
	}
	for _, bb := range bodyBytes {
		off += copy(buf[off:], bb)
	}
	return buf, nil
}

func decodeMessagesResponse(b []byte) (MessagesResponse, error) {
	if len(b) < 9 {
		return MessagesResponse{}, ErrMalformed
	}
	uid := binary.BigEndian.Uint64(b[0:8])
	n := int(b[8])
	off := 9
	const headerEntry = 26
	if len(b) < off+n*headerEntry {
		return MessagesResponse{}, ErrMalformed
	}
	type header struct {
		mid       uint64
		ts        float64
		author    uint64
		bodyLen   int
	}
	headers := make([]header, n)
	for i := 0; i < n; i++ {
		mid := binary.BigEndian.Uint64(b[off : off+8])
		ts := math.Float64frombits(binary.BigEndian.Uint64(b[off+8 : off+16]))
		author := binary.BigEndian.Uint64(b[off+16 : off+24])
		bodyLen := int(binary.BigEndian.Uint16(b[off+24 : off+26]))
		headers[i] = header{mid: mid, ts: ts, author: author, bodyLen: bodyLen}
		off += headerEntry
	}
	messages := make([]MessageEntry, n)
	for i, h := range headers {
		if len(b) < off+h.bodyLen {
			return MessagesResponse{}, ErrMalformed
		}
		body := b[off : off+h.bodyLen]
		if !utf8.Valid(body) {
			return MessagesResponse{}, ErrMalformed
		}
		messages[i] = MessageEntry{MID: h.mid, Timestamp: h.ts, AuthorUID: h.author, Body: string(body)}
		off += h.bodyLen
	}
	return MessagesResponse{UID: uid, Messages: messages}, nil
}

// --- POST_REQUEST ---

func (m PostRequest) Encode() ([]byte, error) {
	bodyBytes := []byte(m.Body)
	if len(bodyBytes) > math.MaxUint16 {
		return nil, fmt.Errorf("wire: post body too long")
	}
	buf := make([]byte, 1+8+8+2+len(bodyBytes))
	buf[0] = byte(CodePostRequest)
	binary.BigEndian.PutUint64(buf[1:9], m.UID)
	binary.BigEndian.PutUint64(buf[9:17], m.ThreadID)
	binary.BigEndian.PutUint16(buf[17:19], uint16(len(bodyBytes)))
	copy(buf[19:], bodyBytes)
	return buf, nil
}

func decodePostRequest(b []byte) (PostRequest, error) {
	if len(b) < 18 {
		return PostRequest{}, ErrMalformed
	}
	uid := binary.BigEndian.Uint64(b[0:8])
	threadID := binary.BigEndian.Uint64(b[8:16])
	bodyLen := int(binary.BigEndian.Uint16(b[16:18]))
	rest := b[18:]
	if len(rest) < bodyLen {
		return PostRequest{}, ErrMalformed
	}
	body := rest[:bodyLen]
	if !utf8.Valid(body) {
		return PostRequest{}, ErrMalformed
	}
	return PostRequest{UID: uid, ThreadID: threadID, Body: string(body)}, nil
}

// --- POST_RESPONSE ---

func (m PostResponse) Encode() ([]byte, error) {
	buf := make([]byte, 1+8+8+8)
	buf[0] = byte(CodePostResponse)
	binary.BigEndian.PutUint64(buf[1:9], m.UID)
	binary.BigEndian.PutUint64(buf[9:17], m.ThreadID)
	binary.BigEndian.PutUint64(buf[17:25], m.MID)
	return buf, nil
}

func decodePostResponse(b []byte) (PostResponse, error) {
	if len(b) < 24 {
		return PostResponse{}, ErrMalformed
	}
	return PostResponse{
		UID:      binary.BigEndian.Uint64(b[0:8]),
		ThreadID: binary.BigEndian.Uint64(b[8:16]),
		MID:      binary.BigEndian.Uint64(b[16:24]),
	}, nil
}
