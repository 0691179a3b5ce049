// Package driver implements the client-side session driver (spec.md §4.6):
// it authenticates once, then multiplexes outbound user input against
// periodic history polling over a single connection, surfacing displayable
// records to whatever UI consumes them. Grounded on the original client.py
// smart_handler (inqueue.get(timeout=5) racing get_message_from_server_and_
// show_them) and the teacher client's goroutine/channel plumbing in app.go.
package driver

import (
	"errors"
	"fmt"
	"time"

	"github.com/RadYio/messenger/internal/wire"
)

// ErrAuthRejected is returned by Connect when the server responds to
// CONNECT_REQUEST with the reject uid sentinel.
var ErrAuthRejected = errors.New("driver: authentication rejected")

// conn is the minimal transport the driver needs; satisfied by wireConn.
type conn interface {
	Send(payload []byte) error
	Recv() ([]byte, error)
}

// wireConn adapts any io.ReadWriter-like transport to conn via the wire
// package's framing functions.
type wireConn struct {
	rw interface {
		Write([]byte) (int, error)
		Read([]byte) (int, error)
	}
}

func (c wireConn) Send(payload []byte) error { return wire.Send(c.rw, payload) }
func (c wireConn) Recv() ([]byte, error)     { return wire.Recv(c.rw) }

// ReadWriter is the subset of net.Conn the driver needs.
type ReadWriter interface {
	Write([]byte) (int, error)
	Read([]byte) (int, error)
}

// Record is one displayable chat record handed to the UI. AuthorUID follows
// spec.md's glossary convention at the UI boundary: 0 is the reserved
// server id, positive values are real users, and negative values (never
// seen on the wire) denote local errors such as a rejected post.
type Record struct {
	MID       uint64
	Timestamp time.Time
	AuthorUID int64
	Username  string
	Body      string
}

// ErrorAuthorUID is the sentinel AuthorUID for locally synthesized error
// records (e.g. a rejected post), mirroring client.py's print_message
// convention that negative uids are errors.
const ErrorAuthorUID int64 = -1

// ServerAuthorUID is the reserved id for server-originated records.
const ServerAuthorUID int64 = 0

// Driver holds the single piece of client-side session state: its own uid
// and the usernames it has resolved so far.
type Driver struct {
	conn     conn
	uid      uint64
	username string

	known            map[uint64]string
	lastDeliveredMID uint64

	pollTimeout time.Duration
}

// Connect performs CONNECT_REQUEST(0, username, password), awaits
// CONNECT_RESPONSE, and returns a Driver seeded with its own assigned uid.
func Connect(rw ReadWriter, username, password string) (*Driver, error) {
	c := wireConn{rw: rw}
	payload, err := wire.ConnectRequest{UID: 0, Username: username, Password: password}.Encode()
	if err != nil {
		return nil, err
	}
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	resp, err := c.Recv()
	if err != nil {
		return nil, err
	}
	_, decoded, err := wire.Decode(resp)
	if err != nil {
		return nil, err
	}
	connResp, ok := decoded.(wire.ConnectResponse)
	if !ok {
		return nil, fmt.Errorf("driver: unexpected response to CONNECT_REQUEST")
	}
	if connResp.UID == wire.RejectUID {
		return nil, ErrAuthRejected
	}

	d := &Driver{
		conn:        c,
		uid:         connResp.UID,
		username:    username,
		known:       map[uint64]string{connResp.UID: username},
		pollTimeout: 3 * time.Second,
	}
	return d, nil
}

// SetPollTimeout overrides the default 3s bound used for the inqueue poll
// between history refreshes (spec.md §4.6 recommends 2-5s).
func (d *Driver) SetPollTimeout(timeout time.Duration) {
	d.pollTimeout = timeout
}

// UID returns the uid this driver authenticated as.
func (d *Driver) UID() uint64 { return d.uid }

// Run multiplexes inqueue against periodic polling until ctx-like stop
// fires (signaled by closing stop) or the connection fails. Every request
// is followed immediately by exactly one response before the next request
// is sent — the driver never issues overlapping requests.
func (d *Driver) Run(stop <-chan struct{}, inqueue <-chan string, outqueue chan<- Record) error {
	// Prime the UI with the initial 64 messages of history, as the source
	// does right after authenticating.
	if err := d.pollHistory(64, outqueue); err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil
		case line := <-inqueue:
			if err := d.post(line, outqueue); err != nil {
				return err
			}
		case <-time.After(d.pollTimeout):
			if err := d.pollHistory(10, outqueue); err != nil {
				return err
			}
		}
	}
}

func (d *Driver) post(body string, outqueue chan<- Record) error {
	payload, err := wire.PostRequest{UID: d.uid, ThreadID: 0, Body: body}.Encode()
	if err != nil {
		return err
	}
	if err := d.conn.Send(payload); err != nil {
		return err
	}
	resp, err := d.conn.Recv()
	if err != nil {
		return err
	}
	_, decoded, err := wire.Decode(resp)
	if err != nil {
		return err
	}
	postResp, ok := decoded.(wire.PostResponse)
	if !ok {
		return fmt.Errorf("driver: unexpected response to POST_REQUEST")
	}
	if postResp.MID == wire.RejectMID {
		outqueue <- Record{AuthorUID: ErrorAuthorUID, Timestamp: time.Now(), Body: "post rejected by server"}
		return nil
	}
	if postResp.MID > d.lastDeliveredMID {
		d.lastDeliveredMID = postResp.MID
	}
	outqueue <- Record{MID: postResp.MID, Timestamp: time.Now(), AuthorUID: int64(d.uid), Username: d.username, Body: body}
	return nil
}

func (d *Driver) pollHistory(count uint8, outqueue chan<- Record) error {
	payload, err := wire.MessagesRequest{UID: d.uid, ThreadID: 0, Count: count}.Encode()
	if err != nil {
		return err
	}
	if err := d.conn.Send(payload); err != nil {
		return err
	}
	resp, err := d.conn.Recv()
	if err != nil {
		return err
	}
	_, decoded, err := wire.Decode(resp)
	if err != nil {
		return err
	}
	msgsResp, ok := decoded.(wire.MessagesResponse)
	if !ok {
		return fmt.Errorf("driver: unexpected response to MESSAGES_REQUEST")
	}

	if err := d.resolveUnknownAuthors(msgsResp.Messages); err != nil {
		return err
	}

	for _, m := range msgsResp.Messages {
		if m.MID <= d.lastDeliveredMID {
			continue
		}
		d.lastDeliveredMID = m.MID
		outqueue <- Record{
			MID:       m.MID,
			Timestamp: time.Unix(int64(m.Timestamp), 0),
			AuthorUID: int64(m.AuthorUID),
			Username:  d.known[m.AuthorUID],
			Body:      m.Body,
		}
	}
	return nil
}

// resolveUnknownAuthors collects any author uids not yet in the local
// cache, resolves them with a single USERS_REQUEST, and updates the cache.
func (d *Driver) resolveUnknownAuthors(messages []wire.MessageEntry) error {
	var unknown []uint64
	seen := map[uint64]bool{}
	for _, m := range messages {
		if m.AuthorUID == 0 {
			continue // reserved server id, not a real user to resolve
		}
		if _, ok := d.known[m.AuthorUID]; !ok && !seen[m.AuthorUID] {
			unknown = append(unknown, m.AuthorUID)
			seen[m.AuthorUID] = true
		}
	}
	if len(unknown) == 0 {
		return nil
	}

	payload, err := wire.UsersRequest{UID: d.uid, TargetUIDs: unknown}.Encode()
	if err != nil {
		return err
	}
	if err := d.conn.Send(payload); err != nil {
		return err
	}
	resp, err := d.conn.Recv()
	if err != nil {
		return err
	}
	_, decoded, err := wire.Decode(resp)
	if err != nil {
		return err
	}
	usersResp, ok := decoded.(wire.UsersResponse)
	if !ok {
		return fmt.Errorf("driver: unexpected response to USERS_REQUEST")
	}
	for _, u := range usersResp.Users {
		d.known[u.UID] = u.Name
	}
	return nil
}
