// Package session implements the server-side per-connection state machine
// (spec.md §4.4): it authenticates CONNECT_REQUESTs against the store,
// serves MESSAGES_REQUEST/USERS_REQUEST, and gates POST_REQUEST on the
// caller's authenticated uid. Grounded on the teacher's per-connection
// goroutine in server/client.go (one goroutine per net.Conn, reading
// frames in a loop and dispatching by message kind) and on the original
// server.py's smart_handler match-on-Code dispatch.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/RadYio/messenger/internal/store"
	"github.com/RadYio/messenger/internal/wire"
)

// Clock lets tests control the timestamp recorded on new posts.
type Clock func() time.Time

// Handler drives one connection's request/response loop against a shared
// Store. It holds the only piece of server-side session state spec.md
// §4.4 calls for: the authenticated uid, if any.
type Handler struct {
	store *store.Store
	conn  io.ReadWriter
	now   Clock

	authenticated bool
	uid           uint64

	// label identifies this connection in log lines, e.g. a remote address.
	label string

	// limiter caps inbound frames per second for this connection, set by
	// the acceptor (internal/server). Nil means unlimited, the default for
	// tests constructing a Handler directly.
	limiter *rate.Limiter
}

// New constructs a Handler for one accepted connection. conn is typically
// a *tls.Conn; it is taken as io.ReadWriter so tests can substitute an
// in-memory pipe.
func New(st *store.Store, conn io.ReadWriter, label string) *Handler {
	return &Handler{store: st, conn: conn, now: time.Now, label: label}
}

// SetLimiter installs a per-connection inbound frame rate limiter. Grounded
// on the teacher's Room.SetControlRateLimit knob (main.go), reimplemented
// with golang.org/x/time/rate rather than hand-rolled counters.
func (h *Handler) SetLimiter(limiter *rate.Limiter) {
	h.limiter = limiter
}

// Serve runs the receive/dispatch loop until a framing error, a protocol
// violation, or disconnect ends it. A clean disconnect or EOF returns nil;
// anything else is returned as an error for the caller to log.
func (h *Handler) Serve() error {
	for {
		payload, err := wire.Recv(h.conn)
		if err != nil {
			if errors.Is(err, wire.ErrDisconnected) {
				return nil
			}
			return err
		}

		code, msg, err := wire.Decode(payload)
		if err != nil {
			log.Printf("[session] %s: protocol violation decoding %v: %v", h.label, code, err)
			return err
		}

		if h.limiter != nil {
			if err := h.limiter.Wait(context.Background()); err != nil {
				return err
			}
		}

		if err := h.dispatch(code, msg); err != nil {
			return err
		}
	}
}

// dispatch routes one decoded message to its handler, enforcing the
// Unauthenticated/Authenticated gate from spec.md §4.4: only
// CONNECT_REQUEST is meaningful before authentication succeeds.
func (h *Handler) dispatch(code wire.Code, msg any) error {
	if code != wire.CodeConnectRequest && !h.authenticated {
		log.Printf("[session] %s: rejecting %v before authentication", h.label, code)
		return errUnauthenticatedTraffic
	}

	switch m := msg.(type) {
	case wire.ConnectRequest:
		return h.handleConnect(m)
	case wire.UsersRequest:
		return h.handleUsers(m)
	case wire.MessagesRequest:
		return h.handleMessages(m)
	case wire.PostRequest:
		return h.handlePost(m)
	default:
		// CONNECT_RESPONSE/USERS_RESPONSE/MESSAGES_RESPONSE/POST_RESPONSE
		// are server-to-client only; a client sending one is a protocol
		// violation.
		log.Printf("[session] %s: unexpected response-only code %v from client", h.label, code)
		return errUnauthenticatedTraffic
	}
}

var errUnauthenticatedTraffic = errors.New("session: protocol violation")

// handleConnect implements the register-on-first-seen transition from
// spec.md §4.4 / §9: an unrecognized username is registered on the spot.
// This conflates signup and signin (documented, not fixed, per spec.md §9).
func (h *Handler) handleConnect(req wire.ConnectRequest) error {
	if !h.store.UsernameExists(req.Username) {
		uid, err := h.store.AddUser(req.Username, req.Password)
		if err != nil {
			// Lost a race with a concurrent AddUser of the same name
			// between the existence check and the insert; fall back to
			// treating it as a login attempt.
			return h.attemptLogin(req)
		}
		h.authenticated = true
		h.uid = uid
		log.Printf("[session] %s: registered new user %q as uid %d", h.label, req.Username, uid)
		return h.respond(wire.ConnectResponse{UID: uid})
	}
	return h.attemptLogin(req)
}

func (h *Handler) attemptLogin(req wire.ConnectRequest) error {
	uid, ok := h.store.CheckConnection(req.Username, req.Password)
	if !ok {
		log.Printf("[session] %s: rejected CONNECT_REQUEST for %q", h.label, req.Username)
		return h.respond(wire.ConnectResponse{UID: wire.RejectUID})
	}
	h.authenticated = true
	h.uid = uid
	return h.respond(wire.ConnectResponse{UID: uid})
}

// handleUsers resolves each requested uid to a username, answering unknown
// uids with the literal "Unknown" rather than an error.
func (h *Handler) handleUsers(req wire.UsersRequest) error {
	entries := make([]wire.UserEntry, len(req.TargetUIDs))
	for i, target := range req.TargetUIDs {
		entries[i] = wire.UserEntry{UID: target, Name: h.store.GetUsername(target)}
	}
	return h.respond(wire.UsersResponse{UID: req.UID, Users: entries})
}

// handleMessages serves up to Count most recent messages. thread_id is
// accepted and ignored for routing, per spec.md's reserved-for-future-use
// note; nothing dispatches on it.
func (h *Handler) handleMessages(req wire.MessagesRequest) error {
	msgs := h.store.GetLastMessages(int(req.Count))
	entries := make([]wire.MessageEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = wire.MessageEntry{MID: m.MID, Timestamp: m.Timestamp, AuthorUID: m.AuthorUID, Body: m.Body}
	}
	return h.respond(wire.MessagesResponse{UID: req.UID, Messages: entries})
}

// handlePost enforces the auth gate: the claimed uid must equal this
// session's authenticated uid, or the post is rejected without mutating
// the store.
func (h *Handler) handlePost(req wire.PostRequest) error {
	if req.UID != h.uid {
		log.Printf("[session] %s: rejected POST_REQUEST claiming uid %d on session authenticated as %d", h.label, req.UID, h.uid)
		return h.respond(wire.PostResponse{UID: req.UID, ThreadID: req.ThreadID, MID: wire.RejectMID})
	}
	t := h.now()
	timestamp := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	mid := h.store.AddNewMessage(timestamp, h.uid, req.Body)
	return h.respond(wire.PostResponse{UID: h.uid, ThreadID: req.ThreadID, MID: mid})
}

// responder is satisfied by every *Response wire type.
type responder interface {
	Encode() ([]byte, error)
}

func (h *Handler) respond(m responder) error {
	payload, err := m.Encode()
	if err != nil {
		return err
	}
	return wire.Send(h.conn, payload)
}
