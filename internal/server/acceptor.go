// Package server implements the accept loop (spec.md §4.5): one goroutine
// per accepted connection, continue-on-accept-error, and a graceful
// shutdown that stops accepting and persists the store before exit.
// Grounded on the teacher's main.go signal-handling block and its
// Server.Run shutdown-on-context-cancel pattern in server.go.
package server

import (
	"context"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/RadYio/messenger/internal/session"
	"github.com/RadYio/messenger/internal/store"
)

// logf is overridable so tests can silence or inspect acceptor logging.
var logf = defaultLogf

// Config bundles the acceptor's tunables. PerIPLimit and RateLimit of 0
// mean unlimited, matching the teacher's main.go flag defaults.
type Config struct {
	StatePath  string
	Secret     []byte
	PerIPLimit int
	RateLimit  float64 // inbound frames per second, per connection
}

// Acceptor owns a listener and spawns one Handler goroutine per accepted
// connection against a shared Store. It is the only component that ever
// calls Store.Save, and it does so exactly once, on shutdown.
type Acceptor struct {
	ln    net.Listener
	store *store.Store
	cfg   Config
	wg    sync.WaitGroup

	mu       sync.Mutex
	ipCounts map[string]int
}

// NewAcceptor constructs an Acceptor. ln is typically the result of
// tls.NewListener wrapping a net.Listener, so every accepted net.Conn is
// already the TLS-terminated stream the session handler reads frames from.
func NewAcceptor(ln net.Listener, st *store.Store, cfg Config) *Acceptor {
	return &Acceptor{ln: ln, store: st, cfg: cfg, ipCounts: make(map[string]int)}
}

// Run accepts connections until ctx is canceled, then stops accepting,
// closes every open connection so its handler returns, waits for those
// handlers, and persists the store. Handlers mid-request
// when shutdown begins may be abandoned without corrupting the store: each
// Store operation is already atomic under its own lock (spec.md §4.5).
func (a *Acceptor) Run(ctx context.Context) error {
	shuttingDown := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(shuttingDown)
		a.ln.Close()
	}()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			select {
			case <-shuttingDown:
				logf("[acceptor] no longer accepting, waiting for %d in-flight connections", a.inFlight())
				a.wg.Wait()
				if serr := a.store.Save(a.cfg.StatePath, a.cfg.Secret); serr != nil {
					logf("[acceptor] save on shutdown: %v", serr)
					return serr
				}
				logf("[acceptor] state saved to %s", a.cfg.StatePath)
				return nil
			default:
				logf("[acceptor] accept error: %v", err)
				continue
			}
		}

		if !a.admit(conn) {
			conn.Close()
			continue
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.release(conn)
			defer conn.Close()
			handlerDone := make(chan struct{})
			defer close(handlerDone)
			go func() {
				// Closing the connection on shutdown makes a handler blocked
				// in Recv return, so the wait below can finish.
				select {
				case <-shuttingDown:
					conn.Close()
				case <-handlerDone:
				}
			}()
			a.handle(conn)
		}()
	}
}

func (a *Acceptor) inFlight() int {
	// sync.WaitGroup exposes no counter; this is best-effort logging only.
	return -1
}

func (a *Acceptor) admit(conn net.Conn) bool {
	if a.cfg.PerIPLimit <= 0 {
		return true
	}
	host := hostOf(conn.RemoteAddr())
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ipCounts[host] >= a.cfg.PerIPLimit {
		logf("[acceptor] rejecting connection from %s: per-IP limit reached", host)
		return false
	}
	a.ipCounts[host]++
	return true
}

func (a *Acceptor) release(conn net.Conn) {
	if a.cfg.PerIPLimit <= 0 {
		return
	}
	host := hostOf(conn.RemoteAddr())
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ipCounts[host]--
	if a.ipCounts[host] <= 0 {
		delete(a.ipCounts, host)
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (a *Acceptor) handle(conn net.Conn) {
	label := conn.RemoteAddr().String()
	h := session.New(a.store, conn, label)
	if a.cfg.RateLimit > 0 {
		burst := int(a.cfg.RateLimit) + 1
		h.SetLimiter(rate.NewLimiter(rate.Limit(a.cfg.RateLimit), burst))
	}
	logf("[acceptor] connection accepted from %s", label)
	if err := h.Serve(); err != nil {
		logf("[acceptor] %s: %v", label, err)
		return
	}
	logf("[acceptor] %s: disconnected", label)
}
