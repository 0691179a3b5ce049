package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/RadYio/messenger/internal/store"
)

// APIServer is the read-only admin/metrics HTTP surface (SPEC_FULL.md
// §4.7). It never mutates the Store; it exists purely for operational
// visibility and runs on its own listen address, separate from the chat
// protocol's TLS listener. Grounded on the teacher's APIServer in
// server/api.go (echo.New with HideBanner/HidePort, middleware.Recover,
// a custom error handler, GET-only routes).
type APIServer struct {
	store     *store.Store
	echo      *echo.Echo
	startedAt time.Time
}

// NewAPIServer constructs an APIServer backed by st and registers its
// routes. Each request is tagged with a uuid for correlation in logs,
// mirroring how the teacher's pack-mate repos (e.g. docker-compose) thread
// a google/uuid request id through middleware.
func NewAPIServer(st *store.Store) *APIServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &APIServer{store: st, echo: e, startedAt: time.Now()}
	s.registerRoutes()
	return s
}

func (s *APIServer) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/api/stats", s.handleStats)
}

func (s *APIServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleStats(c echo.Context) error {
	users, messages, uptime := s.store.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"users":          users,
		"messages":       messages,
		"uptime_seconds": uptime.Seconds(),
		"uptime_human":   humanize.RelTime(s.startedAt, time.Now(), "", ""),
		"request_id":     c.Response().Header().Get(echo.HeaderXRequestID),
	})
}

func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": err.Error()})
	}
}

// Run starts the Echo HTTP server on addr and blocks until ctx is canceled.
func (s *APIServer) Run(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()

	err := s.echo.Start(addr)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
