// Package server exposes the authority over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/park285/boardroom/internal/authority"
	"github.com/park285/boardroom/internal/obslog"
	"github.com/park285/boardroom/internal/render"
)

// Deps wires the handlers. Broker and Renderer default when nil; Publisher
// defaults to the Broker.
type Deps struct {
	Manager        *authority.Manager
	Broker         *Broker
	Publisher      Publisher
	Renderer       *render.Renderer
	Checks         map[string]Checker
	AllowedRooms   []string
	AllowedOrigins []string
	Logger         *zap.Logger
}

func (d *Deps) normalize() {
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	if d.Publisher == nil {
		d.Publisher = d.Broker
	}
	if d.Renderer == nil {
		d.Renderer = render.New(render.DefaultSquareSize)
	}
	if d.Logger == nil {
		d.Logger = obslog.Named("server")
	}
}

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func New(addr string, d Deps) *Server {
	d.normalize()
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(d),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: d.Logger,
	}
}

// NewHandler builds the router without binding a listener.
func NewHandler(d Deps) http.Handler {
	d.normalize()
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(d.Logger))
	r.Use(middleware.Recoverer)

	addRoutes(r, d)
	return r
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func newStructuredLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Int64("duration_ms", time.Since(start).Milliseconds()),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
