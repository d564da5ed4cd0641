package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/yndnr/tokvault-go/internal/infra/tlsroots"
)

// ServerConfig holds listener settings.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	// WriteTimeout bounds a whole response, including large downloads.
	// Zero disables it.
	WriteTimeout time.Duration

	// Certs serves HTTPS with hot-reloaded key pairs. Nil serves plain HTTP.
	Certs *tlsroots.Watcher

	Logger *slog.Logger
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	certs      *tlsroots.Watcher
	logger     *slog.Logger
}

// New creates a new HTTP server.
func New(cfg *ServerConfig, handler http.Handler) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}
	if cfg.Certs != nil {
		srv.TLSConfig = cfg.Certs.ServerTLSConfig()
	}
	return &Server{httpServer: srv, certs: cfg.Certs, logger: log}
}

// ListenAndServe listens on the configured address and serves until
// Shutdown. It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening", "addr", ln.Addr().String(), "tls", s.certs != nil)

	var err error
	if s.certs != nil {
		// Certificates come from TLSConfig.GetCertificate.
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		err = s.httpServer.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
