// Package httpapi is the engine's command surface: schedule CRUD, direct
// downloads, manual stops, status and a live event stream, served by gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	logx "streamvault/pkg/logx"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 0 // SSE: the event stream must outlive any write deadline
	idleTimeout  = 120 * time.Second
)

// Server wraps the HTTP listener lifecycle.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(addr string, handler http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
		log: log,
	}
}

// Run serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(sctx)
	}()

	s.log.Info("http api listening", logx.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
