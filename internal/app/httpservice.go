package app

import (
	"context"
	"net/http"
	"time"

	"github.com/reviewdeck/core/internal/system"
	"github.com/reviewdeck/core/pkg/logger"
)

// HTTPService wraps DISP's router in an http.Server and fits the
// system.Manager lifecycle, modeled on the teacher's internal/app/httpapi.Service
// (Start launches ListenAndServe in a goroutine, Stop calls Shutdown).
type HTTPService struct {
	addr    string
	handler http.Handler
	log     *logger.Logger
	server  *http.Server
}

// NewHTTPService builds the HTTP listener service bound to addr.
func NewHTTPService(addr string, handler http.Handler, log *logger.Logger) *HTTPService {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &HTTPService{addr: addr, handler: handler, log: log}
}

var _ system.Service = (*HTTPService)(nil)

func (s *HTTPService) Name() string { return "http" }

func (s *HTTPService) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	s.log.WithField("addr", s.addr).Info("http listener started")
	return nil
}

func (s *HTTPService) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
