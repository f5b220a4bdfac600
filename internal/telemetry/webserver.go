package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/rjboer/pulseradar/internal/logging"
)

// WebServer exposes run-stats history and health over HTTP. Entirely
// optional: the accumulator works the same with or without one.
type WebServer struct {
	srv *http.Server
	log logging.Logger
}

// NewWebServer builds an HTTP server serving hub's history/health.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/health", hub.handleHealth)

	return &WebServer{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: logger.With(logging.Field{Key: "subsystem", Value: "telemetry"}),
	}
}

// Start begins listening and shuts down when ctx is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.log.Warn("web telemetry shutdown", logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	if err := w.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		w.log.Error("web telemetry server error", logging.Field{Key: "error", Value: err.Error()})
	}
}
