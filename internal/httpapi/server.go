// Package httpapi exposes the relay's small operational HTTP surface.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
)

// StatusSource reports live relay state for the health endpoint.
type StatusSource interface {
	ChannelStates() map[string]bool
	PendingBatches() int
}

// Server is the operational HTTP listener: health and readiness only, no
// message ingress.
type Server struct {
	host    string
	port    int
	msgBus  *bus.MessageBus
	status  StatusSource
	started time.Time

	httpServer *http.Server
}

// NewServer creates the operational HTTP server.
func NewServer(host string, port int, msgBus *bus.MessageBus, status StatusSource) *Server {
	return &Server{
		host:    host,
		port:    port,
		msgBus:  msgBus,
		status:  status,
		started: time.Now(),
	}
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("http server starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status         string          `json:"status"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
	InboundQueue   int             `json:"inbound_queue"`
	OutboundQueue  int             `json:"outbound_queue"`
	PendingBatches int             `json:"pending_batches"`
	Channels       map[string]bool `json:"channels"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.msgBus != nil {
		resp.InboundQueue = s.msgBus.InboundSize()
		resp.OutboundQueue = s.msgBus.OutboundSize()
	}
	if s.status != nil {
		resp.Channels = s.status.ChannelStates()
		resp.PendingBatches = s.status.PendingBatches()
		for _, running := range resp.Channels {
			if !running {
				resp.Status = "degraded"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
