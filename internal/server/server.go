package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"Go2NetCache/internal/config"
	"Go2NetCache/internal/engine/cache"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported through the gRPC health service.
const ServiceName = "go2netcache.Cache"

// Source is the cache owner the API reports on.
type Source interface {
	Stats() cache.Stats
	ReloadLookups() error
}

// Server serves the HTTP status API and the gRPC health service.
type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	grpcAddr   string
	logger     *zap.Logger
}

// New creates a server. An empty GRPCAddr disables the gRPC listener.
func New(cfg config.APIConfig, src Source, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "api"))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           NewRouter(src, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		grpcServer: gs,
		health:     hs,
		grpcAddr:   cfg.GRPCAddr,
		logger:     logger,
	}
}

// NewRouter builds the HTTP routes.
func NewRouter(src Source, logger *zap.Logger) *mux.Router {
	h := &apiHandler{src: src, logger: logger}
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/cache/stats", h.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/lookup/reload", h.reloadHandler).Methods(http.MethodPost)
	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.grpcAddr, err)
		}
		go func() {
			s.logger.Info("gRPC health server starting", zap.String("addr", lis.Addr().String()))
			if err := s.grpcServer.Serve(lis); err != nil {
				s.logger.Error("gRPC server stopped", zap.Error(err))
			}
		}()
	}
	if s.httpServer.Addr != "" {
		lis, err := net.Listen("tcp", s.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
		}
		go func() {
			s.logger.Info("API server starting", zap.String("addr", lis.Addr().String()))
			if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("API server stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// SetServing reports whether ingestion is running.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown stops both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	return s.httpServer.Shutdown(ctx)
}

type apiHandler struct {
	src    Source
	logger *zap.Logger
}

func (h *apiHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Stats())
}

func (h *apiHandler) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.src.ReloadLookups(); err != nil {
		h.logger.Warn("Lookup reload failed", zap.Error(err))
		http.Error(w, fmt.Sprintf("failed to reload lookup tables: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
