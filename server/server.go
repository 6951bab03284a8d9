package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/engine"
	"github.com/fleetdns/querylogd/log"
	"github.com/fleetdns/querylogd/metrics"
	"github.com/fleetdns/querylogd/util"
)

// QueryLogService is the query log engine as seen by the REST adapter
type QueryLogService interface {
	Status() engine.Status
	Query(ctx context.Context, nodeID string, f engine.Filter) (*engine.Page, error)
	PollOnce(ctx context.Context) error
}

// Server exposes the query log engine via HTTP
type Server struct {
	service QueryLogService
	router  *chi.Mux
}

func logger() *logrus.Entry {
	return log.PrefixedLog("server")
}

// NewServer creates new server instance with passed config
func NewServer(cfg config.HTTP, service QueryLogService) *Server {
	s := &Server{
		service: service,
		router:  createRouter(cfg),
	}

	s.registerAPIEndpoints(s.router)

	if cfg.Prometheus.Enable {
		s.router.Handle(cfg.Prometheus.Path, metrics.Handler())
	}

	return s
}

// Handler returns the router with all endpoints
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves on the passed listener until ctx is done
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := newHTTPServer("http", s.router)

	logger().Infof("%s server is up and running on addr/port %s", srv, l.Addr())

	return srv.Serve(ctx, l)
}

func createRouter(cfg config.HTTP) *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer, logRequests)
	configureCorsHandler(router, cfg.CORS)

	return router
}

func configureCorsHandler(router *chi.Mux, origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	crs := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
	router.Use(crs.Handler)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(rw, req.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, req)

		logger().WithFields(logrus.Fields{
			"client_ip":   util.HTTPClientIP(req),
			"method":      req.Method,
			"path":        req.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request")
	})
}
