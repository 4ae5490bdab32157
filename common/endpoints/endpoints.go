package endpoints

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/reddwarf/sgs/common/stats"
)

// AdminServer is the admin http server: health, metrics, and any extra
// handlers mounted by the composition root.
type AdminServer struct {
	Addr   string
	Stats  stats.StatsReceiver
	router chi.Router
	srv    *http.Server
}

func NewAdminServer(addr string, stat stats.StatsReceiver) *AdminServer {
	s := &AdminServer{
		Addr:   addr,
		Stats:  stat,
		router: chi.NewRouter(),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Get("/", helpHandler)
	s.router.Get("/health", healthHandler)
	s.router.Get("/admin/metrics.json", s.statsHandler)
	s.srv = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Mount attaches h under pattern, e.g. "/nodemap".
func (s *AdminServer) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, h)
}

func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Serve blocks until the server stops. It returns nil after Shutdown.
func (s *AdminServer) Serve() error {
	log.WithFields(log.Fields{"addr": s.Addr}).Info("serving http & stats")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server. A later Serve returns immediately.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Common paths: '/health', '/admin/metrics.json'", http.StatusNotImplemented)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	pretty := r.URL.Query().Get("pretty") == "true"
	if _, err := io.Copy(w, bytes.NewBuffer(s.Stats.Render(pretty))); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type StatScope string

// MakeStatsReceiver returns a latched finagle receiver scoped under scope.
func MakeStatsReceiver(scope StatScope, latch time.Duration) (stats.StatsReceiver, func()) {
	s, cancel := stats.NewCustomStatsReceiver(stats.NewFinagleStatsRegistry, latch)
	return s.Scope(string(scope)).Precision(time.Millisecond), cancel
}
