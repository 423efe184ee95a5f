package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
	"github.com/rflorenc/jenkins-workbench/internal/models"
	"go.uber.org/zap"
)

// Server holds shared state for all API handlers.
type Server struct {
	Connections *models.ConnectionStore
	Jobs        *models.JobStore
	Logger      *zap.Logger
	// PollInterval is the pause between queue and build polls of async
	// build jobs.
	PollInterval time.Duration

	mu      sync.Mutex
	clients map[string]*jenkins.Client // connection ID → client
}

// NewRouter builds the chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Connections
		r.Post("/connections", s.CreateConnection)
		r.Get("/connections", s.ListConnections)
		r.Get("/connections/{id}", s.GetConnection)
		r.Put("/connections/{id}", s.UpdateConnection)
		r.Delete("/connections/{id}", s.DeleteConnection)
		r.Post("/connections/{id}/test", s.TestConnection)

		// Managed masters
		r.Get("/connections/{id}/masters", s.ListMasters)
		r.Route("/connections/{id}/masters/{master}", func(r chi.Router) {
			r.Get("/", s.GetMaster)
			r.Post("/actions/{action}", s.MasterAction)
			r.Get("/jobs", s.ListMasterJobs)
			r.Get("/config", s.GetJobConfig)
			r.Put("/config", s.PutJobConfig)
			r.Post("/builds", s.RunBuild)
			r.Get("/queue/{item}", s.GetQueueItem)
			r.Get("/credentials", s.ListCredentials)
		})

		// Operations (async)
		r.Post("/connections/{id}/inventory", s.RunInventory)
		r.Post("/copy-job", s.RunCopyJob)

		// Jobs
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		r.Post("/jobs/{id}/cancel", s.CancelJob)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/jobs/{id}/logs", s.StreamJobLogs)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// jenkinsClient returns the client of a connection. Clients are kept per
// connection so crumbs and resolved endpoints survive between requests.
func (s *Server) jenkinsClient(conn *models.Connection) *jenkins.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients == nil {
		s.clients = make(map[string]*jenkins.Client)
	}
	if c, ok := s.clients[conn.ID]; ok {
		return c
	}
	c := jenkins.NewClient(conn, s.logger())
	s.clients[conn.ID] = c
	return c
}

func (s *Server) forgetClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}
