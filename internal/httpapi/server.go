package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/planzut/plan-sync/internal/runs"
	"github.com/planzut/plan-sync/internal/student"
)

// storeReader is the read-only slice of the store the API serves from.
type storeReader interface {
	ListRooms(ctx context.Context) ([]string, error)
	ListGroups(ctx context.Context, tokName string) ([]string, error)
	ListRunGroups(ctx context.Context, runID, tokName string) ([]string, error)
	LatestSuccessfulRun(ctx context.Context, tokName string) (*runs.Run, bool, error)
}

type Server struct {
	manager  *runs.Manager
	resolver *student.Resolver
	store    storeReader

	defaultTokName string
	defaultWorkers int

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithDefaultTokName(tokName string) Option {
	return func(s *Server) {
		s.defaultTokName = tokName
	}
}

func WithDefaultWorkers(workers int) Option {
	return func(s *Server) {
		if workers > 0 {
			s.defaultWorkers = workers
		}
	}
}

func NewServer(manager *runs.Manager, resolver *student.Resolver, store storeReader, opts ...Option) *Server {
	s := &Server{
		manager:        manager,
		resolver:       resolver,
		store:          store,
		defaultWorkers: 10,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/sync", s.handleSync)
	s.mux.HandleFunc("/api/runs/active", s.handleActiveRun)
	s.mux.HandleFunc("/api/runs/", s.handleGetRun)
	s.mux.HandleFunc("/api/groups", s.handleListGroups)
	s.mux.HandleFunc("/api/rooms", s.handleListRooms)
	s.mux.HandleFunc("/api/student/ensure", s.handleStudentEnsure)
	s.mux.HandleFunc("/api/student/week", s.handleStudentWeek)
}
