// Package server exposes pipeline editing sessions over HTTP.
//
// A session holds a live *pipeline.Pipeline keyed by the pipeline id. Each
// request locks its session, so every pipeline has a single owner at a time.
// Sessions are loaded from the store on first access and written back on
// save.
package server

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/pipeline"
	"github.com/meikuraledutech/pipeline/export"
	"go.uber.org/zap"
)

var errSessionNotFound = errors.New("server: pipeline not found")

// Server holds the live sessions.
type Server struct {
	store    pipeline.Store
	registry pipeline.Registry
	exporter *export.Exporter
	logger   *zap.Logger
	popts    []pipeline.Option

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu sync.Mutex
	p  *pipeline.Pipeline
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger. It is passed on to every pipeline and
// to the exporter.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStrictAcyclic makes every session refuse edges that would close a
// cycle through intermediate nodes.
func WithStrictAcyclic() Option {
	return func(s *Server) {
		s.popts = append(s.popts, pipeline.WithStrictAcyclic())
	}
}

// New creates a Server backed by store, resolving modules through registry.
func New(store pipeline.Store, registry pipeline.Registry, opts ...Option) *Server {
	s := &Server{
		store:    store,
		registry: registry,
		logger:   zap.NewNop(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.popts = append(s.popts, pipeline.WithLogger(s.logger))
	s.exporter = export.New(export.WithLogger(s.logger))
	return s
}

// App builds the fiber application serving the pipeline routes.
func (s *Server) App() *fiber.App {
	app := fiber.New()
	s.routes(app)
	return app
}

func (s *Server) newPipeline() *pipeline.Pipeline {
	return pipeline.New(s.popts...)
}

// create registers an empty session. It fails when the id is live or stored.
func (s *Server) create(ctx context.Context, id string) (bool, error) {
	if s.live(id) != nil {
		return false, nil
	}
	doc, err := s.store.GetPipeline(ctx, id)
	if err != nil {
		return false, err
	}
	if doc != nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return false, nil
	}
	s.sessions[id] = &session{p: s.newPipeline()}
	s.logger.Debug("session created", zap.String("pipeline", id))
	return true, nil
}

func (s *Server) live(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// session returns the live session for id, loading it from the store if
// needed. The store is read without holding the session table lock; when two
// requests load the same id, the first session registered wins. The
// returned session is locked; the caller must unlock it.
func (s *Server) session(ctx context.Context, id string) (*session, error) {
	sess := s.live(id)
	if sess == nil {
		doc, err := s.store.GetPipeline(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, errSessionNotFound
		}
		p, err := pipeline.Load(doc, s.registry, s.popts...)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if cur, ok := s.sessions[id]; ok {
			sess = cur
		} else {
			sess = &session{p: p}
			s.sessions[id] = sess
			s.logger.Debug("session loaded", zap.String("pipeline", id), zap.Int("nodes", p.Len()))
		}
		s.mu.Unlock()
	}

	sess.mu.Lock()
	return sess, nil
}

// replace installs p as the session for id.
func (s *Server) replace(id string, p *pipeline.Pipeline) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.sessions[id] = &session{p: p}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	sess.mu.Lock()
	sess.p = p
	sess.mu.Unlock()
}

// drop forgets the session for id and deletes its stored document.
func (s *Server) drop(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return s.store.DeletePipeline(ctx, id)
}
