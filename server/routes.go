package server

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/pipeline"
	"github.com/meikuraledutech/pipeline/export"
	"go.uber.org/zap"
)

// NodeRequest is the body of POST /pipelines/:id/nodes.
type NodeRequest struct {
	Module      string `json:"module"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
}

// SampleRequest is the body of POST /pipelines/:id/nodes/:node/samples.
type SampleRequest struct {
	Name string `json:"name"`
}

// ExportRequest is the body of POST /pipelines/:id/export.
type ExportRequest struct {
	Dir           string `json:"dir"`
	ForceCopy     bool   `json:"force-copy"`
	Relativize    bool   `json:"relativize"`
	PreInitialize bool   `json:"pre-initialize"`
}

// ReportResponse is the body returned by GET /pipelines/:id/report.
type ReportResponse struct {
	Valid   bool             `json:"valid"`
	Entries []pipeline.Entry `json:"entries"`
}

func fail(c fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errSessionNotFound),
		errors.Is(err, pipeline.ErrNodeNotFound),
		errors.Is(err, pipeline.ErrEdgeNotFound),
		errors.Is(err, pipeline.ErrSampleNotFound),
		errors.Is(err, pipeline.ErrCacheNotFound),
		errors.Is(err, pipeline.ErrModuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrSampleExists),
		errors.Is(err, pipeline.ErrBindingNotFound):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrCycleDetected),
		errors.Is(err, pipeline.ErrInvalidPipeline):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) routes(app *fiber.App) {
	// ── Pipelines ─────────────────────────────────────────────────────
	app.Get("/pipelines", func(c fiber.Ctx) error {
		ids, err := s.store.ListPipelines(c.Context())
		if err != nil {
			return fail(c, 500, err.Error())
		}
		return c.JSON(ids)
	})

	app.Post("/pipelines/:id", func(c fiber.Ctx) error {
		id := c.Params("id")
		ok, err := s.create(c.Context(), id)
		if err != nil {
			return fail(c, 500, err.Error())
		}
		if !ok {
			return fail(c, 409, "pipeline already exists")
		}
		return c.Status(201).JSON(fiber.Map{"id": id})
	})

	app.Get("/pipelines/:id", func(c fiber.Ctx) error {
		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		doc, err := sess.p.Serialize()
		if err != nil {
			return fail(c, 500, err.Error())
		}
		return c.JSON(doc)
	})

	app.Put("/pipelines/:id", func(c fiber.Ctx) error {
		var doc pipeline.Document
		if err := c.Bind().JSON(&doc); err != nil {
			return fail(c, 400, "invalid body")
		}
		if doc.Nodes == nil {
			doc.Nodes = map[string]pipeline.NodeRecord{}
		}
		if err := doc.CheckAcyclic(); err != nil {
			return fail(c, 422, err.Error())
		}
		p, err := pipeline.Load(&doc, s.registry, s.popts...)
		if err != nil {
			return fail(c, 422, err.Error())
		}
		s.replace(c.Params("id"), p)
		return c.SendStatus(204)
	})

	app.Post("/pipelines/:id/save", func(c fiber.Ctx) error {
		id := c.Params("id")
		sess, err := s.session(c.Context(), id)
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		doc, err := sess.p.Serialize()
		if err != nil {
			return fail(c, 500, err.Error())
		}
		if err := s.store.SavePipeline(c.Context(), id, doc); err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		s.logger.Info("pipeline saved", zap.String("pipeline", id), zap.Int("nodes", len(doc.Nodes)))
		return c.SendStatus(204)
	})

	app.Delete("/pipelines/:id", func(c fiber.Ctx) error {
		if err := s.drop(c.Context(), c.Params("id")); err != nil {
			return fail(c, 500, err.Error())
		}
		return c.SendStatus(204)
	})

	// ── Nodes ─────────────────────────────────────────────────────────
	app.Post("/pipelines/:id/nodes", func(c fiber.Ctx) error {
		var req NodeRequest
		if err := c.Bind().JSON(&req); err != nil {
			return fail(c, 400, "invalid body")
		}
		if req.ID != "" {
			if err := pipeline.CheckID(req.ID); err != nil {
				return fail(c, 400, err.Error())
			}
		}
		mod, ok := s.registry.Lookup(req.Module)
		if !ok {
			return fail(c, 404, "module not found")
		}

		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		if req.ID != "" {
			if _, err := sess.p.NodeByID(req.ID); err == nil {
				return fail(c, 409, "node id already in use")
			}
		}
		n := sess.p.AddNode(mod)
		n.ID = req.ID
		n.Name = req.Name
		n.Description = req.Description
		n.Position = pipeline.Position{X: req.X, Y: req.Y}
		sess.p.EnsureIDs()
		return c.Status(201).JSON(fiber.Map{"id": n.ID})
	})

	app.Delete("/pipelines/:id/nodes/:node", func(c fiber.Ctx) error {
		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		n, err := sess.p.NodeByID(c.Params("node"))
		if err != nil {
			return fail(c, 404, "node not found")
		}
		sess.p.RemoveNode(n)
		return c.SendStatus(204)
	})

	app.Post("/pipelines/:id/nodes/:node/samples", func(c fiber.Ctx) error {
		var req SampleRequest
		if err := c.Bind().JSON(&req); err != nil || req.Name == "" {
			return fail(c, 400, "invalid body")
		}

		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		n, err := sess.p.NodeByID(c.Params("node"))
		if err != nil {
			return fail(c, 404, "node not found")
		}
		if _, err := n.Instance.AddSample(req.Name); err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		return c.Status(201).JSON(fiber.Map{"sample": req.Name})
	})

	// ── Edges ─────────────────────────────────────────────────────────
	app.Post("/pipelines/:id/edges", func(c fiber.Ctx) error {
		var req pipeline.EdgeRecord
		if err := c.Bind().JSON(&req); err != nil {
			return fail(c, 400, "invalid body")
		}

		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		src, dst, err := endpoints(sess.p, req)
		if err != nil {
			return fail(c, 404, err.Error())
		}
		if !sess.p.AddEdge(src, dst) {
			return fail(c, 409, "edge rejected")
		}
		return c.SendStatus(201)
	})

	app.Delete("/pipelines/:id/edges", func(c fiber.Ctx) error {
		var req pipeline.EdgeRecord
		if err := c.Bind().JSON(&req); err != nil {
			return fail(c, 400, "invalid body")
		}

		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		src, dst, err := endpoints(sess.p, req)
		if err != nil {
			return fail(c, 404, err.Error())
		}
		if !sess.p.RemoveEdge(src, dst) {
			return fail(c, 404, "edge not found")
		}
		return c.SendStatus(204)
	})

	app.Put("/pipelines/:id/bindings", func(c fiber.Ctx) error {
		var req pipeline.EdgeRecord
		if err := c.Bind().JSON(&req); err != nil || !req.IsBinding() {
			return fail(c, 400, "invalid body")
		}

		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		src, dst, err := endpoints(sess.p, req)
		if err != nil {
			return fail(c, 404, err.Error())
		}
		if err := sess.p.Bind(dst, req.Sample, req.TargetCache, src, req.SourceCache); err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		return c.SendStatus(204)
	})

	// ── Analysis ──────────────────────────────────────────────────────
	app.Get("/pipelines/:id/order", func(c fiber.Ctx) error {
		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		sess.p.EnsureIDs()
		order, err := sess.p.Traverse()
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		ids := make([]string, 0, len(order))
		for _, n := range order {
			ids = append(ids, n.ID)
		}
		return c.JSON(ids)
	})

	app.Get("/pipelines/:id/report", func(c fiber.Ctx) error {
		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		r := sess.p.Validate()
		entries := r.Entries
		if entries == nil {
			entries = []pipeline.Entry{}
		}
		return c.JSON(ReportResponse{Valid: !r.HasErrors(), Entries: entries})
	})

	app.Post("/pipelines/:id/export", func(c fiber.Ctx) error {
		var req ExportRequest
		if err := c.Bind().JSON(&req); err != nil || req.Dir == "" {
			return fail(c, 400, "invalid body")
		}

		sess, err := s.session(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, statusFor(err), err.Error())
		}
		defer sess.mu.Unlock()

		err = s.exporter.Export(c.Context(), sess.p, req.Dir, export.Options{
			ForceCopy:          req.ForceCopy,
			RelativizePaths:    req.Relativize,
			PreInitializeLinks: req.PreInitialize,
		})
		if err != nil {
			s.logger.Error("export failed", zap.String("pipeline", c.Params("id")), zap.Error(err))
			return fail(c, statusFor(err), err.Error())
		}
		return c.JSON(fiber.Map{"dir": req.Dir})
	})
}

// endpoints resolves the nodes named by an edge record.
func endpoints(p *pipeline.Pipeline, e pipeline.EdgeRecord) (*pipeline.Node, *pipeline.Node, error) {
	src, err := p.NodeByID(e.SourceNode)
	if err != nil {
		return nil, nil, err
	}
	dst, err := p.NodeByID(e.TargetNode)
	if err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}
