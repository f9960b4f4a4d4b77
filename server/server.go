// Package server exposes compositing sessions over HTTP.
package server

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	imagecompositor "github.com/Skryldev/image-compositor"
	"github.com/Skryldev/image-compositor/config"
	"github.com/Skryldev/image-compositor/core"
)

// Server routes HTTP requests to compositing sessions.
type Server struct {
	comp     *imagecompositor.Compositor
	cfg      config.ServerConfig
	assets   fs.FS
	log      core.Logger
	sessions *sessions
}

// New returns a Server.  assets is served at "/" and may be nil.
func New(comp *imagecompositor.Compositor, assets fs.FS, log core.Logger) *Server {
	if log == nil {
		log = core.NopLogger{}
	}
	return &Server{
		comp:     comp,
		cfg:      comp.Config().Server,
		assets:   assets,
		log:      log,
		sessions: newSessions(),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{"status": "ok", "sessions": s.sessions.len()})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/metrics", s.handleMetrics)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.withSession)
				r.Get("/", s.handleStatus)
				r.Delete("/", s.handleDelete)
				r.Put("/foreground", s.handleForeground)
				r.Post("/upload", s.handleUpload)
				r.Post("/paste", s.handlePaste)
				r.Post("/pointer", s.handlePointer)
				r.Put("/transform", s.handleTransform)
				r.Post("/reset", s.handleReset)
				r.Get("/export", s.handleExport)
				r.Post("/export", s.handleSave)
				r.Get("/preview", s.handlePreview)
			})
		})
	})

	if s.assets != nil {
		r.Handle("/*", http.FileServer(http.FS(s.assets)))
	}
	return r
}

// HTTPServer wraps Router in an http.Server configured from ServerConfig.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
