// Package server exposes the fill pipeline over HTTP: job submission
// and status, mapping review, the form library and the archive of
// completed fills.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/acroflow/acroflow/internal/completed"
	"github.com/acroflow/acroflow/internal/jobs"
	"github.com/acroflow/acroflow/internal/mapping"
	"github.com/acroflow/acroflow/internal/store"
)

// Server wires the HTTP surface onto the pipeline services.
type Server struct {
	jobStore    *jobs.Store
	queue       *jobs.Queue
	cache       *mapping.Cache
	archive     *completed.Archive
	library     *Library
	maxFileSize int64
	version     string
	log         zerolog.Logger

	httpSrv *http.Server
}

func New(jobStore *jobs.Store, queue *jobs.Queue, cache *mapping.Cache, archive *completed.Archive, library *Library, maxFileSize int64, version string, log zerolog.Logger) *Server {
	return &Server{
		jobStore:    jobStore,
		queue:       queue,
		cache:       cache,
		archive:     archive,
		library:     library,
		maxFileSize: maxFileSize,
		version:     version,
		log:         log.With().Str("component", "http").Logger(),
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.MaxMultipartMemory = s.maxFileSize

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/jobs", s.handleSubmitJob)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:id/status", s.handleJobStatus)

		api.GET("/mappings/:id/annotated", s.handleMappingAnnotated)
		api.GET("/mappings/:id/pages/:page", s.handleMappingPage)
		api.GET("/mappings/:id/table", s.handleMappingTable)
		api.PUT("/mappings/:id/table", s.handleSaveMapping)

		api.GET("/library", s.handleListLibrary)
		api.GET("/library/:id", s.handleGetLibrary)
		api.DELETE("/library/:id", s.handleDeleteLibrary)

		api.GET("/completed", s.handleListCompleted)
		api.GET("/completed/:id/:blob", s.handleCompletedBlob)
		api.DELETE("/completed/:id", s.handleDeleteCompleted)
	}
	return r
}

// Run serves until the context is canceled, then shuts down with a
// drain window.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

// notFoundOr maps a store miss to 404 and everything else to 500.
func notFoundOr(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
