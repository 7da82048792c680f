// Package http provides the HTTP API for docqa.
package http

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/extract"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// Retriever is the slice of the retrieval service the HTTP layer uses.
type Retriever interface {
	IngestText(ctx context.Context, sessionID, text string) (retrieval.IngestSummary, error)
	Answer(ctx context.Context, sessionID, question string, topK int) string
	SessionInfo(ctx context.Context, sessionID string) (*vectorstore.IndexInfo, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// MaxUploadBytes caps one multipart request body.
	MaxUploadBytes int64
}

// Server provides HTTP endpoints for document upload and question answering.
type Server struct {
	echo      *echo.Echo
	retriever Retriever
	extractor extract.Extractor
	clearAll  func()
	logger    *zap.Logger
	config    Config
}

// NewServer creates a new HTTP server. clearAll empties every process cache
// and may be nil when the deployment has no cache-clear surface.
func NewServer(retriever Retriever, extractor extract.Extractor, clearAll func(), logger *zap.Logger, cfg Config) (*Server, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 * 1024 * 1024
	}
	if clearAll == nil {
		clearAll = func() {}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%d", cfg.MaxUploadBytes)))
	e.Use(NewMetrics(logger).Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		retriever: retriever,
		extractor: extractor,
		clearAll:  clearAll,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/documents", s.handleUpload)
	v1.POST("/questions", s.handleQuestion)
	v1.POST("/cache/clear", s.handleCacheClear)
	v1.GET("/sessions/:id", s.handleSessionInfo)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// FileResult reports one uploaded file's extraction outcome.
type FileResult struct {
	Name  string `json:"name"`
	Pages int    `json:"pages,omitempty"`
	Error string `json:"error,omitempty"`
}

// UploadResponse is the response body for POST /api/v1/documents.
type UploadResponse struct {
	FilesProcessed int          `json:"files_processed"`
	Chunks         int          `json:"chunks"`
	Uploaded       int          `json:"uploaded"`
	Failed         int          `json:"failed"`
	ProcessingTime float64      `json:"processing_time"`
	Files          []FileResult `json:"files"`
}

// extracted is one file's fan-out result, tagged with its upload position so
// combined text keeps the request's file order.
type extracted struct {
	position int
	name     string
	text     string
	pages    int
	err      error
}

// handleUpload ingests every file of a multipart upload into the session's
// index. Extraction fans out per file; one bad file is reported in the
// response without aborting the rest.
func (s *Server) handleUpload(c echo.Context) error {
	start := time.Now()

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form required")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files provided")
	}
	sessionID := c.FormValue("session_id")
	if sessionID == "" {
		sessionID = "default"
	}

	ctx := c.Request().Context()
	results := make(chan extracted, len(files))
	var wg sync.WaitGroup
	for i, fh := range files {
		wg.Add(1)
		go func(position int, fh *multipart.FileHeader) {
			defer wg.Done()
			results <- s.extractFile(ctx, position, fh)
		}(i, fh)
	}
	wg.Wait()
	close(results)

	ordered := make([]extracted, 0, len(files))
	for res := range results {
		ordered = append(ordered, res)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].position < ordered[j].position })

	fileResults := make([]FileResult, 0, len(ordered))
	texts := make([]string, 0, len(ordered))
	processed := 0
	for _, res := range ordered {
		fr := FileResult{Name: res.name, Pages: res.pages}
		if res.err != nil {
			fr.Error = res.err.Error()
			s.logger.Warn("extraction failed",
				zap.String("file", res.name),
				zap.Error(res.err))
		} else {
			texts = append(texts, res.text)
			processed++
		}
		fileResults = append(fileResults, fr)
	}

	if len(texts) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no extractable text in any uploaded file")
	}

	summary, err := s.retriever.IngestText(ctx, sessionID, strings.Join(texts, "\n\n"))
	if err != nil {
		s.logger.Error("ingestion failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to index documents")
	}

	return c.JSON(http.StatusOK, UploadResponse{
		FilesProcessed: processed,
		Chunks:         summary.Chunks,
		Uploaded:       summary.Uploaded,
		Failed:         summary.Failed,
		ProcessingTime: time.Since(start).Seconds(),
		Files:          fileResults,
	})
}

func (s *Server) extractFile(ctx context.Context, position int, fh *multipart.FileHeader) extracted {
	res := extracted{position: position, name: fh.Filename}

	f, err := fh.Open()
	if err != nil {
		res.err = fmt.Errorf("opening %s: %w", fh.Filename, err)
		return res
	}
	defer f.Close()

	res.text, res.err = s.extractor.Extract(ctx, f)
	if res.err != nil {
		return res
	}

	// Metadata needs a fresh reader; a failure here only loses page counts.
	if mf, err := fh.Open(); err == nil {
		defer mf.Close()
		if info, err := s.extractor.Metadata(ctx, mf); err == nil {
			res.pages = info.Pages
		}
	}
	return res
}

// QuestionRequest is the request body for POST /api/v1/questions.
type QuestionRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	TopK      int    `json:"top_k"`
}

// QuestionResponse is the response body for POST /api/v1/questions.
type QuestionResponse struct {
	Answer         string  `json:"answer"`
	ProcessingTime float64 `json:"processing_time"`
}

func (s *Server) handleQuestion(c echo.Context) error {
	start := time.Now()

	var req QuestionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	answer := s.retriever.Answer(c.Request().Context(), req.SessionID, req.Question, req.TopK)

	return c.JSON(http.StatusOK, QuestionResponse{
		Answer:         answer,
		ProcessingTime: time.Since(start).Seconds(),
	})
}

// CacheClearResponse is the response body for POST /api/v1/cache/clear.
type CacheClearResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleCacheClear(c echo.Context) error {
	s.clearAll()
	s.logger.Info("caches cleared")
	return c.JSON(http.StatusOK, CacheClearResponse{Status: "cleared"})
}

// SessionResponse is the response body for GET /api/v1/sessions/:id.
type SessionResponse struct {
	SessionID  string `json:"session_id"`
	Index      string `json:"index"`
	PointCount int    `json:"point_count"`
	Dimension  int    `json:"dimension"`
}

func (s *Server) handleSessionInfo(c echo.Context) error {
	sessionID := c.Param("id")

	info, err := s.retriever.SessionInfo(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, vectorstore.ErrIndexNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session has no indexed documents")
		}
		s.logger.Error("session lookup failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up session")
	}

	return c.JSON(http.StatusOK, SessionResponse{
		SessionID:  sessionID,
		Index:      info.Name,
		PointCount: info.PointCount,
		Dimension:  info.Dimension,
	})
}

// Echo exposes the underlying echo instance so cmd can mount extra handlers.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
