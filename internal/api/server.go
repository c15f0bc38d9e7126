package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/converter"
	"github.com/ah-its-andy/mediaconv/internal/db"
	"github.com/ah-its-andy/mediaconv/internal/jobs"
	"github.com/ah-its-andy/mediaconv/internal/media"
	"github.com/ah-its-andy/mediaconv/internal/report"
	"github.com/ah-its-andy/mediaconv/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Server struct {
	Router *gin.Engine

	svc      *converter.Service
	jobs     *jobs.Tracker
	db       *db.DB
	logger   *slog.Logger
	upgrader websocket.Upgrader
	sockets  atomic.Int32
}

// convertRequest is the body of POST /api/convert. Unset optional fields
// fall back to the stored settings.
type convertRequest struct {
	InputFile      string `json:"input_file" binding:"required"`
	Operation      string `json:"operation"`
	Format         string `json:"format"`
	OutputDir      string `json:"output_dir"`
	Quality        int    `json:"quality"`
	Record         *bool  `json:"record"`
	DeleteOriginal *bool  `json:"delete_original"`
}

func NewServer(svc *converter.Service, tracker *jobs.Tracker, database *db.DB, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	g := gin.New()
	g.Use(gin.Recovery())
	s := &Server{
		Router: g,
		svc:    svc,
		jobs:   tracker,
		db:     database,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	api := g.Group("/api")
	api.GET("/health", s.health)
	api.GET("/formats", s.formats)
	api.POST("/convert", s.convert)
	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/:id", s.getJob)
	api.GET("/jobs/:id/ws", s.jobSocket)
	api.GET("/history", s.listHistory)
	api.DELETE("/history", s.clearHistory)
	api.GET("/stats", s.getStats)
	api.GET("/report", s.getReport)
	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.putSettings)

	return s
}

func (s *Server) health(c *gin.Context) {
	status := s.svc.Probe(c.Request.Context())
	code := http.StatusOK
	if !status.Available {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ffmpeg": status, "busy": s.svc.Busy()})
}

func (s *Server) formats(c *gin.Context) {
	c.JSON(http.StatusOK, converter.ListInfo())
}

func (s *Server) convert(c *gin.Context) {
	var body convertRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := s.resolveRequest(c.Request.Context(), body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if status := s.svc.Probe(c.Request.Context()); !status.Available {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": converter.ToolNotFoundMessage})
		return
	}

	// The conversion outlives the HTTP request.
	ch, err := s.svc.Start(context.Background(), req)
	switch {
	case errors.Is(err, worker.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "a conversion is already running"})
		return
	case media.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job := s.jobs.Start(req)
	go func() {
		if err := s.jobs.Finish(job.ID, <-ch); err != nil {
			s.logger.Error("failed to finish job", "job", job.ID, "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

func (s *Server) resolveRequest(ctx context.Context, body convertRequest) (converter.Request, error) {
	settings := s.db.Settings()

	op := media.OperationVideo
	if body.Operation != "" {
		parsed, err := media.ParseOperation(body.Operation)
		if err != nil {
			return converter.Request{}, err
		}
		op = parsed
	}
	req := converter.Request{
		InputFile:      body.InputFile,
		Operation:      op,
		Format:         body.Format,
		OutputDir:      body.OutputDir,
		Quality:        body.Quality,
		Record:         settings.GetBool(ctx, db.KeySaveHistory, false),
		DeleteOriginal: settings.GetBool(ctx, db.KeyDeleteOriginal, false),
	}
	if req.Format == "" {
		req.Format = media.DefaultFormat(op)
	}
	if req.OutputDir == "" {
		req.OutputDir = converter.ResolveOutputDir(ctx, settings)
	}
	if req.Quality == 0 {
		req.Quality = settings.GetInt(ctx, db.KeyQuality, media.DefaultQuality)
	}
	if body.Record != nil {
		req.Record = *body.Record
	}
	if body.DeleteOriginal != nil {
		req.DeleteOriginal = *body.DeleteOriginal
	}
	return req, nil
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, s.jobs.List())
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// jobSocket sends the finished job as a single JSON message, then closes.
func (s *Server) jobSocket(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.jobs.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.sockets.Add(1)
	defer s.sockets.Add(-1)

	// The hijacked request context is not cancelled on disconnect; a read
	// error is the only signal that the client went away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	job, err := s.jobs.Wait(ctx, id)
	if err != nil {
		s.logger.Debug("websocket client left before job finished", "job", id)
		return
	}
	if err := conn.WriteJSON(job); err != nil {
		s.logger.Warn("websocket write failed", "job", id, "error", err)
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) listHistory(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), db.DefaultHistoryLimit)
	rows, err := s.db.Ledger().List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) clearHistory(c *gin.Context) {
	if err := s.db.Ledger().Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.db.Ledger().Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

var reportContentTypes = map[string]string{
	report.FormatText: "text/plain; charset=utf-8",
	report.FormatJSON: "application/json",
	report.FormatYAML: "application/yaml",
}

func (s *Server) getReport(c *gin.Context) {
	format := c.DefaultQuery("format", report.FormatText)
	contentType, ok := reportContentTypes[format]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be text, json or yaml"})
		return
	}

	ctx := c.Request.Context()
	stats, err := s.db.Ledger().Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows, err := s.db.Ledger().List(ctx, report.RecentLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if err := report.Write(c.Writer, report.New(*stats, rows, timeNow()), format); err != nil {
		s.logger.Error("report write failed", "error", err)
	}
}

func (s *Server) getSettings(c *gin.Context) {
	all, err := s.db.Settings().All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, all)
}

func (s *Server) putSettings(c *gin.Context) {
	var body map[string]string
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	for k, v := range body {
		if err := s.db.Settings().Set(ctx, k, v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	s.getSettings(c)
}

var timeNow = time.Now

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
