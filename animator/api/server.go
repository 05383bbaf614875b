package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"character_animator/animator/jobs"
	"character_animator/animator/pipeline"
	"character_animator/animator/timeline"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// UpdateRequest edits one column of a record. Value may be a JSON string or
// number; it is parsed according to the field.
type UpdateRequest struct {
	Field string          `json:"field" binding:"required"`
	Value json.RawMessage `json:"value" binding:"required"`
}

const Version = "1.0.0"

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, timeline.ErrValidation), errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, timeline.ErrRecordNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

// Server exposes the timeline table over HTTP.
type Server struct {
	animator *pipeline.Animator
	logger   *zap.Logger
	router   *gin.Engine
}

func NewServer(animator *pipeline.Animator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{animator: animator, logger: logger}

	r := gin.New()
	r.Use(loggerMiddleware(logger))
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", s.healthCheck)
	api := r.Group("/api")
	{
		api.GET("/records", s.listRecords)
		api.GET("/records/:id", s.getRecord)
		api.PATCH("/records/:id", s.updateRecord)
		api.DELETE("/records/:id", s.deleteRecord)
		api.GET("/backgrounds", s.listBackgrounds)
		api.GET("/plan", s.getPlan)
		api.GET("/characters", s.listCharacters)
	}
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Run(addr string) error {
	s.logger.Info("timeline API listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, ErrorResponse{Error: errorCode(status), Message: err.Error()})
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
	})
}

func (s *Server) listRecords(c *gin.Context) {
	records, err := s.animator.Store.LoadAll()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (s *Server) getRecord(c *gin.Context) {
	rec, err := s.animator.Store.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) updateRecord(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	field, err := timeline.ParseField(req.Field)
	if err != nil {
		s.fail(c, err)
		return
	}

	id := c.Param("id")
	if err := s.animator.Store.UpdateField(id, field, rawValue(req.Value)); err != nil {
		s.fail(c, err)
		return
	}
	rec, err := s.animator.Store.Get(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// rawValue unwraps a JSON string and passes numbers through as written.
func rawValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func (s *Server) deleteRecord(c *gin.Context) {
	id := c.Param("id")
	if err := s.animator.Store.Delete(id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

func (s *Server) listBackgrounds(c *gin.Context) {
	bgs, err := s.animator.Store.Backgrounds(c.Query("deleted") == "true")
	if err != nil {
		s.fail(c, err)
		return
	}
	records := make([]timeline.Record, len(bgs))
	for i := range bgs {
		records[i] = timeline.Record{ID: bgs[i].ID, Kind: timeline.KindBackground, Background: &bgs[i]}
	}
	c.JSON(http.StatusOK, gin.H{"backgrounds": records, "count": len(records)})
}

func (s *Server) getPlan(c *gin.Context) {
	plan, err := s.animator.Plan(c.Request.Context(), c.Query("probe") == "true")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) listCharacters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"characters": s.animator.Catalog.Characters,
		"layers":     s.animator.Registry.Snapshot(),
	})
}
