package renderapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"character_animator/animator/api"
	"character_animator/animator/jobs"
	"character_animator/animator/pipeline"
	"character_animator/animator/utils"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxUploadSize = 512 << 20

const (
	KindAnimation = "animation"
	KindCombine   = "combine"
)

// JobResponse is returned when a job is submitted or polled.
type JobResponse struct {
	JobID    string      `json:"job_id"`
	Kind     string      `json:"kind"`
	Status   jobs.Status `json:"status"`
	Message  string      `json:"message"`
	Progress int         `json:"progress"`
	Result   string      `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	VideoURL string      `json:"video_url,omitempty"`
}

// SilenceRequest creates a speechless clip, the equivalent of a pause card.
type SilenceRequest struct {
	Character string  `json:"character"`
	Position  string  `json:"position,omitempty"`
	Duration  float64 `json:"duration"`
	StartTime float64 `json:"start_time"`
	After     bool    `json:"after,omitempty"`
}

// Server runs long actions as jobs and reports their progress.
type Server struct {
	animator *pipeline.Animator
	jobs     *jobs.Manager
	logger   *zap.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

func NewServer(animator *pipeline.Animator, manager *jobs.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		animator: animator,
		jobs:     manager,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/animations", s.createAnimationHandler).Methods("POST")
	r.HandleFunc("/api/silences", s.createSilenceHandler).Methods("POST")
	r.HandleFunc("/api/backgrounds", s.uploadBackgroundHandler).Methods("POST")
	r.HandleFunc("/api/combine", s.combineHandler).Methods("POST")
	r.HandleFunc("/api/status/{jobId}", s.jobStatusHandler).Methods("GET")
	r.HandleFunc("/api/jobs", s.listJobsHandler).Methods("GET")
	r.HandleFunc("/ws/jobs/{jobId}", s.jobSocketHandler)

	combined := filepath.Base(animator.Config.CombinedPath())
	r.HandleFunc("/videos/"+combined, func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, animator.Config.CombinedPath())
	}).Methods("GET")
	r.PathPrefix("/videos/").Handler(http.StripPrefix("/videos/", http.FileServer(http.Dir(animator.Config.VideoDir()))))

	r.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	r.Use(s.loggingMiddleware)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("render API listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)))
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (s *Server) respondWithError(w http.ResponseWriter, err error) {
	code := api.StatusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	respondWithJSON(w, code, api.ErrorResponse{Error: http.StatusText(code), Message: err.Error()})
}

func (s *Server) jobResponse(job jobs.Job) JobResponse {
	resp := JobResponse{
		JobID:    job.ID,
		Kind:     job.Kind,
		Status:   job.Status,
		Message:  job.Message,
		Progress: job.Progress,
		Result:   job.Result,
		Error:    job.Error,
	}
	if job.Status == jobs.StatusCompleted && job.Kind == KindCombine {
		resp.VideoURL = "/videos/" + filepath.Base(job.Result)
	}
	return resp
}

func (s *Server) submit(w http.ResponseWriter, kind string, task jobs.Task) {
	job, err := s.jobs.Submit(kind, task)
	if err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "unavailable", Message: err.Error()})
		return
	}
	respondWithJSON(w, http.StatusAccepted, s.jobResponse(job))
}

func (s *Server) animationTask(req pipeline.Request) jobs.Task {
	return func(ctx context.Context, progress func(int, string)) (string, error) {
		res, err := s.animator.CreateAnimation(ctx, req, progress)
		if err != nil {
			return "", err
		}
		return res.ID, nil
	}
}

func (s *Server) createAnimationHandler(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, fmt.Errorf("%w: invalid JSON: %v", pipeline.ErrInvalidRequest, err))
		return
	}
	if req.Character == "" {
		s.respondWithError(w, fmt.Errorf("%w: character is required", pipeline.ErrInvalidRequest))
		return
	}
	if !req.Silent && req.Text == "" {
		s.respondWithError(w, pipeline.ErrEmptyScript)
		return
	}
	s.submit(w, KindAnimation, s.animationTask(req))
}

func (s *Server) createSilenceHandler(w http.ResponseWriter, r *http.Request) {
	var body SilenceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondWithError(w, fmt.Errorf("%w: invalid JSON: %v", pipeline.ErrInvalidRequest, err))
		return
	}
	if body.Character == "" || body.Duration < 0 {
		s.respondWithError(w, fmt.Errorf("%w: character and a non-negative duration are required", pipeline.ErrInvalidRequest))
		return
	}
	s.submit(w, KindAnimation, s.animationTask(pipeline.Request{
		Character: body.Character,
		Position:  body.Position,
		Silent:    true,
		Duration:  body.Duration,
		StartTime: body.StartTime,
		After:     body.After,
	}))
}

func (s *Server) combineHandler(w http.ResponseWriter, r *http.Request) {
	s.submit(w, KindCombine, func(ctx context.Context, progress func(int, string)) (string, error) {
		return s.animator.Combine(ctx, progress)
	})
}

func (s *Server) uploadBackgroundHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.respondWithError(w, fmt.Errorf("%w: %v", pipeline.ErrInvalidRequest, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondWithError(w, fmt.Errorf("%w: error retrieving file", pipeline.ErrInvalidRequest))
		return
	}
	defer file.Close()

	start := 0.0
	if v := r.FormValue("start_time"); v != "" {
		if start, err = strconv.ParseFloat(v, 64); err != nil {
			s.respondWithError(w, fmt.Errorf("%w: start_time %q is not a number", pipeline.ErrInvalidRequest, v))
			return
		}
	}

	uploadDir := filepath.Join(s.animator.Config.TempDir(), uuid.New().String())
	if err := utils.EnsureDirectoryExists(uploadDir); err != nil {
		s.respondWithError(w, err)
		return
	}
	defer os.RemoveAll(uploadDir)

	path := filepath.Join(uploadDir, utils.SanitizeFilename(filepath.Base(header.Filename)))
	out, err := os.Create(path)
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		s.respondWithError(w, err)
		return
	}
	if err := out.Close(); err != nil {
		s.respondWithError(w, err)
		return
	}

	id, err := s.animator.AddBackground(r.Context(), path, start)
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	rec, err := s.animator.Store.Get(id)
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, rec)
}

func (s *Server) jobStatusHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, s.jobResponse(job))
}

func (s *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context())
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	out := make([]JobResponse, len(list))
	for i, j := range list {
		out[i] = s.jobResponse(j)
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"jobs": out, "count": len(out)})
}

// jobSocketHandler pushes every progress update of a job and closes once the
// job has finished.
func (s *Server) jobSocketHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobId"]
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.respondWithError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel, running := s.jobs.Subscribe(id)
	defer cancel()
	if err := conn.WriteJSON(s.jobResponse(job)); err != nil {
		return
	}
	if running {
		for update := range updates {
			if err := conn.WriteJSON(s.jobResponse(update)); err != nil {
				return
			}
		}
		// the final state may have been dropped for a slow reader
		if final, err := s.jobs.Get(context.Background(), id); err == nil {
			conn.WriteJSON(s.jobResponse(final))
		}
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := utils.ValidateFFmpegInstalled(); err != nil {
		status = "degraded"
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
