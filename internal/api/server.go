package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/you/whisperd/internal/domain"
	"github.com/you/whisperd/internal/jobs"
	"github.com/you/whisperd/internal/storage"
)

// allowedExtensions gates uploads before any job is created.
var allowedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".flac": true, ".ogg": true,
	".mp4": true, ".webm": true, ".mov": true, ".mkv": true, ".avi": true,
}

// Server exposes the processing tier: submit and poll over the job
// store, with the processor doing the asynchronous work.
type Server struct {
	store          storage.Store
	proc           *jobs.Processor
	logger         *zap.Logger
	maxUploadBytes int64
	modelPath      string
}

func NewServer(store storage.Store, proc *jobs.Processor, maxUploadBytes int64, modelPath string, logger *zap.Logger) *Server {
	return &Server{
		store:          store,
		proc:           proc,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
		modelPath:      modelPath,
	}
}

// Routes builds the chi router for the processing tier.
func (s *Server) Routes() chi.Router {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(s.requestLogger)

	rtr.Post("/v1/jobs", s.handleSubmit)
	rtr.Get("/v1/jobs/{id}", s.handlePoll)
	rtr.Get("/healthz", s.handleHealth)
	return rtr
}

// submitResponse acknowledges an accepted upload.
type submitResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusBadRequest, "unsupported media format")
		return
	}

	payloadRef, err := spool(file, ext)
	if err != nil {
		s.logger.Error("spool upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	job, err := s.store.Create(r.Context(), payloadRef)
	if err != nil {
		_ = os.Remove(payloadRef)
		s.logger.Error("create job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.proc.Submit(job, jobs.Options{
		Language:  r.URL.Query().Get("language"),
		ModelPath: s.modelPath,
	})

	writeJSON(w, http.StatusAccepted, submitResponse{
		ID:      job.ID,
		Status:  string(domain.StatusPending),
		Message: "Job submitted successfully",
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.Get(r.Context(), id)
	if errors.Is(err, domain.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

// spool writes the upload to a temp file and returns its path; the
// processor removes it once the job is terminal.
func spool(src io.Reader, ext string) (string, error) {
	f, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
