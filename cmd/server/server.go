package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/internal/feedback"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
	"github.com/himanishpuri/LoopProfiler/pkg/loopprofiler"
)

// Server exposes a Profiler over HTTP.
type Server struct {
	profiler *loopprofiler.Profiler
	config   *ServerConfig
	log      *logger.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	// RequestTimeout bounds score and feedback requests, which decode audio.
	RequestTimeout time.Duration
}

// NewServer creates a new server instance
func NewServer(p *loopprofiler.Profiler, config *ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Minute
	}
	return &Server{profiler: p, config: config, log: log.With("http")}
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// decodeBody reads one JSON object from the request body.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var decodeErr *audio.DecodeError
	switch {
	case errors.Is(err, feedback.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrNoBackend):
		return http.StatusServiceUnavailable
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid feedback id %q", r.PathValue("id"))
	}
	return id, nil
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service":   "LoopProfiler API",
		"endpoints": endpoints,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Statistics: s.profiler.Store().GetStatistics()}
	if info := s.profiler.Scorer().Info(); info.Trained {
		at := info.TrainedAt
		resp.Model = ModelDTO{Trained: true, Samples: info.Samples, TrainedAt: &at}
	}
	if imp := s.profiler.Scorer().FeatureImportance(); imp != nil {
		names := append([]string{"finder_confidence"}, features.Names...)
		resp.Importance = make(map[string]float64, len(imp))
		for i, v := range imp {
			resp.Importance[names[i]] = v
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleScore handles POST /api/score
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	scored, found, err := s.profiler.Score(ctx, req.TrackPath, req.BruteForce, loopprofiler.ScoreOptions{
		NoCache:  req.NoCache,
		SortByAI: req.SortByAI,
	})
	if err != nil {
		s.log.Errorf("Failed to score %s: %v", req.TrackPath, err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	dtos := make([]ScoredDTO, len(scored))
	for i, sc := range scored {
		dtos[i] = newScoredDTO(sc)
	}
	s.respondJSON(w, http.StatusOK, ScoreResponse{
		TrackPath:  req.TrackPath,
		ExportFile: found.File,
		Reused:     found.Cached,
		Skipped:    found.Skipped,
		Candidates: dtos,
		Count:      len(dtos),
	})
}

// handleListFeedback handles GET /api/feedback
func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	var records []feedback.Record
	if track := r.URL.Query().Get("track"); track != "" {
		records = s.profiler.Store().GetByTrack(track)
	} else {
		records = s.profiler.Store().All()
	}
	s.respondJSON(w, http.StatusOK, ListFeedbackResponse{Records: records, Count: len(records)})
}

// handleAddFeedback handles POST /api/feedback
func (s *Server) handleAddFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	id, err := s.profiler.RecordFeedback(ctx, req.judgment())
	if err != nil {
		s.log.Errorf("Failed to record feedback: %v", err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, FeedbackResponse{Message: "Feedback recorded", ID: id})
}

// handleGetFeedback handles GET /api/feedback/{id}
func (s *Server) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, ok := s.profiler.Store().GetByID(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Feedback %d not found", id))
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

// handleDeleteFeedback handles DELETE /api/feedback/{id}
func (s *Server) handleDeleteFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.profiler.DeleteFeedback(id)
	if err != nil {
		s.log.Errorf("Failed to delete feedback %d: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to delete feedback")
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Feedback %d not found", id))
		return
	}
	s.respondJSON(w, http.StatusOK, FeedbackResponse{Message: "Feedback deleted", ID: id})
}

// handleExportFeedback handles POST /api/feedback/{id}/export
func (s *Server) handleExportFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ExportRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ok, err := s.profiler.RecordExport(id, req.Settings)
	if err != nil {
		s.log.Errorf("Failed to record export of %d: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to record export")
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Feedback %d not found", id))
		return
	}
	rec, _ := s.profiler.Store().GetByID(id)
	s.respondJSON(w, http.StatusOK, rec)
}

// handleGoodLoops handles GET /api/good
func (s *Server) handleGoodLoops(w http.ResponseWriter, r *http.Request) {
	minScore := 70.0
	if v := r.URL.Query().Get("min"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid min %q", v))
			return
		}
		minScore = f
	}
	records := s.profiler.Store().GetGoodLoops(minScore)
	s.respondJSON(w, http.StatusOK, ListFeedbackResponse{Records: records, Count: len(records)})
}

// handleTrain handles POST /api/train
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	res, err := s.profiler.Retrain(r.Context())
	if err != nil {
		s.log.Errorf("Training failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := TrainResponse{Trained: res.Trained, Samples: res.Samples}
	if ev := res.Evaluation; ev != nil {
		resp.Accuracy, resp.AccuracyStd = &ev.Accuracy, &ev.AccuracyStd
		resp.Precision, resp.Recall = &ev.Precision, &ev.Recall
	}
	s.respondJSON(w, http.StatusOK, resp)
}
