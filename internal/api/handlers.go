package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hed1ad/devicescore/pkg/pipeline"
)

const (
	defaultHistogramBins = 40
	maxHistogramBins     = 1000
)

// Error codes returned in APIError.Code.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeNotReady       = "NOT_READY"
	ErrCodeRunFailed      = "RUN_FAILED"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ready":  s.Report() != nil,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.ready(w)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.ready(w)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id":             report.RunID,
		"generated_at":       report.GeneratedAt,
		"summary":            report.Summary,
		"explained_variance": report.ExplainedVariance,
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	report, ok := s.ready(w)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	rec, found := report.Device(id)
	if !found {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "device "+strconv.Quote(id)+" not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	report, ok := s.ready(w)
	if !ok {
		return
	}
	anomalies := report.Anomalies()
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(anomalies) {
			anomalies = anomalies[:limit]
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(anomalies),
		"devices": anomalies,
	})
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	report, ok := s.ready(w)
	if !ok {
		return
	}
	bins := defaultHistogramBins
	if v := r.URL.Query().Get("bins"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistogramBins {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "bins must be between 1 and 1000")
			return
		}
		bins = n
	}
	respondJSON(w, http.StatusOK, report.LatencyHistogram(bins))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.Refresh(r.Context()); err != nil {
		s.logger.Warn("refresh failed", zap.Error(err))
		respondError(w, http.StatusUnprocessableEntity, ErrCodeRunFailed, err.Error())
		return
	}
	report := s.Report()
	respondJSON(w, http.StatusOK, map[string]any{
		"run_id":  report.RunID,
		"summary": report.Summary,
	})
}

// ready writes 503 and reports false until a report exists.
func (s *Server) ready(w http.ResponseWriter) (*pipeline.Report, bool) {
	report := s.Report()
	if report == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "no report available yet")
		return nil, false
	}
	return report, true
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, APIError{Code: code, Message: message})
}
