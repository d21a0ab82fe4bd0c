package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethpandaops/dbbot/pkg/report"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// listResponse wraps ranked rows together with the applied limit.
type listResponse[T any] struct {
	Items []T `json:"items"`
	Limit int `json:"limit"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// parseLimit reads the limit query parameter. Zero means unlimited and an
// absent parameter falls back to the configured report limit.
func (s *server) parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return s.reportOpts.Limit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}

	return limit, nil
}

func parseID(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}

	return uint(id), nil
}

// writeList runs query with the request's limit and writes the rows.
func writeList[T any](
	s *server,
	w http.ResponseWriter,
	r *http.Request,
	what string,
	query func(limit int) ([]T, error),
) {
	limit, err := s.parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	rows, err := query(limit)
	if err != nil {
		s.log.WithError(err).WithField("query", what).Error("Query failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"querying " + what})

		return
	}

	writeJSON(w, http.StatusOK, listResponse[T]{Items: rows, Limit: limit})
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRuns lists imported runs, newest first.
func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeList(s, w, r, "runs", func(limit int) ([]report.RunSummary, error) {
		return s.reader.RunSummaries(r.Context(), limit)
	})
}

func (s *server) handleFailedSuites(w http.ResponseWriter, r *http.Request) {
	writeList(s, w, r, "suites", func(limit int) ([]report.SuiteFailure, error) {
		return s.reader.MostFailedSuites(r.Context(), limit)
	})
}

func (s *server) handleFailedTests(w http.ResponseWriter, r *http.Request) {
	writeList(s, w, r, "tests", func(limit int) ([]report.TestFailure, error) {
		return s.reader.MostFailedTests(r.Context(), nil, limit)
	})
}

// handleSuiteFailedTests ranks the failed tests of one suite. An unknown
// suite yields an empty list.
func (s *server) handleSuiteFailedTests(w http.ResponseWriter, r *http.Request) {
	suiteID, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	writeList(s, w, r, "tests", func(limit int) ([]report.TestFailure, error) {
		return s.reader.MostFailedTests(r.Context(), &suiteID, limit)
	})
}

func (s *server) handleFailedKeywords(w http.ResponseWriter, r *http.Request) {
	writeList(s, w, r, "keywords", func(limit int) ([]report.KeywordFailure, error) {
		return s.reader.MostFailedKeywords(r.Context(), nil, limit)
	})
}

func (s *server) handleTestFailedKeywords(w http.ResponseWriter, r *http.Request) {
	testID, err := parseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	writeList(s, w, r, "keywords", func(limit int) ([]report.KeywordFailure, error) {
		return s.reader.MostFailedKeywords(r.Context(), &testID, limit)
	})
}

// handleReport renders the HTML failure report.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	limit, err := s.parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	opts := s.reportOpts
	opts.Limit = limit

	summary, err := report.Collect(r.Context(), s.reader, opts)
	if err != nil {
		s.log.WithError(err).Error("Failed to collect report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"collecting report"})

		return
	}

	var buf bytes.Buffer
	if err := report.RenderHTML(&buf, summary); err != nil {
		s.log.WithError(err).Error("Failed to render report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"rendering report"})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
