// Package httpserver exposes the soil analysis pipeline as a JSON HTTP API.
package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"farmchain/internal/domain"
	"farmchain/internal/storage/sqlite"
)

// Analyzer runs one analysis request. Satisfied by *pipeline.Orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error)
}

type Server struct {
	Analyzer Analyzer
	DB       *sql.DB // optional history store; nil disables history
}

func New(analyzer Analyzer, db *sql.DB) *Server {
	return &Server{Analyzer: analyzer, DB: db}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/analyses/recent", s.handleRecent)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	log.Printf("http listening addr=%s", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req domain.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	result, err := s.Analyzer.Analyze(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("http analyze err=%v", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	if s.DB != nil {
		if _, err := sqlite.InsertAnalysis(s.DB, req, result); err != nil {
			// History is best effort; the response still goes out.
			log.Printf("http history_insert err=%v", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	if s.DB == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 200 {
			writeError(w, http.StatusBadRequest, "limit must be 1-200")
			return
		}
		limit = parsed
	}

	var (
		recs []sqlite.AnalysisRecord
		err  error
	)
	if district := r.URL.Query().Get("district"); district != "" {
		recs, err = sqlite.AnalysesByDistrict(s.DB, district, limit)
	} else {
		recs, err = sqlite.RecentAnalyses(s.DB, limit)
	}
	if err != nil {
		log.Printf("http recent err=%v", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	type summary struct {
		ID         int64     `json:"id"`
		District   string    `json:"district"`
		Season     string    `json:"season"`
		Irrigation string    `json:"irrigation_type"`
		Language   string    `json:"language"`
		Success    bool      `json:"success"`
		Error      string    `json:"error,omitempty"`
		AnalyzedAt time.Time `json:"analyzed_at"`
	}
	out := make([]summary, 0, len(recs))
	for _, r := range recs {
		out = append(out, summary{
			ID:         r.ID,
			District:   r.District,
			Season:     r.Season,
			Irrigation: r.Irrigation,
			Language:   r.Language,
			Success:    r.Success,
			Error:      r.Error,
			AnalyzedAt: r.AnalyzedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": out})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http encode err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
