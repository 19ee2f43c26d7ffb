package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xhad/stager/internal/types"
	"github.com/xhad/stager/pkg/limits"
	"github.com/xhad/stager/pkg/processor"
	"github.com/xhad/stager/pkg/stages"
	"github.com/xhad/stager/pkg/store"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 20

type Config struct {
	// Limits is the base every request's overrides are merged onto.
	Limits       limits.Limits
	StageTimeout time.Duration
	Logger       *zap.Logger

	// Websocket runs need a Summarizer, and a Fetcher when given a URL.
	// Store and Embedder are optional.
	Summarizer types.Summarizer
	Embedder   types.StageEmbedder
	Fetcher    types.Fetcher
	Store      types.RunStore
}

// Server exposes the limit validator, truncator and chunker over HTTP and
// runs staged summaries over a websocket.
type Server struct {
	config Config
	logger *zap.Logger
}

func New(config Config) (*Server, error) {
	if config.Limits == (limits.Limits{}) {
		config.Limits = limits.Default()
	}
	if err := config.Limits.Check(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Server{config: config, logger: config.Logger}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /validate", s.handleValidate)
	mux.HandleFunc("POST /truncate", s.handleTruncate)
	mux.HandleFunc("POST /chunk", s.handleChunk)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// TextRequest is the body of the validate, truncate and chunk endpoints.
type TextRequest struct {
	Text   string           `json:"text"`
	Limits limits.Overrides `json:"limits"`
}

type ChunkResponse struct {
	Stages      []stages.Stage `json:"stages"`
	TotalUnits  int            `json:"total_units"`
	BudgetUnits int            `json:"budget_units"`
	BudgetChars int            `json:"budget_chars"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	req, l, ok := s.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, l.Validate(req.Text))
}

func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	req, l, ok := s.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, processor.Truncate(req.Text, l))
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	req, l, ok := s.decode(w, r)
	if !ok {
		return
	}
	chunks := processor.Chunk(req.Text, l)
	units, chars := processor.StageBudget(l)
	writeJSON(w, http.StatusOK, ChunkResponse{
		Stages:      chunks,
		TotalUnits:  stages.TotalUnits(chunks),
		BudgetUnits: units,
		BudgetChars: chars,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusNotFound, errors.New("no run store configured"))
		return
	}
	run, err := s.config.Store.LoadRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logger.Error("failed to load run", zap.String("run_id", r.PathValue("id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (TextRequest, limits.Limits, bool) {
	var req TextRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return req, limits.Limits{}, false
	}
	l, err := s.resolveLimits(req.Limits)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return req, limits.Limits{}, false
	}
	return req, l, true
}

// resolveLimits merges o onto the server's base limits.
func (s *Server) resolveLimits(o limits.Overrides) (limits.Limits, error) {
	base := s.config.Limits
	opts := append([]limits.Option{
		limits.WithMaxUnits(base.MaxUnits),
		limits.WithMaxChars(base.MaxChars),
		limits.WithWarningThreshold(base.WarningThreshold),
	}, o.Options()...)
	return limits.New(opts...)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
