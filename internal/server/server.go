// Package server exposes the streamed question endpoint and record lookups
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/incentive-match/internal/model"
	"github.com/sells-group/incentive-match/internal/responder"
	"github.com/sells-group/incentive-match/internal/store"
)

const defaultK = 5

// Answerer streams the answer to a question.
type Answerer interface {
	Stream(ctx context.Context, question string, limit int) iter.Seq[string]
}

// Store is the part of the datastore the lookups read.
type Store interface {
	Ping(ctx context.Context) error
	GetIncentive(ctx context.Context, id int64) (*model.Incentive, error)
	MatchesForIncentive(ctx context.Context, incentiveID int64) ([]model.MatchCandidate, error)
}

// Server routes the HTTP surface.
type Server struct {
	store       Store
	answerer    Answerer
	frontendURL string
}

// New creates a Server. frontendURL is the single origin allowed by CORS.
func New(st Store, answerer Answerer, frontendURL string) *Server {
	return &Server{store: st, answerer: answerer, frontendURL: frontendURL}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.frontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/incentives/{id}", s.handleIncentive)
	r.Get("/matches/{id}", s.handleMatches)
	r.Get("/chat/stream", s.handleChatStream)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type incentiveResponse struct {
	ID                  int64              `json:"id"`
	Title               string             `json:"title"`
	Description         string             `json:"description"`
	EligibilityCriteria string             `json:"eligibility_criteria"`
	Eligibility         *model.Eligibility `json:"eligibility"`
}

func (s *Server) handleIncentive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inc, err := s.store.GetIncentive(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Incentivo não encontrado")
		return
	}
	if err != nil {
		zap.L().Error("get incentive failed", zap.Int64("incentive_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, incentiveResponse{
		ID:                  inc.ID,
		Title:               inc.Title,
		Description:         inc.EffectiveDescription(),
		EligibilityCriteria: inc.EligibilityCriteria,
		Eligibility:         inc.Eligibility,
	})
}

type matchResponse struct {
	Rank        int     `json:"rank"`
	Score       float64 `json:"score"`
	Explanation *string `json:"explanation"`
	CompanyID   int64   `json:"company_id"`
	CompanyName string  `json:"company_name"`
	CAE         string  `json:"cae"`
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cands, err := s.store.MatchesForIncentive(r.Context(), id)
	if err != nil {
		zap.L().Error("list matches failed", zap.Int64("incentive_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]matchResponse, len(cands))
	for i, c := range cands {
		out[i] = matchResponse{
			Rank:        c.Rank,
			Score:       c.Score,
			Explanation: c.Explanation,
			CompanyID:   c.CompanyID,
			CompanyName: c.CompanyName,
			CAE:         c.CAELabel,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := defaultK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "k must be an integer")
			return
		}
		k = n
	}

	reqID := uuid.New().String()
	ctx := responder.WithRequestID(r.Context(), reqID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for chunk := range s.answerer.Stream(ctx, q, k) {
		if _, err := w.Write([]byte(chunk)); err != nil {
			zap.L().Info("client went away", zap.String("request_id", reqID), zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
