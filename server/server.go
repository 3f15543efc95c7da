// Package server exposes the corpus over HTTP: hybrid search, chunk
// navigation, book reconstruction, administrative purge and batch ingestion.
// Malformed input and unknown ids are the only hard 4xx failures; a degraded
// semantic path still answers 200. An optional HTTP/3 listener runs behind a
// self-signed development certificate next to the plain listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/liber/bookembed"
	"github.com/hazyhaar/liber/ingest"
	"github.com/hazyhaar/liber/query"
	"github.com/hazyhaar/liber/reconstruct"
	"github.com/hazyhaar/liber/store"
)

// Server ties the service components to their HTTP endpoints.
type Server struct {
	cfg      *Config
	store    *store.Store
	engine   *query.Engine
	builder  *reconstruct.Builder
	ingester *ingest.Ingester
	embedder bookembed.Embedder
	limiter  *RateLimiter
	logger   *slog.Logger
}

// New assembles a Server from its components. embedder is only used for
// health reporting and may be nil.
func New(cfg *Config, s *store.Store, engine *query.Engine, builder *reconstruct.Builder,
	ingester *ingest.Ingester, embedder bookembed.Embedder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:      cfg,
		store:    s,
		engine:   engine,
		builder:  builder,
		ingester: ingester,
		embedder: embedder,
		logger:   logger,
	}
	if len(cfg.RateLimits) > 0 {
		srv.limiter = NewRateLimiter(cfg.RateLimits, "/health")
	}
	return srv
}

// Router builds the chi router with all endpoints and middleware.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/chunks/{chunkID}", s.handleGetChunk)
		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.handleListBooks)
			r.Get("/{bookID}", s.handleGetBook)
			r.Get("/{bookID}/build", s.handleBuild)
			r.Delete("/{bookID}", s.handleDeleteBook)
		})
		r.Post("/ingest", s.handleIngest)
	})
	return r
}

// Run serves until ctx is cancelled, on plain HTTP and, when configured, on
// HTTP/3 as well.
func (s *Server) Run(ctx context.Context) error {
	handler := s.Router()

	if s.limiter != nil {
		s.limiter.StartGC(ctx.Done())
	}

	httpSrv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http listener up", "addr", s.cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if s.cfg.ListenQUIC != "" {
		quicSrv, err := newHTTP3Server(s.cfg.ListenQUIC, handler)
		if err != nil {
			return err
		}
		g.Go(func() error {
			s.logger.Info("http3 listener up", "addr", s.cfg.ListenQUIC)
			if err := quicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http3: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return quicSrv.Close()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// logRequests is slog-backed request logging with status and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps store failures: unknown ids are 404, everything else 500.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error("store failure", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	resp := map[string]any{
		"status": "ok",
		"corpus": stats,
	}
	if s.embedder != nil {
		resp["embedder"] = map[string]any{
			"model":     s.embedder.Model(),
			"dimension": s.embedder.Dimension(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.engine.Search(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, query.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case r.Context().Err() != nil:
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
		default:
			// Lexical-path store failures are internal, not the caller's fault.
			s.logger.Error("search failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	chunkID, err := store.ParseUUID(chi.URLParam(r, "chunkID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chunk id")
		return
	}

	chunk, err := s.store.GetChunk(r.Context(), chunkID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	nav, err := s.engine.Navigation(r.Context(), chunkID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunk":      chunk,
		"navigation": nav,
	})
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.store.ListBooks(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"books": books,
		"count": len(books),
	})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := store.ParseUUID(chi.URLParam(r, "bookID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	book, err := s.store.GetBook(r.Context(), bookID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	outline, err := s.store.ChapterOutline(r.Context(), bookID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"book":    book,
		"outline": outline,
	})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	bookID, err := store.ParseUUID(chi.URLParam(r, "bookID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	formatStr := r.URL.Query().Get("format")
	if formatStr == "" {
		formatStr = string(reconstruct.FormatFull)
	}
	format, err := reconstruct.ParseFormat(formatStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := s.store.GetBook(r.Context(), bookID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	res, err := s.builder.Build(r.Context(), bookID, format)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"book":   book,
		"result": res,
	})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := store.ParseUUID(chi.URLParam(r, "bookID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}
	if err := s.store.DeleteBook(r.Context(), bookID); err != nil {
		s.storeError(w, err)
		return
	}
	s.logger.Info("book purged", "book_id", bookID.String())
	w.WriteHeader(http.StatusNoContent)
}

// IngestRequest is the body for POST /api/ingest.
type IngestRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	report, err := s.ingester.IngestDir(r.Context(), req.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ingest.ErrNotSource) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("batch ingest failed", "path", req.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
