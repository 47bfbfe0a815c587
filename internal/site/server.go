// Package site serves the published records: the static search site and a
// small JSON API over the unified record list.
package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"plenario/internal/headers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type server struct {
	source Source
	logger *slog.Logger
}

// ListResponse is the body of GET /api/records.
type ListResponse struct {
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
	Records []headers.Record `json:"records"`
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// NewRouter wires the API under /api and, when publicDir is set, serves the
// static site from it.
func NewRouter(src Source, publicDir string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{source: src, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/records", s.listRecords)
		r.Get("/records/{id}", s.getRecord)
	})

	if publicDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(publicDir)))
	}
	return r
}

func (s *server) listRecords(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		respondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	records, ok := s.load(w, r)
	if !ok {
		return
	}
	page, total := Search(records, q)
	respondWithJSON(w, r, http.StatusOK, ListResponse{
		Total:   total,
		Offset:  q.Offset,
		Limit:   q.Limit,
		Records: page,
	})
}

func (s *server) getRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, ok := s.load(w, r)
	if !ok {
		return
	}
	for _, rec := range records {
		if rec.ID == id {
			respondWithJSON(w, r, http.StatusOK, rec)
			return
		}
	}
	respondWithError(w, r, http.StatusNotFound, "record not found")
}

func (s *server) load(w http.ResponseWriter, r *http.Request) ([]headers.Record, bool) {
	records, err := s.source.All(r.Context())
	if err == nil {
		return records, true
	}
	if errors.Is(err, ErrNoRecords) {
		respondWithError(w, r, http.StatusServiceUnavailable, "records not available yet")
		return nil, false
	}
	s.logger.Error("load records", "error", err, "request_id", middleware.GetReqID(r.Context()))
	respondWithError(w, r, http.StatusInternalServerError, "failed to load records")
	return nil, false
}

// parseQuery accepts q/asunto, from/fechaDesde, to/fechaHasta, offset and limit.
func parseQuery(r *http.Request) (Query, error) {
	v := r.URL.Query()
	first := func(keys ...string) string {
		for _, k := range keys {
			if s := v.Get(k); s != "" {
				return s
			}
		}
		return ""
	}

	q := Query{
		Asunto: first("q", "asunto"),
		From:   first("from", "fechaDesde"),
		To:     first("to", "fechaHasta"),
	}
	var err error
	if q.Offset, err = intParam(v.Get("offset")); err != nil {
		return Query{}, fmt.Errorf("offset: %w", err)
	}
	if q.Limit, err = intParam(v.Get("limit")); err != nil {
		return Query{}, fmt.Errorf("limit: %w", err)
	}
	return q, q.validate()
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return n, nil
}

func respondWithJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		slog.Debug("failed to encode JSON response", "error", err, "path", r.URL.Path)
	}
}

func respondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondWithJSON(w, r, status, ErrorResponse{
		Error:     message,
		Code:      status,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// requestLogger logs one line per request at info level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).Truncate(time.Microsecond),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully. ready, when non-nil, receives the bound address.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger, ready func(net.Addr)) error {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ready != nil {
		ready(ln.Addr())
	}
	logger.Info("serving", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
