// Package server exposes a remote tree and blob store over HTTP for self-hosted deployments.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelsync/reelsync-agent/internal/remote"
)

// maxTreeBody bounds JSON bodies written to the tree.
const maxTreeBody = 4 << 20

// BlobOpener is implemented by blob stores that can stream reads.
type BlobOpener interface {
	OpenBlob(ctx context.Context, path string) (io.ReadCloser, error)
}

// ContentTyper is implemented by blob stores that remember upload content types.
type ContentTyper interface {
	ContentType(path string) string
}

type Config struct {
	Tree   remote.Tree
	Blobs  remote.Blobs
	Token  string
	Logger *slog.Logger
}

type handler struct {
	tree     remote.Tree
	blobs    remote.Blobs
	logger   *slog.Logger
	requests *prometheus.CounterVec
}

// NewHandler builds the REST router. An empty token disables authentication.
func NewHandler(cfg Config) http.Handler {
	reg := prometheus.NewRegistry()
	h := &handler{
		tree:   cfg.Tree,
		blobs:  cfg.Blobs,
		logger: cfg.Logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelsync_remote_requests_total",
			Help: "Remote store requests by resource, method and status code.",
		}, []string{"resource", "method", "code"}),
	}
	reg.MustRegister(h.requests)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))

		r.Get("/tree/*", h.counted("tree", h.getTree))
		r.Get("/tree", h.counted("tree", h.getTree))
		r.Put("/tree/*", h.counted("tree", h.setTree))
		r.Post("/tree/*", h.counted("tree", h.appendTree))
		r.Delete("/tree/*", h.counted("tree", h.deleteTree))

		r.Get("/blobs/*", h.counted("blobs", h.getBlob))
		r.Put("/blobs/*", h.counted("blobs", h.putBlob))
		r.Delete("/blobs/*", h.counted("blobs", h.deleteBlob))
	})
	return r
}

func (h *handler) getTree(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	q := r.URL.Query()
	if field := q.Get("orderBy"); field != "" {
		matches, err := h.tree.QueryByChildEquals(r.Context(), path, field, q.Get("equalTo"))
		if err != nil {
			h.fail(w, "query", path, err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
		return
	}

	raw, err := h.tree.Get(r.Context(), path)
	if err != nil {
		h.fail(w, "get", path, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (h *handler) setTree(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	body, ok := readJSON(w, r)
	if !ok {
		return
	}
	if err := h.tree.Set(r.Context(), path, body); err != nil {
		h.fail(w, "set", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) appendTree(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	body, ok := readJSON(w, r)
	if !ok {
		return
	}
	key, err := h.tree.AppendChild(r.Context(), path, body)
	if err != nil {
		h.fail(w, "append", path, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": key})
}

func (h *handler) deleteTree(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	if err := h.tree.Delete(r.Context(), path); err != nil {
		h.fail(w, "delete", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getBlob(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	if ct, ok := h.blobs.(ContentTyper); ok {
		if t := ct.ContentType(path); t != "" {
			w.Header().Set("Content-Type", t)
		}
	}
	if opener, ok := h.blobs.(BlobOpener); ok {
		rc, err := opener.OpenBlob(r.Context(), path)
		if err != nil {
			h.fail(w, "get_blob", path, err)
			return
		}
		defer rc.Close()
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		io.Copy(w, rc)
		return
	}

	data, err := h.blobs.GetBlob(r.Context(), path, 0)
	if err != nil {
		h.fail(w, "get_blob", path, err)
		return
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (h *handler) putBlob(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	if err := h.blobs.PutBlob(r.Context(), path, r.Body, r.Header.Get("Content-Type")); err != nil {
		h.fail(w, "put_blob", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteBlob(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r)
	if err := h.blobs.DeleteBlob(r.Context(), path); err != nil {
		h.fail(w, "delete_blob", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) fail(w http.ResponseWriter, op, path string, err error) {
	if errors.Is(err, remote.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
		return
	}
	h.logger.Error("remote store operation failed", "op", op, "path", path, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}

func (h *handler) counted(resource string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.requests.WithLabelValues(resource, r.Method, strconv.Itoa(status)).Inc()
	}
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"device_id", r.Header.Get("X-Reelsync-Device-Id"),
		)
	})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "invalid token", "UNAUTHORIZED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// pathParam returns the unescaped wildcard path of the request.
func pathParam(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if u, err := url.PathUnescape(p); err == nil {
		return u
	}
	return p
}

func readJSON(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTreeBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "BAD_REQUEST")
		return nil, false
	}
	if len(body) > maxTreeBody {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large", "TOO_LARGE")
		return nil, false
	}
	if !json.Valid(bytes.TrimSpace(body)) {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "BAD_REQUEST")
		return nil, false
	}
	return json.RawMessage(body), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}{message, code})
}

// Serve runs the handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     h,
		ReadTimeout: 15 * time.Minute,
		IdleTimeout: 60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting remote store server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down remote store server")
		return srv.Shutdown(shutdownCtx)
	}
}
