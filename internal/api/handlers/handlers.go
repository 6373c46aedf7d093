package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/foundry/pkgfs/internal/core/models"
	"github.com/foundry/pkgfs/internal/core/services"
	"github.com/foundry/pkgfs/internal/pathcodec"
	"github.com/foundry/pkgfs/internal/util/logging"
)

// Handler holds all HTTP handlers and their dependencies.
type Handler struct {
	fs          services.FileSystem
	auth        services.Authenticator
	logger      zerolog.Logger
	locksMu     sync.Mutex
	uploadLocks map[string]*packageLock
}

// New creates a new Handler with the given dependencies.
func New(fs services.FileSystem, auth services.Authenticator, logger zerolog.Logger) *Handler {
	return &Handler{
		fs:          fs,
		auth:        auth,
		logger:      logger,
		uploadLocks: make(map[string]*packageLock),
	}
}

// Router returns the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestIDMiddleware)
	r.Use(h.loggingMiddleware)
	r.Use(h.authMiddleware)

	r.Get("/api/v1/files", h.ListFiles)
	r.Put("/api/v1/files/{path}", h.PutFile)
	r.Get("/api/v1/files/{path}", h.GetFile)
	r.Head("/api/v1/files/{path}", h.HeadFile)
	r.Delete("/api/v1/files/{path}", h.DeleteFile)
	r.Get("/api/v1/directories/{path}/files", h.ListDirectory)
	r.Delete("/api/v1/directories/{path}", h.DeleteDirectory)
	r.Get("/api/v1/packages/{path}", h.GetPackage)
	r.Get("/api/v1/packages/{path}/versions", h.ListVersions)
	r.Post("/api/v1/moves", h.Move)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// requestIDMiddleware adds a unique request ID to each request.
func (h *Handler) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := logging.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each request.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logging.LogRequest(h.logger, r.Context(), r.Method, r.URL.Path, rw.status, rw.written, time.Since(start))
	})
}

// authMiddleware validates the bearer token.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if !h.auth.ValidateToken(token) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// pathParam returns the decoded {path} route parameter. Clients send the
// separator escaped as %7C. chi matches against RawPath when the request
// has one and against the already decoded Path otherwise, so the parameter
// is unescaped only in the first case.
func pathParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "path")
	if r.URL.RawPath == "" {
		return raw, nil
	}
	p, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", services.ErrMalformedPath, raw)
	}
	return p, nil
}

// PutFile handles PUT /api/v1/files/{path}
func (h *Handler) PutFile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	path, err := pathParam(r)
	if err != nil {
		h.fail(w, r, err, "decoding path")
		return
	}

	unlock := h.lockPackageUpload(path)
	defer unlock()

	body := &countingReader{r: r.Body}
	if err := h.fs.Write(r.Context(), path, body); err != nil {
		h.fail(w, r, err, "writing package")
		return
	}

	full, err := h.fs.FullPath(r.Context(), path)
	if err != nil {
		h.fail(w, r, err, "resolving written package")
		return
	}
	name, version, err := pathcodec.Decompose(full)
	if err != nil {
		h.fail(w, r, err, "resolving written package")
		return
	}

	h.logger.Info().
		Str("request_id", logging.RequestID(r.Context())).
		Str("package", name).
		Str("version", version).
		Int64("size", body.n).
		Dur("upload_latency", time.Since(start)).
		Msg("package upload completed")

	writeJSON(w, http.StatusCreated, models.WriteResponse{
		Path:    full,
		Package: name,
		Version: version,
		Size:    body.n,
	})
}

// GetFile handles GET /api/v1/files/{path}
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	path, err := pathParam(r)
	if err != nil {
		h.fail(w, r, err, "decoding path")
		return
	}

	full, err := h.fs.FullPath(r.Context(), path)
	if err != nil {
		h.fail(w, r, err, "resolving package")
		return
	}
	content, err := h.fs.Open(r.Context(), full)
	if err != nil {
		h.fail(w, r, err, "opening package")
		return
	}

	name, version, _ := pathcodec.Decompose(full)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Package-Path", full)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.%s\"", name, version))
	http.ServeContent(w, r, "", time.Time{}, content)
}

// HeadFile handles HEAD /api/v1/files/{path}
func (h *Handler) HeadFile(w http.ResponseWriter, r *http.Request) {
	path, err := pathParam(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok, err := h.fs.Exists(r.Context(), path)
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeleteFile handles DELETE /api/v1/files/{path}
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	path, err := pathParam(r)
	if err != nil {
		h.fail(w, r, err, "decoding path")
		return
	}
	if err := h.fs.Delete(r.Context(), path); err != nil {
		h.fail(w, r, err, "deleting package version")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListFiles handles GET /api/v1/files
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := h.fs.List(r.Context(), "")
	if err != nil {
		h.fail(w, r, err, "listing packages")
		return
	}
	writeJSON(w, http.StatusOK, models.ListResponse{Path: "", Entries: entries})
}

// ListDirectory handles GET /api/v1/directories/{path}/files
func (h *Handler) ListDirectory(w http.ResponseWriter, r *http.Request) {
	path, err := pathParam(r)
	if err != nil {
		h.fail(w, r, err, "decoding path")
		return
	}
	entries, err := h.fs.List(r.Context(), path)
	if err != nil {
		h.fail(w, r, err, "listing package")
		return
	}
	writeJSON(w, http.StatusOK, models.ListResponse{Path: path, Entries: entries})
}

// DeleteDirectory handles DELETE /api/v1/directories/{path}
func (h *Handler) DeleteDirectory(w http.ResponseWriter, r *http.Request) {
	path, err := pathParam(r)
	if err != nil {
		h.fail(w, r, err, "decoding path")
		return
	}
	recursive, _ := strconv.ParseBool(r.URL.Query().Get("recursive"))
	if err := h.fs.DeleteDirectory(r.Context(), path, recursive); err != nil {
		h.fail(w, r, err, "deleting package")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GetPackage handles GET /api/v1/packages/{path}
func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	path, err := pathParam(r)
	if err != nil {
		h.fail(w, r, err, "decoding path")
		return
	}

	ok, err := h.fs.DirectoryExists(r.Context(), path)
	if err != nil {
		h.fail(w, r, err, "checking package")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("package %s not found", path))
		return
	}

	stat, err := h.fs.Stat(r.Context(), path)
	if err != nil {
		h.fail(w, r, err, "reading package")
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

// ListVersions handles GET /api/v1/packages/{path}/versions
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	path, err := pathParam(r)
	if err != nil {
		h.fail(w, r, err, "decoding path")
		return
	}
	versions, err := h.fs.Versions(r.Context(), path)
	if err != nil {
		h.fail(w, r, err, "listing versions")
		return
	}
	name, err := pathcodec.PackageName(path)
	if err != nil {
		h.fail(w, r, err, "listing versions")
		return
	}
	writeJSON(w, http.StatusOK, models.VersionsResponse{Package: name, Versions: versions})
}

// Move handles POST /api/v1/moves
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req models.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid move request body")
		return
	}
	if err := h.fs.Move(r.Context(), req.Source, req.Destination); err != nil {
		h.fail(w, r, err, "moving package")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "moved"})
}

// statusFor maps file system errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrMalformedPath):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, services.ErrBackendUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error response for err. Server-side failures are logged
// and their detail withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, action string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		h.logger.Error().
			Err(err).
			Str("request_id", logging.RequestID(r.Context())).
			Msg(action)
		msg := "internal error"
		if status == http.StatusBadGateway {
			msg = "storage backend unavailable"
		}
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: msg,
	})
}

// responseWriter wraps http.ResponseWriter to capture status and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// lockPackageUpload serializes uploads to one package within this process
// so the latest-version pointer follows request order.
func (h *Handler) lockPackageUpload(path string) func() {
	key, err := pathcodec.PackageName(path)
	if err != nil {
		key = path
	}
	h.locksMu.Lock()
	lock, ok := h.uploadLocks[key]
	if !ok {
		lock = &packageLock{}
		h.uploadLocks[key] = lock
	}
	lock.refs++
	h.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		h.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(h.uploadLocks, key)
		}
		h.locksMu.Unlock()
	}
}

type packageLock struct {
	mu   sync.Mutex
	refs int
}
