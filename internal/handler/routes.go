package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/zynqcloud/go-upload/internal/config"
	"github.com/zynqcloud/go-upload/internal/download"
	"github.com/zynqcloud/go-upload/internal/middleware"
	"github.com/zynqcloud/go-upload/internal/uploader"
)

// Handler holds shared dependencies for all HTTP handlers.
type Handler struct {
	cfg      *config.Config
	uploader *uploader.Uploader
	fs       afero.Fs
	logger   *slog.Logger
	metrics  *Metrics
}

// New registers all routes and returns the root http.Handler. The uploader
// carries the storage backend and filesystem; gatherer backs GET /metrics.
//
// Middleware stack (outer → inner):
//
//	RequestLog → ServeMux → ServiceToken auth → UploadLimiter → handler
func New(cfg *config.Config, up *uploader.Uploader, logger *slog.Logger, metrics *Metrics, gatherer prometheus.Gatherer) http.Handler {
	h := &Handler{
		cfg:      cfg,
		uploader: up,
		fs:       up.Config().FS,
		logger:   logger,
		metrics:  metrics,
	}

	auth := middleware.ServiceToken(cfg.ServiceToken)
	logMW := middleware.RequestLog(logger)
	limiter := middleware.NewUploadLimiter(cfg.MaxConcurrentUploads, cfg.QueueTimeout)
	if err := metrics.TrackActive(limiter.Active); err != nil {
		logger.Warn("active uploads gauge not registered", "err", err)
	}
	limited := func(fn http.HandlerFunc) http.Handler { return auth(limiter.Limit(fn)) }

	mux := http.NewServeMux()

	// ── Single request upload ────────────────────────────────────────────────
	// POST /v1/files   multipart form, file in the "file" field; cache + store
	// POST /v1/cache   multipart form; cache only, returns the cache name
	// POST /v1/cache/{cacheId}/{filename}/store   store a previously cached file
	// POST /v1/remote  {"url": "..."}; download, cache + store
	//
	// Every write accepts ?replace=<identifier> to update a stored file and
	// ?mounted_as=<name> which dynamic allow lists can key on.
	mux.Handle("POST /v1/files", limited(h.Upload))
	mux.Handle("POST /v1/cache", limited(h.CacheUpload))
	mux.Handle("POST /v1/cache/{cacheId}/{filename}/store", limited(h.StoreCached))
	mux.Handle("POST /v1/remote", limited(h.Remote))

	// ── Stored files ─────────────────────────────────────────────────────────
	mux.Handle("GET /v1/files/{identifier}", auth(http.HandlerFunc(h.Download)))
	mux.Handle("DELETE /v1/files/{identifier}", auth(http.HandlerFunc(h.Delete)))
	mux.Handle("POST /v1/files/{identifier}/recreate", limited(h.Recreate))

	// ── Resumable / chunked upload ───────────────────────────────────────────
	mux.Handle("POST /v1/uploads", auth(http.HandlerFunc(h.InitUpload)))
	mux.Handle("PUT /v1/uploads/{sessionId}/parts/{partNum}", limited(h.UploadPart))
	mux.Handle("POST /v1/uploads/{sessionId}/complete", limited(h.CompleteUpload))
	mux.Handle("DELETE /v1/uploads/{sessionId}", auth(http.HandlerFunc(h.AbortUpload)))

	// ── Observability ────────────────────────────────────────────────────────
	// GET /health is the unauthenticated liveness probe. Readiness and
	// metrics expose internal state and sit behind the service token.
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /healthz/ready", auth(http.HandlerFunc(h.Readiness)))
	mux.Handle("GET /metrics", auth(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return logMW(mux)
}

// diskStatter is implemented by backends on a local filesystem.
type diskStatter interface {
	DiskStats() (avail, total uint64)
}

// Readiness returns 200 when the service can accept uploads and 503 when
// it cannot. It checks that the storage root is accessible and, for local
// storage, that free disk space is at least MinFreeDisk.
func (h *Handler) Readiness(w http.ResponseWriter, _ *http.Request) {
	type check struct {
		Name string `json:"name"`
		OK   bool   `json:"ok"`
		Msg  string `json:"msg,omitempty"`
	}
	var checks []check
	allOK := true

	if _, err := h.fs.Stat(h.cfg.StoragePath); err != nil {
		checks = append(checks, check{"storage_accessible", false, "stat failed"})
		allOK = false
	} else {
		checks = append(checks, check{"storage_accessible", true, ""})
	}

	// (0, 0) means the numbers are unavailable; skip rather than false-alarm.
	if ds, ok := h.uploader.Config().Storage.(diskStatter); ok {
		avail, total := ds.DiskStats()
		if total > 0 {
			c := check{Name: "disk_space", OK: avail >= h.cfg.MinFreeDisk}
			if c.OK {
				c.Msg = fmt.Sprintf("%d MB free of %d MB", avail>>20, total>>20)
			} else {
				c.Msg = fmt.Sprintf("%d MB free, need %d MB", avail>>20, h.cfg.MinFreeDisk>>20)
				allOK = false
			}
			checks = append(checks, c)
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": allOK, "checks": checks})
}

// statusFor maps lifecycle errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, uploader.ErrIntegrity), errors.Is(err, uploader.ErrProcessing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, uploader.ErrInvalidParameter), errors.Is(err, uploader.ErrFormNotMultipart):
		return http.StatusBadRequest
	case errors.Is(err, download.ErrDownload):
		return http.StatusBadGateway
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// fail logs err and writes it as a JSON error. Server-side failures get a
// generic message; client errors carry the error text, which for integrity
// failures is the user-facing validation message.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "err", err)
		writeError(w, status, op+" failed")
		return
	}
	h.logger.Info(op+" rejected", "status", status, "err", err)
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
