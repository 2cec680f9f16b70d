package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/zynqcloud/go-upload/internal/file"
)

// ── Request / response types ──────────────────────────────────────────────────

type InitUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	MountedAs   string `json:"mounted_as,omitempty"`
	// Replace names a stored file the assembled upload supersedes.
	Replace string `json:"replace,omitempty"`
}

type InitUploadResponse struct {
	SessionID string `json:"session_id"`
}

type PartUploadResponse struct {
	PartNum int    `json:"part_num"`
	Size    int64  `json:"size"`
	SHA256  string `json:"sha256"`
}

type CompleteUploadRequest struct {
	// Optional. When provided the assembled file's SHA-256 is compared and the
	// upload is rejected on mismatch, preventing silent corruption.
	ExpectedSHA256 string `json:"expected_sha256"`
}

// CompleteUploadResponse is a FileResponse plus the digest of the
// assembled original.
type CompleteUploadResponse struct {
	FileResponse
	Parts  int    `json:"parts"`
	SHA256 string `json:"sha256"`
}

const (
	sessionMeta   = "session.json"
	assembledName = "assembled"
	maxParts      = 10_000
)

// ── Session helpers ───────────────────────────────────────────────────────────

// sessionDir returns the directory staging the parts of sessionID. Sessions
// live under the cache root, so abandoned ones age out with the cache sweep.
func (h *Handler) sessionDir(sessionID string) string {
	return filepath.Join(h.uploader.CacheRoot(), sessionID)
}

// validSessionID accepts canonical UUIDs only.
func validSessionID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

func (h *Handler) readSession(dir string) (InitUploadRequest, error) {
	var meta InitUploadRequest
	b, err := afero.ReadFile(h.fs, filepath.Join(dir, sessionMeta))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("session metadata: %w", err)
	}
	return meta, nil
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// InitUpload creates a resumable upload session and returns its ID.
//
// POST /v1/uploads
// Body: {"filename":"…","content_type":"…"}
func (h *Handler) InitUpload(w http.ResponseWriter, r *http.Request) {
	var req InitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	sessionID := uuid.NewString()
	dir := h.sessionDir(sessionID)
	if err := h.fs.MkdirAll(dir, 0o750); err != nil {
		h.logger.Error("init upload: mkdir failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	meta, _ := json.Marshal(req)
	if err := afero.WriteFile(h.fs, filepath.Join(dir, sessionMeta), meta, 0o640); err != nil {
		h.fs.RemoveAll(dir) //nolint:errcheck
		writeError(w, http.StatusInternalServerError, "failed to write session metadata")
		return
	}

	h.metrics.session("created")
	h.logger.Info("upload session created", "session", sessionID, "filename", req.Filename)
	writeJSON(w, http.StatusCreated, InitUploadResponse{SessionID: sessionID})
}

// UploadPart streams a single chunk to disk. Parts are numbered from 1 and
// may arrive in any order; re-sending a part overwrites it.
//
// PUT /v1/uploads/{sessionId}/parts/{partNum}
// Body: raw bytes for this part
func (h *Handler) UploadPart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if !validSessionID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	partNum, err := strconv.Atoi(r.PathValue("partNum"))
	if err != nil || partNum < 1 || partNum > maxParts {
		writeError(w, http.StatusBadRequest, "partNum must be an integer 1–10000")
		return
	}

	dir := h.sessionDir(sessionID)
	if ok, _ := afero.Exists(h.fs, filepath.Join(dir, sessionMeta)); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if h.cfg.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestSize)
	}

	partPath := filepath.Join(dir, fmt.Sprintf("part_%05d", partNum))
	f, err := h.fs.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open part file")
		return
	}
	hasher := sha256.New()
	n, werr := io.Copy(f, io.TeeReader(r.Body, hasher))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		h.fs.Remove(partPath) //nolint:errcheck
		var tooLarge *http.MaxBytesError
		if errors.As(werr, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "part too large")
			return
		}
		writeError(w, http.StatusInternalServerError, "part write failed")
		return
	}

	writeJSON(w, http.StatusOK, PartUploadResponse{
		PartNum: partNum,
		Size:    n,
		SHA256:  hex.EncodeToString(hasher.Sum(nil)),
	})
}

// CompleteUpload assembles all uploaded parts in order into a candidate
// file and runs it through cache and store like a single-request upload.
// The session is removed once the file is stored.
//
// POST /v1/uploads/{sessionId}/complete
// Body (optional): {"expected_sha256":"…"}
func (h *Handler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sessionID := r.PathValue("sessionId")
	if !validSessionID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req CompleteUploadRequest
	json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck

	dir := h.sessionDir(sessionID)
	meta, err := h.readSession(dir)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	entries, err := afero.ReadDir(h.fs, dir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read session dir")
		return
	}
	var parts []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "part_") {
			parts = append(parts, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(parts)
	if len(parts) == 0 {
		writeError(w, http.StatusBadRequest, "no parts uploaded")
		return
	}

	// Parts are piped into the spool in order, through the hasher; the
	// assembled file is never held in memory.
	hasher := sha256.New()
	pr, pw := io.Pipe()
	go func() {
		for _, p := range parts {
			if err := h.copyPart(pw, p); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()
	assembled, err := file.Spool(h.fs, filepath.Join(dir, assembledName), meta.Filename, io.TeeReader(pr, hasher), meta.ContentType)
	pr.Close()
	if err != nil {
		h.logger.Error("assemble failed", "session", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "assemble failed")
		return
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	if req.ExpectedSHA256 != "" && !strings.EqualFold(req.ExpectedSHA256, hash) {
		assembled.Delete() //nolint:errcheck
		writeError(w, http.StatusBadRequest, "sha256 mismatch: upload rejected")
		return
	}

	u, err := h.open(r.Context(), meta.MountedAs, meta.Replace)
	if err == nil {
		err = u.StoreFile(r.Context(), assembled)
	}
	h.metrics.observe("chunked_upload", start, err)
	if err != nil {
		assembled.Delete() //nolint:errcheck
		h.fail(w, "complete upload", err)
		return
	}
	h.discard(dir)

	resp := describe(u)
	h.metrics.addBytes(resp.Size)
	h.metrics.session("completed")
	h.logger.Info("chunked upload complete",
		"identifier", resp.Identifier, "parts", len(parts), "bytes", resp.Size, "sha256", hash)
	writeJSON(w, http.StatusCreated, CompleteUploadResponse{FileResponse: resp, Parts: len(parts), SHA256: hash})
}

func (h *Handler) copyPart(w io.Writer, path string) error {
	f, err := h.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open part %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy part %s: %w", filepath.Base(path), err)
	}
	return nil
}

// AbortUpload removes an in-progress upload session and all its staged parts.
//
// DELETE /v1/uploads/{sessionId}
func (h *Handler) AbortUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if !validSessionID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	h.discard(h.sessionDir(sessionID))
	h.metrics.session("aborted")
	w.WriteHeader(http.StatusNoContent)
}
