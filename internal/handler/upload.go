package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/uploader"
)

// formField is the multipart field carrying the file.
const formField = "file"

// FileResponse describes an upload and its non-blank versions.
type FileResponse struct {
	Identifier string                  `json:"identifier,omitempty"`
	CacheName  string                  `json:"cache_name,omitempty"`
	Path       string                  `json:"path,omitempty"`
	URL        string                  `json:"url"`
	Size       int64                   `json:"size,omitempty"`
	Versions   map[string]FileResponse `json:"versions,omitempty"`
}

func describe(u *uploader.Upload) FileResponse {
	resp := FileResponse{
		Identifier: u.Identifier(),
		CacheName:  u.CacheName(),
		Path:       u.CurrentPath(),
		URL:        u.URL(),
	}
	if f := u.File(); f != nil {
		if n, err := f.Size(); err == nil {
			resp.Size = n
		}
	}
	for _, v := range u.Versions() {
		if v.Blank() {
			continue
		}
		if resp.Versions == nil {
			resp.Versions = make(map[string]FileResponse)
		}
		resp.Versions[v.Uploader().Name()] = describe(v)
	}
	return resp
}

// RemoteRequest is the body of POST /v1/remote.
type RemoteRequest struct {
	URL string `json:"url"`
}

// RecreateRequest is the optional body of POST /v1/files/{identifier}/recreate.
// No names recreates every version.
type RecreateRequest struct {
	Versions []string `json:"versions"`
}

// open starts an upload. A non-empty replace loads that stored file first,
// so the next store supersedes it and removes it when configured to.
func (h *Handler) open(ctx context.Context, mountedAs, replace string) (*uploader.Upload, error) {
	u := h.uploader.Upload(nil, mountedAs)
	if replace != "" {
		if err := u.RetrieveFromStore(ctx, replace); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (h *Handler) openFromQuery(r *http.Request) (*uploader.Upload, error) {
	q := r.URL.Query()
	return h.open(r.Context(), q.Get("mounted_as"), q.Get("replace"))
}

// stagingDir returns a fresh directory under the cache root. Leftovers are
// removed by the cache sweep like any stale cache directory.
func (h *Handler) stagingDir() string {
	return filepath.Join(h.uploader.CacheRoot(), uuid.NewString())
}

// discard removes a staging directory; failures are logged only.
func (h *Handler) discard(dir string) {
	if err := h.fs.RemoveAll(dir); err != nil {
		h.logger.Warn("remove staging dir", "dir", dir, "err", err)
	}
}

// receive spools the file part of a multipart request into a new staging
// directory without buffering it in memory. The caller removes dir.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) (f *file.Staged, dir string, err error) {
	if h.cfg.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestSize)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", &uploader.InvalidParameterError{
			Param: "content type", Value: r.Header.Get("Content-Type"), Reason: "expected multipart/form-data",
		}
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", &uploader.InvalidParameterError{Param: "form", Value: formField, Reason: "no file part"}
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", err
			}
			return nil, "", &uploader.InvalidParameterError{Param: "body", Reason: err.Error()}
		}
		if part.FormName() != formField || part.FileName() == "" {
			part.Close()
			continue
		}
		dir = h.stagingDir()
		f, err = file.Spool(h.fs, filepath.Join(dir, "upload"), part.FileName(), part, part.Header.Get("Content-Type"))
		part.Close()
		if err != nil {
			h.discard(dir)
			return nil, "", err
		}
		return f, dir, nil
	}
}

// Upload caches and stores a multipart upload in one request.
//
// POST /v1/files
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.upload(w, r)
	h.metrics.observe("upload", start, err)
	if err != nil {
		h.fail(w, "upload", err)
		return
	}
	h.metrics.addBytes(resp.Size)
	h.logger.Info("upload complete", "identifier", resp.Identifier, "bytes", resp.Size, "versions", len(resp.Versions))
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) (FileResponse, error) {
	f, dir, err := h.receive(w, r)
	if err != nil {
		return FileResponse{}, err
	}
	defer h.discard(dir)
	u, err := h.openFromQuery(r)
	if err != nil {
		return FileResponse{}, err
	}
	if err := u.StoreFile(r.Context(), f); err != nil {
		return FileResponse{}, err
	}
	return describe(u), nil
}

// CacheUpload validates, caches and processes a multipart upload without
// storing it. The returned cache name survives a failed form submission and
// is later passed to StoreCached.
//
// POST /v1/cache
func (h *Handler) CacheUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.cacheUpload(w, r)
	h.metrics.observe("cache", start, err)
	if err != nil {
		h.fail(w, "cache", err)
		return
	}
	h.logger.Info("upload cached", "cache_name", resp.CacheName, "bytes", resp.Size)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) cacheUpload(w http.ResponseWriter, r *http.Request) (FileResponse, error) {
	f, dir, err := h.receive(w, r)
	if err != nil {
		return FileResponse{}, err
	}
	defer h.discard(dir)
	u := h.uploader.Upload(nil, r.URL.Query().Get("mounted_as"))
	if err := u.Cache(r.Context(), f); err != nil {
		return FileResponse{}, err
	}
	return describe(u), nil
}

// StoreCached stores a file cached by an earlier request.
//
// POST /v1/cache/{cacheId}/{filename}/store
func (h *Handler) StoreCached(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.storeCached(r)
	h.metrics.observe("store", start, err)
	if err != nil {
		h.fail(w, "store", err)
		return
	}
	h.metrics.addBytes(resp.Size)
	h.logger.Info("cached upload stored", "identifier", resp.Identifier, "bytes", resp.Size)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) storeCached(r *http.Request) (FileResponse, error) {
	u, err := h.openFromQuery(r)
	if err != nil {
		return FileResponse{}, err
	}
	if err := u.RetrieveFromCache(r.PathValue("cacheId") + "/" + r.PathValue("filename")); err != nil {
		return FileResponse{}, err
	}
	if f := u.Staged(); f == nil || !f.Exists() {
		return FileResponse{}, &file.Error{Op: "retrieve cached", Path: u.CacheName(), Err: fs.ErrNotExist}
	}
	if err := u.Store(r.Context()); err != nil {
		return FileResponse{}, err
	}
	return describe(u), nil
}

// Remote downloads a URL, then caches and stores it.
//
// POST /v1/remote
func (h *Handler) Remote(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.remote(r)
	h.metrics.observe("remote", start, err)
	if err != nil {
		h.fail(w, "remote", err)
		return
	}
	h.metrics.addBytes(resp.Size)
	h.logger.Info("remote upload complete", "identifier", resp.Identifier, "bytes", resp.Size)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) remote(r *http.Request) (FileResponse, error) {
	var req RemoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		return FileResponse{}, &uploader.InvalidParameterError{Param: "body", Reason: `expected {"url": "..."}`}
	}
	u, err := h.openFromQuery(r)
	if err != nil {
		return FileResponse{}, err
	}
	if err := u.CacheRemote(r.Context(), req.URL); err != nil {
		return FileResponse{}, err
	}
	if err := u.Store(r.Context()); err != nil {
		return FileResponse{}, err
	}
	return describe(u), nil
}

// Download streams a stored file. Repeat ?version= to walk nested versions,
// e.g. ?version=thumb&version=mini.
//
// GET /v1/files/{identifier}
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	u := h.uploader.Upload(nil, "")
	if err := u.RetrieveFromStore(r.Context(), r.PathValue("identifier")); err != nil {
		h.fail(w, "download", err)
		return
	}
	target := u
	for _, name := range r.URL.Query()["version"] {
		if target = target.Version(name); target == nil {
			h.fail(w, "download", &uploader.InvalidParameterError{Param: "version", Value: name, Reason: "not declared"})
			return
		}
	}
	f := target.File()
	if f == nil {
		writeError(w, http.StatusNotFound, "version not stored")
		return
	}
	rc, err := f.Open()
	if err != nil {
		h.fail(w, "download", err)
		return
	}
	defer rc.Close()

	ctype := f.ContentType()
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	if n, err := f.Size(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(n, 10))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": f.Filename()}))
	io.Copy(w, rc) //nolint:errcheck
}

// Delete removes a stored file and every version of it.
//
// DELETE /v1/files/{identifier}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := r.PathValue("identifier")
	u := h.uploader.Upload(nil, "")
	err := u.RetrieveFromStore(r.Context(), id)
	if err == nil {
		err = u.Remove(r.Context())
	}
	h.metrics.observe("remove", start, err)
	if err != nil {
		h.fail(w, "delete", err)
		return
	}
	h.logger.Info("file removed", "identifier", id)
	w.WriteHeader(http.StatusNoContent)
}

// Recreate regenerates versions of a stored file from the original.
//
// POST /v1/files/{identifier}/recreate
func (h *Handler) Recreate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp, err := h.recreate(r)
	h.metrics.observe("recreate", start, err)
	if err != nil {
		h.fail(w, "recreate", err)
		return
	}
	h.logger.Info("versions recreated", "identifier", resp.Identifier, "versions", len(resp.Versions))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) recreate(r *http.Request) (FileResponse, error) {
	var req RecreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return FileResponse{}, &uploader.InvalidParameterError{Param: "body", Reason: err.Error()}
	}
	u := h.uploader.Upload(nil, r.URL.Query().Get("mounted_as"))
	if err := u.RetrieveFromStore(r.Context(), r.PathValue("identifier")); err != nil {
		return FileResponse{}, err
	}
	if err := u.RecreateVersions(r.Context(), req.Versions...); err != nil {
		return FileResponse{}, err
	}
	return describe(u), nil
}
