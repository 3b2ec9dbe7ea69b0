package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/objstore"
	"github.com/campushub/internal/objstore/local"
)

// UploadHandler принимает файлы вложений и кладёт их в хранилище.
// Клиент сначала загружает файл, получает storage_ref и url,
// затем ссылается на них в send_message по WebSocket.
type UploadHandler struct {
	store   objstore.Store
	maxSize int64
}

func NewUploadHandler(store objstore.Store, maxSize int64) *UploadHandler {
	return &UploadHandler{store: store, maxSize: maxSize}
}

type UploadResponse struct {
	StorageRef  string `json:"storage_ref"`
	URL         string `json:"url"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize)
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	mime := header.Header.Get("Content-Type")
	ref, err := h.store.Put(r.Context(), filename, mime, file)
	if err != nil {
		if errors.Is(err, local.ErrBlockedType) || errors.Is(err, local.ErrContentMismatch) {
			writeError(w, http.StatusUnsupportedMediaType, "file type not allowed")
			return
		}
		logger.Errorf("upload %s: %v", filename, err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		StorageRef:  ref,
		URL:         h.store.PublicURL(ref),
		FileName:    filename,
		ContentType: mime,
	})
}

// FileServer отдаёт файлы локального хранилища. При Cloudinary ссылки ведут
// напрямую на CDN и эта ручка не регистрируется.
type FileServer struct {
	store *local.Store
}

func NewFileServer(store *local.Store) *FileServer {
	return &FileServer{store: store}
}

func (h *FileServer) Serve(w http.ResponseWriter, r *http.Request) {
	ref := filepath.Base(chi.URLParam(r, "ref"))
	f, err := h.store.Open(ref)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeByExt(ref))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, f); err != nil {
		logger.Debugf("serve %s: %v", ref, err)
	}
}

func contentTypeByExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
