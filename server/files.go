package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/convhub/convhub/errors"
)

// maxUploadBytes caps a single multipart upload (photos and payment proofs).
const maxUploadBytes = 10 << 20 // 10 MiB

// HandleFileUpload stores a multipart upload under the requested key.
// Payment proofs use the payment_proof/<jobID>.jpg convention; job photos
// use job_images/<jobID>/<n>.jpg. Uploads are rate limited server-wide.
func (s *HubServer) HandleFileUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireActor(w, r); !ok {
		return
	}

	if !s.uploadLimiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded, retry later")
		return
	}

	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "upload key is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' form field")
		return
	}
	defer file.Close()

	ref, err := s.blobs.Save(key, file)
	if err != nil {
		s.logger.Errorw("File upload failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	s.logger.Infow("File uploaded",
		"key", key,
		"size", header.Size,
	)
	writeJSON(w, http.StatusCreated, map[string]string{"ref": ref})
}

// blobKey converts a serving ref like /files/<key> back to the blob store
// key. Refs are what Save returns and what job records carry.
func blobKey(ref string) string {
	return strings.TrimPrefix(ref, "/files/")
}

// HandleFileDownload streams a stored file back to the client.
func (s *HubServer) HandleFileDownload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	reader, err := s.blobs.Open(key)
	if err != nil {
		if errors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Errorw("File download failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Warnw("File stream interrupted", "key", key, "error", err)
	}
}
