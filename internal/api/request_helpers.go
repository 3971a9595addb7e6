package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// pathProjectID returns the project ID path parameter. Project IDs are
// generated names, not UUIDs, so no parsing is involved.
func pathProjectID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// pathTaskID parses the task ID path parameter. A malformed value cannot
// name any stored task, so callers treat the error as not found.
func pathTaskID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "task_id"))
}

// openUpload extracts the uploaded scene from the request. Multipart
// bodies must carry the file in a "file" field; raw bodies are accepted
// when the request declares an image/tiff content type.
func openUpload(r *http.Request) (io.ReadCloser, string, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", errors.New("Multipart upload requires a 'file' field")
		}
		return file, header.Filename, nil
	}

	if strings.HasPrefix(contentType, "image/tiff") {
		return r.Body, "scene.tif", nil
	}

	return nil, "", errors.New(
		"Upload must be multipart/form-data with a 'file' field or a raw image/tiff body")
}
