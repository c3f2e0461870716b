package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/messenger-client/internal/model"
)

// maxUploadBytes: предел multipart-формы (вложения, аватары).
const maxUploadBytes = 32 << 20

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// formUpload достаёт файл из поля field. Вызывающий закрывает closer.
func formUpload(r *http.Request, field string) (*model.Upload, io.Closer, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &model.Upload{Name: hdr.Filename, Reader: f}, f, nil
}

func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return false
	}
	return true
}

func closeUpload(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
