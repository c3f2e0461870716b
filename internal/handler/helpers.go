package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/cache"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/realtime"
	"github.com/messenger-client/internal/session"
	"github.com/messenger-client/internal/syncer"
)

// maxBodyBytes ограничивает JSON-тела запросов к мосту.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// resultResponse: закэшированный ресурс с флагами для отображения.
type resultResponse struct {
	Data      any          `json:"data"`
	Status    cache.Status `json:"status"`
	Loading   bool         `json:"loading"`
	Stale     bool         `json:"stale"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt *time.Time   `json:"updatedAt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure переводит ошибку движка в HTTP-статус.
func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, syncer.ErrEmptyMessage), errors.Is(err, syncer.ErrParentConversation):
		return http.StatusBadRequest
	case errors.Is(err, syncer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, realtime.ErrNotConnected):
		return http.StatusServiceUnavailable
	}
	if code := api.StatusCode(err); code >= 400 && code < 600 {
		return code
	}
	return http.StatusBadGateway
}

// writeResult отдаёт ресурс даже при ошибке рефетча, если данные уже есть.
func writeResult[T any](w http.ResponseWriter, res syncer.Result[T], err error) {
	if errors.Is(err, session.ErrNoSession) {
		writeFailure(w, err)
		return
	}
	resp := resultResponse{
		Data:    res.Data,
		Status:  res.Status,
		Loading: res.Loading,
		Stale:   res.Stale,
	}
	if !res.UpdatedAt.IsZero() {
		at := res.UpdatedAt
		resp.UpdatedAt = &at
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	} else if err != nil {
		resp.Error = err.Error()
	}
	status := http.StatusOK
	if err != nil {
		// данных нет совсем
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

// decodeJSON читает тело запроса в v; при ошибке сам пишет 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

// idParam разбирает числовой параметр пути; при ошибке пишет 400.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
