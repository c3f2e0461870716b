package handler

import (
	"net/http"

	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/syncer"
)

type UserHandler struct {
	engine *syncer.Engine
}

func NewUserHandler(engine *syncer.Engine) *UserHandler {
	return &UserHandler{engine: engine}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Profile(r.Context())
	writeResult(w, res, err)
}

type profileRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Bio      string `json:"bio"`
}

// UpdateProfile принимает JSON или multipart (username, email, bio, image).
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd model.ProfileUpdate
	if isMultipart(r) {
		if !parseMultipart(w, r) {
			return
		}
		img, closer, err := formUpload(r, "image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid image")
			return
		}
		defer closeUpload(closer)
		upd = model.ProfileUpdate{
			Username: r.FormValue("username"),
			Email:    r.FormValue("email"),
			Bio:      r.FormValue("bio"),
			Image:    img,
		}
	} else {
		var req profileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		upd = model.ProfileUpdate{Username: req.Username, Email: req.Email, Bio: req.Bio}
	}
	user, err := h.engine.UpdateProfile(r.Context(), upd)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	res, err := h.engine.UserProfile(r.Context(), id)
	writeResult(w, res, err)
}

func (h *UserHandler) Online(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.OnlineUsers(r.Context())
	writeResult(w, res, err)
}

func (h *UserHandler) RefreshOnline(w http.ResponseWriter, _ *http.Request) {
	if err := h.engine.RefreshOnlineUsers(); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *UserHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Settings(r.Context())
	writeResult(w, res, err)
}

func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req model.Settings
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.UpdateSettings(r.Context(), req); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
