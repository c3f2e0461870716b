package handler

import (
	"net/http"

	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/syncer"
)

type SessionHandler struct {
	engine *syncer.Engine
}

func NewSessionHandler(engine *syncer.Engine) *SessionHandler {
	return &SessionHandler{engine: engine}
}

// sessionResponse не содержит токен: он остаётся в процессе моста.
type sessionResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *model.User `json:"user"`
	State         string      `json:"state"`
}

func (h *SessionHandler) Get(w http.ResponseWriter, _ *http.Request) {
	user := h.engine.CurrentUser()
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: user != nil,
		User:          user,
		State:         h.engine.State().String(),
	})
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	user, err := h.engine.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: user, State: h.engine.State().String()})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Logout(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerResponse struct {
	User          *model.User `json:"user"`
	Message       string      `json:"message,omitempty"`
	Authenticated bool        `json:"authenticated"`
}

func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username, email and password required")
		return
	}
	resp, err := h.engine.Register(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		User:          resp.User,
		Message:       resp.Message,
		Authenticated: resp.AccessToken != "",
	})
}

type otpRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

func (h *SessionHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.OTP == "" {
		writeError(w, http.StatusBadRequest, "email and otp required")
		return
	}
	if err := h.engine.VerifyEmail(r.Context(), req.Email, req.OTP); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email required")
		return
	}
	if err := h.engine.ResendOTP(r.Context(), req.Email); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email required")
		return
	}
	if err := h.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.OTP == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "email, otp and newPassword required")
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
