package handler

import (
	"net/http"
	"strings"

	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/syncer"
)

type ChatHandler struct {
	engine *syncer.Engine
}

func NewChatHandler(engine *syncer.Engine) *ChatHandler {
	return &ChatHandler{engine: engine}
}

// conversationView добавляет к беседе имя для списка: группа или собеседник.
type conversationView struct {
	*model.Conversation
	DisplayName string `json:"displayName"`
}

func (h *ChatHandler) views(convs []*model.Conversation) []conversationView {
	me := h.engine.Session().UserID()
	out := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationView{Conversation: c, DisplayName: c.DisplayName(me)})
	}
	return out
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Conversations(r.Context())
	writeResult(w, syncer.Result[[]conversationView]{
		Data:      h.views(res.Data),
		Status:    res.Status,
		Loading:   res.Loading,
		Stale:     res.Stale,
		Err:       res.Err,
		UpdatedAt: res.UpdatedAt,
	}, err)
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	conv, err := h.engine.Conversation(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views([]*model.Conversation{conv})[0])
}

type createGroupRequest struct {
	Name string `json:"name"`
}

func (h *ChatHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	conv, err := h.engine.CreateGroup(r.Context(), req.Name)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

type usernameRequest struct {
	Username string `json:"username"`
}

// StartPrivate запрашивает личный чат; беседа придёт событием newConversation.
func (h *ChatHandler) StartPrivate(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	if err := h.engine.StartPrivateChat(r.Context(), req.Username); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type joinRequest struct {
	InviteCode string `json:"inviteCode"`
}

func (h *ChatHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.InviteCode) == "" {
		writeError(w, http.StatusBadRequest, "inviteCode required")
		return
	}
	conv, err := h.engine.JoinByInvite(r.Context(), req.InviteCode)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// UpdateProfile принимает JSON {name} или multipart с полями name и image.
func (h *ChatHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var upd model.GroupProfileUpdate
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
		upd = model.GroupProfileUpdate{Name: r.FormValue("name"), Image: img}
	} else {
		var req createGroupRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		upd.Name = req.Name
	}
	conv, err := h.engine.UpdateConversationProfile(r.Context(), id, upd)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req usernameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	if err := h.engine.AddParticipant(r.Context(), id, req.Username); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	pid, ok := idParam(w, r, "participantId")
	if !ok {
		return
	}
	if err := h.engine.RemoveParticipant(r.Context(), id, pid); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.engine.LeaveConversation(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead отмечает прочитанными все чужие сообщения беседы.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	n, err := h.engine.MarkConversationRead(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (h *ChatHandler) Typing(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	users := h.engine.TypingUsers(id)
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type typingRequest struct {
	IsTyping bool `json:"isTyping"`
}

func (h *ChatHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req typingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.SetTyping(id, req.IsTyping); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
