package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/syncer"
)

type MessageHandler struct {
	engine *syncer.Engine
}

func NewMessageHandler(engine *syncer.Engine) *MessageHandler {
	return &MessageHandler{engine: engine}
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	res, err := h.engine.Messages(r.Context(), id)
	writeResult(w, res, err)
}

type sendRequest struct {
	Content  string `json:"content"`
	ParentID *int64 `json:"parentId"`
}

// Send принимает JSON {content, parentId} или multipart с полями content,
// parentId и файлом file.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	msg := model.OutgoingMessage{ConversationID: id}
	if isMultipart(r) {
		if !parseMultipart(w, r) {
			return
		}
		file, closer, err := formUpload(r, "file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid file")
			return
		}
		defer closeUpload(closer)
		msg.Content = r.FormValue("content")
		msg.File = file
		if p := strings.TrimSpace(r.FormValue("parentId")); p != "" {
			pid, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid parentId")
				return
			}
			msg.ParentID = &pid
		}
	} else {
		var req sendRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		msg.Content = req.Content
		msg.ParentID = req.ParentID
	}
	sent, err := h.engine.SendMessage(r.Context(), msg)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sent)
}

type editRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	mid, ok := idParam(w, r, "messageId")
	if !ok {
		return
	}
	var req editRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	edited, err := h.engine.EditMessage(r.Context(), id, mid, req.Content)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edited)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	mid, ok := idParam(w, r, "messageId")
	if !ok {
		return
	}
	if err := h.engine.DeleteMessage(r.Context(), id, mid); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reactRequest struct {
	Reaction string `json:"reaction"`
}

func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	mid, ok := idParam(w, r, "messageId")
	if !ok {
		return
	}
	var req reactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reaction) == "" {
		writeError(w, http.StatusBadRequest, "reaction required")
		return
	}
	if err := h.engine.React(r.Context(), id, mid, req.Reaction); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	mid, ok := idParam(w, r, "messageId")
	if !ok {
		return
	}
	if err := h.engine.MarkRead(r.Context(), id, mid); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
