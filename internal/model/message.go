package model

import (
	"io"
	"time"
)

type ContentType string

const (
	ContentTypeText  ContentType = "TEXT"
	ContentTypeImage ContentType = "IMAGE"
	ContentTypeFile  ContentType = "FILE"
	ContentTypeAudio ContentType = "AUDIO"
	ContentTypeVideo ContentType = "VIDEO"
)

type Message struct {
	ID             int64             `json:"id"`
	ConversationID int64             `json:"conversationId"`
	SenderID       int64             `json:"senderId"`
	Content        string            `json:"content"`
	ContentType    ContentType       `json:"contentType"`
	Timestamp      time.Time         `json:"timestamp"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	ParentID       *int64            `json:"parentId,omitempty"`
	Parent         *Message          `json:"parent,omitempty"`
	Sender         *User             `json:"sender,omitempty"`
	Reactions      []MessageReaction `json:"reactions"`
	ReadBy         []ReadReceipt     `json:"readBy"`
}

type MessageReaction struct {
	ID        int64  `json:"id,omitempty"`
	MessageID int64  `json:"messageId"`
	UserID    int64  `json:"userId"`
	Reaction  string `json:"reaction"`
	User      *User  `json:"user,omitempty"`
}

type ReadReceipt struct {
	ID        int64     `json:"id,omitempty"`
	MessageID int64     `json:"messageId,omitempty"`
	UserID    int64     `json:"userId"`
	ReadAt    time.Time `json:"readAt,omitempty"`
	User      *User     `json:"user,omitempty"`
}

// Edited: сообщение редактировалось после отправки.
func (m *Message) Edited() bool {
	return !m.UpdatedAt.IsZero() && !m.UpdatedAt.Equal(m.Timestamp)
}

func (m *Message) IsReadBy(userID int64) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// WithReadReceipt возвращает копию сообщения, в которой отметка r заменяет
// прежнюю отметку того же пользователя. Исходное сообщение не меняется.
func (m *Message) WithReadReceipt(r ReadReceipt) *Message {
	cp := *m
	cp.ReadBy = make([]ReadReceipt, 0, len(m.ReadBy)+1)
	for _, rb := range m.ReadBy {
		if rb.UserID != r.UserID {
			cp.ReadBy = append(cp.ReadBy, rb)
		}
	}
	cp.ReadBy = append(cp.ReadBy, r)
	return &cp
}

// Upload: файл для multipart-запроса (вложение, аватар, обложка группы).
type Upload struct {
	Name   string
	Reader io.Reader
}

// OutgoingMessage: параметры отправки сообщения.
type OutgoingMessage struct {
	ConversationID int64
	Content        string
	ParentID       *int64
	File           *Upload
}
