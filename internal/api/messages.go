package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/messenger-client/internal/model"
)

func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]*model.Message, error) {
	var out []*model.Message
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/messages/%d", conversationID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage отправляет multipart: content, необязательные file и parentId.
func (c *Client) SendMessage(ctx context.Context, msg model.OutgoingMessage) (*model.Message, error) {
	fields := map[string]string{"content": msg.Content}
	if msg.ParentID != nil {
		fields["parentId"] = strconv.FormatInt(*msg.ParentID, 10)
	}
	files := map[string]*model.Upload{"file": msg.File}
	var out model.Message
	path := fmt.Sprintf("/messages/%d", msg.ConversationID)
	if err := c.doMultipart(ctx, http.MethodPost, path, fields, files, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) (*model.Message, error) {
	var out model.Message
	path := fmt.Sprintf("/messages/%d", messageID)
	if err := c.doJSON(ctx, http.MethodPut, path, map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/messages/%d", messageID), nil, nil)
}

func (c *Client) React(ctx context.Context, messageID int64, reaction string) error {
	path := fmt.Sprintf("/messages/%d/react", messageID)
	return c.doJSON(ctx, http.MethodPost, path, map[string]string{"reaction": reaction}, nil)
}

func (c *Client) MarkRead(ctx context.Context, messageID int64) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/messages/%d/read", messageID), nil, nil)
}
