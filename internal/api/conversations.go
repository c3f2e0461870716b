package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/messenger-client/internal/model"
)

func (c *Client) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	var out []*model.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateGroup создаёт групповую беседу.
func (c *Client) CreateGroup(ctx context.Context, name string) (*model.Conversation, error) {
	var out model.Conversation
	body := map[string]any{"name": name, "isGroup": true}
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePrivate открывает (или возвращает существующий) личный чат с username.
func (c *Client) CreatePrivate(ctx context.Context, username string) (*model.Conversation, error) {
	var out model.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations/private", map[string]string{"username": username}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinByInvite(ctx context.Context, inviteCode string) (*model.Conversation, error) {
	var out model.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations/join-by-invite", map[string]string{"inviteCode": inviteCode}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateConversationProfile(ctx context.Context, conversationID int64, upd model.GroupProfileUpdate) (*model.Conversation, error) {
	var out model.Conversation
	path := fmt.Sprintf("/conversations/%d/profile", conversationID)
	fields := map[string]string{"name": upd.Name}
	files := map[string]*model.Upload{"groupProfile": upd.Image}
	if err := c.doMultipart(ctx, http.MethodPut, path, fields, files, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddParticipant(ctx context.Context, conversationID int64, username string) error {
	path := fmt.Sprintf("/conversations/%d/participants", conversationID)
	return c.doJSON(ctx, http.MethodPost, path, map[string]string{"username": username}, nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, conversationID, participantID int64) error {
	path := fmt.Sprintf("/conversations/%d/participants/%d", conversationID, participantID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) LeaveConversation(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/conversations/%d/leave", conversationID)
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}
