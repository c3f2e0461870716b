package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/messenger-client/internal/model"
)

func (c *Client) GetProfile(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := c.doJSON(ctx, http.MethodGet, "/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile отправляет форму профиля; сервер возвращает обновлённого пользователя.
func (c *Client) UpdateProfile(ctx context.Context, upd model.ProfileUpdate) (*model.User, error) {
	fields := map[string]string{"username": upd.Username, "email": upd.Email, "bio": upd.Bio}
	files := map[string]*model.Upload{"profileImage": upd.Image}
	var out model.User
	if err := c.doMultipart(ctx, http.MethodPut, "/profile", fields, files, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetUserProfile(ctx context.Context, userID int64) (*model.User, error) {
	var out model.User
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/profile/%d", userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OnlineUsers(ctx context.Context) ([]*model.User, error) {
	var out []*model.User
	if err := c.doJSON(ctx, http.MethodGet, "/profile/online", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSettings(ctx context.Context) (*model.Settings, error) {
	var out model.Settings
	if err := c.doJSON(ctx, http.MethodGet, "/profile/settings", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSettings(ctx context.Context, s model.Settings) error {
	return c.doJSON(ctx, http.MethodPut, "/profile/settings", s, nil)
}
