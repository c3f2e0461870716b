package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/cache"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/session"
)

// Mutations are single REST calls. Nothing is applied locally before the
// server answers: on success the affected keys are invalidated and the
// refetch reconciles; on failure the error is returned and published as a
// Notice.

func (e *Engine) mutate(op string, err error, keys ...cache.Key) error {
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return err
		}
		logger.Errorf("syncer.%s: %v", op, err)
		if !api.IsAuthError(err) {
			e.publishNotice(NoticeMutation, op, err.Error())
		}
		return fmt.Errorf("syncer.%s: %w", op, err)
	}
	for _, k := range keys {
		e.cache.Invalidate(k)
	}
	return nil
}

func (e *Engine) requireSession() error {
	if !e.session.IsAuthenticated() {
		return session.ErrNoSession
	}
	return nil
}

func (e *Engine) SendMessage(ctx context.Context, msg model.OutgoingMessage) (*model.Message, error) {
	if strings.TrimSpace(msg.Content) == "" && msg.File == nil {
		return nil, ErrEmptyMessage
	}
	if err := e.requireSession(); err != nil {
		return nil, err
	}
	if msg.ParentID != nil {
		if err := e.checkParent(msg.ConversationID, *msg.ParentID); err != nil {
			return nil, err
		}
	}
	sent, err := e.api.SendMessage(ctx, msg)
	return sent, e.mutate("SendMessage", err, messagesKey(msg.ConversationID), conversationsKey)
}

// checkParent rejects a reply whose parent is cached under another
// conversation. A parent not cached anywhere is left to the server.
func (e *Engine) checkParent(conversationID, parentID int64) error {
	for _, key := range e.cache.Keys(cache.KindMessages) {
		entry, ok := e.cache.Peek(key)
		if !ok {
			continue
		}
		msgs, _ := entry.Data.([]*model.Message)
		for _, m := range msgs {
			if m.ID != parentID {
				continue
			}
			if key.ID != conversationID || m.ConversationID != conversationID {
				return ErrParentConversation
			}
			return nil
		}
	}
	return nil
}

func (e *Engine) EditMessage(ctx context.Context, conversationID, messageID int64, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if err := e.requireSession(); err != nil {
		return nil, err
	}
	edited, err := e.api.EditMessage(ctx, messageID, content)
	if err == nil && edited != nil && edited.ConversationID != 0 {
		conversationID = edited.ConversationID
	}
	return edited, e.mutate("EditMessage", err, messagesKey(conversationID))
}

func (e *Engine) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	err := e.api.DeleteMessage(ctx, messageID)
	return e.mutate("DeleteMessage", err, messagesKey(conversationID), conversationsKey)
}

func (e *Engine) React(ctx context.Context, conversationID, messageID int64, reaction string) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	err := e.api.React(ctx, messageID, reaction)
	return e.mutate("React", err, messagesKey(conversationID))
}

// MarkRead is a no-op for own messages and for messages the cache already
// shows as read by the current user.
func (e *Engine) MarkRead(ctx context.Context, conversationID, messageID int64) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	me := e.session.UserID()
	for _, m := range e.cachedMessages(conversationID) {
		if m.ID == messageID && (m.SenderID == me || m.IsReadBy(me)) {
			return nil
		}
	}
	err := e.api.MarkRead(ctx, messageID)
	return e.mutate("MarkRead", err, messagesKey(conversationID), conversationsKey)
}

// MarkConversationRead marks every cached message from other users that is
// not yet read. It returns the number of receipts sent.
func (e *Engine) MarkConversationRead(ctx context.Context, conversationID int64) (int, error) {
	if err := e.requireSession(); err != nil {
		return 0, err
	}
	me := e.session.UserID()
	sent := 0
	for _, m := range e.cachedMessages(conversationID) {
		if m.SenderID == me || m.IsReadBy(me) {
			continue
		}
		if err := e.api.MarkRead(ctx, m.ID); err != nil {
			return sent, e.mutate("MarkConversationRead", err)
		}
		sent++
	}
	if sent == 0 {
		return 0, nil
	}
	return sent, e.mutate("MarkConversationRead", nil, messagesKey(conversationID), conversationsKey)
}

func (e *Engine) cachedMessages(conversationID int64) []*model.Message {
	entry, ok := e.cache.Peek(messagesKey(conversationID))
	if !ok {
		return nil
	}
	msgs, _ := entry.Data.([]*model.Message)
	return msgs
}

func (e *Engine) CreateGroup(ctx context.Context, name string) (*model.Conversation, error) {
	if err := e.requireSession(); err != nil {
		return nil, err
	}
	conv, err := e.api.CreateGroup(ctx, strings.TrimSpace(name))
	return conv, e.joined("CreateGroup", conv, err)
}

// StartPrivate opens a private conversation over REST.
func (e *Engine) StartPrivate(ctx context.Context, username string) (*model.Conversation, error) {
	if err := e.requireSession(); err != nil {
		return nil, err
	}
	conv, err := e.api.CreatePrivate(ctx, strings.TrimSpace(username))
	return conv, e.joined("StartPrivate", conv, err)
}

func (e *Engine) JoinByInvite(ctx context.Context, inviteCode string) (*model.Conversation, error) {
	if err := e.requireSession(); err != nil {
		return nil, err
	}
	conv, err := e.api.JoinByInvite(ctx, strings.TrimSpace(inviteCode))
	return conv, e.joined("JoinByInvite", conv, err)
}

// joined invalidates the conversation list and subscribes to the new room.
func (e *Engine) joined(op string, conv *model.Conversation, err error) error {
	if err := e.mutate(op, err, conversationsKey); err != nil {
		return err
	}
	if conv != nil && conv.ID != 0 {
		e.join(conv.ID)
	}
	return nil
}

func (e *Engine) UpdateConversationProfile(ctx context.Context, conversationID int64, upd model.GroupProfileUpdate) (*model.Conversation, error) {
	if err := e.requireSession(); err != nil {
		return nil, err
	}
	conv, err := e.api.UpdateConversationProfile(ctx, conversationID, upd)
	return conv, e.mutate("UpdateConversationProfile", err, conversationsKey)
}

func (e *Engine) AddParticipant(ctx context.Context, conversationID int64, username string) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	err := e.api.AddParticipant(ctx, conversationID, strings.TrimSpace(username))
	return e.mutate("AddParticipant", err, conversationsKey)
}

func (e *Engine) RemoveParticipant(ctx context.Context, conversationID, participantID int64) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	err := e.api.RemoveParticipant(ctx, conversationID, participantID)
	return e.mutate("RemoveParticipant", err, conversationsKey)
}

func (e *Engine) LeaveConversation(ctx context.Context, conversationID int64) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	err := e.api.LeaveConversation(ctx, conversationID)
	if err = e.mutate("LeaveConversation", err, conversationsKey); err != nil {
		return err
	}
	e.cache.Remove(messagesKey(conversationID))
	return nil
}

// UpdateProfile stores the returned user both in the cache and as the
// session user.
func (e *Engine) UpdateProfile(ctx context.Context, upd model.ProfileUpdate) (*model.User, error) {
	if err := e.requireSession(); err != nil {
		return nil, err
	}
	user, err := e.api.UpdateProfile(ctx, upd)
	if err = e.mutate("UpdateProfile", err); err != nil {
		return nil, err
	}
	e.cache.Set(profileKey, user)
	if err := e.session.SetUser(ctx, user); err != nil {
		logger.Errorf("syncer.UpdateProfile: persist session user: %v", err)
	}
	return user, nil
}

func (e *Engine) UpdateSettings(ctx context.Context, s model.Settings) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	err := e.api.UpdateSettings(ctx, s)
	return e.mutate("UpdateSettings", err, settingsKey)
}

// Login authenticates and stores the session; Run then connects the channel.
func (e *Engine) Login(ctx context.Context, username, password string) (*model.User, error) {
	resp, err := e.api.Login(ctx, model.LoginRequest{Username: strings.TrimSpace(username), Password: password})
	if err != nil {
		return nil, fmt.Errorf("syncer.Login: %w", err)
	}
	if resp.User == nil || resp.AccessToken == "" {
		return nil, fmt.Errorf("syncer.Login: response without user or token")
	}
	if err := e.session.SetSession(ctx, resp.User, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("syncer.Login: %w", err)
	}
	logger.Infof("syncer: logged in as %s", resp.User.Username)
	return resp.User, nil
}

// Register creates an account. The server usually answers without a token
// (email verification comes first); when it sends one the session is set.
func (e *Engine) Register(ctx context.Context, req model.RegisterRequest) (*model.AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	resp, err := e.api.Register(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("syncer.Register: %w", err)
	}
	if resp.User != nil && resp.AccessToken != "" {
		if err := e.session.SetSession(ctx, resp.User, resp.AccessToken); err != nil {
			return resp, fmt.Errorf("syncer.Register: %w", err)
		}
	}
	return resp, nil
}

func (e *Engine) VerifyEmail(ctx context.Context, email, otp string) error {
	if err := e.api.VerifyEmail(ctx, strings.TrimSpace(email), strings.TrimSpace(otp)); err != nil {
		return fmt.Errorf("syncer.VerifyEmail: %w", err)
	}
	return nil
}

func (e *Engine) ResendOTP(ctx context.Context, email string) error {
	if err := e.api.ResendOTP(ctx, strings.TrimSpace(email)); err != nil {
		return fmt.Errorf("syncer.ResendOTP: %w", err)
	}
	return nil
}

func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	if err := e.api.ForgotPassword(ctx, strings.TrimSpace(email)); err != nil {
		return fmt.Errorf("syncer.ForgotPassword: %w", err)
	}
	return nil
}

func (e *Engine) ResetPassword(ctx context.Context, email, otp, newPassword string) error {
	if err := e.api.ResetPassword(ctx, strings.TrimSpace(email), strings.TrimSpace(otp), newPassword); err != nil {
		return fmt.Errorf("syncer.ResetPassword: %w", err)
	}
	return nil
}

// Logout clears the session and its persisted entry and drops all cached
// data right away; Run stops the channel when it sees the change.
func (e *Engine) Logout(ctx context.Context) error {
	err := e.session.Clear(ctx)
	e.resetState()
	if err != nil {
		return fmt.Errorf("syncer.Logout: %w", err)
	}
	logger.Info("syncer: logged out")
	return nil
}
