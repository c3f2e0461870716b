package model

import "time"

type Conversation struct {
	ID           int64         `json:"id"`
	Name         *string       `json:"name,omitempty"`
	IsGroup      bool          `json:"isGroup"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	InviteCode   *string       `json:"inviteCode,omitempty"`
	GroupProfile *string       `json:"groupProfile,omitempty"`
}

type Participant struct {
	ID             int64      `json:"id,omitempty"`
	UserID         int64      `json:"userId"`
	ConversationID int64      `json:"conversationId"`
	IsAdmin        bool       `json:"isAdmin"`
	JoinedAt       time.Time  `json:"joinedAt"`
	LeftAt         *time.Time `json:"leftAt,omitempty"`
	User           *User      `json:"user,omitempty"`
	UnreadCount    int        `json:"unreadCount"`
}

func (p *Participant) Active() bool { return p.LeftAt == nil }

// HasActiveParticipant: пользователь состоит в беседе и не покинул её.
func (c *Conversation) HasActiveParticipant(userID int64) bool {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID && c.Participants[i].Active() {
			return true
		}
	}
	return false
}

// DisplayName: для группы: её имя, для личного чата: имя собеседника.
func (c *Conversation) DisplayName(currentUserID int64) string {
	if c.IsGroup {
		if c.Name != nil && *c.Name != "" {
			return *c.Name
		}
		return "Group Chat"
	}
	for _, p := range c.Participants {
		if p.UserID != currentUserID && p.User != nil {
			return p.User.Username
		}
	}
	return "Chat"
}

// ConversationIDs собирает id бесед в исходном порядке.
func ConversationIDs(convs []*Conversation) []int64 {
	ids := make([]int64, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	return ids
}

// GroupProfileUpdate: форма PUT /conversations/:id/profile.
type GroupProfileUpdate struct {
	Name  string
	Image *Upload
}
