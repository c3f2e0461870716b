package model

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceAway    PresenceStatus = "AWAY"
	PresenceBusy    PresenceStatus = "BUSY"
	PresenceOffline PresenceStatus = "OFFLINE"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceBusy, PresenceOffline:
		return true
	}
	return false
}

type User struct {
	ID             int64          `json:"id"`
	Username       string         `json:"username"`
	Email          string         `json:"email,omitempty"`
	Bio            string         `json:"bio,omitempty"`
	ProfileImage   string         `json:"profileImage,omitempty"`
	PresenceStatus PresenceStatus `json:"presenceStatus,omitempty"`
	CreatedAt      time.Time      `json:"createdAt,omitempty"`
	UpdatedAt      time.Time      `json:"updatedAt,omitempty"`
}

// Presence: транзиентный статус пользователя, приходит только через realtime.
type Presence struct {
	UserID int64          `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// Settings: пользовательские настройки (/profile/settings).
type Settings struct {
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	DarkModeEnabled      bool   `json:"darkModeEnabled"`
	Language             string `json:"language"`
}

// ProfileUpdate: поля формы профиля; Image необязателен.
type ProfileUpdate struct {
	Username string
	Email    string
	Bio      string
	Image    *Upload
}
