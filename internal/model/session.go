package model

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse: ответ /auth/login и /auth/register.
type AuthResponse struct {
	User        *User  `json:"user"`
	AccessToken string `json:"accessToken"`
	Message     string `json:"message,omitempty"`
}

// Session: текущая личность клиента: пользователь и токен.
type Session struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
