package session

import "strings"

// MaskToken маскирует access token для логов и вывода (не светить полный токен).
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 8 {
		return "****"
	}
	return s[:6] + "***"
}
