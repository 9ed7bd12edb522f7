package model

import (
	"strings"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url"`
	IsOnline  bool      `json:"is_online"`
	CreatedAt time.Time `json:"created_at"`
}

// SchoolDomain returns the institution part of the verified email
// ("alex@mit.edu" -> "mit.edu"). Empty when the email has no domain.
func (u *User) SchoolDomain() string {
	idx := strings.LastIndex(u.Email, "@")
	if idx < 0 || idx == len(u.Email)-1 {
		return ""
	}
	return strings.ToLower(u.Email[idx+1:])
}
