package model

import "time"

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserPublic — профиль, присоединяемый к сообщениям.
type UserPublic struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}
