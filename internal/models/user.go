package models

import "time"

type User struct {
	ID         string    `json:"id" db:"id"`
	FullName   string    `json:"full_name" db:"full_name"`
	Phone      string    `json:"phone" db:"phone"`
	Profession string    `json:"profession" db:"profession"`
	PhotoURL   string    `json:"photo_url" db:"photo_url"` // opaque object-storage URL
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
