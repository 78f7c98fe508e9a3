package models

import "time"

// TrackingSession is the live location-sharing channel bound to one
// in-progress mission. Exactly one session may exist per post, and its
// only writer is the post's accepted provider.
type TrackingSession struct {
	PostID      string    `json:"post_id" db:"post_id"`
	ProviderID  string    `json:"provider_id" db:"provider_id"`
	Latitude    float64   `json:"latitude" db:"latitude"`
	Longitude   float64   `json:"longitude" db:"longitude"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// Position is a single location update pushed to tracking subscribers.
type Position struct {
	PostID    string    `json:"post_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rating is recorded against the provider when the owner confirms
// completion of a mission.
type Rating struct {
	ID        string    `json:"id" db:"id"`
	TargetID  string    `json:"target_id" db:"target_id"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	Score     int       `json:"score" db:"score"`
	Comment   string    `json:"comment" db:"comment"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
