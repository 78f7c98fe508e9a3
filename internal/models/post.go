package models

import "time"

// Post statuses. A post stays "available" while candidates apply; it is
// only ever moved to "taken" by the mission coordinator's approval.
const (
	PostStatusAvailable       = "available"
	PostStatusPendingApproval = "pending_approval"
	PostStatusTaken           = "taken"
	PostStatusCompleted       = "completed"
)

// Post is a client's service request, visible to providers until resolved.
type Post struct {
	ID          string    `json:"id" db:"id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	Title       string    `json:"title" db:"title"`
	Category    string    `json:"category" db:"category"`
	Description string    `json:"description" db:"description"`
	Budget      *int64    `json:"budget" db:"budget"` // FCFA, whole units
	Phone       string    `json:"phone" db:"phone"`
	Latitude    float64   `json:"latitude" db:"latitude"`
	Longitude   float64   `json:"longitude" db:"longitude"`
	Status      string    `json:"status" db:"status"`
	AcceptedBy  *string   `json:"accepted_by,omitempty" db:"accepted_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// NearbyPost is a post annotated with its great-circle distance from the
// search origin, in kilometers.
type NearbyPost struct {
	Post
	DistanceKm float64 `json:"distance_km"`
}
