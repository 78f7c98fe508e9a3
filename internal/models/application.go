package models

import "time"

const (
	ApplicationStatusPending  = "pending"
	ApplicationStatusAccepted = "accepted"
	ApplicationStatusRejected = "rejected"
)

// Application is a provider's bid to fulfill a post. For a given post at
// most one application is ever accepted, and it matches Post.AcceptedBy.
type Application struct {
	ID          string    `json:"id" db:"id"`
	PostID      string    `json:"post_id" db:"post_id"`
	ProviderID  string    `json:"provider_id" db:"provider_id"`
	Status      string    `json:"status" db:"status"`
	SubmittedAt time.Time `json:"submitted_at" db:"submitted_at"`
}

// Candidate is a pending application joined with the provider's public
// profile, as shown to the post owner during review.
type Candidate struct {
	Application
	ProviderName       string `json:"provider_name" db:"full_name"`
	ProviderPhone      string `json:"provider_phone" db:"phone"`
	ProviderProfession string `json:"provider_profession" db:"profession"`
}
