package models

import "time"

// Pledge types.
const (
	PledgeTypeDonation = "DONATION"
	PledgeTypeContract = "CONTRACT"
)

// Post statuses.
const (
	PostStatusOpen   = "OPEN"
	PostStatusClosed = "CLOSED"
)

// Post is the funding post a pledge moves GLM toward. Only the fields the
// ledger needs are modeled here; presentation lives in the frontend.
type Post struct {
	ID              string    `json:"id" db:"id"`
	OwnerID         string    `json:"owner_id" db:"owner_id"`
	Title           string    `json:"title" db:"title"`
	Status          string    `json:"status" db:"status"` // OPEN or CLOSED
	AcceptContracts bool      `json:"accept_contracts" db:"accept_contracts"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Pledge is a user's commitment of GLM to a post. Its id doubles as the
// ledger reference id, so the entry pair can be traced back to it.
type Pledge struct {
	ID        string    `json:"id" db:"id"`
	PostID    string    `json:"post_id" db:"post_id"`
	PledgerID string    `json:"pledger_id" db:"pledger_id"`
	Type      string    `json:"type" db:"type"` // DONATION or CONTRACT
	Amount    int64     `json:"amount_glm" db:"amount_glm"`
	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
