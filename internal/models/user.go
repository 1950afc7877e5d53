package models

import "time"

// User is a platform member. Authentication is the mock-auth flavor the demo
// runs on: email plus password, sessions issued as JWTs.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email" example:"carmen@example.com"`
	Handle    string    `json:"handle" db:"handle" example:"carmen_rodriguez"`
	Verified  bool      `json:"verified" db:"verified"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
