// Package auth authenticates users against the users table and manages
// login and logout of the Redis backed session.
package auth

import "time"

// User is an account able to sign in. Balance is the client's
// outstanding TTC debt; it stays zero for staff roles.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	Role         string
	Balance      float64
	IsActive     bool
	CreatedAt    time.Time
}
