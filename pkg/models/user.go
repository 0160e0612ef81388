// Package models provides domain types for the promptseq backend.
package models

// User is the identity that owns sequences and global lists.
type User struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	HashedPassword string `json:"-"`
	IsActive       bool   `json:"is_active"`
}
