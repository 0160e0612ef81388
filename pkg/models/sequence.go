package models

import "time"

// Sequence is an authored pipeline of blocks. It owns its blocks, variables
// and runs; deleting a sequence cascades to all three.
type Sequence struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Blocks and Variables are loaded eagerly when the sequence is fetched
	// as an aggregate; nil on list responses.
	Blocks    []*Block    `json:"blocks,omitempty"`
	Variables []*Variable `json:"variables,omitempty"`
}
