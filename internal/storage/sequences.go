package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/promptseq/promptseq/pkg/models"
)

// CreateSequence inserts a sequence for the owner.
func (s *Store) CreateSequence(ctx context.Context, ownerID int64, name, description string) (*models.Sequence, error) {
	defer s.observe("insert", "sequences")()

	now := time.Now().UTC()
	seq := &models.Sequence{
		UserID:      ownerID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO sequences (user_id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		ownerID, name, description, now, now,
	).Scan(&seq.ID)
	if err != nil {
		return nil, fmt.Errorf("create sequence: %w", err)
	}
	return seq, nil
}

// GetSequence fetches an owner's sequence with its blocks and variables
// loaded eagerly.
func (s *Store) GetSequence(ctx context.Context, ownerID, id int64) (*models.Sequence, error) {
	seq, err := s.getSequenceRow(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if seq.Blocks, err = s.ListBlocksBySequence(ctx, ownerID, id); err != nil {
		return nil, err
	}
	if seq.Variables, err = s.ListVariablesBySequence(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return seq, nil
}

func (s *Store) getSequenceRow(ctx context.Context, ownerID, id int64) (*models.Sequence, error) {
	defer s.observe("select", "sequences")()

	seq := &models.Sequence{}
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, user_id, name, description, created_at, updated_at
		 FROM sequences WHERE id = ? AND user_id = ?`),
		id, ownerID,
	).Scan(&seq.ID, &seq.UserID, &seq.Name, &desc, &seq.CreatedAt, &seq.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	seq.Description = nullString(desc)
	return seq, nil
}

// ListSequences returns the owner's sequences, newest first.
func (s *Store) ListSequences(ctx context.Context, ownerID int64, skip, limit int) ([]*models.Sequence, error) {
	defer s.observe("select", "sequences")()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, user_id, name, description, created_at, updated_at
		 FROM sequences WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		ownerID, limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	var out []*models.Sequence
	for rows.Next() {
		seq := &models.Sequence{}
		var desc sql.NullString
		if err := rows.Scan(&seq.ID, &seq.UserID, &seq.Name, &desc, &seq.CreatedAt, &seq.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		seq.Description = nullString(desc)
		out = append(out, seq)
	}
	return out, rows.Err()
}

// UpdateSequence updates name and description of an owner's sequence.
func (s *Store) UpdateSequence(ctx context.Context, ownerID, id int64, name, description string) (*models.Sequence, error) {
	defer s.observe("update", "sequences")()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE sequences SET name = ?, description = ?, updated_at = ? WHERE id = ? AND user_id = ?`),
		name, description, time.Now().UTC(), id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update sequence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetSequence(ctx, ownerID, id)
}

// DeleteSequence removes an owner's sequence; blocks, variables and runs
// cascade.
func (s *Store) DeleteSequence(ctx context.Context, ownerID, id int64) error {
	defer s.observe("delete", "sequences")()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM sequences WHERE id = ? AND user_id = ?`),
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete sequence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
