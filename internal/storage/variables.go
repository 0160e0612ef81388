package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/promptseq/promptseq/pkg/models"
)

// CreateVariable inserts a variable into one of the owner's sequences.
// Name collisions within the sequence return ErrDuplicate.
func (s *Store) CreateVariable(ctx context.Context, ownerID int64, v *models.Variable) (*models.Variable, error) {
	if _, err := s.getSequenceRow(ctx, ownerID, v.SequenceID); err != nil {
		return nil, err
	}

	defer s.observe("insert", "variables")()

	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO variables (sequence_id, name, type, value_json, description)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		v.SequenceID, v.Name, string(v.Type), rawOrNull(v.Value), v.Description,
	).Scan(&v.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create variable: %w", err)
	}
	return v, nil
}

// GetVariable fetches a variable owned (via its sequence) by ownerID.
func (s *Store) GetVariable(ctx context.Context, ownerID, id int64) (*models.Variable, error) {
	defer s.observe("select", "variables")()

	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT v.id, v.sequence_id, v.name, v.type, v.value_json, v.description
		 FROM variables v JOIN sequences s ON s.id = v.sequence_id
		 WHERE v.id = ? AND s.user_id = ?`),
		id, ownerID,
	)
	return scanVariable(row)
}

// ListVariablesBySequence returns the sequence's variables, owner-scoped.
func (s *Store) ListVariablesBySequence(ctx context.Context, ownerID, sequenceID int64) ([]*models.Variable, error) {
	defer s.observe("select", "variables")()

	if _, err := s.getSequenceRow(ctx, ownerID, sequenceID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT v.id, v.sequence_id, v.name, v.type, v.value_json, v.description
		 FROM variables v JOIN sequences s ON s.id = v.sequence_id
		 WHERE v.sequence_id = ? AND s.user_id = ?
		 ORDER BY v.id ASC`),
		sequenceID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	var out []*models.Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateVariable rewrites an owner's variable. Renaming into an existing
// name returns ErrDuplicate.
func (s *Store) UpdateVariable(ctx context.Context, ownerID int64, v *models.Variable) (*models.Variable, error) {
	defer s.observe("update", "variables")()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE variables SET name = ?, type = ?, value_json = ?, description = ?
		 WHERE id = ? AND sequence_id IN (SELECT id FROM sequences WHERE user_id = ?)`),
		v.Name, string(v.Type), rawOrNull(v.Value), v.Description, v.ID, ownerID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("update variable: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetVariable(ctx, ownerID, v.ID)
}

// DeleteVariable removes an owner's variable.
func (s *Store) DeleteVariable(ctx context.Context, ownerID, id int64) error {
	defer s.observe("delete", "variables")()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM variables WHERE id = ? AND sequence_id IN (SELECT id FROM sequences WHERE user_id = ?)`),
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete variable: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanVariable(row rowScanner) (*models.Variable, error) {
	v := &models.Variable{}
	var (
		typ   string
		value sql.NullString
		desc  sql.NullString
	)
	err := row.Scan(&v.ID, &v.SequenceID, &v.Name, &typ, &value, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan variable: %w", err)
	}
	v.Type = models.VariableType(typ)
	if value.Valid {
		v.Value = json.RawMessage(value.String)
	}
	v.Description = nullString(desc)
	return v, nil
}

// rawOrNull stores empty JSON payloads as SQL NULL.
func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
