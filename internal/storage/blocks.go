package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/promptseq/promptseq/pkg/models"
)

// CreateBlock inserts a block into one of the owner's sequences.
func (s *Store) CreateBlock(ctx context.Context, ownerID int64, block *models.Block) (*models.Block, error) {
	if _, err := s.getSequenceRow(ctx, ownerID, block.SequenceID); err != nil {
		return nil, err
	}

	defer s.observe("insert", "blocks")()

	raw, err := models.EncodeBlockConfig(block.Config)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	block.CreatedAt = now
	block.UpdatedAt = now
	err = s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO blocks (sequence_id, name, type, block_order, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		block.SequenceID, block.Name, string(block.Type), block.Order, string(raw), now, now,
	).Scan(&block.ID)
	if err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}
	return block, nil
}

// GetBlock fetches a block owned (via its sequence) by ownerID.
func (s *Store) GetBlock(ctx context.Context, ownerID, id int64) (*models.Block, error) {
	defer s.observe("select", "blocks")()

	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT b.id, b.sequence_id, b.name, b.type, b.block_order, b.config, b.created_at, b.updated_at
		 FROM blocks b JOIN sequences s ON s.id = b.sequence_id
		 WHERE b.id = ? AND s.user_id = ?`),
		id, ownerID,
	)
	return scanBlock(row)
}

// ListBlocksBySequence returns the sequence's blocks ordered by
// (block_order, id), owner-scoped.
func (s *Store) ListBlocksBySequence(ctx context.Context, ownerID, sequenceID int64) ([]*models.Block, error) {
	defer s.observe("select", "blocks")()

	if _, err := s.getSequenceRow(ctx, ownerID, sequenceID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT b.id, b.sequence_id, b.name, b.type, b.block_order, b.config, b.created_at, b.updated_at
		 FROM blocks b JOIN sequences s ON s.id = b.sequence_id
		 WHERE b.sequence_id = ? AND s.user_id = ?
		 ORDER BY b.block_order ASC, b.id ASC`),
		sequenceID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var out []*models.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, rows.Err()
}

// UpdateBlock rewrites name, order and config of an owner's block.
func (s *Store) UpdateBlock(ctx context.Context, ownerID int64, block *models.Block) (*models.Block, error) {
	defer s.observe("update", "blocks")()

	raw, err := models.EncodeBlockConfig(block.Config)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE blocks SET name = ?, type = ?, block_order = ?, config = ?, updated_at = ?
		 WHERE id = ? AND sequence_id IN (SELECT id FROM sequences WHERE user_id = ?)`),
		block.Name, string(block.Type), block.Order, string(raw), time.Now().UTC(), block.ID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetBlock(ctx, ownerID, block.ID)
}

// DeleteBlock removes an owner's block.
func (s *Store) DeleteBlock(ctx context.Context, ownerID, id int64) error {
	defer s.observe("delete", "blocks")()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM blocks WHERE id = ? AND sequence_id IN (SELECT id FROM sequences WHERE user_id = ?)`),
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (*models.Block, error) {
	block := &models.Block{}
	var (
		typ string
		raw string
	)
	err := row.Scan(&block.ID, &block.SequenceID, &block.Name, &typ, &block.Order, &raw, &block.CreatedAt, &block.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan block: %w", err)
	}
	block.Type = models.BlockType(typ)
	cfg, err := models.DecodeBlockConfig(block.Type, json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", block.ID, err)
	}
	block.Config = cfg
	return block, nil
}
