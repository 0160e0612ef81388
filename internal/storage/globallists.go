package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/promptseq/promptseq/pkg/models"
)

// CreateGlobalList inserts a list (with any initial items) for the owner.
// Name collisions within the owner return ErrDuplicate.
func (s *Store) CreateGlobalList(ctx context.Context, ownerID int64, list *models.GlobalList) (*models.GlobalList, error) {
	defer s.observe("insert", "global_lists")()

	list.UserID = ownerID
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO global_lists (user_id, name, description) VALUES (?, ?, ?) RETURNING id`),
		ownerID, list.Name, list.Description,
	).Scan(&list.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create global list: %w", err)
	}

	// Orders are stored as given; equal orders keep insertion order via the
	// (item_order, id) sort.
	for _, item := range list.Items {
		item.GlobalListID = list.ID
		if err := s.insertListItem(ctx, item); err != nil {
			return nil, err
		}
	}
	return s.GetGlobalList(ctx, ownerID, list.ID)
}

// GetGlobalList fetches an owner's list with its items, ordered.
func (s *Store) GetGlobalList(ctx context.Context, ownerID, id int64) (*models.GlobalList, error) {
	defer s.observe("select", "global_lists")()

	list := &models.GlobalList{}
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, user_id, name, description FROM global_lists WHERE id = ? AND user_id = ?`),
		id, ownerID,
	).Scan(&list.ID, &list.UserID, &list.Name, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get global list: %w", err)
	}
	list.Description = nullString(desc)
	if list.Items, err = s.listItems(ctx, list.ID); err != nil {
		return nil, err
	}
	return list, nil
}

// ListGlobalLists returns the owner's lists with items loaded eagerly.
func (s *Store) ListGlobalLists(ctx context.Context, ownerID int64) ([]*models.GlobalList, error) {
	defer s.observe("select", "global_lists")()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, user_id, name, description FROM global_lists WHERE user_id = ? ORDER BY name ASC`),
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list global lists: %w", err)
	}
	defer rows.Close()

	var out []*models.GlobalList
	for rows.Next() {
		list := &models.GlobalList{}
		var desc sql.NullString
		if err := rows.Scan(&list.ID, &list.UserID, &list.Name, &desc); err != nil {
			return nil, fmt.Errorf("scan global list: %w", err)
		}
		list.Description = nullString(desc)
		out = append(out, list)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, list := range out {
		if list.Items, err = s.listItems(ctx, list.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateGlobalList rewrites name and description of an owner's list.
func (s *Store) UpdateGlobalList(ctx context.Context, ownerID, id int64, name, description string) (*models.GlobalList, error) {
	defer s.observe("update", "global_lists")()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE global_lists SET name = ?, description = ? WHERE id = ? AND user_id = ?`),
		name, description, id, ownerID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("update global list: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetGlobalList(ctx, ownerID, id)
}

// DeleteGlobalList removes an owner's list; items cascade.
func (s *Store) DeleteGlobalList(ctx context.Context, ownerID, id int64) error {
	defer s.observe("delete", "global_lists")()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM global_lists WHERE id = ? AND user_id = ?`),
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete global list: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddListItem appends or inserts an item into an owner's list.
func (s *Store) AddListItem(ctx context.Context, ownerID, listID int64, value string, order int) (*models.GlobalListItem, error) {
	if _, err := s.ownListRow(ctx, ownerID, listID); err != nil {
		return nil, err
	}
	item := &models.GlobalListItem{GlobalListID: listID, Value: value, Order: order}
	if err := s.insertListItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateListItem rewrites an item's value and order, owner-scoped. Moving an
// item onto an occupied position shifts that sibling and everything after it
// one slot down, so the moved item lands where it was asked to.
func (s *Store) UpdateListItem(ctx context.Context, ownerID, itemID int64, value string, order int) (*models.GlobalListItem, error) {
	defer s.observe("update", "global_list_items")()

	var listID int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT global_list_id FROM global_list_items
		 WHERE id = ? AND global_list_id IN (SELECT id FROM global_lists WHERE user_id = ?)`),
		itemID, ownerID,
	).Scan(&listID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get list item: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE global_list_items SET item_order = item_order + 1
		 WHERE global_list_id = ? AND item_order >= ? AND id != ?`),
		listID, order, itemID,
	); err != nil {
		return nil, fmt.Errorf("shift list items: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE global_list_items SET value = ?, item_order = ? WHERE id = ?`),
		value, order, itemID,
	); err != nil {
		return nil, fmt.Errorf("update list item: %w", err)
	}

	item := &models.GlobalListItem{}
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, global_list_id, value, item_order FROM global_list_items WHERE id = ?`),
		itemID,
	).Scan(&item.ID, &item.GlobalListID, &item.Value, &item.Order)
	if err != nil {
		return nil, fmt.Errorf("get list item: %w", err)
	}
	return item, nil
}

// DeleteListItem removes an item, owner-scoped.
func (s *Store) DeleteListItem(ctx context.Context, ownerID, itemID int64) error {
	defer s.observe("delete", "global_list_items")()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM global_list_items
		 WHERE id = ? AND global_list_id IN (SELECT id FROM global_lists WHERE user_id = ?)`),
		itemID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete list item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ownListRow(ctx context.Context, ownerID, listID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id FROM global_lists WHERE id = ? AND user_id = ?`),
		listID, ownerID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get global list: %w", err)
	}
	return id, nil
}

func (s *Store) insertListItem(ctx context.Context, item *models.GlobalListItem) error {
	defer s.observe("insert", "global_list_items")()

	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO global_list_items (global_list_id, value, item_order) VALUES (?, ?, ?) RETURNING id`),
		item.GlobalListID, item.Value, item.Order,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("insert list item: %w", err)
	}
	return nil
}

func (s *Store) listItems(ctx context.Context, listID int64) ([]*models.GlobalListItem, error) {
	defer s.observe("select", "global_list_items")()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, global_list_id, value, item_order FROM global_list_items
		 WHERE global_list_id = ? ORDER BY item_order ASC, id ASC`),
		listID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []*models.GlobalListItem{}
	for rows.Next() {
		item := &models.GlobalListItem{}
		if err := rows.Scan(&item.ID, &item.GlobalListID, &item.Value, &item.Order); err != nil {
			return nil, fmt.Errorf("scan list item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
