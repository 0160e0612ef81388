package storage

import (
	"context"
	"fmt"
)

// Migrate creates the schema if it does not exist. Owning relations cascade
// on delete; block_runs keep their rows when the source block disappears.
func (s *Store) Migrate(ctx context.Context) error {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		idCol = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			email TEXT NOT NULL UNIQUE,
			hashed_password TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sequences (
			id %s,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS blocks (
			id %s,
			sequence_id BIGINT NOT NULL REFERENCES sequences(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			block_order INTEGER NOT NULL DEFAULT 0,
			config TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS variables (
			id %s,
			sequence_id BIGINT NOT NULL REFERENCES sequences(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			value_json TEXT,
			description TEXT,
			UNIQUE (sequence_id, name)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS global_lists (
			id %s,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			description TEXT,
			UNIQUE (user_id, name)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS global_list_items (
			id %s,
			global_list_id BIGINT NOT NULL REFERENCES global_lists(id) ON DELETE CASCADE,
			value TEXT NOT NULL,
			item_order INTEGER NOT NULL DEFAULT 0
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS runs (
			id %s,
			sequence_id BIGINT NOT NULL REFERENCES sequences(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id),
			status TEXT NOT NULL DEFAULT 'pending',
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			input_overrides_json TEXT,
			results_summary_json TEXT
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS block_runs (
			id %s,
			run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			block_id BIGINT NOT NULL,
			block_name_snapshot TEXT,
			block_type_snapshot TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			prompt_text TEXT,
			llm_output_text TEXT,
			named_outputs_json TEXT,
			list_outputs_json TEXT,
			matrix_outputs_json TEXT,
			error_message TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			token_usage_json TEXT,
			cost DOUBLE PRECISION
		)`, idCol),
		"CREATE INDEX IF NOT EXISTS idx_sequences_user ON sequences(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_blocks_sequence ON blocks(sequence_id, block_order)",
		"CREATE INDEX IF NOT EXISTS idx_variables_sequence ON variables(sequence_id)",
		"CREATE INDEX IF NOT EXISTS idx_global_list_items_list ON global_list_items(global_list_id, item_order)",
		"CREATE INDEX IF NOT EXISTS idx_runs_sequence ON runs(sequence_id)",
		"CREATE INDEX IF NOT EXISTS idx_block_runs_run ON block_runs(run_id)",
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
