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

// CreateRun inserts a pending run for one of the owner's sequences.
func (s *Store) CreateRun(ctx context.Context, ownerID, sequenceID int64, overrides json.RawMessage) (*models.Run, error) {
	if _, err := s.getSequenceRow(ctx, ownerID, sequenceID); err != nil {
		return nil, err
	}

	defer s.observe("insert", "runs")()

	run := &models.Run{
		SequenceID:     sequenceID,
		UserID:         ownerID,
		Status:         models.StatusPending,
		InputOverrides: overrides,
		BlockRuns:      []*models.BlockRun{},
	}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO runs (sequence_id, user_id, status, input_overrides_json)
		 VALUES (?, ?, ?, ?) RETURNING id`),
		sequenceID, ownerID, string(models.StatusPending), rawOrNull(overrides),
	).Scan(&run.ID)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// GetRun fetches an owner's run with its block runs, ordered by start time.
func (s *Store) GetRun(ctx context.Context, ownerID, id int64) (*models.Run, error) {
	defer s.observe("select", "runs")()

	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, sequence_id, user_id, status, started_at, completed_at, input_overrides_json, results_summary_json
		 FROM runs WHERE id = ? AND user_id = ?`),
		id, ownerID,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	if run.BlockRuns, err = s.listBlockRuns(ctx, run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRunsBySequence returns an owner's runs for a sequence, newest first,
// block runs loaded eagerly.
func (s *Store) ListRunsBySequence(ctx context.Context, ownerID, sequenceID int64, skip, limit int) ([]*models.Run, error) {
	defer s.observe("select", "runs")()

	if _, err := s.getSequenceRow(ctx, ownerID, sequenceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, sequence_id, user_id, status, started_at, completed_at, input_overrides_json, results_summary_json
		 FROM runs WHERE sequence_id = ? AND user_id = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`),
		sequenceID, ownerID, limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, run := range out {
		if run.BlockRuns, err = s.listBlockRuns(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkRunRunning transitions a pending run to running and records the
// overrides actually used. Terminal runs are immutable.
func (s *Store) MarkRunRunning(ctx context.Context, runID int64, overrides json.RawMessage) (time.Time, error) {
	defer s.observe("update", "runs")()

	startedAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE runs SET status = ?, started_at = ?, input_overrides_json = ?
		 WHERE id = ? AND status = ?`),
		string(models.StatusRunning), startedAt, rawOrNull(overrides), runID, string(models.StatusPending),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("mark run running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return time.Time{}, ErrNotFound
	}
	return startedAt, nil
}

// FinishRun commits the run's terminal status and results summary. A run
// already in a terminal status is left untouched.
func (s *Store) FinishRun(ctx context.Context, runID int64, status models.RunStatus, summary json.RawMessage) error {
	defer s.observe("update", "runs")()

	if !status.Terminal() {
		return fmt.Errorf("finish run: %q is not terminal", status)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE runs SET status = ?, completed_at = ?, results_summary_json = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?)`),
		string(status), time.Now().UTC(), rawOrNull(summary), runID,
		string(models.StatusCompleted), string(models.StatusFailed), string(models.StatusCancelled),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// CreateBlockRun inserts a block-run trace row in its initial running state.
func (s *Store) CreateBlockRun(ctx context.Context, br *models.BlockRun) error {
	defer s.observe("insert", "block_runs")()

	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO block_runs (run_id, block_id, block_name_snapshot, block_type_snapshot, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		br.RunID, br.BlockID, br.BlockNameSnapshot, br.BlockTypeSnapshot, string(br.Status), br.StartedAt,
	).Scan(&br.ID)
	if err != nil {
		return fmt.Errorf("create block run: %w", err)
	}
	return nil
}

// FinishBlockRun commits the trace fields and terminal status of a block run.
func (s *Store) FinishBlockRun(ctx context.Context, br *models.BlockRun) error {
	defer s.observe("update", "block_runs")()

	var usage any
	if br.TokenUsage != nil {
		encoded, err := json.Marshal(br.TokenUsage)
		if err != nil {
			return fmt.Errorf("encode token usage: %w", err)
		}
		usage = string(encoded)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE block_runs SET status = ?, prompt_text = ?, llm_output_text = ?,
		 named_outputs_json = ?, list_outputs_json = ?, matrix_outputs_json = ?,
		 error_message = ?, completed_at = ?, token_usage_json = ?, cost = ?
		 WHERE id = ?`),
		string(br.Status), br.PromptText, br.LLMOutputText,
		rawOrNull(br.NamedOutputs), rawOrNull(br.ListOutputs), rawOrNull(br.MatrixOutputs),
		br.ErrorMessage, br.CompletedAt, usage, br.Cost, br.ID,
	)
	if err != nil {
		return fmt.Errorf("finish block run: %w", err)
	}
	return nil
}

// GetBlockRun fetches a block run scoped through its run's owner.
func (s *Store) GetBlockRun(ctx context.Context, ownerID, id int64) (*models.BlockRun, error) {
	defer s.observe("select", "block_runs")()

	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT br.id, br.run_id, br.block_id, br.block_name_snapshot, br.block_type_snapshot, br.status,
		        br.prompt_text, br.llm_output_text, br.named_outputs_json, br.list_outputs_json,
		        br.matrix_outputs_json, br.error_message, br.started_at, br.completed_at,
		        br.token_usage_json, br.cost
		 FROM block_runs br JOIN runs r ON r.id = br.run_id
		 WHERE br.id = ? AND r.user_id = ?`),
		id, ownerID,
	)
	return scanBlockRun(row)
}

func (s *Store) listBlockRuns(ctx context.Context, runID int64) ([]*models.BlockRun, error) {
	defer s.observe("select", "block_runs")()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, run_id, block_id, block_name_snapshot, block_type_snapshot, status,
		        prompt_text, llm_output_text, named_outputs_json, list_outputs_json,
		        matrix_outputs_json, error_message, started_at, completed_at,
		        token_usage_json, cost
		 FROM block_runs WHERE run_id = ? ORDER BY started_at ASC, id ASC`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list block runs: %w", err)
	}
	defer rows.Close()

	out := []*models.BlockRun{}
	for rows.Next() {
		br, err := scanBlockRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, br)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*models.Run, error) {
	run := &models.Run{}
	var (
		status    string
		started   sql.NullTime
		completed sql.NullTime
		overrides sql.NullString
		summary   sql.NullString
	)
	err := row.Scan(&run.ID, &run.SequenceID, &run.UserID, &status, &started, &completed, &overrides, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = models.RunStatus(status)
	run.StartedAt = nullTime(started)
	run.CompletedAt = nullTime(completed)
	if overrides.Valid {
		run.InputOverrides = json.RawMessage(overrides.String)
	}
	if summary.Valid {
		run.ResultsSummary = json.RawMessage(summary.String)
	}
	return run, nil
}

func scanBlockRun(row rowScanner) (*models.BlockRun, error) {
	br := &models.BlockRun{}
	var (
		nameSnap  sql.NullString
		typeSnap  sql.NullString
		status    string
		prompt    sql.NullString
		output    sql.NullString
		named     sql.NullString
		list      sql.NullString
		matrix    sql.NullString
		errMsg    sql.NullString
		started   sql.NullTime
		completed sql.NullTime
		usage     sql.NullString
		cost      sql.NullFloat64
	)
	err := row.Scan(&br.ID, &br.RunID, &br.BlockID, &nameSnap, &typeSnap, &status,
		&prompt, &output, &named, &list, &matrix, &errMsg, &started, &completed, &usage, &cost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan block run: %w", err)
	}
	br.BlockNameSnapshot = nullString(nameSnap)
	br.BlockTypeSnapshot = nullString(typeSnap)
	br.Status = models.RunStatus(status)
	br.PromptText = nullString(prompt)
	br.LLMOutputText = nullString(output)
	if named.Valid {
		br.NamedOutputs = json.RawMessage(named.String)
	}
	if list.Valid {
		br.ListOutputs = json.RawMessage(list.String)
	}
	if matrix.Valid {
		br.MatrixOutputs = json.RawMessage(matrix.String)
	}
	br.ErrorMessage = nullString(errMsg)
	br.StartedAt = nullTime(started)
	br.CompletedAt = nullTime(completed)
	if usage.Valid {
		var tu models.TokenUsage
		if err := json.Unmarshal([]byte(usage.String), &tu); err == nil {
			br.TokenUsage = &tu
		}
	}
	if cost.Valid {
		v := cost.Float64
		br.Cost = &v
	}
	return br, nil
}
