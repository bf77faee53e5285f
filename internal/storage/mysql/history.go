package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

const actionColumns = "action_id, action_type, `timestamp`, description, is_undone, undone_at_action_id"

func scanAction(row rowScanner) (*types.ActionHistory, error) {
	var action types.ActionHistory
	var isUndone int
	var undoneAt sql.NullString
	err := row.Scan(&action.ActionID, &action.ActionType, &action.Timestamp,
		&action.Description, &isUndone, &undoneAt)
	if err != nil {
		return nil, err
	}
	action.IsUndone = isUndone != 0
	if undoneAt.Valid {
		action.UndoneAtActionID = &undoneAt.String
	}
	action.Timestamp = action.Timestamp.UTC()
	return &action, nil
}

func (r queries) GetAction(ctx context.Context, actionID string) (*types.ActionHistory, error) {
	action, err := scanAction(r.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM action_history WHERE action_id = ?`, actionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return action, nil
}

func (r queries) GetUndoSteps(ctx context.Context, actionID string) ([]*types.UndoStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT action_id, step_order, step_type, table_name, record_id, old_data, new_data
		FROM undo_steps
		WHERE action_id = ?
		ORDER BY step_order ASC
	`, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query undo steps: %w", err)
	}
	defer rows.Close()

	var steps []*types.UndoStep
	for rows.Next() {
		var step types.UndoStep
		var oldData, newData []byte
		if err := rows.Scan(&step.ActionID, &step.StepOrder, &step.StepType,
			&step.TableName, &step.RecordID, &oldData, &newData); err != nil {
			return nil, fmt.Errorf("failed to scan undo step: %w", err)
		}
		if len(oldData) > 0 {
			step.OldData = oldData
		}
		if len(newData) > 0 {
			step.NewData = newData
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

// ListActions returns history newest first, filtered by an optional UTC
// date window and capped by filter.Limit.
func (r queries) ListActions(ctx context.Context, filter types.HistoryFilter) ([]*types.ActionHistory, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = types.DefaultHistoryLimit
	}
	if limit > types.MaxHistoryLimit {
		limit = types.MaxHistoryLimit
	}

	var where []string
	var args []any
	if filter.StartDate != nil {
		where = append(where, "`timestamp` >= ?")
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		where = append(where, "`timestamp` < ?")
		args = append(args, filter.EndDate.UTC())
	}

	query := `SELECT ` + actionColumns + ` FROM action_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []*types.ActionHistory
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (r queries) GetLastAction(ctx context.Context) (*types.ActionHistory, error) {
	action, err := scanAction(r.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM action_history ORDER BY seq DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last action: %w", err)
	}
	return action, nil
}

func (r queries) GetLastUndoableAction(ctx context.Context) (*types.ActionHistory, error) {
	action, err := scanAction(r.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+` FROM action_history
		WHERE is_undone = 0 AND action_type NOT IN (?, ?)
		ORDER BY seq DESC LIMIT 1
	`, types.ActionUndo, types.ActionRedo))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last undoable action: %w", err)
	}
	return action, nil
}

func (r queries) GetActionUndoneBy(ctx context.Context, undoActionID string) (*types.ActionHistory, error) {
	action, err := scanAction(r.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+` FROM action_history
		WHERE undone_at_action_id = ?
		ORDER BY seq DESC LIMIT 1
	`, undoActionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find action undone by %s: %w", undoActionID, err)
	}
	return action, nil
}

func (t *storeTx) CreateAction(ctx context.Context, action *types.ActionHistory) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO action_history (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, action.ActionID, action.ActionType, action.Timestamp.UTC(), action.Description,
		boolToInt(action.IsUndone), nullableStr(action.UndoneAtActionID))
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

func (t *storeTx) AppendUndoStep(ctx context.Context, step *types.UndoStep) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO undo_steps (action_id, step_order, step_type, table_name, record_id, old_data, new_data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, step.ActionID, step.StepOrder, step.StepType, step.TableName, step.RecordID,
		nullableJSON(step.OldData), nullableJSON(step.NewData))
	if err != nil {
		return fmt.Errorf("failed to insert undo step: %w", err)
	}
	return nil
}

func (t *storeTx) MarkActionUndone(ctx context.Context, actionID, byActionID string) error {
	return t.setUndone(ctx, actionID, 1, &byActionID)
}

func (t *storeTx) ClearActionUndone(ctx context.Context, actionID string) error {
	return t.setUndone(ctx, actionID, 0, nil)
}

func (t *storeTx) setUndone(ctx context.Context, actionID string, undone int, byActionID *string) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE action_history SET is_undone = ?, undone_at_action_id = ?
		WHERE action_id = ?
	`, undone, nullableStr(byActionID), actionID)
	if err != nil {
		return fmt.Errorf("failed to update action undone flag: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		existing, getErr := t.GetAction(ctx, actionID)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return fmt.Errorf("action %s: %w", actionID, storage.ErrNotFound)
		}
	}
	return nil
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
