package mysql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// Undo steps carry full-row JSON snapshots keyed by (table, record id).
// Replay decodes each snapshot into its typed struct and reuses the typed
// writers, so DATETIME formatting and NULL handling stay in one place.
// Dependency record ids are composite, built by storage.DependencyRecordID.

func (t *storeTx) InsertRow(ctx context.Context, table, recordID string, row []byte) error {
	switch table {
	case types.TableWorkItems:
		var item types.WorkItem
		if err := json.Unmarshal(row, &item); err != nil {
			return fmt.Errorf("failed to decode work item snapshot: %w", err)
		}
		if item.WorkItemID != recordID {
			return fmt.Errorf("snapshot id %q does not match record id %q", item.WorkItemID, recordID)
		}
		return t.CreateWorkItem(ctx, &item)
	case types.TableDependencies:
		var dep types.Dependency
		if err := json.Unmarshal(row, &dep); err != nil {
			return fmt.Errorf("failed to decode dependency snapshot: %w", err)
		}
		if storage.DependencyRecordID(dep.WorkItemID, dep.DependsOnWorkItemID) != recordID {
			return fmt.Errorf("dependency snapshot does not match record id %q", recordID)
		}
		return t.CreateDependency(ctx, &dep)
	default:
		return fmt.Errorf("unknown table %q in undo step", table)
	}
}

func (t *storeTx) UpdateRow(ctx context.Context, table, recordID string, row []byte) error {
	switch table {
	case types.TableWorkItems:
		var item types.WorkItem
		if err := json.Unmarshal(row, &item); err != nil {
			return fmt.Errorf("failed to decode work item snapshot: %w", err)
		}
		if item.WorkItemID != recordID {
			return fmt.Errorf("snapshot id %q does not match record id %q", item.WorkItemID, recordID)
		}
		return t.UpdateWorkItem(ctx, &item)
	case types.TableDependencies:
		var dep types.Dependency
		if err := json.Unmarshal(row, &dep); err != nil {
			return fmt.Errorf("failed to decode dependency snapshot: %w", err)
		}
		if storage.DependencyRecordID(dep.WorkItemID, dep.DependsOnWorkItemID) != recordID {
			return fmt.Errorf("dependency snapshot does not match record id %q", recordID)
		}
		return t.UpdateDependency(ctx, &dep)
	default:
		return fmt.Errorf("unknown table %q in undo step", table)
	}
}

func (t *storeTx) DeleteRow(ctx context.Context, table, recordID string) error {
	switch table {
	case types.TableWorkItems:
		return t.deleteByKey(ctx,
			`DELETE FROM work_items WHERE work_item_id = ?`, table, recordID, recordID)
	case types.TableDependencies:
		from, to, err := storage.SplitDependencyRecordID(recordID)
		if err != nil {
			return err
		}
		return t.deleteByKey(ctx,
			`DELETE FROM work_item_dependencies WHERE work_item_id = ? AND depends_on_work_item_id = ?`,
			table, recordID, from, to)
	default:
		return fmt.Errorf("unknown table %q in undo step", table)
	}
}

func (t *storeTx) deleteByKey(ctx context.Context, query, table, recordID string, args ...any) error {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete %s row: %w", table, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s row %s: %w", table, recordID, storage.ErrNotFound)
	}
	return nil
}
