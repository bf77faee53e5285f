package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/orderkey"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

const workItemColumns = `work_item_id, parent_work_item_id, name, description, status, priority,
	due_date, order_key, shortname, is_active, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*types.WorkItem, error) {
	var item types.WorkItem
	var parentID, description sql.NullString
	var dueDate sql.NullTime
	var isActive int

	err := row.Scan(
		&item.WorkItemID, &parentID, &item.Name, &description, &item.Status, &item.Priority,
		&dueDate, &item.OrderKey, &item.Shortname, &isActive, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		item.ParentWorkItemID = &parentID.String
	}
	if description.Valid {
		item.Description = &description.String
	}
	if dueDate.Valid {
		utc := dueDate.Time.UTC()
		item.DueDate = &utc
	}
	item.IsActive = isActive != 0
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func (r queries) GetWorkItem(ctx context.Context, id string, includeInactive bool) (*types.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE work_item_id = ?`
	if !includeInactive {
		query += ` AND is_active = 1`
	}
	item, err := scanWorkItem(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return item, nil
}

func (r queries) ListWorkItems(ctx context.Context, filter types.WorkItemFilter) ([]*types.WorkItem, error) {
	var where []string
	var args []any

	switch {
	case filter.RootsOnly:
		where = append(where, "parent_work_item_id IS NULL")
	case filter.ParentID != nil:
		where = append(where, "parent_work_item_id = ?")
		args = append(args, *filter.ParentID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	active := true
	if filter.IsActive != nil {
		active = *filter.IsActive
	}
	where = append(where, "is_active = ?")
	args = append(args, boolToInt(active))

	query := `SELECT ` + workItemColumns + ` FROM work_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer rows.Close()

	items, err := collectWorkItems(rows)
	if err != nil {
		return nil, err
	}

	// Sibling listings surface the visible order; unscoped listings fall
	// back to creation order.
	if filter.RootsOnly || filter.ParentID != nil {
		sortByOrderKey(items)
	} else {
		sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	}
	return items, nil
}

func (r queries) GetChildren(ctx context.Context, parentID *string, includeInactive bool) ([]*types.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE `
	var args []any
	if parentID == nil {
		query += `parent_work_item_id IS NULL`
	} else {
		query += `parent_work_item_id = ?`
		args = append(args, *parentID)
	}
	if !includeInactive {
		query += ` AND is_active = 1`
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get children: %w", err)
	}
	defer rows.Close()

	items, err := collectWorkItems(rows)
	if err != nil {
		return nil, err
	}
	sortByOrderKey(items)
	return items, nil
}

// maxWalkDepth bounds recursive tree and graph walks. Unbounded requests
// that would pass the bound fail loudly instead of silently truncating a
// delete or export cascade.
const maxWalkDepth = 100

// GetDescendants walks the subtree below rootID, shallowest first. When
// includeInactive is false the recursion stops at inactive nodes, so the
// result is exactly the visible subtree. A request with maxDepth <= 0 is
// unbounded and errors if the subtree runs deeper than maxWalkDepth.
func (r queries) GetDescendants(ctx context.Context, rootID string, maxDepth int, includeInactive bool) ([]*storage.Descendant, error) {
	unbounded := maxDepth <= 0
	if unbounded {
		// One level past the bound, so overflow is observable below.
		maxDepth = maxWalkDepth + 1
	}
	activeCond := ""
	if !includeInactive {
		activeCond = " AND w.is_active = 1"
	}

	// nolint:gosec // activeCond is a fixed fragment, values go through binds
	query := fmt.Sprintf(`
		WITH RECURSIVE subtree AS (
			SELECT work_item_id, 0 AS depth
			FROM work_items
			WHERE work_item_id = ?
			UNION ALL
			SELECT w.work_item_id, s.depth + 1
			FROM subtree s
			JOIN work_items w ON w.parent_work_item_id = s.work_item_id
			WHERE s.depth < ?%s
		)
		SELECT %s, s.depth
		FROM subtree s
		JOIN work_items w ON w.work_item_id = s.work_item_id
		WHERE s.depth > 0
		ORDER BY s.depth ASC
	`, activeCond, prefixColumns("w", workItemColumns))

	rows, err := r.db.QueryContext(ctx, query, rootID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to get descendants: %w", err)
	}
	defer rows.Close()

	var descendants []*storage.Descendant
	for rows.Next() {
		var item types.WorkItem
		var parentID, description sql.NullString
		var dueDate sql.NullTime
		var isActive, depth int
		if err := rows.Scan(
			&item.WorkItemID, &parentID, &item.Name, &description, &item.Status, &item.Priority,
			&dueDate, &item.OrderKey, &item.Shortname, &isActive, &item.CreatedAt, &item.UpdatedAt,
			&depth,
		); err != nil {
			return nil, fmt.Errorf("failed to scan descendant: %w", err)
		}
		if unbounded && depth > maxWalkDepth {
			return nil, fmt.Errorf("subtree below %s exceeds %d levels", rootID, maxWalkDepth)
		}
		if parentID.Valid {
			item.ParentWorkItemID = &parentID.String
		}
		if description.Valid {
			item.Description = &description.String
		}
		if dueDate.Valid {
			utc := dueDate.Time.UTC()
			item.DueDate = &utc
		}
		item.IsActive = isActive != 0
		item.CreatedAt = item.CreatedAt.UTC()
		item.UpdatedAt = item.UpdatedAt.UTC()
		descendants = append(descendants, &storage.Descendant{Item: &item, Depth: depth})
	}
	return descendants, rows.Err()
}

func (t *storeTx) CreateWorkItem(ctx context.Context, item *types.WorkItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO work_items (`+workItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, workItemArgs(item)...)
	if err != nil {
		return fmt.Errorf("failed to insert work item: %w", err)
	}
	return nil
}

func (t *storeTx) UpdateWorkItem(ctx context.Context, item *types.WorkItem) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE work_items
		SET parent_work_item_id = ?, name = ?, description = ?, status = ?, priority = ?,
		    due_date = ?, order_key = ?, shortname = ?, is_active = ?, updated_at = ?
		WHERE work_item_id = ?
	`, nullableStr(item.ParentWorkItemID), item.Name, nullableStr(item.Description),
		item.Status, item.Priority, nullableTime(item.DueDate), item.OrderKey,
		item.Shortname, boolToInt(item.IsActive), item.UpdatedAt.UTC(), item.WorkItemID)
	if err != nil {
		return fmt.Errorf("failed to update work item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// The row may exist with identical values; distinguish from a
		// genuinely missing item.
		existing, getErr := t.GetWorkItem(ctx, item.WorkItemID, true)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return fmt.Errorf("work item %s: %w", item.WorkItemID, storage.ErrNotFound)
		}
	}
	return nil
}

func (t *storeTx) SetWorkItemsActive(ctx context.Context, ids []string, active bool, updatedAt time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, boolToInt(active), updatedAt.UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, boolToInt(!active))

	// nolint:gosec // placeholders only, values go through binds
	query := fmt.Sprintf(`
		UPDATE work_items SET is_active = ?, updated_at = ?
		WHERE work_item_id IN (%s) AND is_active = ?
	`, placeholders(len(ids)))

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to flip active flag: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

func collectWorkItems(rows *sql.Rows) ([]*types.WorkItem, error) {
	var items []*types.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func workItemArgs(item *types.WorkItem) []any {
	return []any{
		item.WorkItemID, nullableStr(item.ParentWorkItemID), item.Name,
		nullableStr(item.Description), item.Status, item.Priority,
		nullableTime(item.DueDate), item.OrderKey, item.Shortname,
		boolToInt(item.IsActive), item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
	}
}

// sortByOrderKey orders siblings numerically. Order keys are validated on
// every write, so the lexicographic fallback only guards corrupt data.
func sortByOrderKey(items []*types.WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if c, err := orderkey.Compare(items[i].OrderKey, items[j].OrderKey); err == nil {
			return c < 0
		}
		return items[i].OrderKey < items[j].OrderKey
	})
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
