package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

const dependencyColumns = `work_item_id, depends_on_work_item_id, dependency_type, is_active`

func scanDependency(row rowScanner) (*types.Dependency, error) {
	var dep types.Dependency
	var isActive int
	if err := row.Scan(&dep.WorkItemID, &dep.DependsOnWorkItemID, &dep.DependencyType, &isActive); err != nil {
		return nil, err
	}
	dep.IsActive = isActive != 0
	return &dep, nil
}

func (r queries) GetDependency(ctx context.Context, workItemID, dependsOnID string) (*types.Dependency, error) {
	dep, err := scanDependency(r.db.QueryRowContext(ctx, `
		SELECT `+dependencyColumns+` FROM work_item_dependencies
		WHERE work_item_id = ? AND depends_on_work_item_id = ?
	`, workItemID, dependsOnID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dependency: %w", err)
	}
	return dep, nil
}

func (r queries) GetOutgoingDependencies(ctx context.Context, workItemID string, includeInactive bool) ([]*types.Dependency, error) {
	query := `SELECT ` + dependencyColumns + ` FROM work_item_dependencies WHERE work_item_id = ?`
	if !includeInactive {
		query += ` AND is_active = 1`
	}
	return r.queryDependencies(ctx, query, workItemID)
}

func (r queries) GetIncomingDependencies(ctx context.Context, workItemID string, includeInactive bool) ([]*types.Dependency, error) {
	query := `SELECT ` + dependencyColumns + ` FROM work_item_dependencies WHERE depends_on_work_item_id = ?`
	if !includeInactive {
		query += ` AND is_active = 1`
	}
	return r.queryDependencies(ctx, query, workItemID)
}

func (r queries) GetActiveDependenciesWithin(ctx context.Context, ids []string) ([]*types.Dependency, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := placeholders(len(ids))
	// nolint:gosec // placeholders only, values go through binds
	query := fmt.Sprintf(`
		SELECT `+dependencyColumns+` FROM work_item_dependencies
		WHERE is_active = 1
		  AND work_item_id IN (%s)
		  AND depends_on_work_item_id IN (%s)
	`, ph, ph)

	args := make([]any, 0, 2*len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	return r.queryDependencies(ctx, query, args...)
}

// WouldCreateCycle checks whether an edge workItemID -> dependsOnID would
// close a loop: it walks the active finish-to-start graph outward from
// dependsOnID and looks for workItemID. A walk that reaches maxWalkDepth
// without finding a cycle cannot prove the add is safe and errors instead
// of silently letting the edge through.
func (r queries) WouldCreateCycle(ctx context.Context, workItemID, dependsOnID string) (bool, error) {
	if workItemID == dependsOnID {
		return true, nil
	}

	var found, deepest int
	err := r.db.QueryRowContext(ctx, `
		WITH RECURSIVE reachable AS (
			SELECT depends_on_work_item_id AS id, 1 AS depth
			FROM work_item_dependencies
			WHERE work_item_id = ? AND is_active = 1 AND dependency_type = ?
			UNION ALL
			SELECT d.depends_on_work_item_id, rc.depth + 1
			FROM reachable rc
			JOIN work_item_dependencies d ON d.work_item_id = rc.id
			WHERE d.is_active = 1 AND d.dependency_type = ? AND rc.depth < ?
		)
		SELECT COALESCE(SUM(id = ?), 0), COALESCE(MAX(depth), 0) FROM reachable
	`, dependsOnID, types.DepFinishToStart, types.DepFinishToStart, maxWalkDepth,
		workItemID).Scan(&found, &deepest)
	if err != nil {
		return false, fmt.Errorf("failed to check for dependency cycle: %w", err)
	}
	if found > 0 {
		return true, nil
	}
	if deepest >= maxWalkDepth {
		return false, fmt.Errorf("dependency graph below %s exceeds %d levels", dependsOnID, maxWalkDepth)
	}
	return false, nil
}

func (t *storeTx) CreateDependency(ctx context.Context, dep *types.Dependency) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO work_item_dependencies (`+dependencyColumns+`)
		VALUES (?, ?, ?, ?)
	`, dep.WorkItemID, dep.DependsOnWorkItemID, dep.DependencyType, boolToInt(dep.IsActive))
	if err != nil {
		return fmt.Errorf("failed to insert dependency: %w", err)
	}
	return nil
}

func (t *storeTx) UpdateDependency(ctx context.Context, dep *types.Dependency) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE work_item_dependencies
		SET dependency_type = ?, is_active = ?
		WHERE work_item_id = ? AND depends_on_work_item_id = ?
	`, dep.DependencyType, boolToInt(dep.IsActive), dep.WorkItemID, dep.DependsOnWorkItemID)
	if err != nil {
		return fmt.Errorf("failed to update dependency: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		existing, getErr := t.GetDependency(ctx, dep.WorkItemID, dep.DependsOnWorkItemID)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return fmt.Errorf("dependency %s -> %s: %w", dep.WorkItemID, dep.DependsOnWorkItemID, storage.ErrNotFound)
		}
	}
	return nil
}

func (r queries) queryDependencies(ctx context.Context, query string, args ...any) ([]*types.Dependency, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []*types.Dependency
	for rows.Next() {
		dep, err := scanDependency(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}
