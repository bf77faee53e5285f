package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// AddDependencies adds (or reactivates) the requested edges from the item.
// Finish-to-start edges are checked against the active dependency graph so
// no directed cycle can be committed.
func (s *Service) AddDependencies(ctx context.Context, id string, edges []types.DependencyInput) (*types.WorkItemDetails, error) {
	if len(edges) == 0 {
		return nil, types.NewValidationError("at least one dependency is required")
	}

	var details *types.WorkItemDetails
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		item, err := requireActiveItem(ctx, tx, id)
		if err != nil {
			return err
		}

		rec, err := s.beginAction(ctx, tx, types.ActionAddDependencies,
			fmt.Sprintf("Added %d dependencies to %q", len(edges), item.Name))
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if err := applyDependency(ctx, tx, rec, id, edge); err != nil {
				return err
			}
		}

		details, err = loadDetails(ctx, tx, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// DeleteDependencies deactivates the listed active edges. Edges that are
// missing or already inactive fail validation with the precise list, before
// anything is written.
func (s *Service) DeleteDependencies(ctx context.Context, id string, dependsOnIDs []string) (*types.WorkItemDetails, error) {
	if len(dependsOnIDs) == 0 {
		return nil, types.NewValidationError("at least one dependency id is required")
	}

	var details *types.WorkItemDetails
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		item, err := requireActiveItem(ctx, tx, id)
		if err != nil {
			return err
		}

		deps := make([]*types.Dependency, 0, len(dependsOnIDs))
		var missing []string
		for _, target := range dependsOnIDs {
			dep, err := tx.GetDependency(ctx, id, target)
			if err != nil {
				return err
			}
			if dep == nil || !dep.IsActive {
				missing = append(missing, target)
				continue
			}
			deps = append(deps, dep)
		}
		if len(missing) > 0 {
			return types.NewValidationError("no active dependency on: %s", strings.Join(missing, ", "))
		}

		rec, err := s.beginAction(ctx, tx, types.ActionDeleteDependencies,
			fmt.Sprintf("Removed %d dependencies from %q", len(deps), item.Name))
		if err != nil {
			return err
		}
		for _, dep := range deps {
			old := *dep
			dep.IsActive = false
			if err := tx.UpdateDependency(ctx, dep); err != nil {
				return err
			}
			recordID := storage.DependencyRecordID(dep.WorkItemID, dep.DependsOnWorkItemID)
			if err := rec.recordUpdate(ctx, types.TableDependencies, recordID, &old, dep); err != nil {
				return err
			}
		}

		details, err = loadDetails(ctx, tx, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// applyDependency upserts one edge and records its undo step. An existing
// row (active or not) is rewritten in place rather than duplicated.
func applyDependency(ctx context.Context, tx storage.Tx, rec *recorder, itemID string, in types.DependencyInput) error {
	depType := in.DependencyType
	if depType == "" {
		depType = types.DepFinishToStart
	}
	if !depType.IsValid() {
		return types.NewValidationError("invalid dependency type: %s", depType)
	}
	if in.DependsOnWorkItemID == itemID {
		return types.NewValidationError("work item %s cannot depend on itself", itemID)
	}
	if _, err := requireActiveItem(ctx, tx, in.DependsOnWorkItemID); err != nil {
		return err
	}

	if depType == types.DepFinishToStart {
		cycle, err := tx.WouldCreateCycle(ctx, itemID, in.DependsOnWorkItemID)
		if err != nil {
			return err
		}
		if cycle {
			return types.NewValidationError("dependency %s -> %s would create a cycle",
				itemID, in.DependsOnWorkItemID)
		}
	}

	recordID := storage.DependencyRecordID(itemID, in.DependsOnWorkItemID)
	existing, err := tx.GetDependency(ctx, itemID, in.DependsOnWorkItemID)
	if err != nil {
		return err
	}
	if existing == nil {
		dep := &types.Dependency{
			WorkItemID:          itemID,
			DependsOnWorkItemID: in.DependsOnWorkItemID,
			DependencyType:      depType,
			IsActive:            true,
		}
		if err := tx.CreateDependency(ctx, dep); err != nil {
			return err
		}
		return rec.recordInsert(ctx, types.TableDependencies, recordID, dep)
	}

	old := *existing
	existing.DependencyType = depType
	existing.IsActive = true
	if err := tx.UpdateDependency(ctx, existing); err != nil {
		return err
	}
	return rec.recordUpdate(ctx, types.TableDependencies, recordID, &old, existing)
}
