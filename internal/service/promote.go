package service

import (
	"context"
	"fmt"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// PromoteToProject detaches a non-root item into a root project at the end
// of the root list, leaving a linked dependency from the prior parent so
// tree reads can keep rendering the subtree in its old place.
func (s *Service) PromoteToProject(ctx context.Context, id string) (*types.WorkItemDetails, error) {
	var details *types.WorkItemDetails
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		item, err := requireActiveItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if item.IsRoot() {
			return types.NewValidationError("work item %s is already a root project", id)
		}
		priorParent := *item.ParentWorkItemID

		old := *item
		newKey, err := resolveOrderKey(ctx, tx, nil, types.Position{Place: types.PlaceEnd}, "")
		if err != nil {
			return err
		}
		// The shortname was unique among the old siblings; it has to be
		// re-disambiguated against the root list the item is joining.
		slug, err := assignShortname(ctx, tx, nil, item.Name, item.WorkItemID)
		if err != nil {
			return err
		}
		item.ParentWorkItemID = nil
		item.OrderKey = newKey
		item.Shortname = slug
		item.UpdatedAt = s.now()
		if err := tx.UpdateWorkItem(ctx, item); err != nil {
			return err
		}

		rec, err := s.beginAction(ctx, tx, types.ActionPromoteToProject,
			fmt.Sprintf("Promoted %q to a root project", item.Name))
		if err != nil {
			return err
		}
		if err := rec.recordUpdate(ctx, types.TableWorkItems, item.WorkItemID, &old, item); err != nil {
			return err
		}

		// Attach the linked edge prior parent -> promoted item, reusing an
		// existing row if one is lying around inactive.
		recordID := storage.DependencyRecordID(priorParent, item.WorkItemID)
		existing, err := tx.GetDependency(ctx, priorParent, item.WorkItemID)
		if err != nil {
			return err
		}
		if existing == nil {
			dep := &types.Dependency{
				WorkItemID:          priorParent,
				DependsOnWorkItemID: item.WorkItemID,
				DependencyType:      types.DepLinked,
				IsActive:            true,
			}
			if err := tx.CreateDependency(ctx, dep); err != nil {
				return err
			}
			if err := rec.recordInsert(ctx, types.TableDependencies, recordID, dep); err != nil {
				return err
			}
		} else {
			oldDep := *existing
			existing.DependencyType = types.DepLinked
			existing.IsActive = true
			if err := tx.UpdateDependency(ctx, existing); err != nil {
				return err
			}
			if err := rec.recordUpdate(ctx, types.TableDependencies, recordID, &oldDep, existing); err != nil {
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
