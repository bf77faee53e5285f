package service

import (
	"context"
	"fmt"
	"time"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// SetName renames the item and regenerates its shortname against the
// current active siblings.
func (s *Service) SetName(ctx context.Context, id, name string) (*types.WorkItemDetails, error) {
	return s.updateField(ctx, id, types.ActionUpdateName,
		func(ctx context.Context, tx storage.Tx, item *types.WorkItem) (string, error) {
			oldName := item.Name
			slug, err := assignShortname(ctx, tx, item.ParentWorkItemID, name, item.WorkItemID)
			if err != nil {
				return "", err
			}
			item.Name = name
			item.Shortname = slug
			return fmt.Sprintf("Renamed work item %q to %q", oldName, name), nil
		})
}

// SetDescription replaces the description; nil clears it.
func (s *Service) SetDescription(ctx context.Context, id string, description *string) (*types.WorkItemDetails, error) {
	return s.updateField(ctx, id, types.ActionUpdateDescription,
		func(ctx context.Context, tx storage.Tx, item *types.WorkItem) (string, error) {
			item.Description = description
			return fmt.Sprintf("Updated description of %q", item.Name), nil
		})
}

// SetStatus changes the workflow status.
func (s *Service) SetStatus(ctx context.Context, id string, status types.Status) (*types.WorkItemDetails, error) {
	return s.updateField(ctx, id, types.ActionUpdateStatus,
		func(ctx context.Context, tx storage.Tx, item *types.WorkItem) (string, error) {
			old := item.Status
			item.Status = status
			return fmt.Sprintf("Changed status of %q from %s to %s", item.Name, old, status), nil
		})
}

// SetPriority changes the priority.
func (s *Service) SetPriority(ctx context.Context, id string, priority types.Priority) (*types.WorkItemDetails, error) {
	return s.updateField(ctx, id, types.ActionUpdatePriority,
		func(ctx context.Context, tx storage.Tx, item *types.WorkItem) (string, error) {
			old := item.Priority
			item.Priority = priority
			return fmt.Sprintf("Changed priority of %q from %s to %s", item.Name, old, priority), nil
		})
}

// SetDueDate replaces the due date; nil clears it.
func (s *Service) SetDueDate(ctx context.Context, id string, dueDate *time.Time) (*types.WorkItemDetails, error) {
	return s.updateField(ctx, id, types.ActionUpdateDueDate,
		func(ctx context.Context, tx storage.Tx, item *types.WorkItem) (string, error) {
			if dueDate != nil {
				utc := dueDate.UTC()
				item.DueDate = &utc
				return fmt.Sprintf("Set due date of %q to %s", item.Name, utc.Format(time.RFC3339)), nil
			}
			item.DueDate = nil
			return fmt.Sprintf("Cleared due date of %q", item.Name), nil
		})
}

// updateField runs the single-field-update template: load, mutate, stamp
// updated_at, validate, write, record one UPDATE step with both snapshots.
func (s *Service) updateField(ctx context.Context, id, actionType string,
	mutate func(ctx context.Context, tx storage.Tx, item *types.WorkItem) (string, error)) (*types.WorkItemDetails, error) {

	var details *types.WorkItemDetails
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		item, err := requireActiveItem(ctx, tx, id)
		if err != nil {
			return err
		}

		old := *item
		description, err := mutate(ctx, tx, item)
		if err != nil {
			return err
		}
		item.UpdatedAt = s.now()
		if err := item.Validate(); err != nil {
			return err
		}
		if err := tx.UpdateWorkItem(ctx, item); err != nil {
			return err
		}

		rec, err := s.beginAction(ctx, tx, actionType, description)
		if err != nil {
			return err
		}
		if err := rec.recordUpdate(ctx, types.TableWorkItems, item.WorkItemID, &old, item); err != nil {
			return err
		}

		details, err = loadDetails(ctx, tx, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}
