package service

import (
	"context"
	"fmt"
	"time"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/shortname"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// AddWorkItemInput carries the add_work_item arguments. Nil optional fields
// fall back to their defaults (status todo, priority medium, position end).
type AddWorkItemInput struct {
	ParentWorkItemID *string
	Name             string
	Description      *string
	Status           *types.Status
	Priority         *types.Priority
	DueDate          *time.Time
	Dependencies     []types.DependencyInput
	Position         *types.Position
}

// AddWorkItem creates a work item under the given parent (or as a root
// project), wires its requested dependencies, and records an ADD_WORK_ITEM
// action covering every inserted row.
func (s *Service) AddWorkItem(ctx context.Context, in AddWorkItemInput) (*types.WorkItemDetails, error) {
	var details *types.WorkItemDetails
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if in.ParentWorkItemID != nil {
			if _, err := requireActiveItem(ctx, tx, *in.ParentWorkItemID); err != nil {
				return err
			}
		}

		pos := types.Position{Place: types.PlaceEnd}
		if in.Position != nil {
			pos = *in.Position
		}
		key, err := resolveOrderKey(ctx, tx, in.ParentWorkItemID, pos, "")
		if err != nil {
			return err
		}

		slug, err := assignShortname(ctx, tx, in.ParentWorkItemID, in.Name, "")
		if err != nil {
			return err
		}

		now := s.now()
		item := &types.WorkItem{
			WorkItemID:       s.newID(),
			ParentWorkItemID: in.ParentWorkItemID,
			Name:             in.Name,
			Description:      in.Description,
			Status:           types.StatusTodo,
			Priority:         types.PriorityMedium,
			DueDate:          in.DueDate,
			OrderKey:         key,
			Shortname:        slug,
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if in.Status != nil {
			item.Status = *in.Status
		}
		if in.Priority != nil {
			item.Priority = *in.Priority
		}
		if err := item.Validate(); err != nil {
			return err
		}

		if err := tx.CreateWorkItem(ctx, item); err != nil {
			return err
		}

		rec, err := s.beginAction(ctx, tx, types.ActionAddWorkItem,
			fmt.Sprintf("Added work item %q", item.Name))
		if err != nil {
			return err
		}
		if err := rec.recordInsert(ctx, types.TableWorkItems, item.WorkItemID, item); err != nil {
			return err
		}

		for _, dep := range in.Dependencies {
			if err := applyDependency(ctx, tx, rec, item.WorkItemID, dep); err != nil {
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

// assignShortname slugs the name and disambiguates it against the active
// siblings under parentID. excludeID skips the item itself on rename.
func assignShortname(ctx context.Context, r storage.Reader, parentID *string, name, excludeID string) (string, error) {
	siblings, err := r.GetChildren(ctx, parentID, false)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(siblings))
	for _, s := range siblings {
		if s.WorkItemID != excludeID {
			taken[s.Shortname] = true
		}
	}
	return shortname.Disambiguate(shortname.Generate(name), taken), nil
}
