package service

import (
	"context"
	"fmt"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/orderkey"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// resolveOrderKey computes the order key for a slot among the active
// children of parentID. excludeID removes the item being moved from the
// neighbor scan so it cannot anchor against itself.
func resolveOrderKey(ctx context.Context, r storage.Reader, parentID *string, pos types.Position, excludeID string) (string, error) {
	if err := pos.Validate(); err != nil {
		return "", err
	}

	all, err := r.GetChildren(ctx, parentID, false)
	if err != nil {
		return "", err
	}
	siblings := all[:0:0]
	for _, s := range all {
		if s.WorkItemID != excludeID {
			siblings = append(siblings, s)
		}
	}

	var before, after *string
	switch pos.Place {
	case types.PlaceStart:
		if len(siblings) > 0 {
			after = &siblings[0].OrderKey
		}
	case types.PlaceEnd:
		if len(siblings) > 0 {
			before = &siblings[len(siblings)-1].OrderKey
		}
	case types.PlaceAfter, types.PlaceBefore:
		idx := -1
		for i, s := range siblings {
			if s.WorkItemID == pos.AnchorID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", types.NewValidationError("anchor %s is not an active sibling", pos.AnchorID)
		}
		if pos.Place == types.PlaceAfter {
			before = &siblings[idx].OrderKey
			if idx+1 < len(siblings) {
				after = &siblings[idx+1].OrderKey
			}
		} else {
			after = &siblings[idx].OrderKey
			if idx > 0 {
				before = &siblings[idx-1].OrderKey
			}
		}
	}

	key, err := orderkey.Between(before, after)
	if err != nil {
		return "", fmt.Errorf("failed to compute order key: %w", err)
	}
	return key, nil
}

// MoveItemBefore places the item immediately before the anchor among their
// shared parent's active children.
func (s *Service) MoveItemBefore(ctx context.Context, id, anchorID string) (*types.WorkItemDetails, error) {
	return s.moveItem(ctx, id, types.Position{Place: types.PlaceBefore, AnchorID: anchorID})
}

// MoveItemAfter places the item immediately after the anchor.
func (s *Service) MoveItemAfter(ctx context.Context, id, anchorID string) (*types.WorkItemDetails, error) {
	return s.moveItem(ctx, id, types.Position{Place: types.PlaceAfter, AnchorID: anchorID})
}

// MoveItemToStart places the item first among its active siblings.
func (s *Service) MoveItemToStart(ctx context.Context, id string) (*types.WorkItemDetails, error) {
	return s.moveItem(ctx, id, types.Position{Place: types.PlaceStart})
}

// MoveItemToEnd places the item last among its active siblings.
func (s *Service) MoveItemToEnd(ctx context.Context, id string) (*types.WorkItemDetails, error) {
	return s.moveItem(ctx, id, types.Position{Place: types.PlaceEnd})
}

func (s *Service) moveItem(ctx context.Context, id string, pos types.Position) (*types.WorkItemDetails, error) {
	var details *types.WorkItemDetails
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		item, err := requireActiveItem(ctx, tx, id)
		if err != nil {
			return err
		}

		if pos.AnchorID != "" {
			if pos.AnchorID == id {
				return types.NewValidationError("cannot move an item relative to itself")
			}
			anchor, err := requireActiveItem(ctx, tx, pos.AnchorID)
			if err != nil {
				return err
			}
			if !sameParent(item.ParentWorkItemID, anchor.ParentWorkItemID) {
				return types.NewValidationError("items %s and %s do not share a parent", id, pos.AnchorID)
			}
		}

		old := *item
		newKey, err := resolveOrderKey(ctx, tx, item.ParentWorkItemID, pos, id)
		if err != nil {
			return err
		}

		item.OrderKey = newKey
		item.UpdatedAt = s.now()
		if err := tx.UpdateWorkItem(ctx, item); err != nil {
			return err
		}

		rec, err := s.beginAction(ctx, tx, types.ActionMoveWorkItem,
			fmt.Sprintf("Moved work item %q (%s)", item.Name, pos.Place))
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

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
