package service

import (
	"context"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// GetDetails returns the item with its active children and dependency edges.
func (s *Service) GetDetails(ctx context.Context, id string) (*types.WorkItemDetails, error) {
	item, err := requireActiveItem(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return loadDetails(ctx, s.store, item)
}

// ListWorkItems lists items matching the filter. Sibling-scoped listings
// come back in visible order, unscoped ones in creation order.
func (s *Service) ListWorkItems(ctx context.Context, filter types.WorkItemFilter) ([]*types.WorkItem, error) {
	if filter.RootsOnly && filter.ParentID != nil {
		return nil, types.NewValidationError("roots_only and parent_id are mutually exclusive")
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, types.NewValidationError("invalid status: %s", *filter.Status)
	}
	if filter.ParentID != nil {
		if _, err := requireActiveItem(ctx, s.store, *filter.ParentID); err != nil {
			return nil, err
		}
	}
	items, err := s.store.ListWorkItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*types.WorkItem{}
	}
	return items, nil
}
