package service

import (
	"context"
	"fmt"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/orderkey"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// RebalanceSiblings rewrites the order keys of one sibling group (the
// active children of parentID, or the root list when nil) onto a fresh
// evenly spaced ladder. Repeated bisection between the same two neighbors
// eventually produces very long keys; this is the operational escape hatch.
// Returns the number of keys rewritten; zero writes record no action.
func (s *Service) RebalanceSiblings(ctx context.Context, parentID *string) (int, error) {
	var changed int
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if parentID != nil {
			if _, err := requireActiveItem(ctx, tx, *parentID); err != nil {
				return err
			}
		}
		siblings, err := tx.GetChildren(ctx, parentID, false)
		if err != nil {
			return err
		}
		keys := orderkey.Ladder(len(siblings))

		type rewrite struct {
			item *types.WorkItem
			key  string
		}
		var rewrites []rewrite
		for i, item := range siblings {
			if item.OrderKey != keys[i] {
				rewrites = append(rewrites, rewrite{item: item, key: keys[i]})
			}
		}
		if len(rewrites) == 0 {
			return nil
		}

		scope := "root projects"
		if parentID != nil {
			scope = fmt.Sprintf("children of %s", *parentID)
		}
		rec, err := s.beginAction(ctx, tx, types.ActionRebalanceSiblings,
			fmt.Sprintf("Rebalanced order keys of %d %s", len(rewrites), scope))
		if err != nil {
			return err
		}

		now := s.now()
		for _, rw := range rewrites {
			old := *rw.item
			rw.item.OrderKey = rw.key
			rw.item.UpdatedAt = now
			if err := tx.UpdateWorkItem(ctx, rw.item); err != nil {
				return err
			}
			if err := rec.recordUpdate(ctx, types.TableWorkItems, rw.item.WorkItemID, &old, rw.item); err != nil {
				return err
			}
		}
		changed = len(rewrites)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}
