package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// DeleteWorkItems soft-deletes the listed items and their active descendant
// subtrees, deactivating every active dependency edge touching a removed
// item. One DELETE_WORK_ITEMS action records the flip of every row, so a
// single undo restores the exact prior active set.
func (s *Service) DeleteWorkItems(ctx context.Context, ids []string) (*types.DeleteResult, error) {
	if len(ids) < types.MinDeleteBatch {
		return nil, types.NewValidationError("at least %d work item id is required", types.MinDeleteBatch)
	}
	if len(ids) > types.MaxDeleteBatch {
		return nil, types.NewValidationError("at most %d work items can be deleted at once (got %d)",
			types.MaxDeleteBatch, len(ids))
	}

	var result *types.DeleteResult
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		// Collect the full active set: the listed items plus every active
		// descendant, deduplicated across overlapping subtrees.
		type doomed struct {
			item  *types.WorkItem
			depth int
		}
		collected := make(map[string]*doomed)
		for _, id := range ids {
			item, err := requireActiveItem(ctx, tx, id)
			if err != nil {
				return err
			}
			if _, ok := collected[id]; !ok {
				collected[id] = &doomed{item: item, depth: 0}
			}
			descendants, err := tx.GetDescendants(ctx, id, 0, false)
			if err != nil {
				return err
			}
			for _, d := range descendants {
				if prev, ok := collected[d.Item.WorkItemID]; !ok || d.Depth > prev.depth {
					collected[d.Item.WorkItemID] = &doomed{item: d.Item, depth: d.Depth}
				}
			}
		}

		// Every active edge touching a doomed item goes inactive with it.
		edges := make(map[string]*types.Dependency)
		for id := range collected {
			outgoing, err := tx.GetOutgoingDependencies(ctx, id, false)
			if err != nil {
				return err
			}
			incoming, err := tx.GetIncomingDependencies(ctx, id, false)
			if err != nil {
				return err
			}
			for _, dep := range append(outgoing, incoming...) {
				edges[storage.DependencyRecordID(dep.WorkItemID, dep.DependsOnWorkItemID)] = dep
			}
		}

		rec, err := s.beginAction(ctx, tx, types.ActionDeleteWorkItems,
			fmt.Sprintf("Deleted %d work item(s) (%d including descendants)", len(ids), len(collected)))
		if err != nil {
			return err
		}

		// Dependencies first, then items deepest-first, so the reverse
		// replay reactivates parents before their subtrees' edges.
		edgeIDs := make([]string, 0, len(edges))
		for recordID := range edges {
			edgeIDs = append(edgeIDs, recordID)
		}
		sort.Strings(edgeIDs)
		for _, recordID := range edgeIDs {
			dep := edges[recordID]
			old := *dep
			dep.IsActive = false
			if err := tx.UpdateDependency(ctx, dep); err != nil {
				return err
			}
			if err := rec.recordUpdate(ctx, types.TableDependencies, recordID, &old, dep); err != nil {
				return err
			}
		}

		items := make([]*doomed, 0, len(collected))
		for _, d := range collected {
			items = append(items, d)
		}
		sort.Slice(items, func(i, j int) bool {
			if items[i].depth != items[j].depth {
				return items[i].depth > items[j].depth
			}
			return items[i].item.WorkItemID < items[j].item.WorkItemID
		})

		now := s.now()
		itemIDs := make([]string, 0, len(items))
		for _, d := range items {
			old := *d.item
			d.item.IsActive = false
			d.item.UpdatedAt = now
			if err := rec.recordUpdate(ctx, types.TableWorkItems, d.item.WorkItemID, &old, d.item); err != nil {
				return err
			}
			itemIDs = append(itemIDs, d.item.WorkItemID)
		}
		flipped, err := tx.SetWorkItemsActive(ctx, itemIDs, false, now)
		if err != nil {
			return err
		}

		result = &types.DeleteResult{DeletedCount: flipped}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
