package service

import (
	"context"
	"fmt"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// GetFullTree renders the subtree rooted at id. Promoted subtrees, found
// via active linked dependency edges, still render under their prior parent
// with an "(L)" suffix on every node name; the suffix is rendering-only and
// never stored. Descent through natural and linked children shares one
// depth counter, and a per-path visited set plus the depth cap keep cycles
// through linked edges from recursing forever.
func (s *Service) GetFullTree(ctx context.Context, id string, opts types.TreeOptions) (*types.TreeNode, error) {
	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = types.DefaultTreeDepth
	}
	if maxDepth < 0 {
		return nil, types.NewValidationError("max_depth must be positive")
	}
	if maxDepth > types.MaxTreeDepth {
		return nil, types.NewValidationError("max_depth must be %d or less (got %d)",
			types.MaxTreeDepth, maxDepth)
	}

	root, err := s.store.GetWorkItem(ctx, id, opts.IncludeInactiveItems)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}

	b := &treeBuilder{reader: s.store, opts: opts, maxDepth: maxDepth}
	return b.build(ctx, root, 0, false, map[string]bool{})
}

type treeBuilder struct {
	reader   storage.Reader
	opts     types.TreeOptions
	maxDepth int
}

func (b *treeBuilder) build(ctx context.Context, item *types.WorkItem, depth int, linked bool, onPath map[string]bool) (*types.TreeNode, error) {
	node := &types.TreeNode{WorkItem: *item, Linked: linked}
	if linked {
		node.Name = item.Name + " (L)"
	}

	if onPath[item.WorkItemID] {
		// Linked edges can loop; the repeated node renders as a leaf.
		node.Truncated = true
		return node, nil
	}

	children, err := b.reader.GetChildren(ctx, &item.WorkItemID, b.opts.IncludeInactiveItems)
	if err != nil {
		return nil, err
	}
	linkedChildren, err := b.linkedChildren(ctx, item.WorkItemID)
	if err != nil {
		return nil, err
	}

	if depth >= b.maxDepth {
		node.Truncated = len(children)+len(linkedChildren) > 0
		return node, nil
	}

	onPath[item.WorkItemID] = true
	defer delete(onPath, item.WorkItemID)

	for _, child := range children {
		childNode, err := b.build(ctx, child, depth+1, linked, onPath)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	for _, child := range linkedChildren {
		childNode, err := b.build(ctx, child, depth+1, true, onPath)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// linkedChildren resolves the targets of the item's linked dependency
// edges: promoted subtrees that used to live under it.
func (b *treeBuilder) linkedChildren(ctx context.Context, itemID string) ([]*types.WorkItem, error) {
	deps, err := b.reader.GetOutgoingDependencies(ctx, itemID, b.opts.IncludeInactiveDependencies)
	if err != nil {
		return nil, err
	}
	var items []*types.WorkItem
	for _, dep := range deps {
		if dep.DependencyType != types.DepLinked {
			continue
		}
		target, err := b.reader.GetWorkItem(ctx, dep.DependsOnWorkItemID, b.opts.IncludeInactiveItems)
		if err != nil {
			return nil, err
		}
		if target != nil {
			items = append(items, target)
		}
	}
	return items, nil
}
