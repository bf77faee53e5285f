package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/orderkey"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// ExportProject serializes the item and its active descendant subtree as a
// JSON document, including the dependency edges whose endpoints both live
// inside the subtree. Edges pointing outside are dropped.
func (s *Service) ExportProject(ctx context.Context, id string) (string, error) {
	root, err := requireActiveItem(ctx, s.store, id)
	if err != nil {
		return "", err
	}
	descendants, err := s.store.GetDescendants(ctx, id, 0, false)
	if err != nil {
		return "", err
	}

	nodes := map[string]*types.ExportNode{root.WorkItemID: exportNode(root)}
	parents := map[string]string{}
	ids := []string{root.WorkItemID}
	for _, d := range descendants {
		nodes[d.Item.WorkItemID] = exportNode(d.Item)
		parents[d.Item.WorkItemID] = *d.Item.ParentWorkItemID
		ids = append(ids, d.Item.WorkItemID)
	}
	// Descendants arrive shallowest-first, so the parent node always exists
	// by the time its child is attached.
	for _, d := range descendants {
		parent := nodes[parents[d.Item.WorkItemID]]
		parent.Children = append(parent.Children, nodes[d.Item.WorkItemID])
	}
	sortExportChildren(nodes[root.WorkItemID])

	deps, err := s.store.GetActiveDependenciesWithin(ctx, ids)
	if err != nil {
		return "", err
	}
	doc := &types.ExportDocument{
		Format:     types.ExportFormat,
		Version:    types.ExportVersion,
		ExportedAt: s.now(),
		Project:    nodes[root.WorkItemID],
	}
	for _, dep := range deps {
		doc.Dependencies = append(doc.Dependencies, &types.ExportDependency{
			WorkItemID:          dep.WorkItemID,
			DependsOnWorkItemID: dep.DependsOnWorkItemID,
			DependencyType:      dep.DependencyType,
		})
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize export document: %w", err)
	}
	return string(out), nil
}

func exportNode(item *types.WorkItem) *types.ExportNode {
	return &types.ExportNode{
		WorkItemID:  item.WorkItemID,
		Name:        item.Name,
		Description: item.Description,
		Status:      item.Status,
		Priority:    item.Priority,
		DueDate:     item.DueDate,
		OrderKey:    item.OrderKey,
	}
}

func sortExportChildren(n *types.ExportNode) {
	sort.SliceStable(n.Children, func(i, j int) bool {
		if c, err := orderkey.Compare(n.Children[i].OrderKey, n.Children[j].OrderKey); err == nil {
			return c < 0
		}
		return n.Children[i].OrderKey < n.Children[j].OrderKey
	})
	for _, child := range n.Children {
		sortExportChildren(child)
	}
}
