package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/shortname"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// ImportProject creates a new root project from an export document,
// remapping every work item id to a fresh UUID and preserving relative
// sibling order and internal dependencies. The whole subtree lands in one
// transaction under a single IMPORT_PROJECT action.
func (s *Service) ImportProject(ctx context.Context, doc string, newName *string) (*types.WorkItemDetails, error) {
	if len(doc) > types.MaxImportBytes {
		return nil, types.NewValidationError("document exceeds %d bytes (got %d)",
			types.MaxImportBytes, len(doc))
	}
	var parsed types.ExportDocument
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, types.NewValidationError("malformed document: %v", err)
	}
	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	if newName != nil {
		parsed.Project.Name = *newName
	}

	var details *types.WorkItemDetails
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		rec, err := s.beginAction(ctx, tx, types.ActionImportProject,
			fmt.Sprintf("Imported project %q (%d items)", parsed.Project.Name, parsed.NodeCount()))
		if err != nil {
			return err
		}

		// The imported root slots at the end of the root list; everything
		// below it keeps the document's order keys.
		rootKey, err := resolveOrderKey(ctx, tx, nil, types.Position{Place: types.PlaceEnd}, "")
		if err != nil {
			return err
		}
		rootSlug, err := assignShortname(ctx, tx, nil, parsed.Project.Name, "")
		if err != nil {
			return err
		}

		idMap := make(map[string]string)
		root, err := s.importNode(ctx, tx, rec, parsed.Project, nil, rootKey, rootSlug, idMap)
		if err != nil {
			return err
		}

		for _, dep := range parsed.Dependencies {
			edge := &types.Dependency{
				WorkItemID:          idMap[dep.WorkItemID],
				DependsOnWorkItemID: idMap[dep.DependsOnWorkItemID],
				DependencyType:      dep.DependencyType,
				IsActive:            true,
			}
			if dep.DependencyType == types.DepFinishToStart {
				cycle, err := tx.WouldCreateCycle(ctx, edge.WorkItemID, edge.DependsOnWorkItemID)
				if err != nil {
					return err
				}
				if cycle {
					return types.NewValidationError("document dependencies contain a cycle through %s",
						dep.WorkItemID)
				}
			}
			if err := tx.CreateDependency(ctx, edge); err != nil {
				return err
			}
			recordID := storage.DependencyRecordID(edge.WorkItemID, edge.DependsOnWorkItemID)
			if err := rec.recordInsert(ctx, types.TableDependencies, recordID, edge); err != nil {
				return err
			}
		}

		details, err = loadDetails(ctx, tx, root)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (s *Service) importNode(ctx context.Context, tx storage.Tx, rec *recorder, node *types.ExportNode,
	parentID *string, orderKey, slug string, idMap map[string]string) (*types.WorkItem, error) {

	now := s.now()
	item := &types.WorkItem{
		WorkItemID:       s.newID(),
		ParentWorkItemID: parentID,
		Name:             node.Name,
		Description:      node.Description,
		Status:           node.Status,
		Priority:         node.Priority,
		DueDate:          node.DueDate,
		OrderKey:         orderKey,
		Shortname:        slug,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if item.Status == "" {
		item.Status = types.StatusTodo
	}
	if item.Priority == "" {
		item.Priority = types.PriorityMedium
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if err := tx.CreateWorkItem(ctx, item); err != nil {
		return nil, err
	}
	if err := rec.recordInsert(ctx, types.TableWorkItems, item.WorkItemID, item); err != nil {
		return nil, err
	}
	idMap[node.WorkItemID] = item.WorkItemID

	// Children keep the document's order keys; their shortnames only need
	// disambiguation among each other, the subtree being freshly created.
	taken := make(map[string]bool, len(node.Children))
	seenKeys := make(map[string]bool, len(node.Children))
	for _, child := range node.Children {
		if seenKeys[child.OrderKey] {
			return nil, types.NewValidationError("duplicate order_key %q among children of %q",
				child.OrderKey, node.Name)
		}
		seenKeys[child.OrderKey] = true
	}
	for _, child := range node.Children {
		childSlug := shortname.Disambiguate(shortname.Generate(child.Name), taken)
		taken[childSlug] = true
		if _, err := s.importNode(ctx, tx, rec, child, &item.WorkItemID, child.OrderKey, childSlug, idMap); err != nil {
			return nil, err
		}
	}
	return item, nil
}
