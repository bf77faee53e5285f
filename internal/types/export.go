package types

import (
	"time"
)

// Export document framing. Import rejects documents over MaxImportBytes
// before any JSON parsing happens.
const (
	ExportFormat   = "work-item-project"
	ExportVersion  = 1
	MaxImportBytes = 1 << 20 // 1 MiB
)

// ExportDocument is the wire form of export_project / import_project: a
// project subtree plus the dependency edges scoped to it. Edges touching
// items outside the subtree are omitted at export time.
type ExportDocument struct {
	Format       string              `json:"format"`
	Version      int                 `json:"version"`
	ExportedAt   time.Time           `json:"exported_at"`
	Project      *ExportNode         `json:"project"`
	Dependencies []*ExportDependency `json:"dependencies,omitempty"`
}

// ExportNode carries one work item and its ordered children. Item IDs are
// included so internal dependencies can reference nodes; import remaps them
// to fresh UUIDs.
type ExportNode struct {
	WorkItemID  string        `json:"work_item_id"`
	Name        string        `json:"name"`
	Description *string       `json:"description,omitempty"`
	Status      Status        `json:"status"`
	Priority    Priority      `json:"priority"`
	DueDate     *time.Time    `json:"due_date,omitempty"`
	OrderKey    string        `json:"order_key"`
	Children    []*ExportNode `json:"children,omitempty"`
}

// ExportDependency is one internal edge of the exported subtree.
type ExportDependency struct {
	WorkItemID          string         `json:"work_item_id"`
	DependsOnWorkItemID string         `json:"depends_on_work_item_id"`
	DependencyType      DependencyType `json:"dependency_type"`
}

// Validate checks document framing, every node's field constraints, ID
// uniqueness, and that all dependency endpoints live inside the subtree.
func (d *ExportDocument) Validate() error {
	if d.Format != ExportFormat {
		return NewValidationError("unsupported document format: %q", d.Format)
	}
	if d.Version != ExportVersion {
		return NewValidationError("unsupported document version: %d", d.Version)
	}
	if d.Project == nil {
		return NewValidationError("document has no project node")
	}

	seen := make(map[string]bool)
	if err := validateExportNode(d.Project, seen); err != nil {
		return err
	}

	for _, dep := range d.Dependencies {
		if !seen[dep.WorkItemID] {
			return NewValidationError("dependency references %s outside the subtree", dep.WorkItemID)
		}
		if !seen[dep.DependsOnWorkItemID] {
			return NewValidationError("dependency references %s outside the subtree", dep.DependsOnWorkItemID)
		}
		if dep.WorkItemID == dep.DependsOnWorkItemID {
			return NewValidationError("dependency of %s on itself", dep.WorkItemID)
		}
		if !dep.DependencyType.IsValid() {
			return NewValidationError("invalid dependency type: %s", dep.DependencyType)
		}
	}
	return nil
}

func validateExportNode(n *ExportNode, seen map[string]bool) error {
	if n.WorkItemID == "" {
		return NewValidationError("node %q has no work_item_id", n.Name)
	}
	if seen[n.WorkItemID] {
		return NewValidationError("duplicate work_item_id in document: %s", n.WorkItemID)
	}
	seen[n.WorkItemID] = true

	item := WorkItem{
		Name:        n.Name,
		Description: n.Description,
		Status:      n.Status,
		Priority:    n.Priority,
	}
	if item.Status == "" {
		item.Status = StatusTodo
	}
	if item.Priority == "" {
		item.Priority = PriorityMedium
	}
	if err := item.Validate(); err != nil {
		return err
	}

	for _, child := range n.Children {
		if err := validateExportNode(child, seen); err != nil {
			return err
		}
	}
	return nil
}

// NodeCount returns the number of items in the subtree.
func (d *ExportDocument) NodeCount() int {
	return countExportNodes(d.Project)
}

func countExportNodes(n *ExportNode) int {
	if n == nil {
		return 0
	}
	count := 1
	for _, child := range n.Children {
		count += countExportNodes(child)
	}
	return count
}
