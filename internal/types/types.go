// Package types defines core data structures for the work-item manager.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Field length limits enforced on every write path.
const (
	MaxNameLength        = 255
	MaxDescriptionLength = 1024
	MaxShortnameLength   = 64
)

// WorkItem is a node in the work-item forest. Projects, tasks and sub-tasks
// all share this shape; a nil ParentWorkItemID marks a root project.
type WorkItem struct {
	WorkItemID       string     `json:"work_item_id"`
	ParentWorkItemID *string    `json:"parent_work_item_id,omitempty"`
	Name             string     `json:"name"`
	Description      *string    `json:"description,omitempty"`
	Status           Status     `json:"status"`
	Priority         Priority   `json:"priority"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	OrderKey         string     `json:"order_key"`
	Shortname        string     `json:"shortname"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Validate checks field-level constraints. Hierarchy and ordering
// invariants are enforced by the service layer, not here.
func (w *WorkItem) Validate() error {
	if len(w.Name) == 0 {
		return NewValidationError("name is required")
	}
	if len(w.Name) > MaxNameLength {
		return NewValidationError("name must be %d characters or less (got %d)", MaxNameLength, len(w.Name))
	}
	if w.Description != nil && len(*w.Description) > MaxDescriptionLength {
		return NewValidationError("description must be %d characters or less (got %d)", MaxDescriptionLength, len(*w.Description))
	}
	if !w.Status.IsValid() {
		return NewValidationError("invalid status: %s", w.Status)
	}
	if !w.Priority.IsValid() {
		return NewValidationError("invalid priority: %s", w.Priority)
	}
	return nil
}

// IsRoot returns true for root projects (no parent).
func (w *WorkItem) IsRoot() bool {
	return w.ParentWorkItemID == nil
}

// Status represents the workflow state of a work item.
type Status string

// Work item status constants
const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// IsValid checks if the status value is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// Priority represents the urgency of a work item.
type Priority string

// Work item priority constants
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid checks if the priority value is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Dependency is a directed edge between two work items. The composite key
// (WorkItemID, DependsOnWorkItemID) identifies the edge; IsActive supports
// soft delete with later reactivation.
type Dependency struct {
	WorkItemID          string         `json:"work_item_id"`
	DependsOnWorkItemID string         `json:"depends_on_work_item_id"`
	DependencyType      DependencyType `json:"dependency_type"`
	IsActive            bool           `json:"is_active"`
}

// DependencyType categorizes the relationship between two items.
type DependencyType string

// Dependency type constants
const (
	// DepFinishToStart blocks the dependent item until the target finishes.
	// Only finish-to-start edges participate in cycle detection.
	DepFinishToStart DependencyType = "finish-to-start"

	// DepLinked marks a promoted subtree's attachment to its prior parent.
	// Linked edges are rendered as hierarchy but never block work.
	DepLinked DependencyType = "linked"
)

// IsValid checks if the dependency type value is valid.
func (d DependencyType) IsValid() bool {
	switch d {
	case DepFinishToStart, DepLinked:
		return true
	}
	return false
}

// DependencyInput names one requested edge in add_work_item / add_dependencies.
type DependencyInput struct {
	DependsOnWorkItemID string         `json:"depends_on_work_item_id"`
	DependencyType      DependencyType `json:"dependency_type,omitempty"`
}

// ActionHistory is one committed mutation, recorded append-only. Undo flips
// IsUndone and links the action to the UNDO_ACTION that reverted it.
type ActionHistory struct {
	ActionID         string    `json:"action_id"`
	ActionType       string    `json:"action_type"`
	Timestamp        time.Time `json:"timestamp"`
	Description      string    `json:"description"`
	IsUndone         bool      `json:"is_undone"`
	UndoneAtActionID *string   `json:"undone_at_action_id,omitempty"`
}

// Action type constants. UNDO_ACTION and REDO_ACTION are ordinary history
// rows but are never themselves targets of undo.
const (
	ActionAddWorkItem        = "ADD_WORK_ITEM"
	ActionUpdateName         = "UPDATE_WORK_ITEM_NAME"
	ActionUpdateDescription  = "UPDATE_WORK_ITEM_DESCRIPTION"
	ActionUpdateStatus       = "UPDATE_WORK_ITEM_STATUS"
	ActionUpdatePriority     = "UPDATE_WORK_ITEM_PRIORITY"
	ActionUpdateDueDate      = "UPDATE_WORK_ITEM_DUE_DATE"
	ActionAddDependencies    = "ADD_DEPENDENCIES"
	ActionDeleteDependencies = "DELETE_DEPENDENCIES"
	ActionMoveWorkItem       = "MOVE_WORK_ITEM"
	ActionDeleteWorkItems    = "DELETE_WORK_ITEMS"
	ActionPromoteToProject   = "PROMOTE_TO_PROJECT"
	ActionImportProject      = "IMPORT_PROJECT"
	ActionRebalanceSiblings  = "REBALANCE_SIBLINGS"
	ActionUndo               = "UNDO_ACTION"
	ActionRedo               = "REDO_ACTION"
)

// IsUndoable reports whether actions of this type are candidates for undo.
func IsUndoable(actionType string) bool {
	return actionType != ActionUndo && actionType != ActionRedo
}

// UndoStep is one ordered compensating entry under an action. Replaying a
// recorded action's steps in reverse StepOrder exactly reverses the mutation.
type UndoStep struct {
	ActionID  string          `json:"action_id"`
	StepOrder int             `json:"step_order"`
	StepType  StepType        `json:"step_type"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	OldData   json.RawMessage `json:"old_data,omitempty"`
	NewData   json.RawMessage `json:"new_data,omitempty"`
}

// StepType tags the kind of mutation an undo step records.
type StepType string

// Undo step type constants
const (
	StepInsert StepType = "INSERT"
	StepUpdate StepType = "UPDATE"
	StepDelete StepType = "DELETE"
)

// Table names referenced by undo steps.
const (
	TableWorkItems    = "work_items"
	TableDependencies = "work_item_dependencies"
)

// WorkItemDetails bundles an item with its direct children and its active
// dependency edges in both directions (get_details).
type WorkItemDetails struct {
	WorkItem
	Children     []*WorkItem   `json:"children"`
	Dependencies []*Dependency `json:"dependencies"`
	Dependents   []*Dependency `json:"dependents"`
}

// TreeNode is one node of a rendered tree (get_full_tree). Linked marks
// nodes inside a promoted (linked-reference) branch; their names carry the
// "(L)" suffix in the rendered output only, never in storage.
type TreeNode struct {
	WorkItem
	Linked    bool        `json:"linked,omitempty"`
	Truncated bool        `json:"truncated,omitempty"`
	Children  []*TreeNode `json:"children"`
}

// WorkItemFilter narrows list_work_items queries. A nil IsActive keeps the
// default active-only view; pointing it at false selects soft-deleted rows.
type WorkItemFilter struct {
	ParentID  *string `json:"parent_id,omitempty"`
	RootsOnly bool    `json:"roots_only,omitempty"`
	Status    *Status `json:"status,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

// Tree depth limits for get_full_tree.
const (
	DefaultTreeDepth = 10
	MaxTreeDepth     = 20
)

// TreeOptions controls get_full_tree rendering.
type TreeOptions struct {
	IncludeInactiveItems        bool `json:"include_inactive_items,omitempty"`
	IncludeInactiveDependencies bool `json:"include_inactive_dependencies,omitempty"`
	MaxDepth                    int  `json:"max_depth,omitempty"`
}

// History listing limits.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// HistoryFilter narrows list_history queries.
type HistoryFilter struct {
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Placement selects where an added or moved item lands among its siblings.
type Placement string

// Placement constants
const (
	PlaceStart  Placement = "start"
	PlaceEnd    Placement = "end"
	PlaceAfter  Placement = "after"
	PlaceBefore Placement = "before"
)

// Position resolves to a slot among active siblings. AnchorID is required
// for after/before placements and must share the target's parent.
type Position struct {
	Place    Placement `json:"place"`
	AnchorID string    `json:"anchor_id,omitempty"`
}

// Validate checks placement shape (anchor presence, known placement).
func (p *Position) Validate() error {
	switch p.Place {
	case PlaceStart, PlaceEnd:
		if p.AnchorID != "" {
			return NewValidationError("position %q does not take an anchor", p.Place)
		}
	case PlaceAfter, PlaceBefore:
		if p.AnchorID == "" {
			return NewValidationError("position %q requires an anchor id", p.Place)
		}
	default:
		return NewValidationError("invalid position: %s", p.Place)
	}
	return nil
}

// Delete batch limits for delete_work_items.
const (
	MinDeleteBatch = 1
	MaxDeleteBatch = 100
)

// DeleteResult reports how many rows a delete_work_items call deactivated.
type DeleteResult struct {
	DeletedCount int `json:"deleted_count"`
}

// ValidationError is a caller error: malformed input, limit violation, or a
// business-rule breach (cycle, self-dependency, cross-parent move). The RPC
// dispatcher maps it to the invalid-parameters code.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError with printf formatting.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
