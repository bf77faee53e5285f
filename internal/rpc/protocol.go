package rpc

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// Operation constants for the work-item tool surface.
const (
	OpPing = "ping"

	OpAddWorkItem        = "add_work_item"
	OpSetName            = "set_name"
	OpSetDescription     = "set_description"
	OpSetStatus          = "set_status"
	OpSetPriority        = "set_priority"
	OpSetDueDate         = "set_due_date"
	OpAddDependencies    = "add_dependencies"
	OpDeleteDependencies = "delete_dependencies"
	OpMoveItemBefore     = "move_item_before"
	OpMoveItemAfter      = "move_item_after"
	OpMoveItemToStart    = "move_item_to_start"
	OpMoveItemToEnd      = "move_item_to_end"
	OpDeleteWorkItems    = "delete_work_items"
	OpPromoteToProject   = "promote_to_project"
	OpGetDetails         = "get_details"
	OpListWorkItems      = "list_work_items"
	OpGetFullTree        = "get_full_tree"
	OpExportProject      = "export_project"
	OpImportProject      = "import_project"
	OpUndoLastAction     = "undo_last_action"
	OpRedoLastUndo       = "redo_last_undo"
	OpListHistory        = "list_history"
	OpRebalanceSiblings  = "rebalance_siblings"
)

// Error codes surfaced to clients.
const (
	CodeInvalidParameters = "invalid_parameters"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInternalError     = "internal_error"
)

// Request is one line of the newline-delimited JSON protocol.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Response mirrors a Request. Data carries the operation result on success;
// Error and Code describe the failure otherwise.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewDataResponse marshals v into a success response.
func NewDataResponse(v any) *Response {
	data, err := json.Marshal(v)
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Response{Success: true, Data: data}
}

// NewErrorResponse classifies err into the external error taxonomy.
func NewErrorResponse(err error) *Response {
	return &Response{Success: false, Error: err.Error(), Code: classifyError(err)}
}

func classifyError(err error) string {
	var vErr *types.ValidationError
	switch {
	case errors.As(err, &vErr):
		return CodeInvalidParameters
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, storage.ErrConflict):
		return CodeConflict
	default:
		return CodeInternalError
	}
}

// AddWorkItemArgs carries add_work_item arguments.
type AddWorkItemArgs struct {
	ParentWorkItemID *string                 `json:"parent_work_item_id,omitempty"`
	Name             string                  `json:"name"`
	Description      *string                 `json:"description,omitempty"`
	Status           *types.Status           `json:"status,omitempty"`
	Priority         *types.Priority         `json:"priority,omitempty"`
	DueDate          *time.Time              `json:"due_date,omitempty"`
	Dependencies     []types.DependencyInput `json:"dependencies,omitempty"`
	Position         *types.Position         `json:"position,omitempty"`
}

// SetFieldArgs covers the single-field update operations. Exactly one value
// field is read, selected by the operation name.
type SetFieldArgs struct {
	WorkItemID  string          `json:"work_item_id"`
	Name        string          `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Status      types.Status    `json:"status,omitempty"`
	Priority    types.Priority  `json:"priority,omitempty"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
}

// DependencyArgs covers add_dependencies and delete_dependencies.
type DependencyArgs struct {
	WorkItemID   string                  `json:"work_item_id"`
	Dependencies []types.DependencyInput `json:"dependencies,omitempty"`
	DependsOnIDs []string                `json:"depends_on_ids,omitempty"`
}

// MoveArgs covers the four move operations; AnchorID is unused by the
// start/end variants.
type MoveArgs struct {
	WorkItemID string `json:"work_item_id"`
	AnchorID   string `json:"anchor_id,omitempty"`
}

// DeleteArgs carries delete_work_items ids.
type DeleteArgs struct {
	WorkItemIDs []string `json:"work_item_ids"`
}

// ItemArgs is the single-id argument shape shared by several operations.
type ItemArgs struct {
	WorkItemID string `json:"work_item_id"`
}

// TreeArgs carries get_full_tree arguments.
type TreeArgs struct {
	WorkItemID string            `json:"work_item_id"`
	Options    types.TreeOptions `json:"options,omitempty"`
}

// ImportArgs carries import_project arguments.
type ImportArgs struct {
	Document       string  `json:"document"`
	NewProjectName *string `json:"new_project_name,omitempty"`
}

// RebalanceArgs carries rebalance_siblings arguments; a nil parent selects
// the root list.
type RebalanceArgs struct {
	ParentWorkItemID *string `json:"parent_work_item_id,omitempty"`
}

// ExportResult wraps the export document string.
type ExportResult struct {
	Document string `json:"document"`
}

// RebalanceResult reports how many keys a rebalance rewrote.
type RebalanceResult struct {
	RebalancedCount int `json:"rebalanced_count"`
}
