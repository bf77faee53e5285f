// Package storage defines the interface to the relational work-item store.
//
// The concrete implementation lives in the mysql sub-package. This package
// holds the interface and value types referenced by both the implementation
// and its consumers (internal/service, cmd/taskd).
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a transaction loses a serialization race,
// e.g. a concurrent undo/redo holds the history tail lock.
var ErrConflict = errors.New("conflict")

// Descendant pairs a work item with its depth below the traversal root
// (direct children are depth 1).
type Descendant struct {
	Item  *types.WorkItem
	Depth int
}

// Reader is the query surface shared by the pooled store and transactions.
// Reads on the pooled store run in implicit transactions; the same methods
// on a Tx see the transaction's uncommitted writes.
type Reader interface {
	// GetWorkItem returns the item or nil when it does not exist.
	// Inactive items are hidden unless includeInactive is set.
	GetWorkItem(ctx context.Context, id string, includeInactive bool) (*types.WorkItem, error)
	ListWorkItems(ctx context.Context, filter types.WorkItemFilter) ([]*types.WorkItem, error)
	// GetChildren lists direct children ordered by order key. A nil
	// parentID selects root projects.
	GetChildren(ctx context.Context, parentID *string, includeInactive bool) ([]*types.WorkItem, error)
	// GetDescendants walks the subtree below rootID (root excluded),
	// shallowest first. maxDepth <= 0 means unbounded.
	GetDescendants(ctx context.Context, rootID string, maxDepth int, includeInactive bool) ([]*Descendant, error)

	// GetDependency returns the edge regardless of active flag, or nil.
	GetDependency(ctx context.Context, workItemID, dependsOnID string) (*types.Dependency, error)
	GetOutgoingDependencies(ctx context.Context, workItemID string, includeInactive bool) ([]*types.Dependency, error)
	GetIncomingDependencies(ctx context.Context, workItemID string, includeInactive bool) ([]*types.Dependency, error)
	// GetActiveDependenciesWithin returns active edges whose endpoints are
	// both inside the given id set (export scoping).
	GetActiveDependenciesWithin(ctx context.Context, ids []string) ([]*types.Dependency, error)
	// WouldCreateCycle reports whether adding workItemID -> dependsOnID
	// would close a loop in the active finish-to-start subgraph.
	WouldCreateCycle(ctx context.Context, workItemID, dependsOnID string) (bool, error)

	GetAction(ctx context.Context, actionID string) (*types.ActionHistory, error)
	GetUndoSteps(ctx context.Context, actionID string) ([]*types.UndoStep, error)
	ListActions(ctx context.Context, filter types.HistoryFilter) ([]*types.ActionHistory, error)
	// GetLastAction returns the most recently committed action, or nil.
	GetLastAction(ctx context.Context) (*types.ActionHistory, error)
	// GetLastUndoableAction returns the most recent action with
	// is_undone=false whose type is neither UNDO_ACTION nor REDO_ACTION.
	GetLastUndoableAction(ctx context.Context) (*types.ActionHistory, error)
	// GetActionUndoneBy returns the action whose undone_at_action_id links
	// to the given UNDO_ACTION, or nil.
	GetActionUndoneBy(ctx context.Context, undoActionID string) (*types.ActionHistory, error)
}

// Tx exposes the write surface inside a single database transaction. Every
// mutation of a committed operation goes through exactly one Tx.
type Tx interface {
	Reader

	CreateWorkItem(ctx context.Context, item *types.WorkItem) error
	// UpdateWorkItem writes the full row identified by item.WorkItemID.
	UpdateWorkItem(ctx context.Context, item *types.WorkItem) error
	// SetWorkItemsActive flips is_active on the given ids, stamping
	// updatedAt, and returns the number of rows whose flag actually changed.
	SetWorkItemsActive(ctx context.Context, ids []string, active bool, updatedAt time.Time) (int, error)

	CreateDependency(ctx context.Context, dep *types.Dependency) error
	// UpdateDependency rewrites type and active flag of an existing edge.
	UpdateDependency(ctx context.Context, dep *types.Dependency) error

	CreateAction(ctx context.Context, action *types.ActionHistory) error
	AppendUndoStep(ctx context.Context, step *types.UndoStep) error
	MarkActionUndone(ctx context.Context, actionID, byActionID string) error
	ClearActionUndone(ctx context.Context, actionID string) error

	// LockHistory locks the singleton history_lock row until the
	// transaction ends. Every history append and every undo/redo tail
	// read takes it, so the committed tail cannot move under a replay.
	// Lock-wait timeouts surface as ErrConflict.
	LockHistory(ctx context.Context) error

	// Generic row operations keyed by (table, record id), used by the
	// undo-step replay engine. Row payloads are full-row JSON snapshots.
	InsertRow(ctx context.Context, table, recordID string, row []byte) error
	UpdateRow(ctx context.Context, table, recordID string, row []byte) error
	DeleteRow(ctx context.Context, table, recordID string) error
}

// Storage is the interface satisfied by *mysql.Store.
type Storage interface {
	Reader

	// RunInTransaction executes fn inside one database transaction:
	// commit on nil return, rollback on error or panic.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Undo steps key dependency rows with a composite record id, since the
// table has no single-column key.
const depRecordSep = "::"

// DependencyRecordID builds the record id of a dependency row for undo
// steps: "<work_item_id>::<depends_on_work_item_id>".
func DependencyRecordID(workItemID, dependsOnID string) string {
	return workItemID + depRecordSep + dependsOnID
}

// SplitDependencyRecordID reverses DependencyRecordID.
func SplitDependencyRecordID(recordID string) (string, string, error) {
	from, to, ok := strings.Cut(recordID, depRecordSep)
	if !ok || from == "" || to == "" {
		return "", "", fmt.Errorf("malformed dependency record id %q", recordID)
	}
	return from, to, nil
}

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}
