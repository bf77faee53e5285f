// Package service implements the work-item domain operations.
//
// Every mutation follows one template: a single database transaction that
// validates inputs, applies the change through the storage layer, and
// records one action-history row with ordered undo steps before commit.
// The undo steps are full-row JSON snapshots; replaying them in reverse
// order exactly reverses the mutation.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// Service is the orchestrator behind the operation surface. The clock and
// id generator are injectable so tests get deterministic values.
type Service struct {
	store storage.Storage
	now   func() time.Time
	newID func() string
}

// New builds a Service over the given store.
func New(store storage.Storage) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID: uuid.NewString,
	}
}

// requireActiveItem loads an active work item or fails with ErrNotFound.
func requireActiveItem(ctx context.Context, r storage.Reader, id string) (*types.WorkItem, error) {
	if id == "" {
		return nil, types.NewValidationError("work item id is required")
	}
	item, err := r.GetWorkItem(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("work item %s: %w", id, storage.ErrNotFound)
	}
	return item, nil
}

// loadDetails assembles the get_details view: the item, its active children
// in sibling order, and active dependency edges in both directions.
func loadDetails(ctx context.Context, r storage.Reader, item *types.WorkItem) (*types.WorkItemDetails, error) {
	children, err := r.GetChildren(ctx, &item.WorkItemID, false)
	if err != nil {
		return nil, err
	}
	outgoing, err := r.GetOutgoingDependencies(ctx, item.WorkItemID, false)
	if err != nil {
		return nil, err
	}
	incoming, err := r.GetIncomingDependencies(ctx, item.WorkItemID, false)
	if err != nil {
		return nil, err
	}
	return &types.WorkItemDetails{
		WorkItem:     *item,
		Children:     children,
		Dependencies: outgoing,
		Dependents:   incoming,
	}, nil
}

// recorder accumulates the undo steps of one action. The action row is
// inserted up front so the steps' foreign key resolves; steps are numbered
// from 1 in recording order.
type recorder struct {
	tx       storage.Tx
	actionID string
	nextStep int
}

// beginAction takes the history tail lock before inserting the action row,
// so no action can be appended while an undo/redo is inspecting the tail:
// the tail an undo targets is still the committed tail when it commits.
func (s *Service) beginAction(ctx context.Context, tx storage.Tx, actionType, description string) (*recorder, error) {
	if err := tx.LockHistory(ctx); err != nil {
		return nil, err
	}
	action := &types.ActionHistory{
		ActionID:    s.newID(),
		ActionType:  actionType,
		Timestamp:   s.now(),
		Description: description,
	}
	if err := tx.CreateAction(ctx, action); err != nil {
		return nil, err
	}
	return &recorder{tx: tx, actionID: action.ActionID, nextStep: 1}, nil
}

func (rec *recorder) append(ctx context.Context, stepType types.StepType, table, recordID string, oldData, newData any) error {
	step := &types.UndoStep{
		ActionID:  rec.actionID,
		StepOrder: rec.nextStep,
		StepType:  stepType,
		TableName: table,
		RecordID:  recordID,
	}
	var err error
	if oldData != nil {
		if step.OldData, err = json.Marshal(oldData); err != nil {
			return fmt.Errorf("failed to snapshot old row: %w", err)
		}
	}
	if newData != nil {
		if step.NewData, err = json.Marshal(newData); err != nil {
			return fmt.Errorf("failed to snapshot new row: %w", err)
		}
	}
	if err := rec.tx.AppendUndoStep(ctx, step); err != nil {
		return err
	}
	rec.nextStep++
	return nil
}

func (rec *recorder) recordInsert(ctx context.Context, table, recordID string, newData any) error {
	return rec.append(ctx, types.StepInsert, table, recordID, nil, newData)
}

func (rec *recorder) recordUpdate(ctx context.Context, table, recordID string, oldData, newData any) error {
	return rec.append(ctx, types.StepUpdate, table, recordID, oldData, newData)
}

func (rec *recorder) recordDelete(ctx context.Context, table, recordID string, oldData any) error {
	return rec.append(ctx, types.StepDelete, table, recordID, oldData, nil)
}

// recordRawStep persists a pre-built step (undo/redo bookkeeping).
func (rec *recorder) recordRawStep(ctx context.Context, stepType types.StepType, table, recordID string, oldData, newData json.RawMessage) error {
	step := &types.UndoStep{
		ActionID:  rec.actionID,
		StepOrder: rec.nextStep,
		StepType:  stepType,
		TableName: table,
		RecordID:  recordID,
		OldData:   oldData,
		NewData:   newData,
	}
	if err := rec.tx.AppendUndoStep(ctx, step); err != nil {
		return err
	}
	rec.nextStep++
	return nil
}
