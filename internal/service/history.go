package service

import (
	"context"
	"fmt"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// UndoLastAction reverses the most recent not-yet-undone action. It replays
// the action's undo steps in reverse order, appends an UNDO_ACTION whose
// own steps are the exact inverses (so redo can run through the same
// engine), and links the target via undone_at_action_id. Returns nil when
// nothing is undoable.
func (s *Service) UndoLastAction(ctx context.Context) (*types.ActionHistory, error) {
	var undone *types.ActionHistory
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.LockHistory(ctx); err != nil {
			return err
		}
		target, err := tx.GetLastUndoableAction(ctx)
		if err != nil {
			return err
		}
		if target == nil {
			return nil
		}
		steps, err := tx.GetUndoSteps(ctx, target.ActionID)
		if err != nil {
			return err
		}

		rec, err := s.beginAction(ctx, tx, types.ActionUndo,
			fmt.Sprintf("Undid action: %s", target.Description))
		if err != nil {
			return err
		}
		if err := replaySteps(ctx, tx, rec, steps); err != nil {
			return err
		}
		if err := tx.MarkActionUndone(ctx, target.ActionID, rec.actionID); err != nil {
			return err
		}

		target.IsUndone = true
		target.UndoneAtActionID = &rec.actionID
		undone = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return undone, nil
}

// RedoLastUndo reapplies the action reverted by the most recent undo. Redo
// only considers the committed tail: if the last action in history is not
// an un-redone UNDO_ACTION, there is nothing to redo and nil is returned.
// Any newer mutation therefore invalidates outstanding undos.
func (s *Service) RedoLastUndo(ctx context.Context) (*types.ActionHistory, error) {
	var redone *types.ActionHistory
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.LockHistory(ctx); err != nil {
			return err
		}
		last, err := tx.GetLastAction(ctx)
		if err != nil {
			return err
		}
		if last == nil || last.ActionType != types.ActionUndo || last.IsUndone {
			return nil
		}
		target, err := tx.GetActionUndoneBy(ctx, last.ActionID)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("undo action %s has no linked target", last.ActionID)
		}
		steps, err := tx.GetUndoSteps(ctx, last.ActionID)
		if err != nil {
			return err
		}

		rec, err := s.beginAction(ctx, tx, types.ActionRedo,
			fmt.Sprintf("Redid action: %s", target.Description))
		if err != nil {
			return err
		}
		if err := replaySteps(ctx, tx, rec, steps); err != nil {
			return err
		}
		// Consume the undo and reinstate its target.
		if err := tx.MarkActionUndone(ctx, last.ActionID, rec.actionID); err != nil {
			return err
		}
		if err := tx.ClearActionUndone(ctx, target.ActionID); err != nil {
			return err
		}

		target.IsUndone = false
		target.UndoneAtActionID = nil
		redone = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redone, nil
}

// ListHistory enumerates recorded actions, newest first.
func (s *Service) ListHistory(ctx context.Context, filter types.HistoryFilter) ([]*types.ActionHistory, error) {
	if filter.Limit < 0 {
		return nil, types.NewValidationError("limit must be positive")
	}
	if filter.Limit > types.MaxHistoryLimit {
		return nil, types.NewValidationError("limit must be %d or less (got %d)",
			types.MaxHistoryLimit, filter.Limit)
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, types.NewValidationError("end_date is before start_date")
	}
	actions, err := s.store.ListActions(ctx, filter)
	if err != nil {
		return nil, err
	}
	if actions == nil {
		actions = []*types.ActionHistory{}
	}
	return actions, nil
}

// replaySteps runs recorded steps through the replay engine in reverse
// order, recording the inverse of each into rec. The inverses are shaped so
// that replaying them (again in reverse) restores the state before this
// call, which is exactly what redo needs.
func replaySteps(ctx context.Context, tx storage.Tx, rec *recorder, steps []*types.UndoStep) error {
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		switch step.StepType {
		case types.StepInsert:
			// The recorded insert is reversed by deleting the row; the
			// inverse is a delete step carrying the row for re-insertion.
			if err := tx.DeleteRow(ctx, step.TableName, step.RecordID); err != nil {
				return err
			}
			if err := rec.recordRawStep(ctx, types.StepDelete, step.TableName, step.RecordID,
				step.NewData, nil); err != nil {
				return err
			}
		case types.StepUpdate:
			if err := tx.UpdateRow(ctx, step.TableName, step.RecordID, step.OldData); err != nil {
				return err
			}
			if err := rec.recordRawStep(ctx, types.StepUpdate, step.TableName, step.RecordID,
				step.NewData, step.OldData); err != nil {
				return err
			}
		case types.StepDelete:
			if err := tx.InsertRow(ctx, step.TableName, step.RecordID, step.OldData); err != nil {
				return err
			}
			if err := rec.recordRawStep(ctx, types.StepInsert, step.TableName, step.RecordID,
				nil, step.OldData); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown undo step type %q", step.StepType)
		}
	}
	return nil
}
