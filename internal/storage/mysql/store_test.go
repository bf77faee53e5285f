package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// setupTestStore provisions a throwaway database on the server named by the
// TASKD_TEST_DB_* environment and opens a Store against it. Tests are
// skipped when no server is configured, so the suite stays runnable without
// infrastructure.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	host := os.Getenv("TASKD_TEST_DB_HOST")
	if host == "" {
		t.Skip("TASKD_TEST_DB_HOST not set, skipping database integration test")
	}
	port := 3306
	if p := os.Getenv("TASKD_TEST_DB_PORT"); p != "" {
		parsed, err := strconv.Atoi(p)
		require.NoError(t, err)
		port = parsed
	}
	user := os.Getenv("TASKD_TEST_DB_USER")
	if user == "" {
		user = "root"
	}
	password := os.Getenv("TASKD_TEST_DB_PASSWORD")

	dbName := fmt.Sprintf("taskd_test_%s", uuid.New().String()[:8])

	admin, err := sql.Open("mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/", user, password, host, port))
	require.NoError(t, err)
	_, err = admin.Exec("CREATE DATABASE " + dbName)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec("DROP DATABASE IF EXISTS " + dbName)
		admin.Close()
	})

	store, err := New(context.Background(), storage.Config{
		Host: host, Port: port, User: user, Password: password, Database: dbName,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestItem(parentID *string, name, orderKey string) *types.WorkItem {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &types.WorkItem{
		WorkItemID:       uuid.New().String(),
		ParentWorkItemID: parentID,
		Name:             name,
		Status:           types.StatusTodo,
		Priority:         types.PriorityMedium,
		OrderKey:         orderKey,
		Shortname:        name,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func insertItems(t *testing.T, store *Store, items ...*types.WorkItem) {
	t.Helper()
	err := store.RunInTransaction(context.Background(), func(tx storage.Tx) error {
		for _, item := range items {
			if err := tx.CreateWorkItem(context.Background(), item); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestWorkItemRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	desc := "a description"
	due := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	item := newTestItem(nil, "root project", "1000")
	item.Description = &desc
	item.DueDate = &due
	insertItems(t, store, item)

	got, err := store.GetWorkItem(ctx, item.WorkItemID, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, item.Name, got.Name)
	require.Equal(t, desc, *got.Description)
	require.True(t, due.Equal(*got.DueDate))
	require.Nil(t, got.ParentWorkItemID)
	require.True(t, got.IsActive)

	missing, err := store.GetWorkItem(ctx, uuid.New().String(), false)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestGetChildrenOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	root := newTestItem(nil, "root", "1000")
	insertItems(t, store, root)

	// Insert out of order; keys 999.5 and 1000.25 exercise the numeric
	// compare (lexicographic order would differ).
	a := newTestItem(&root.WorkItemID, "a", "1000.25")
	b := newTestItem(&root.WorkItemID, "b", "999.5")
	c := newTestItem(&root.WorkItemID, "c", "2000")
	insertItems(t, store, a, b, c)

	children, err := store.GetChildren(ctx, &root.WorkItemID, false)
	require.NoError(t, err)
	require.Len(t, children, 3)
	require.Equal(t, "b", children[0].Name)
	require.Equal(t, "a", children[1].Name)
	require.Equal(t, "c", children[2].Name)
}

func TestGetDescendantsDepthAndActive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	root := newTestItem(nil, "root", "1000")
	child := newTestItem(&root.WorkItemID, "child", "1000")
	grand := newTestItem(&child.WorkItemID, "grand", "1000")
	inactive := newTestItem(&root.WorkItemID, "gone", "2000")
	inactive.IsActive = false
	orphanUnder := newTestItem(&inactive.WorkItemID, "under-gone", "1000")
	insertItems(t, store, root, child, grand, inactive, orphanUnder)

	visible, err := store.GetDescendants(ctx, root.WorkItemID, 10, false)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	require.Equal(t, "child", visible[0].Item.Name)
	require.Equal(t, 1, visible[0].Depth)
	require.Equal(t, "grand", visible[1].Item.Name)
	require.Equal(t, 2, visible[1].Depth)

	all, err := store.GetDescendants(ctx, root.WorkItemID, 10, true)
	require.NoError(t, err)
	require.Len(t, all, 4)

	shallow, err := store.GetDescendants(ctx, root.WorkItemID, 1, false)
	require.NoError(t, err)
	require.Len(t, shallow, 1)
}

func TestGetDescendantsRejectsOverdeepSubtree(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A chain two levels past the walk bound.
	root := newTestItem(nil, "d0", "1000")
	items := []*types.WorkItem{root}
	parent := root
	for i := 1; i <= maxWalkDepth+2; i++ {
		child := newTestItem(&parent.WorkItemID, fmt.Sprintf("d%d", i), "1000")
		items = append(items, child)
		parent = child
	}
	insertItems(t, store, items...)

	_, err := store.GetDescendants(ctx, root.WorkItemID, 0, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds")

	// Explicitly bounded walks still truncate quietly.
	shallow, err := store.GetDescendants(ctx, root.WorkItemID, 5, false)
	require.NoError(t, err)
	require.Len(t, shallow, 5)
}

func TestDependenciesAndCycleCheck(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := newTestItem(nil, "a", "1000")
	b := newTestItem(nil, "b", "2000")
	c := newTestItem(nil, "c", "3000")
	insertItems(t, store, a, b, c)

	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateDependency(ctx, &types.Dependency{
			WorkItemID: a.WorkItemID, DependsOnWorkItemID: b.WorkItemID,
			DependencyType: types.DepFinishToStart, IsActive: true,
		}); err != nil {
			return err
		}
		return tx.CreateDependency(ctx, &types.Dependency{
			WorkItemID: b.WorkItemID, DependsOnWorkItemID: c.WorkItemID,
			DependencyType: types.DepFinishToStart, IsActive: true,
		})
	})
	require.NoError(t, err)

	// c -> a closes the loop a -> b -> c.
	cycle, err := store.WouldCreateCycle(ctx, c.WorkItemID, a.WorkItemID)
	require.NoError(t, err)
	require.True(t, cycle)

	ok, err := store.WouldCreateCycle(ctx, a.WorkItemID, c.WorkItemID)
	require.NoError(t, err)
	require.False(t, ok)

	self, err := store.WouldCreateCycle(ctx, a.WorkItemID, a.WorkItemID)
	require.NoError(t, err)
	require.True(t, self)

	// Deactivated edges drop out of the reachability walk.
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.UpdateDependency(ctx, &types.Dependency{
			WorkItemID: b.WorkItemID, DependsOnWorkItemID: c.WorkItemID,
			DependencyType: types.DepFinishToStart, IsActive: false,
		})
	})
	require.NoError(t, err)

	cycle, err = store.WouldCreateCycle(ctx, c.WorkItemID, a.WorkItemID)
	require.NoError(t, err)
	require.False(t, cycle)

	outgoing, err := store.GetOutgoingDependencies(ctx, b.WorkItemID, false)
	require.NoError(t, err)
	require.Empty(t, outgoing)
	outgoing, err = store.GetOutgoingDependencies(ctx, b.WorkItemID, true)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)

	incoming, err := store.GetIncomingDependencies(ctx, b.WorkItemID, false)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	require.Equal(t, a.WorkItemID, incoming[0].WorkItemID)
}

func TestWouldCreateCycleRejectsOverdeepChain(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A dependency chain longer than the walk bound: the check cannot
	// prove the new edge is safe and must say so.
	items := make([]*types.WorkItem, maxWalkDepth+2)
	for i := range items {
		items[i] = newTestItem(nil, fmt.Sprintf("c%d", i), "1000")
	}
	insertItems(t, store, items...)

	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		for i := 0; i < len(items)-1; i++ {
			if err := tx.CreateDependency(ctx, &types.Dependency{
				WorkItemID: items[i].WorkItemID, DependsOnWorkItemID: items[i+1].WorkItemID,
				DependencyType: types.DepFinishToStart, IsActive: true,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	_, err = store.WouldCreateCycle(ctx, uuid.New().String(), items[0].WorkItemID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds")
}

func TestSetWorkItemsActiveCountsChanges(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := newTestItem(nil, "a", "1000")
	b := newTestItem(nil, "b", "2000")
	insertItems(t, store, a, b)

	now := time.Now().UTC().Truncate(time.Microsecond)
	var changed int
	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		var err error
		changed, err = tx.SetWorkItemsActive(ctx, []string{a.WorkItemID, b.WorkItemID}, false, now)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, changed)

	// Second pass flips nothing: both rows are already inactive.
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		var err error
		changed, err = tx.SetWorkItemsActive(ctx, []string{a.WorkItemID, b.WorkItemID}, false, now)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 0, changed)

	got, err := store.GetWorkItem(ctx, a.WorkItemID, false)
	require.NoError(t, err)
	require.Nil(t, got)
	got, err = store.GetWorkItem(ctx, a.WorkItemID, true)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.False(t, got.IsActive)
}

func TestActionHistoryOrderingAndSteps(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := newTestItem(nil, "tracked", "1000")
	insertItems(t, store, item)

	snapshot, err := json.Marshal(item)
	require.NoError(t, err)

	// Two actions in the same instant; seq must keep recording order.
	ts := time.Now().UTC().Truncate(time.Microsecond)
	first := &types.ActionHistory{
		ActionID: uuid.New().String(), ActionType: types.ActionAddWorkItem,
		Timestamp: ts, Description: "Added work item: tracked",
	}
	second := &types.ActionHistory{
		ActionID: uuid.New().String(), ActionType: types.ActionUpdateName,
		Timestamp: ts, Description: "Renamed work item",
	}
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateAction(ctx, first); err != nil {
			return err
		}
		if err := tx.AppendUndoStep(ctx, &types.UndoStep{
			ActionID: first.ActionID, StepOrder: 1, StepType: types.StepInsert,
			TableName: types.TableWorkItems, RecordID: item.WorkItemID, NewData: snapshot,
		}); err != nil {
			return err
		}
		return tx.CreateAction(ctx, second)
	})
	require.NoError(t, err)

	last, err := store.GetLastAction(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ActionID, last.ActionID)

	undoable, err := store.GetLastUndoableAction(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ActionID, undoable.ActionID)

	steps, err := store.GetUndoSteps(ctx, first.ActionID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, types.StepInsert, steps[0].StepType)
	require.JSONEq(t, string(snapshot), string(steps[0].NewData))

	// Marking the tail undone moves the undoable cursor back.
	undoID := uuid.New().String()
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.LockHistory(ctx); err != nil {
			return err
		}
		return tx.MarkActionUndone(ctx, second.ActionID, undoID)
	})
	require.NoError(t, err)

	undoable, err = store.GetLastUndoableAction(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ActionID, undoable.ActionID)

	actions, err := store.ListActions(ctx, types.HistoryFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.Equal(t, second.ActionID, actions[0].ActionID)
	require.True(t, actions[0].IsUndone)
	require.Equal(t, undoID, *actions[0].UndoneAtActionID)
}

func TestReplayRowPrimitives(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := newTestItem(nil, "replayed", "1000")
	snapshot, err := json.Marshal(item)
	require.NoError(t, err)

	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.InsertRow(ctx, types.TableWorkItems, item.WorkItemID, snapshot)
	})
	require.NoError(t, err)

	got, err := store.GetWorkItem(ctx, item.WorkItemID, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "replayed", got.Name)

	renamed := *item
	renamed.Name = "renamed"
	renamedSnap, err := json.Marshal(&renamed)
	require.NoError(t, err)
	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.UpdateRow(ctx, types.TableWorkItems, item.WorkItemID, renamedSnap)
	})
	require.NoError(t, err)

	got, err = store.GetWorkItem(ctx, item.WorkItemID, false)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Name)

	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.DeleteRow(ctx, types.TableWorkItems, item.WorkItemID)
	})
	require.NoError(t, err)

	got, err = store.GetWorkItem(ctx, item.WorkItemID, true)
	require.NoError(t, err)
	require.Nil(t, got)

	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.DeleteRow(ctx, types.TableWorkItems, item.WorkItemID)
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := newTestItem(nil, "doomed", "1000")
	err := store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateWorkItem(ctx, item); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	got, err := store.GetWorkItem(ctx, item.WorkItemID, true)
	require.NoError(t, err)
	require.Nil(t, got)
}
