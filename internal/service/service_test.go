package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage/mysql"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// setupService provisions a throwaway database (skipping when none is
// configured) and returns a Service over it.
func setupService(t *testing.T) *Service {
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

	store, err := mysql.New(context.Background(), storage.Config{
		Host: host, Port: port, User: user, Password: password, Database: dbName,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func addItem(t *testing.T, svc *Service, parentID *string, name string) *types.WorkItemDetails {
	t.Helper()
	details, err := svc.AddWorkItem(context.Background(), AddWorkItemInput{
		ParentWorkItemID: parentID,
		Name:             name,
	})
	require.NoError(t, err)
	return details
}

func childNames(t *testing.T, svc *Service, parentID string) []string {
	t.Helper()
	items, err := svc.ListWorkItems(context.Background(), types.WorkItemFilter{ParentID: &parentID})
	require.NoError(t, err)
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	return names
}

func TestCreateRenameUndoRedo(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	created := addItem(t, svc, nil, "Alpha")
	require.True(t, created.IsRoot())
	require.Equal(t, "alpha", created.Shortname)

	_, err := svc.SetName(ctx, created.WorkItemID, "Beta")
	require.NoError(t, err)
	details, err := svc.GetDetails(ctx, created.WorkItemID)
	require.NoError(t, err)
	require.Equal(t, "Beta", details.Name)
	require.Equal(t, "beta", details.Shortname)

	undone, err := svc.UndoLastAction(ctx)
	require.NoError(t, err)
	require.NotNil(t, undone)
	require.Equal(t, types.ActionUpdateName, undone.ActionType)
	details, err = svc.GetDetails(ctx, created.WorkItemID)
	require.NoError(t, err)
	require.Equal(t, "Alpha", details.Name)

	redone, err := svc.RedoLastUndo(ctx)
	require.NoError(t, err)
	require.NotNil(t, redone)
	require.Equal(t, types.ActionUpdateName, redone.ActionType)
	details, err = svc.GetDetails(ctx, created.WorkItemID)
	require.NoError(t, err)
	require.Equal(t, "Beta", details.Name)

	history, err := svc.ListHistory(ctx, types.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, types.ActionRedo, history[0].ActionType)
}

func TestUndoWithEmptyHistory(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	undone, err := svc.UndoLastAction(ctx)
	require.NoError(t, err)
	require.Nil(t, undone)

	redone, err := svc.RedoLastUndo(ctx)
	require.NoError(t, err)
	require.Nil(t, redone)
}

func TestMutationsWaitForHistoryTail(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	// Hold the history tail lock the way an in-flight undo would.
	store := svc.store.(*mysql.Store)
	holder, err := store.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	var id int
	require.NoError(t, holder.QueryRowContext(ctx,
		"SELECT id FROM history_lock WHERE id = 1 FOR UPDATE").Scan(&id))

	done := make(chan error, 1)
	go func() {
		_, err := svc.AddWorkItem(context.Background(), AddWorkItemInput{Name: "Queued"})
		done <- err
	}()

	// The mutation must not append to history while the tail is held, or
	// an undo could target a tail that is no longer the committed one.
	select {
	case <-done:
		t.Fatal("mutation committed while the history tail was locked")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, holder.Rollback())
	require.NoError(t, <-done)

	items, err := svc.ListWorkItems(ctx, types.WorkItemFilter{RootsOnly: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestRedoInvalidatedByNewMutation(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	item := addItem(t, svc, nil, "Alpha")
	_, err := svc.SetName(ctx, item.WorkItemID, "Beta")
	require.NoError(t, err)

	undone, err := svc.UndoLastAction(ctx)
	require.NoError(t, err)
	require.NotNil(t, undone)

	// A fresh mutation after the undo leaves nothing to redo.
	_, err = svc.SetPriority(ctx, item.WorkItemID, types.PriorityHigh)
	require.NoError(t, err)
	redone, err := svc.RedoLastUndo(ctx)
	require.NoError(t, err)
	require.Nil(t, redone)
}

func TestOrderingStability(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	p := addItem(t, svc, nil, "P")
	c1 := addItem(t, svc, &p.WorkItemID, "C1")
	addItem(t, svc, &p.WorkItemID, "C2")
	c3 := addItem(t, svc, &p.WorkItemID, "C3")

	require.Equal(t, []string{"C1", "C2", "C3"}, childNames(t, svc, p.WorkItemID))

	_, err := svc.MoveItemBefore(ctx, c3.WorkItemID, c1.WorkItemID)
	require.NoError(t, err)
	require.Equal(t, []string{"C3", "C1", "C2"}, childNames(t, svc, p.WorkItemID))

	_, err = svc.MoveItemToEnd(ctx, c3.WorkItemID)
	require.NoError(t, err)
	require.Equal(t, []string{"C1", "C2", "C3"}, childNames(t, svc, p.WorkItemID))

	_, err = svc.MoveItemToStart(ctx, c3.WorkItemID)
	require.NoError(t, err)
	require.Equal(t, []string{"C3", "C1", "C2"}, childNames(t, svc, p.WorkItemID))

	// The undo stack walks the moves back in reverse.
	_, err = svc.UndoLastAction(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"C1", "C2", "C3"}, childNames(t, svc, p.WorkItemID))
}

func TestMoveRejectsCrossParentAnchor(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	p1 := addItem(t, svc, nil, "P1")
	p2 := addItem(t, svc, nil, "P2")
	a := addItem(t, svc, &p1.WorkItemID, "A")
	b := addItem(t, svc, &p2.WorkItemID, "B")

	_, err := svc.MoveItemBefore(ctx, a.WorkItemID, b.WorkItemID)
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Message, "do not share a parent")
}

func TestDependencyCycleGuard(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	a := addItem(t, svc, nil, "A")
	b := addItem(t, svc, nil, "B")
	c := addItem(t, svc, nil, "C")

	_, err := svc.AddDependencies(ctx, b.WorkItemID, []types.DependencyInput{
		{DependsOnWorkItemID: a.WorkItemID},
	})
	require.NoError(t, err)
	_, err = svc.AddDependencies(ctx, c.WorkItemID, []types.DependencyInput{
		{DependsOnWorkItemID: b.WorkItemID},
	})
	require.NoError(t, err)

	_, err = svc.AddDependencies(ctx, a.WorkItemID, []types.DependencyInput{
		{DependsOnWorkItemID: c.WorkItemID},
	})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Message, "cycle")

	// Self-dependency is rejected before any graph walk.
	_, err = svc.AddDependencies(ctx, a.WorkItemID, []types.DependencyInput{
		{DependsOnWorkItemID: a.WorkItemID},
	})
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Message, "itself")
}

func TestDeleteDependenciesReportsMissing(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	a := addItem(t, svc, nil, "A")
	b := addItem(t, svc, nil, "B")
	c := addItem(t, svc, nil, "C")

	_, err := svc.AddDependencies(ctx, a.WorkItemID, []types.DependencyInput{
		{DependsOnWorkItemID: b.WorkItemID},
	})
	require.NoError(t, err)

	_, err = svc.DeleteDependencies(ctx, a.WorkItemID, []string{b.WorkItemID, c.WorkItemID})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Message, c.WorkItemID)

	// The failed call wrote nothing: the b edge is still active.
	details, err := svc.GetDetails(ctx, a.WorkItemID)
	require.NoError(t, err)
	require.Len(t, details.Dependencies, 1)

	_, err = svc.DeleteDependencies(ctx, a.WorkItemID, []string{b.WorkItemID})
	require.NoError(t, err)
	details, err = svc.GetDetails(ctx, a.WorkItemID)
	require.NoError(t, err)
	require.Empty(t, details.Dependencies)
}

func TestSoftDeleteAndRestoreSubtree(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	p := addItem(t, svc, nil, "P")
	addItem(t, svc, &p.WorkItemID, "T1")
	t2 := addItem(t, svc, &p.WorkItemID, "T2")
	t2a := addItem(t, svc, &t2.WorkItemID, "T2a")

	_, err := svc.AddDependencies(ctx, t2a.WorkItemID, []types.DependencyInput{
		{DependsOnWorkItemID: p.WorkItemID},
	})
	require.NoError(t, err)

	result, err := svc.DeleteWorkItems(ctx, []string{t2.WorkItemID})
	require.NoError(t, err)
	require.Equal(t, 2, result.DeletedCount)
	require.Equal(t, []string{"T1"}, childNames(t, svc, p.WorkItemID))

	// The edge from the deleted subtree went inactive with it.
	deps, err := svc.GetDetails(ctx, p.WorkItemID)
	require.NoError(t, err)
	require.Empty(t, deps.Dependents)

	undone, err := svc.UndoLastAction(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionDeleteWorkItems, undone.ActionType)
	require.Equal(t, []string{"T1", "T2"}, childNames(t, svc, p.WorkItemID))
	require.Equal(t, []string{"T2a"}, childNames(t, svc, t2.WorkItemID))

	deps, err = svc.GetDetails(ctx, p.WorkItemID)
	require.NoError(t, err)
	require.Len(t, deps.Dependents, 1)
}

func TestDeleteBatchLimits(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.DeleteWorkItems(ctx, nil)
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)

	ids := make([]string, types.MaxDeleteBatch+1)
	for i := range ids {
		ids[i] = uuid.New().String()
	}
	_, err = svc.DeleteWorkItems(ctx, ids)
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Message, "at most")
}

func TestPromoteToProject(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	p := addItem(t, svc, nil, "P")
	tItem := addItem(t, svc, &p.WorkItemID, "T")
	addItem(t, svc, &tItem.WorkItemID, "T1")

	promoted, err := svc.PromoteToProject(ctx, tItem.WorkItemID)
	require.NoError(t, err)
	require.True(t, promoted.IsRoot())

	roots, err := svc.ListWorkItems(ctx, types.WorkItemFilter{RootsOnly: true})
	require.NoError(t, err)
	require.Len(t, roots, 2)

	// The old parent still renders the promoted subtree, suffixed.
	tree, err := svc.GetFullTree(ctx, p.WorkItemID, types.TreeOptions{})
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	require.Equal(t, "T (L)", tree.Children[0].Name)
	require.True(t, tree.Children[0].Linked)
	require.Len(t, tree.Children[0].Children, 1)
	require.Equal(t, "T1 (L)", tree.Children[0].Children[0].Name)

	// The suffix is rendering-only.
	details, err := svc.GetDetails(ctx, tItem.WorkItemID)
	require.NoError(t, err)
	require.Equal(t, "T", details.Name)

	_, err = svc.PromoteToProject(ctx, tItem.WorkItemID)
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Message, "already a root")

	// Undo restores the original hierarchy and deactivates the link.
	_, err = svc.UndoLastAction(ctx)
	require.NoError(t, err)
	restored, err := svc.GetDetails(ctx, tItem.WorkItemID)
	require.NoError(t, err)
	require.False(t, restored.IsRoot())
	require.Equal(t, p.WorkItemID, *restored.ParentWorkItemID)
}

func TestPromoteDisambiguatesShortname(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	addItem(t, svc, nil, "Task")
	p := addItem(t, svc, nil, "P")
	child := addItem(t, svc, &p.WorkItemID, "Task")
	require.Equal(t, "task", child.Shortname)

	// Joining the root list collides with the existing "task" slug.
	promoted, err := svc.PromoteToProject(ctx, child.WorkItemID)
	require.NoError(t, err)
	require.Equal(t, "task-2", promoted.Shortname)

	_, err = svc.UndoLastAction(ctx)
	require.NoError(t, err)
	restored, err := svc.GetDetails(ctx, child.WorkItemID)
	require.NoError(t, err)
	require.Equal(t, "task", restored.Shortname)
}

func TestListWorkItemsActiveFilter(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	p := addItem(t, svc, nil, "P")
	addItem(t, svc, &p.WorkItemID, "Keep")
	gone := addItem(t, svc, &p.WorkItemID, "Gone")
	_, err := svc.DeleteWorkItems(ctx, []string{gone.WorkItemID})
	require.NoError(t, err)

	// Default view stays active-only.
	require.Equal(t, []string{"Keep"}, childNames(t, svc, p.WorkItemID))

	inactive := false
	items, err := svc.ListWorkItems(ctx, types.WorkItemFilter{ParentID: &p.WorkItemID, IsActive: &inactive})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Gone", items[0].Name)

	active := true
	items, err = svc.ListWorkItems(ctx, types.WorkItemFilter{ParentID: &p.WorkItemID, IsActive: &active})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Keep", items[0].Name)
}

func TestTreeDepthBounds(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	root := addItem(t, svc, nil, "Root")
	parent := root.WorkItemID
	for i := 0; i < 3; i++ {
		child := addItem(t, svc, &parent, fmt.Sprintf("L%d", i+1))
		parent = child.WorkItemID
	}

	tree, err := svc.GetFullTree(ctx, root.WorkItemID, types.TreeOptions{MaxDepth: 2})
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	leaf := tree.Children[0].Children[0]
	require.Equal(t, "L2", leaf.Name)
	require.True(t, leaf.Truncated)
	require.Empty(t, leaf.Children)

	_, err = svc.GetFullTree(ctx, root.WorkItemID, types.TreeOptions{MaxDepth: types.MaxTreeDepth + 1})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestImportExportRoundTrip(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	p := addItem(t, svc, nil, "Original")
	c1 := addItem(t, svc, &p.WorkItemID, "First")
	c2 := addItem(t, svc, &p.WorkItemID, "Second")
	_, err := svc.AddDependencies(ctx, c2.WorkItemID, []types.DependencyInput{
		{DependsOnWorkItemID: c1.WorkItemID},
	})
	require.NoError(t, err)

	doc, err := svc.ExportProject(ctx, p.WorkItemID)
	require.NoError(t, err)

	newName := "Copy"
	imported, err := svc.ImportProject(ctx, doc, &newName)
	require.NoError(t, err)
	require.Equal(t, "Copy", imported.Name)
	require.True(t, imported.IsRoot())
	require.Equal(t, []string{"First", "Second"}, childNames(t, svc, imported.WorkItemID))

	// Structural equality modulo ids and timestamps: re-export and compare
	// names, order, and the internal dependency.
	doc2, err := svc.ExportProject(ctx, imported.WorkItemID)
	require.NoError(t, err)
	require.Contains(t, doc2, `"Copy"`)
	require.Contains(t, doc2, `"First"`)
	require.Contains(t, doc2, `"Second"`)
	require.Equal(t, strings.Count(doc, `"dependency_type"`), strings.Count(doc2, `"dependency_type"`))

	// One undo removes the whole imported subtree.
	_, err = svc.UndoLastAction(ctx)
	require.NoError(t, err)
	_, err = svc.GetDetails(ctx, imported.WorkItemID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImportRejectsOversizeDocument(t *testing.T) {
	svc := setupService(t)

	doc := strings.Repeat("x", types.MaxImportBytes+1)
	_, err := svc.ImportProject(context.Background(), doc, nil)
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Message, "exceeds")
}

func TestShortnameDisambiguation(t *testing.T) {
	svc := setupService(t)

	p := addItem(t, svc, nil, "P")
	first := addItem(t, svc, &p.WorkItemID, "Fix Bug!")
	second := addItem(t, svc, &p.WorkItemID, "Fix Bug!")
	require.Equal(t, "fix-bug", first.Shortname)
	require.Equal(t, "fix-bug-2", second.Shortname)
}

func TestRebalanceSiblings(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	p := addItem(t, svc, nil, "P")
	addItem(t, svc, &p.WorkItemID, "A")
	b := addItem(t, svc, &p.WorkItemID, "B")
	c := addItem(t, svc, &p.WorkItemID, "C")

	// Squeeze B and C between A and B repeatedly by moving C before B a
	// few times, then rebalance back onto the ladder.
	for i := 0; i < 5; i++ {
		_, err := svc.MoveItemBefore(ctx, c.WorkItemID, b.WorkItemID)
		require.NoError(t, err)
		_, err = svc.MoveItemBefore(ctx, b.WorkItemID, c.WorkItemID)
		require.NoError(t, err)
	}

	changed, err := svc.RebalanceSiblings(ctx, &p.WorkItemID)
	require.NoError(t, err)
	require.Greater(t, changed, 0)
	require.Equal(t, []string{"A", "B", "C"}, childNames(t, svc, p.WorkItemID))

	items, err := svc.ListWorkItems(ctx, types.WorkItemFilter{ParentID: &p.WorkItemID})
	require.NoError(t, err)
	require.Equal(t, "1000", items[0].OrderKey)
	require.Equal(t, "2000", items[1].OrderKey)
	require.Equal(t, "3000", items[2].OrderKey)

	// Already-balanced groups record nothing.
	changed, err = svc.RebalanceSiblings(ctx, &p.WorkItemID)
	require.NoError(t, err)
	require.Zero(t, changed)

	history, err := svc.ListHistory(ctx, types.HistoryFilter{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, types.ActionRebalanceSiblings, history[0].ActionType)
}
