// Package taskmanager provides a minimal public API for embedding the
// work-item manager in other Go programs.
//
// It exports only the core types and the entry points needed to open the
// storage layer and drive the operation surface programmatically; the full
// domain logic lives under internal/.
package taskmanager

import (
	"context"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/service"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage/mysql"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// Version is the current release, overridable via ldflags at build time.
var Version = "0.3.0"

// Core types for working with work items
type (
	WorkItem        = types.WorkItem
	WorkItemDetails = types.WorkItemDetails
	Dependency      = types.Dependency
	ActionHistory   = types.ActionHistory
	TreeNode        = types.TreeNode
	WorkItemFilter  = types.WorkItemFilter
	TreeOptions     = types.TreeOptions
	HistoryFilter   = types.HistoryFilter
	Status          = types.Status
	Priority        = types.Priority
)

// Status constants
const (
	StatusTodo       = types.StatusTodo
	StatusInProgress = types.StatusInProgress
	StatusReview     = types.StatusReview
	StatusDone       = types.StatusDone
)

// Priority constants
const (
	PriorityLow    = types.PriorityLow
	PriorityMedium = types.PriorityMedium
	PriorityHigh   = types.PriorityHigh
)

// Storage is the persistence interface behind the service.
type Storage = storage.Storage

// StorageConfig holds database connection settings.
type StorageConfig = storage.Config

// Service exposes the work-item operation surface.
type Service = service.Service

// Open connects to the database, bootstraps the schema, and returns a
// ready Service.
func Open(ctx context.Context, cfg StorageConfig) (*Service, Storage, error) {
	store, err := mysql.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return service.New(store), store, nil
}
