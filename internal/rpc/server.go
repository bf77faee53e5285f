// Package rpc exposes the work-item operation surface over a Unix socket
// speaking newline-delimited JSON.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/service"
	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// maxRequestLine bounds one request line. JSON string escaping can inflate
// a maximum-size import document severalfold, so the cap sits well above
// types.MaxImportBytes; the import size limit itself is enforced by the
// service on the decoded document.
const maxRequestLine = 8 * types.MaxImportBytes

// Server dispatches RPC requests to the work-item service.
type Server struct {
	svc      *service.Service
	listener net.Listener
	sockPath string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	shutdown bool
	handlers map[string]func(context.Context, *Request) *Response
}

// NewServer creates an RPC server over the given service.
func NewServer(svc *service.Service, sockPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		svc:      svc,
		sockPath: sockPath,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.initHandlers()
	return s
}

func (s *Server) initHandlers() {
	s.handlers = map[string]func(context.Context, *Request) *Response{
		OpPing:               s.handlePing,
		OpAddWorkItem:        s.handleAddWorkItem,
		OpSetName:            s.handleSetField,
		OpSetDescription:     s.handleSetField,
		OpSetStatus:          s.handleSetField,
		OpSetPriority:        s.handleSetField,
		OpSetDueDate:         s.handleSetField,
		OpAddDependencies:    s.handleAddDependencies,
		OpDeleteDependencies: s.handleDeleteDependencies,
		OpMoveItemBefore:     s.handleMove,
		OpMoveItemAfter:      s.handleMove,
		OpMoveItemToStart:    s.handleMove,
		OpMoveItemToEnd:      s.handleMove,
		OpDeleteWorkItems:    s.handleDeleteWorkItems,
		OpPromoteToProject:   s.handlePromoteToProject,
		OpGetDetails:         s.handleGetDetails,
		OpListWorkItems:      s.handleListWorkItems,
		OpGetFullTree:        s.handleGetFullTree,
		OpExportProject:      s.handleExportProject,
		OpImportProject:      s.handleImportProject,
		OpUndoLastAction:     s.handleUndoLastAction,
		OpRedoLastUndo:       s.handleRedoLastUndo,
		OpListHistory:        s.handleListHistory,
		OpRebalanceSiblings:  s.handleRebalanceSiblings,
	}
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.sockPath, err)
	}
	s.listener = listener

	if err := os.Chmod(s.sockPath, 0600); err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener, waits for in-flight requests, and removes the
// socket file. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()

	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket: %w", err)
	}
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				fmt.Fprintf(os.Stderr, "error accepting connection: %v\n", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestLine)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.sendResponse(writer, NewErrorResponse(
				types.NewValidationError("invalid request JSON: %v", err)), "")
			continue
		}
		s.sendResponse(writer, s.handleRequest(&req), req.RequestID)
	}

	if err := scanner.Err(); err != nil {
		// Answer an over-long line before dropping the connection so the
		// client sees a validation error rather than a bare EOF.
		if errors.Is(err, bufio.ErrTooLong) {
			s.sendResponse(writer, NewErrorResponse(
				types.NewValidationError("request line exceeds %d bytes", maxRequestLine)), "")
			return
		}
		fmt.Fprintf(os.Stderr, "error reading from connection: %v\n", err)
	}
}

func (s *Server) sendResponse(writer *bufio.Writer, resp *Response, requestID string) {
	resp.RequestID = requestID
	respJSON, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling response: %v\n", err)
		return
	}
	if _, err := writer.Write(append(respJSON, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "error writing response: %v\n", err)
		return
	}
	if err := writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "error flushing response: %v\n", err)
	}
}

func (s *Server) handleRequest(req *Request) *Response {
	handler, ok := s.handlers[req.Operation]
	if !ok {
		return NewErrorResponse(types.NewValidationError("unknown operation: %s", req.Operation))
	}
	return handler(s.ctx, req)
}

func decodeArgs[T any](req *Request) (*T, *Response) {
	var args T
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, NewErrorResponse(types.NewValidationError("invalid arguments: %v", err))
		}
	}
	return &args, nil
}

func (s *Server) handlePing(_ context.Context, _ *Request) *Response {
	return NewDataResponse(map[string]string{"status": "ok"})
}

func (s *Server) handleAddWorkItem(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[AddWorkItemArgs](req)
	if errResp != nil {
		return errResp
	}
	details, err := s.svc.AddWorkItem(ctx, service.AddWorkItemInput{
		ParentWorkItemID: args.ParentWorkItemID,
		Name:             args.Name,
		Description:      args.Description,
		Status:           args.Status,
		Priority:         args.Priority,
		DueDate:          args.DueDate,
		Dependencies:     args.Dependencies,
		Position:         args.Position,
	})
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(details)
}

func (s *Server) handleSetField(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[SetFieldArgs](req)
	if errResp != nil {
		return errResp
	}
	var (
		details *types.WorkItemDetails
		err     error
	)
	switch req.Operation {
	case OpSetName:
		details, err = s.svc.SetName(ctx, args.WorkItemID, args.Name)
	case OpSetDescription:
		details, err = s.svc.SetDescription(ctx, args.WorkItemID, args.Description)
	case OpSetStatus:
		details, err = s.svc.SetStatus(ctx, args.WorkItemID, args.Status)
	case OpSetPriority:
		details, err = s.svc.SetPriority(ctx, args.WorkItemID, args.Priority)
	case OpSetDueDate:
		details, err = s.svc.SetDueDate(ctx, args.WorkItemID, args.DueDate)
	}
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(details)
}

func (s *Server) handleAddDependencies(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[DependencyArgs](req)
	if errResp != nil {
		return errResp
	}
	details, err := s.svc.AddDependencies(ctx, args.WorkItemID, args.Dependencies)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(details)
}

func (s *Server) handleDeleteDependencies(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[DependencyArgs](req)
	if errResp != nil {
		return errResp
	}
	details, err := s.svc.DeleteDependencies(ctx, args.WorkItemID, args.DependsOnIDs)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(details)
}

func (s *Server) handleMove(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[MoveArgs](req)
	if errResp != nil {
		return errResp
	}
	var (
		details *types.WorkItemDetails
		err     error
	)
	switch req.Operation {
	case OpMoveItemBefore:
		details, err = s.svc.MoveItemBefore(ctx, args.WorkItemID, args.AnchorID)
	case OpMoveItemAfter:
		details, err = s.svc.MoveItemAfter(ctx, args.WorkItemID, args.AnchorID)
	case OpMoveItemToStart:
		details, err = s.svc.MoveItemToStart(ctx, args.WorkItemID)
	case OpMoveItemToEnd:
		details, err = s.svc.MoveItemToEnd(ctx, args.WorkItemID)
	}
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(details)
}

func (s *Server) handleDeleteWorkItems(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[DeleteArgs](req)
	if errResp != nil {
		return errResp
	}
	result, err := s.svc.DeleteWorkItems(ctx, args.WorkItemIDs)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(result)
}

func (s *Server) handlePromoteToProject(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[ItemArgs](req)
	if errResp != nil {
		return errResp
	}
	details, err := s.svc.PromoteToProject(ctx, args.WorkItemID)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(details)
}

func (s *Server) handleGetDetails(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[ItemArgs](req)
	if errResp != nil {
		return errResp
	}
	details, err := s.svc.GetDetails(ctx, args.WorkItemID)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(details)
}

func (s *Server) handleListWorkItems(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[types.WorkItemFilter](req)
	if errResp != nil {
		return errResp
	}
	items, err := s.svc.ListWorkItems(ctx, *args)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(items)
}

func (s *Server) handleGetFullTree(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[TreeArgs](req)
	if errResp != nil {
		return errResp
	}
	tree, err := s.svc.GetFullTree(ctx, args.WorkItemID, args.Options)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(tree)
}

func (s *Server) handleExportProject(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[ItemArgs](req)
	if errResp != nil {
		return errResp
	}
	doc, err := s.svc.ExportProject(ctx, args.WorkItemID)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(&ExportResult{Document: doc})
}

func (s *Server) handleImportProject(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[ImportArgs](req)
	if errResp != nil {
		return errResp
	}
	details, err := s.svc.ImportProject(ctx, args.Document, args.NewProjectName)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(details)
}

func (s *Server) handleUndoLastAction(ctx context.Context, req *Request) *Response {
	action, err := s.svc.UndoLastAction(ctx)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(action)
}

func (s *Server) handleRedoLastUndo(ctx context.Context, req *Request) *Response {
	action, err := s.svc.RedoLastUndo(ctx)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(action)
}

func (s *Server) handleListHistory(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[types.HistoryFilter](req)
	if errResp != nil {
		return errResp
	}
	actions, err := s.svc.ListHistory(ctx, *args)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(actions)
}

func (s *Server) handleRebalanceSiblings(ctx context.Context, req *Request) *Response {
	args, errResp := decodeArgs[RebalanceArgs](req)
	if errResp != nil {
		return errResp
	}
	count, err := s.svc.RebalanceSiblings(ctx, args.ParentWorkItemID)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewDataResponse(&RebalanceResult{RebalancedCount: count})
}
