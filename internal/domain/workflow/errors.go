package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRunNotFound           = errors.New("run not found")
	ErrNodeExecutionNotFound = errors.New("node execution not found")
	ErrRunAlreadyFinalized   = errors.New("run already finalized")
	ErrRunAlreadyExists      = errors.New("run already exists")
)

// GraphErrorCode classifies a structural problem with a submitted graph.
type GraphErrorCode string

const (
	EmptyScope      GraphErrorCode = "EmptyScope"
	DuplicateNode   GraphErrorCode = "DuplicateNode"
	CycleDetected   GraphErrorCode = "CycleDetected"
	InvalidEdge     GraphErrorCode = "InvalidEdge"
	UnknownNodeType GraphErrorCode = "UnknownNodeType"
	InvalidScope    GraphErrorCode = "InvalidScope"
)

type GraphError struct {
	Code    GraphErrorCode
	NodeIDs []string
	Msg     string
}

func (e *GraphError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.NodeIDs) > 0 {
		fmt.Fprintf(&b, " (nodes: %s)", strings.Join(e.NodeIDs, ", "))
	}
	return b.String()
}

// Is matches any *GraphError with the same code, so callers can test
// errors.Is(err, &GraphError{Code: CycleDetected}).
func (e *GraphError) Is(target error) bool {
	t, ok := target.(*GraphError)
	return ok && t.Code == e.Code
}

func NewGraphError(code GraphErrorCode, msg string, nodeIDs ...string) *GraphError {
	return &GraphError{Code: code, Msg: msg, NodeIDs: nodeIDs}
}

// NodeExecutionError is the failure of a single node's executor call.
type NodeExecutionError struct {
	NodeID   string
	NodeType NodeType
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// SchedulerInvariantViolation signals a scheduler bug: double dispatch,
// an illegal status transition, or a negative dependency counter.
type SchedulerInvariantViolation struct {
	RunID  string
	NodeID string
	Msg    string
}

func (e *SchedulerInvariantViolation) Error() string {
	return fmt.Sprintf("scheduler invariant violated in run %s at node %s: %s", e.RunID, e.NodeID, e.Msg)
}

// Messages recorded on nodes that never ran.
const (
	SkippedAfterFailureMsg = "skipped: run halted after upstream failure"
	CancelledMsg           = "cancelled: run was cancelled"
)
