package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/adapters/memory"
	"github.com/weaveflow-go/internal/execution/app/recovery"
	"github.com/weaveflow-go/internal/execution/app/scheduler"
	"github.com/weaveflow-go/internal/execution/app/tracker"
	"github.com/weaveflow-go/internal/execution/ports"
	"github.com/weaveflow-go/pkg/logger"
)

type allTypes struct{}

func (allTypes) Has(t workflow.NodeType) bool { return t.Valid() }

func setupEngine(t *testing.T, exec ports.TaskExecutor, cfg Config) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	log := logger.NewNop()
	e := New(Deps{
		Store:    store,
		Tracker:  tracker.New(store, log),
		Executor: exec,
		Catalog:  allTypes{},
		Logger:   log,
	}, cfg)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e, store
}

var textOut = ports.TaskExecutorFunc(func(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
	return req.NodeData["text"], nil
})

func chainRequest() SubmitRequest {
	return SubmitRequest{
		WorkflowID: "wf-1",
		Scope:      workflow.ScopeFull,
		Nodes: []workflow.Node{
			{ID: "sys", Type: workflow.NodeTypeText, Data: map[string]interface{}{"text": "be brief"}},
			{ID: "llm", Type: workflow.NodeTypeLLM, Data: map[string]interface{}{"text": "answer"}},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "sys", Target: "llm", SourceHandle: workflow.HandleTextOut, TargetHandle: workflow.HandleSystemIn},
		},
	}
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	e, store := setupEngine(t, textOut, Config{})

	run, err := e.Submit(context.Background(), chainRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	final, err := e.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunSuccess, final.Status)

	select {
	case <-run.Done():
	default:
		t.Fatal("Done not closed after Wait returned")
	}

	detail, err := e.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, detail.Nodes, 2)
	assert.Equal(t, 2, detail.NodeCount)

	rows, err := store.ListNodeExecutions(context.Background(), run.ID)
	require.NoError(t, err)
	for _, r := range rows {
		if r.NodeID == "llm" {
			assert.Equal(t, "be brief", r.Inputs[workflow.HandleSystemIn])
			assert.Equal(t, "answer", r.Outputs["result"])
		}
	}

	// Waiting again after the run left memory falls back to the store.
	again, err := e.Wait(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunSuccess, again.Status)
}

func TestSubmit_RowsExistBeforeReturn(t *testing.T) {
	release := make(chan struct{})
	exec := ports.TaskExecutorFunc(func(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
		<-release
		return "x", nil
	})
	e, store := setupEngine(t, exec, Config{})

	run, err := e.Submit(context.Background(), chainRequest())
	require.NoError(t, err)

	record, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunRunning, record.Status)
	rows, err := store.ListNodeExecutions(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	snap, err := e.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunRunning, snap.Status)
	assert.Equal(t, 1, e.Active())

	close(release)
	_, err = e.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)
}

func TestSubmit_DefaultsWorkflowID(t *testing.T) {
	e, _ := setupEngine(t, textOut, Config{})
	req := chainRequest()
	req.WorkflowID = ""

	run, err := e.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, workflow.UnsavedWorkflowID, run.WorkflowID)
	_, err = e.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)
}

func TestSubmit_ValidationErrorsCreateNoRun(t *testing.T) {
	e, store := setupEngine(t, textOut, Config{})

	tests := []struct {
		name string
		req  SubmitRequest
		code workflow.GraphErrorCode
	}{
		{"empty", SubmitRequest{Scope: workflow.ScopeFull}, workflow.EmptyScope},
		{"bad scope", SubmitRequest{Scope: "everything", Nodes: chainRequest().Nodes}, workflow.InvalidScope},
		{"unknown type", SubmitRequest{Nodes: []workflow.Node{{ID: "x", Type: "mystery"}}}, workflow.UnknownNodeType},
		{"duplicate", SubmitRequest{Nodes: []workflow.Node{{ID: "x", Type: workflow.NodeTypeText}, {ID: "x", Type: workflow.NodeTypeText}}}, workflow.DuplicateNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.WorkflowID = "wf-invalid"
			_, err := e.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, &workflow.GraphError{Code: tt.code})
		})
	}

	runs, err := store.ListRuns(context.Background(), "wf-invalid", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestResubmitCreatesIndependentRuns(t *testing.T) {
	e, store := setupEngine(t, textOut, Config{})

	first, err := e.Submit(context.Background(), chainRequest())
	require.NoError(t, err)
	second, err := e.Submit(context.Background(), chainRequest())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	for _, id := range []string{first.ID, second.ID} {
		final, err := e.Wait(waitCtx(t), id)
		require.NoError(t, err)
		assert.Equal(t, workflow.RunSuccess, final.Status)
	}

	a, _ := store.ListNodeExecutions(context.Background(), first.ID)
	b, _ := store.ListNodeExecutions(context.Background(), second.ID)
	require.Len(t, a, 2)
	require.Len(t, b, 2)
	assert.NotEqual(t, a[0].ID, b[0].ID)
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	exec := ports.TaskExecutorFunc(func(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e, _ := setupEngine(t, exec, Config{})

	run, err := e.Submit(context.Background(), chainRequest())
	require.NoError(t, err)
	<-started
	require.NoError(t, e.Cancel(run.ID))

	final, err := e.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunCancelled, final.Status)
	assert.Contains(t, final.Error, ErrCancelRequested.Error())

	assert.ErrorIs(t, e.Cancel(run.ID), workflow.ErrRunAlreadyFinalized)
	assert.ErrorIs(t, e.Cancel("nope"), workflow.ErrRunNotFound)
}

func TestRunTimeout(t *testing.T) {
	exec := ports.TaskExecutorFunc(func(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e, _ := setupEngine(t, exec, Config{RunTimeout: 30 * time.Millisecond})

	run, err := e.Submit(context.Background(), chainRequest())
	require.NoError(t, err)
	final, err := e.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunCancelled, final.Status)
	assert.Contains(t, final.Error, ErrRunTimeout.Error())
}

func TestHistoryNewestFirst(t *testing.T) {
	e, _ := setupEngine(t, textOut, Config{})
	var ids []string
	for i := 0; i < 3; i++ {
		run, err := e.Submit(context.Background(), chainRequest())
		require.NoError(t, err)
		_, err = e.Wait(waitCtx(t), run.ID)
		require.NoError(t, err)
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}

	history, err := e.History(context.Background(), "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[0], history[2].ID)
	assert.Len(t, history[0].Nodes, 2)
}

func TestStopCancelsRunsAndRejectsSubmissions(t *testing.T) {
	started := make(chan struct{})
	exec := ports.TaskExecutorFunc(func(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e, store := setupEngine(t, exec, Config{Scheduler: scheduler.Config{MaxConcurrency: 1}})

	run, err := e.Submit(context.Background(), chainRequest())
	require.NoError(t, err)
	<-started

	require.NoError(t, e.Stop(waitCtx(t)))

	record, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunCancelled, record.Status)

	_, err = e.Submit(context.Background(), chainRequest())
	assert.True(t, errors.Is(err, ErrEngineStopped))
}

func TestLiveRunSurvivesPeerRecovery(t *testing.T) {
	store := memory.NewStore()
	log := logger.NewNop()
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := ports.TaskExecutorFunc(func(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
		close(started)
		<-release
		return "done", nil
	})

	e := New(Deps{
		Store:    store,
		Tracker:  tracker.New(store, log, tracker.WithOwner("node-a")),
		Executor: blocking,
		Catalog:  allTypes{},
		Logger:   log,
	}, Config{HeartbeatInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	run, err := e.Submit(context.Background(), SubmitRequest{
		WorkflowID: "wf-lease",
		Scope:      workflow.ScopeSingle,
		Nodes:      []workflow.Node{{ID: "n1", Type: workflow.NodeTypeText}},
	})
	require.NoError(t, err)
	<-started

	created, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r, err := store.GetRun(context.Background(), run.ID)
		return err == nil && r.HeartbeatAt != nil && r.HeartbeatAt.After(*created.HeartbeatAt)
	}, 2*time.Second, 5*time.Millisecond)

	peer := recovery.NewManager(store, nil, log, recovery.WithOwner("node-b"), recovery.WithLeaseTTL(time.Minute))
	closed, err := peer.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)

	close(release)
	final, err := e.Wait(waitCtx(t), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunSuccess, final.Status)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunSuccess, stored.Status)
	assert.Empty(t, stored.Error)
	nodes, err := store.ListNodeExecutions(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, workflow.NodeSuccess, nodes[0].Status)
}
