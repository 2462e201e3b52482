// Package redis mirrors in-flight run state into Redis hashes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/ports"
)

const (
	keyPrefix       = "weaveflow:run:"
	runField        = "run"
	nodeFieldPrefix = "node:"
)

// ErrNoLiveState is returned when a run has no hash, either because it never
// existed or because its TTL expired.
var ErrNoLiveState = errors.New("no live state for run")

// LiveState stores one hash per run: field "run" holds the run record and
// one "node:<id>" field per node execution. Each write refreshes the TTL.
type LiveState struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ports.LiveStatePublisher = (*LiveState)(nil)

func NewLiveState(client *redis.Client, ttl time.Duration) *LiveState {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LiveState{client: client, ttl: ttl}
}

func runKey(runID string) string {
	return keyPrefix + runID
}

func (s *LiveState) PublishRun(ctx context.Context, run workflow.ExecutionRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	return s.write(ctx, run.ID, runField, data)
}

func (s *LiveState) PublishNode(ctx context.Context, runID string, node workflow.NodeExecution) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("encode node execution: %w", err)
	}
	return s.write(ctx, runID, nodeFieldPrefix+node.NodeID, data)
}

func (s *LiveState) write(ctx context.Context, runID, field string, data []byte) error {
	key := runKey(runID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, field, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis live state write error: %w", err)
	}
	return nil
}

// Load reads back a run and its node executions, ordered by node id.
func (s *LiveState) Load(ctx context.Context, runID string) (*workflow.RunDetail, error) {
	fields, err := s.client.HGetAll(ctx, runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis live state read error: %w", err)
	}
	raw, ok := fields[runField]
	if !ok {
		return nil, ErrNoLiveState
	}

	var detail workflow.RunDetail
	if err := json.Unmarshal([]byte(raw), &detail.ExecutionRun); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	for field, value := range fields {
		if !strings.HasPrefix(field, nodeFieldPrefix) {
			continue
		}
		var ne workflow.NodeExecution
		if err := json.Unmarshal([]byte(value), &ne); err != nil {
			return nil, fmt.Errorf("decode node execution %s: %w", field, err)
		}
		detail.Nodes = append(detail.Nodes, ne)
	}
	sort.Slice(detail.Nodes, func(i, j int) bool {
		return detail.Nodes[i].NodeID < detail.Nodes[j].NodeID
	})
	return &detail, nil
}

func (s *LiveState) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
