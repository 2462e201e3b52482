// Package executor assembles the node registry from configuration.
package executor

import (
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/weaveflow-go/internal/executor/adapters/ffmpeg"
	"github.com/weaveflow-go/internal/executor/adapters/model"
	"github.com/weaveflow-go/internal/executor/adapters/s3"
	"github.com/weaveflow-go/internal/executor/app/nodes"
	"github.com/weaveflow-go/internal/executor/app/registry"
	execports "github.com/weaveflow-go/internal/executor/ports"
	"github.com/weaveflow-go/pkg/config"
	"github.com/weaveflow-go/pkg/logger"
	"github.com/weaveflow-go/pkg/resilience"
)

// NewRegistry builds a registry with every built-in node type. Media nodes
// use ffmpeg only when media is enabled, and upload results only when
// storage is enabled.
func NewRegistry(cfg *config.Config, log logger.Logger) (*registry.NodeRegistry, error) {
	breaker := resilience.DefaultCircuitBreakerConfig("model")
	if cfg.Model.BreakerFailures > 0 {
		breaker.ConsecutiveFailures = cfg.Model.BreakerFailures
	}
	if cfg.Model.BreakerTimeout > 0 {
		breaker.Timeout = cfg.Model.BreakerTimeout
	}
	breaker.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn("Model circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}

	deps := nodes.Deps{
		Models: model.NewProvider(model.Config{
			BaseURL: cfg.Model.BaseURL,
			APIKey:  cfg.Model.APIKey,
		}, nil, log),
		LLM: nodes.LLMConfig{
			DefaultModel:      cfg.Model.DefaultModel,
			RequestsPerSecond: cfg.Model.RequestsPerSecond,
			Burst:             cfg.Model.Burst,
			Breaker:           breaker,
		},
		Logger: log,
	}

	if cfg.Media.Enabled {
		var store execports.ObjectStore
		if cfg.Storage.Enabled {
			s3cfg := s3.Config{
				Bucket:        cfg.Storage.Bucket,
				Region:        cfg.Storage.Region,
				Endpoint:      cfg.Storage.Endpoint,
				AccessKey:     cfg.Storage.AccessKey,
				SecretKey:     cfg.Storage.SecretKey,
				PublicBaseURL: cfg.Storage.PublicBaseURL,
			}
			client, err := s3.NewClient(s3cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create object store: %w", err)
			}
			store = s3.NewObjectStore(client, s3cfg)
		}
		deps.Media = ffmpeg.NewTransformer(ffmpeg.Config{
			FFmpegPath:  cfg.Media.FFmpegPath,
			FFprobePath: cfg.Media.FFprobePath,
			WorkDir:     cfg.Media.WorkDir,
		}, store, nil, log)
	}

	r := registry.NewNodeRegistry(log)
	nodes.RegisterBuiltins(r, deps)
	return r, nil
}
