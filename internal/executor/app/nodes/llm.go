package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/ports"
	execports "github.com/weaveflow-go/internal/executor/ports"
	"github.com/weaveflow-go/pkg/logger"
	"github.com/weaveflow-go/pkg/metrics"
	"github.com/weaveflow-go/pkg/ratelimit"
	"github.com/weaveflow-go/pkg/resilience"
)

const DefaultModel = "gemini-2.0-flash"

var ErrUserMessageRequired = errors.New("user message is required")

type LLMConfig struct {
	DefaultModel string
	// RequestsPerSecond throttles calls across all models. 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
	Breaker           resilience.CircuitBreakerConfig
}

// LLMExecutor sends the node's prompts to a chat model and returns the reply text.
type LLMExecutor struct {
	models       execports.ChatModelProvider
	limiter      *ratelimit.TokenBucketLimiter
	breakers     *resilience.CircuitBreakerRegistry
	defaultModel string
	logger       logger.Logger
}

func NewLLMExecutor(models execports.ChatModelProvider, cfg LLMConfig, log logger.Logger) *LLMExecutor {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.Breaker.IsSuccessful == nil {
		// A cancelled run says nothing about the provider's health.
		cfg.Breaker.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrUserMessageRequired)
		}
	}
	if log == nil {
		log = logger.NewNop()
	}

	e := &LLMExecutor{
		models:       models,
		breakers:     resilience.NewCircuitBreakerRegistry(cfg.Breaker),
		defaultModel: cfg.DefaultModel,
		logger:       log,
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = ratelimit.NewTokenBucketLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	return e
}

func (e *LLMExecutor) Execute(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
	system := firstNonEmpty(stringValue(req.Inputs[workflow.HandleSystemIn]), dataString(req.NodeData, "systemPrompt"))
	user := firstNonEmpty(stringValue(req.Inputs[workflow.HandleUserIn]), dataString(req.NodeData, "userMessage"))
	if user == "" {
		return nil, ErrUserMessageRequired
	}
	images := stringList(req.Inputs[workflow.HandleImagesIn])
	modelName := firstNonEmpty(dataString(req.NodeData, "model"), e.defaultModel)

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for model rate limit: %w", err)
		}
	}

	chatModel, err := e.models.ChatModel(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", modelName, err)
	}

	messages := buildMessages(system, user, images)
	e.logger.Debug("Calling chat model", "runId", req.RunID, "nodeId", req.NodeID, "model", modelName, "images", len(images))

	result, err := e.breakers.Get("model:"+modelName).ExecuteWithContext(ctx, func(ctx context.Context) (interface{}, error) {
		reply, err := chatModel.Generate(ctx, messages)
		if err != nil {
			return nil, err
		}
		return reply.Content, nil
	})
	if err != nil {
		metrics.RecordModelRequest(modelName, "error")
		return nil, fmt.Errorf("model %s: %w", modelName, err)
	}
	metrics.RecordModelRequest(modelName, "success")
	return result.(string), nil
}

func buildMessages(system, user string, images []string) []*schema.Message {
	messages := make([]*schema.Message, 0, 2)
	if system != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	if len(images) == 0 {
		return append(messages, schema.UserMessage(user))
	}

	parts := []schema.ChatMessagePart{{Type: schema.ChatMessagePartTypeText, Text: user}}
	for _, url := range images {
		parts = append(parts, schema.ChatMessagePart{
			Type:     schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{URL: url},
		})
	}
	return append(messages, &schema.Message{Role: schema.User, MultiContent: parts})
}
