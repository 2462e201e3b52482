// Package model builds eino chat models against an OpenAI-compatible endpoint.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"

	execports "github.com/weaveflow-go/internal/executor/ports"
	"github.com/weaveflow-go/pkg/logger"
)

type Config struct {
	BaseURL string
	APIKey  string
}

// Factory creates a chat model for one model name.
type Factory func(ctx context.Context, cfg Config, name string) (einomodel.BaseChatModel, error)

// OpenAIFactory targets any OpenAI-compatible API, Gemini's included.
func OpenAIFactory(ctx context.Context, cfg Config, name string) (einomodel.BaseChatModel, error) {
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   name,
	})
}

// Provider lazily creates and caches one chat model per model name.
type Provider struct {
	config  Config
	factory Factory
	logger  logger.Logger

	mu     sync.Mutex
	models map[string]einomodel.BaseChatModel
}

var _ execports.ChatModelProvider = (*Provider)(nil)

func NewProvider(cfg Config, factory Factory, log logger.Logger) *Provider {
	if factory == nil {
		factory = OpenAIFactory
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Provider{
		config:  cfg,
		factory: factory,
		logger:  log,
		models:  make(map[string]einomodel.BaseChatModel),
	}
}

func (p *Provider) ChatModel(ctx context.Context, name string) (einomodel.BaseChatModel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.models[name]; ok {
		return m, nil
	}
	m, err := p.factory(ctx, p.config, name)
	if err != nil {
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	p.logger.Info("Chat model ready", "model", name)
	p.models[name] = m
	return m, nil
}
