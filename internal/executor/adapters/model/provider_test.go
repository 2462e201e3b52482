package model

import (
	"context"
	"errors"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	name string
}

func (s *stubModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return schema.AssistantMessage(s.name, nil), nil
}

func (s *stubModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestProvider_CachesPerModel(t *testing.T) {
	calls := map[string]int{}
	factory := func(ctx context.Context, cfg Config, name string) (einomodel.BaseChatModel, error) {
		assert.Equal(t, "key", cfg.APIKey)
		calls[name]++
		return &stubModel{name: name}, nil
	}
	p := NewProvider(Config{APIKey: "key"}, factory, nil)

	a1, err := p.ChatModel(context.Background(), "gemini-2.0-flash")
	require.NoError(t, err)
	a2, err := p.ChatModel(context.Background(), "gemini-2.0-flash")
	require.NoError(t, err)
	b, err := p.ChatModel(context.Background(), "gemini-1.5-pro")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 1, calls["gemini-2.0-flash"])
	assert.Equal(t, 1, calls["gemini-1.5-pro"])
}

func TestProvider_FactoryErrorNotCached(t *testing.T) {
	fail := true
	factory := func(ctx context.Context, cfg Config, name string) (einomodel.BaseChatModel, error) {
		if fail {
			return nil, errors.New("bad base url")
		}
		return &stubModel{name: name}, nil
	}
	p := NewProvider(Config{}, factory, nil)

	_, err := p.ChatModel(context.Background(), "m")
	assert.ErrorContains(t, err, "bad base url")

	fail = false
	m, err := p.ChatModel(context.Background(), "m")
	require.NoError(t, err)
	assert.NotNil(t, m)
}
