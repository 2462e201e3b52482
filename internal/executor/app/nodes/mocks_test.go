package nodes

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/mock"

	execports "github.com/weaveflow-go/internal/executor/ports"
)

type MockChatModel struct {
	mock.Mock
}

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	args := m.Called(ctx, input)
	if msg := args.Get(0); msg != nil {
		return msg.(*schema.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	args := m.Called(ctx, input)
	return nil, args.Error(1)
}

type MockModelProvider struct {
	mock.Mock
}

func (m *MockModelProvider) ChatModel(ctx context.Context, name string) (model.BaseChatModel, error) {
	args := m.Called(ctx, name)
	if cm := args.Get(0); cm != nil {
		return cm.(model.BaseChatModel), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockMediaTransformer struct {
	mock.Mock
}

func (m *MockMediaTransformer) Crop(ctx context.Context, spec execports.CropSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockMediaTransformer) ExtractFrame(ctx context.Context, spec execports.FrameSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}
