package ports

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelProvider returns a chat model for a model name, e.g. "gemini-2.0-flash".
type ChatModelProvider interface {
	ChatModel(ctx context.Context, name string) (model.BaseChatModel, error)
}
