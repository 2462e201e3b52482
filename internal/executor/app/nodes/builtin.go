package nodes

import (
	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/executor/app/registry"
	execports "github.com/weaveflow-go/internal/executor/ports"
	"github.com/weaveflow-go/pkg/logger"
)

// Deps are the collaborators of the built-in executors. Models is required;
// Media may be nil, in which case media nodes pass their input through.
type Deps struct {
	Models execports.ChatModelProvider
	Media  execports.MediaTransformer
	LLM    LLMConfig
	Logger logger.Logger
}

// RegisterBuiltins registers an executor for every node type.
func RegisterBuiltins(r *registry.NodeRegistry, deps Deps) {
	r.Register(workflow.NodeTypeText, NewDataValueExecutor("text"))
	r.Register(workflow.NodeTypeUploadImage, NewDataValueExecutor("imageUrl"))
	r.Register(workflow.NodeTypeUploadVideo, NewDataValueExecutor("videoUrl"))
	r.Register(workflow.NodeTypeLLM, NewLLMExecutor(deps.Models, deps.LLM, deps.Logger))
	r.Register(workflow.NodeTypeCropImage, NewCropImageExecutor(deps.Media))
	r.Register(workflow.NodeTypeExtractFrame, NewExtractFrameExecutor(deps.Media))
}
