package nodes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/ports"
	execports "github.com/weaveflow-go/internal/executor/ports"
)

// DefaultTimestamp is the middle of the video.
const DefaultTimestamp = "50%"

var (
	ErrNoInputImage = errors.New("no input image")
	ErrNoInputVideo = errors.New("no input video")
)

// CropImageExecutor crops its input image. Without a transformer it returns
// the input URL unchanged.
type CropImageExecutor struct {
	transformer execports.MediaTransformer
}

func NewCropImageExecutor(transformer execports.MediaTransformer) *CropImageExecutor {
	return &CropImageExecutor{transformer: transformer}
}

func (e *CropImageExecutor) Execute(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
	image := stringValue(req.Inputs[workflow.HandleImageIn])
	if image == "" {
		return nil, ErrNoInputImage
	}
	if err := execports.ValidateMediaURL(image); err != nil {
		return nil, err
	}
	spec, err := cropSpec(req, image)
	if err != nil {
		return nil, err
	}
	if e.transformer == nil {
		return image, nil
	}
	return e.transformer.Crop(ctx, spec)
}

func cropSpec(req ports.TaskRequest, source string) (execports.CropSpec, error) {
	spec := execports.CropSpec{RunID: req.RunID, NodeID: req.NodeID, SourceURL: source}
	var err error
	if spec.X, err = percentParam(req.NodeData, "xPercent", 0); err != nil {
		return spec, err
	}
	if spec.Y, err = percentParam(req.NodeData, "yPercent", 0); err != nil {
		return spec, err
	}
	if spec.Width, err = percentParam(req.NodeData, "widthPercent", 100); err != nil {
		return spec, err
	}
	if spec.Height, err = percentParam(req.NodeData, "heightPercent", 100); err != nil {
		return spec, err
	}
	if spec.Width == 0 || spec.Height == 0 {
		return spec, errors.New("crop area must not be empty")
	}
	if spec.X+spec.Width > 100 || spec.Y+spec.Height > 100 {
		return spec, fmt.Errorf("crop area exceeds image bounds (x %g + width %g, y %g + height %g)",
			spec.X, spec.Width, spec.Y, spec.Height)
	}
	return spec, nil
}

// ExtractFrameExecutor grabs one frame of its input video as an image.
// Without a transformer it returns the input URL unchanged.
type ExtractFrameExecutor struct {
	transformer execports.MediaTransformer
}

func NewExtractFrameExecutor(transformer execports.MediaTransformer) *ExtractFrameExecutor {
	return &ExtractFrameExecutor{transformer: transformer}
}

func (e *ExtractFrameExecutor) Execute(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
	video := stringValue(req.Inputs[workflow.HandleVideoIn])
	if video == "" {
		return nil, ErrNoInputVideo
	}
	if err := execports.ValidateMediaURL(video); err != nil {
		return nil, err
	}
	at, err := ParseTimestamp(dataString(req.NodeData, "timestamp"))
	if err != nil {
		return nil, err
	}
	if e.transformer == nil {
		return video, nil
	}
	return e.transformer.ExtractFrame(ctx, execports.FrameSpec{
		RunID:     req.RunID,
		NodeID:    req.NodeID,
		SourceURL: video,
		At:        at,
	})
}

// ParseTimestamp accepts seconds ("12.5") or a percentage of the duration ("50%").
// An empty string means DefaultTimestamp.
func ParseTimestamp(raw string) (execports.Timestamp, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = DefaultTimestamp
	}

	if strings.HasSuffix(s, "%") {
		p, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return execports.Timestamp{}, fmt.Errorf("invalid timestamp %q", raw)
		}
		if p < 0 || p > 100 {
			return execports.Timestamp{}, fmt.Errorf("timestamp percentage must be between 0 and 100, got %g", p)
		}
		return execports.Timestamp{Percent: p, IsPercent: true}, nil
	}

	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return execports.Timestamp{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	if secs < 0 {
		return execports.Timestamp{}, fmt.Errorf("timestamp must not be negative, got %g", secs)
	}
	return execports.Timestamp{Seconds: secs}, nil
}
