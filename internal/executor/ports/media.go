package ports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
)

// CropSpec describes a crop in percentages of the source dimensions.
type CropSpec struct {
	RunID     string
	NodeID    string
	SourceURL string
	X         float64
	Y         float64
	Width     float64
	Height    float64
}

// Timestamp is a frame position, either absolute or relative to the video length.
type Timestamp struct {
	Seconds   float64
	Percent   float64
	IsPercent bool
}

type FrameSpec struct {
	RunID     string
	NodeID    string
	SourceURL string
	At        Timestamp
}

// MediaTransformer produces derived media and returns where the result can be fetched.
type MediaTransformer interface {
	Crop(ctx context.Context, spec CropSpec) (string, error)
	ExtractFrame(ctx context.Context, spec FrameSpec) (string, error)
}

// ObjectStore uploads generated files and returns their public URL.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.ReadSeeker) (string, error)
}

// ErrUnsupportedMediaURL is returned for media sources that are not remote
// http or https URLs.
var ErrUnsupportedMediaURL = errors.New("unsupported media url")

// ValidateMediaURL accepts absolute http and https URLs with a host.
func ValidateMediaURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedMediaURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrUnsupportedMediaURL, raw)
	}
	return nil
}
