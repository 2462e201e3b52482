// Package ffmpeg implements media transforms by shelling out to ffmpeg.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	execports "github.com/weaveflow-go/internal/executor/ports"
	"github.com/weaveflow-go/pkg/logger"
)

// protocolWhitelist limits what ffmpeg and ffprobe may open for an input.
const protocolWhitelist = "http,https,tcp,tls"

type Config struct {
	FFmpegPath  string
	FFprobePath string
	// WorkDir holds intermediate files. Empty means the OS temp dir.
	WorkDir string
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if i := strings.LastIndex(msg, "\n"); i >= 0 {
			msg = msg[i+1:]
		}
		return nil, fmt.Errorf("%s failed: %w: %s", path.Base(name), err, msg)
	}
	return stdout.Bytes(), nil
}

// Transformer writes results to WorkDir and uploads them when a store is set.
// Without a store the result is returned as a file:// URL.
type Transformer struct {
	config Config
	store  execports.ObjectStore
	run    Runner
	logger logger.Logger
}

var _ execports.MediaTransformer = (*Transformer)(nil)

func NewTransformer(cfg Config, store execports.ObjectStore, run Runner, log logger.Logger) *Transformer {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if run == nil {
		run = execRunner
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Transformer{config: cfg, store: store, run: run, logger: log}
}

// CropFilter renders a percentage crop as an ffmpeg filter relative to the input size.
func CropFilter(spec execports.CropSpec) string {
	return fmt.Sprintf("crop=iw*%s/100:ih*%s/100:iw*%s/100:ih*%s/100",
		num(spec.Width), num(spec.Height), num(spec.X), num(spec.Y))
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (t *Transformer) Crop(ctx context.Context, spec execports.CropSpec) (string, error) {
	if err := execports.ValidateMediaURL(spec.SourceURL); err != nil {
		return "", err
	}
	out, err := t.tempFile()
	if err != nil {
		return "", err
	}
	args := []string{"-y", "-protocol_whitelist", protocolWhitelist, "-i", spec.SourceURL, "-vf", CropFilter(spec), "-frames:v", "1", out}
	if _, err := t.run(ctx, t.config.FFmpegPath, args...); err != nil {
		os.Remove(out)
		return "", err
	}
	return t.publish(ctx, spec.RunID, spec.NodeID, out)
}

func (t *Transformer) ExtractFrame(ctx context.Context, spec execports.FrameSpec) (string, error) {
	if err := execports.ValidateMediaURL(spec.SourceURL); err != nil {
		return "", err
	}
	seconds := spec.At.Seconds
	if spec.At.IsPercent {
		duration, err := t.probeDuration(ctx, spec.SourceURL)
		if err != nil {
			return "", err
		}
		seconds = duration * spec.At.Percent / 100
	}

	out, err := t.tempFile()
	if err != nil {
		return "", err
	}
	args := []string{"-y", "-ss", num(seconds), "-protocol_whitelist", protocolWhitelist, "-i", spec.SourceURL, "-frames:v", "1", out}
	if _, err := t.run(ctx, t.config.FFmpegPath, args...); err != nil {
		os.Remove(out)
		return "", err
	}
	return t.publish(ctx, spec.RunID, spec.NodeID, out)
}

func (t *Transformer) probeDuration(ctx context.Context, source string) (float64, error) {
	raw, err := t.run(ctx, t.config.FFprobePath,
		"-v", "error",
		"-protocol_whitelist", protocolWhitelist,
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		source)
	if err != nil {
		return 0, err
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("could not read video duration from %q", strings.TrimSpace(string(raw)))
	}
	return duration, nil
}

func (t *Transformer) tempFile() (string, error) {
	f, err := os.CreateTemp(t.config.WorkDir, "weaveflow-*.png")
	if err != nil {
		return "", fmt.Errorf("failed to create work file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (t *Transformer) publish(ctx context.Context, runID, nodeID, file string) (string, error) {
	if t.store == nil {
		return "file://" + file, nil
	}
	defer os.Remove(file)

	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("failed to open result: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("runs/%s/%s-%s.png", runID, nodeID, uuid.New().String())
	url, err := t.store.Put(ctx, key, "image/png", f)
	if err != nil {
		return "", err
	}
	t.logger.Debug("Uploaded media result", "runId", runID, "nodeId", nodeID, "key", key)
	return url, nil
}
