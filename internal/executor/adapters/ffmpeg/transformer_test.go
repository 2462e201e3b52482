package ffmpeg

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execports "github.com/weaveflow-go/internal/executor/ports"
)

type call struct {
	name string
	args []string
}

// fakeRunner records calls, answers ffprobe with a fixed duration and writes
// a dummy image to ffmpeg's output path.
type fakeRunner struct {
	calls    []call
	duration string
	err      error
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.err != nil {
		return nil, f.err
	}
	if strings.Contains(name, "ffprobe") {
		return []byte(f.duration + "\n"), nil
	}
	return nil, os.WriteFile(args[len(args)-1], []byte("png"), 0o644)
}

type memStore struct {
	key  string
	body string
}

func (m *memStore) Put(ctx context.Context, key, contentType string, body io.ReadSeeker) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.key, m.body = key, string(data)
	return "https://cdn.example.com/" + key, nil
}

func TestCropFilter(t *testing.T) {
	f := CropFilter(execports.CropSpec{X: 10, Y: 12.5, Width: 80, Height: 50})
	assert.Equal(t, "crop=iw*80/100:ih*50/100:iw*10/100:ih*12.5/100", f)
}

func TestTransformer_CropUploads(t *testing.T) {
	runner := &fakeRunner{}
	store := &memStore{}
	tr := NewTransformer(Config{FFmpegPath: "/usr/bin/ffmpeg", WorkDir: t.TempDir()}, store, runner.run, nil)

	url, err := tr.Crop(context.Background(), execports.CropSpec{
		RunID: "r1", NodeID: "crop", SourceURL: "https://cdn/a.png", Width: 100, Height: 100,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/runs/r1/crop-"))
	assert.Equal(t, "png", store.body)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/usr/bin/ffmpeg", runner.calls[0].name)
	assert.Contains(t, runner.calls[0].args, "https://cdn/a.png")
	out := runner.calls[0].args[len(runner.calls[0].args)-1]
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "work file should be removed after upload")
}

func TestTransformer_ExtractFramePercent(t *testing.T) {
	runner := &fakeRunner{duration: "40.0"}
	tr := NewTransformer(Config{WorkDir: t.TempDir()}, nil, runner.run, nil)

	url, err := tr.ExtractFrame(context.Background(), execports.FrameSpec{
		SourceURL: "https://cdn/v.mp4",
		At:        execports.Timestamp{Percent: 25, IsPercent: true},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "ffprobe", runner.calls[0].name)
	assert.Equal(t, []string{"-y", "-ss", "10"}, runner.calls[1].args[:3])
}

func TestTransformer_ExtractFrameSeconds(t *testing.T) {
	runner := &fakeRunner{}
	tr := NewTransformer(Config{WorkDir: t.TempDir()}, nil, runner.run, nil)

	_, err := tr.ExtractFrame(context.Background(), execports.FrameSpec{
		SourceURL: "https://cdn/v.mp4",
		At:        execports.Timestamp{Seconds: 3.5},
	})
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "3.5", runner.calls[0].args[2])
}

func TestTransformer_BadDuration(t *testing.T) {
	runner := &fakeRunner{duration: "N/A"}
	tr := NewTransformer(Config{WorkDir: t.TempDir()}, nil, runner.run, nil)

	_, err := tr.ExtractFrame(context.Background(), execports.FrameSpec{
		SourceURL: "https://cdn/v.mp4",
		At:        execports.Timestamp{Percent: 50, IsPercent: true},
	})
	assert.ErrorContains(t, err, "could not read video duration")
}

func TestTransformer_RunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("ffmpeg failed: exit status 1: Invalid data")}
	tr := NewTransformer(Config{WorkDir: t.TempDir()}, nil, runner.run, nil)

	_, err := tr.Crop(context.Background(), execports.CropSpec{SourceURL: "https://cdn/a.png", Width: 100, Height: 100})
	assert.ErrorContains(t, err, "Invalid data")
}

func TestTransformer_RestrictsInputProtocols(t *testing.T) {
	runner := &fakeRunner{duration: "10"}
	tr := NewTransformer(Config{WorkDir: t.TempDir()}, nil, runner.run, nil)

	_, err := tr.ExtractFrame(context.Background(), execports.FrameSpec{
		SourceURL: "https://cdn/v.mp4",
		At:        execports.Timestamp{Percent: 50, IsPercent: true},
	})
	require.NoError(t, err)
	require.Len(t, runner.calls, 2)
	for _, c := range runner.calls {
		i := indexOf(c.args, "-protocol_whitelist")
		require.GreaterOrEqual(t, i, 0, "%s called without a protocol whitelist", c.name)
		assert.Equal(t, "http,https,tcp,tls", c.args[i+1])
	}
	assert.Less(t, indexOf(runner.calls[1].args, "-protocol_whitelist"), indexOf(runner.calls[1].args, "-i"))
}

func TestTransformer_RejectsLocalSources(t *testing.T) {
	for _, src := range []string{"file:///etc/passwd", "/etc/passwd", "concat:a.png|b.png", "https:///nohost.png"} {
		t.Run(src, func(t *testing.T) {
			runner := &fakeRunner{duration: "10"}
			tr := NewTransformer(Config{WorkDir: t.TempDir()}, nil, runner.run, nil)

			_, err := tr.Crop(context.Background(), execports.CropSpec{SourceURL: src, Width: 100, Height: 100})
			assert.ErrorIs(t, err, execports.ErrUnsupportedMediaURL)
			_, err = tr.ExtractFrame(context.Background(), execports.FrameSpec{
				SourceURL: src,
				At:        execports.Timestamp{Percent: 50, IsPercent: true},
			})
			assert.ErrorIs(t, err, execports.ErrUnsupportedMediaURL)
			assert.Empty(t, runner.calls)
		})
	}
}

func indexOf(args []string, want string) int {
	for i, a := range args {
		if a == want {
			return i
		}
	}
	return -1
}
