package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

// FFmpegSource reads frames from a local capture device or a network stream
// through an ffmpeg subprocess emitting MJPEG on stdout.
type FFmpegSource struct {
	source string
	fps    int
	width  int

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	frames *jpegSplitter
}

// NewFFmpegSource creates a source for a device index ("0") or a URL. fps and
// width of zero keep the source's own rate and size.
func NewFFmpegSource(source string, fps, width int) *FFmpegSource {
	return &FFmpegSource{source: source, fps: fps, width: width}
}

func (f *FFmpegSource) Open(ctx context.Context) error {
	args, err := ffmpegArgs(f.source, runtime.GOOS, f.fps, f.width)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go logStderr(f.source, stderr)

	f.mu.Lock()
	f.cmd = cmd
	f.cancel = cancel
	f.frames = newJPEGSplitter(stdout)
	f.mu.Unlock()
	return nil
}

// Read blocks until the next frame is available.
func (f *FFmpegSource) Read(ctx context.Context) (image.Image, error) {
	f.mu.Lock()
	frames := f.frames
	f.mu.Unlock()
	if frames == nil {
		return nil, errors.New("source not open")
	}

	data, err := frames.Next()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("stream ended: %w", err)
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Close stops ffmpeg and reaps the process.
func (f *FFmpegSource) Close() error {
	f.mu.Lock()
	cmd, cancel := f.cmd, f.cancel
	f.cmd, f.cancel, f.frames = nil, nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	_ = cmd.Wait()
	return nil
}

func logStderr(source string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Warn("ffmpeg stderr", "source", source, "output", scanner.Text())
	}
}

// ffmpegArgs builds the ffmpeg command line for a source.
func ffmpegArgs(source, goos string, fps, width int) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	input, err := inputArgs(source, goos)
	if err != nil {
		return nil, err
	}
	args = append(args, input...)

	var filters []string
	if fps > 0 {
		filters = append(filters, "fps="+strconv.Itoa(fps))
	}
	if width > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-2", width))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	return append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	), nil
}

func inputArgs(source, goos string) ([]string, error) {
	if idx, err := strconv.Atoi(source); err == nil {
		if idx < 0 {
			return nil, fmt.Errorf("invalid device index %d", idx)
		}
		switch goos {
		case "linux":
			return []string{"-f", "v4l2", "-i", fmt.Sprintf("/dev/video%d", idx)}, nil
		case "darwin":
			return []string{"-f", "avfoundation", "-framerate", "30", "-i", strconv.Itoa(idx)}, nil
		case "windows":
			return []string{"-f", "dshow", "-video_device_number", strconv.Itoa(idx), "-i", "video=default"}, nil
		default:
			return nil, fmt.Errorf("device capture is not supported on %s", goos)
		}
	}

	switch {
	case strings.HasPrefix(source, "rtsp://"), strings.HasPrefix(source, "rtsps://"):
		return []string{
			"-rtsp_transport", "tcp",
			"-timeout", "5000000",
			"-i", source,
		}, nil
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		// No -reconnect: a dropped stream ends the capture loop.
		return []string{
			"-timeout", "10000000",
			"-i", source,
		}, nil
	default:
		return []string{"-i", source}, nil
	}
}
