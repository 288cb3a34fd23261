package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Transcoder normalizes downloaded videos into a seekable, fast-start
// H.264/AAC mp4 at a bounded bitrate, in place.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewTranscoder creates a transcoder. Empty paths fall back to a PATH
// lookup for ffmpeg and ffprobe.
func NewTranscoder(ffmpegPath, ffprobePath string) (*Transcoder, error) {
	var err error
	if ffmpegPath == "" {
		ffmpegPath, err = exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
	}
	if ffprobePath == "" {
		ffprobePath, err = exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
	}

	return &Transcoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// Normalize re-encodes the video at inputPath and replaces the original
// file on success. The original is retained untouched on failure.
func (t *Transcoder) Normalize(ctx context.Context, inputPath string) error {
	fps, err := t.probeFrameRate(ctx, inputPath)
	if err != nil || fps <= 0 {
		fps = 30
	}

	dir := filepath.Dir(inputPath)
	tempPath := filepath.Join(dir, "processed_"+uuid.NewString()+".mp4")

	args := []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-b:v", "4000k",
		"-maxrate", "4000k",
		"-bufsize", "8000k",
		"-pix_fmt", "yuv420p",
		"-profile:v", "main",
		"-level:v", "4.0",
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-g", strconv.Itoa(int(fps * 2)),
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y",
		tempPath,
	}

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(output))
	}

	// Replace the original with the normalized file.
	if err := os.Remove(inputPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("remove original: %w", err)
	}
	if err := os.Rename(tempPath, inputPath); err != nil {
		return fmt.Errorf("rename normalized file: %w", err)
	}

	return nil
}

// probeFrameRate reads the video stream's average frame rate.
func (t *Transcoder) probeFrameRate(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "v:0",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed struct {
		Streams []struct {
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &parsed); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return 0, fmt.Errorf("no video stream in %s", videoPath)
	}

	return parseFrameRate(parsed.Streams[0].AvgFrameRate)
}

// parseFrameRate converts ffprobe's "num/den" rational to a float.
func parseFrameRate(rate string) (float64, error) {
	if rate == "" || rate == "0/0" {
		return 0, fmt.Errorf("frame rate unavailable")
	}
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) == 1 {
		return strconv.ParseFloat(parts[0], 64)
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0, fmt.Errorf("malformed frame rate %q", rate)
	}
	return num / den, nil
}

func tail(output []byte) string {
	const max = 512
	s := strings.TrimSpace(string(output))
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
