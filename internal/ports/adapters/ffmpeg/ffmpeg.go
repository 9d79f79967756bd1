package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/forPelevin/clipseek/internal/types"
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

func (a *Adapter) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe: %v\n%s", types.ErrProbe, err, string(b))
	}
	sec, err := parseProbeDuration(b)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrProbe, err)
	}
	return sec, nil
}

func parseProbeDuration(b []byte) (float64, error) {
	var out struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %v", err)
	}
	if out.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe output has no duration field")
	}
	sec, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %v", out.Format.Duration, err)
	}
	return sec, nil
}

// Trim cuts [start, end] (canonical HH:MM:SS strings) into outPath. The cut
// re-encodes rather than stream-copies so the output is decodable and seekable
// regardless of keyframe placement.
func (a *Adapter) Trim(ctx context.Context, inPath, start, end, outPath string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-i", inPath,
		"-ss", start,
		"-to", end,
		"-y",
		outPath,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: ffmpeg trim: %v\n%s", types.ErrExternalTool, err, string(b))
	}
	return requireNonEmpty(outPath, "trim")
}

// Normalize re-encodes the segment to H.264/AAC and removes the input segment
// on success.
func (a *Adapter) Normalize(ctx context.Context, inPath, outPath string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-i", inPath,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-c:a", "aac",
		"-y",
		outPath,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: ffmpeg normalize: %v\n%s", types.ErrExternalTool, err, string(b))
	}
	if err := requireNonEmpty(outPath, "normalize"); err != nil {
		return err
	}
	_ = os.Remove(inPath)
	return nil
}

func requireNonEmpty(path, op string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s produced no output file: %v", types.ErrExternalTool, op, err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%w: %s produced an empty output file", types.ErrExternalTool, op)
	}
	return nil
}
