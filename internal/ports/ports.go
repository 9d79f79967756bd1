package ports

import (
	"context"

	"github.com/forPelevin/clipseek/internal/types"
)

// VideoTool wraps the external media toolchain (ffmpeg/ffprobe).
type VideoTool interface {
	// ProbeDuration returns the total duration of the video in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)
	// Trim cuts [start, end] out of the source into outPath, re-encoding
	// during the cut. Timestamps are canonical "HH:MM:SS" strings.
	Trim(ctx context.Context, inPath, start, end, outPath string) error
	// Normalize re-encodes a segment to H.264/AAC for broad playability and
	// removes the input segment on success.
	Normalize(ctx context.Context, inPath, outPath string) error
}

// SegmentResolver asks a remote multimodal model about video content.
type SegmentResolver interface {
	// Locate returns the time range matching the query, or Found=false when
	// the model reports no match. The returned range is unvalidated.
	Locate(ctx context.Context, req types.LocateRequest) (types.LocateResult, error)
	// Chat answers a free-form message about the video.
	Chat(ctx context.Context, videoPath, message string) (string, error)
}
