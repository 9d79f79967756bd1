// Package usecase drives the probe -> resolve -> validate -> extract ->
// normalize pipeline for a single request.
package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/forPelevin/clipseek/internal/ports"
	"github.com/forPelevin/clipseek/internal/timecode"
	"github.com/forPelevin/clipseek/internal/types"
)

type Deps struct {
	Video    ports.VideoTool
	Resolver ports.SegmentResolver
	Log      zerolog.Logger
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase {
	d.Log = d.Log.With().Str("component", "usecase").Logger()
	return Usecase{d: d}
}

type Input struct {
	VideoPath  string
	ImagePath  string // optional reference image
	Query      string
	OutputPath string // final clip destination
}

// Run executes the pipeline end to end. The staged inputs belong to the caller;
// Run only guarantees that its own intermediate segment file is gone on every
// exit path. The final clip at OutputPath is retained for download.
func (u Usecase) Run(ctx context.Context, in Input) (types.ClipResult, error) {
	duration, err := u.d.Video.ProbeDuration(ctx, in.VideoPath)
	if err != nil {
		return types.ClipResult{}, err
	}
	u.d.Log.Info().Float64("duration", duration).Str("query", in.Query).Msg("resolving segment")

	loc, err := u.d.Resolver.Locate(ctx, types.LocateRequest{
		VideoPath: in.VideoPath,
		ImagePath: in.ImagePath,
		Query:     in.Query,
		Duration:  duration,
	})
	if err != nil {
		return types.ClipResult{}, err
	}
	if !loc.Found {
		u.d.Log.Info().Msg("no matching segment")
		return types.ClipResult{Found: false}, nil
	}

	start, end, err := validateRange(loc.Start, loc.End, duration)
	if err != nil {
		return types.ClipResult{}, err
	}
	u.d.Log.Info().Float64("start", start).Float64("end", end).Msg("extracting segment")

	segPath := filepath.Join(filepath.Dir(in.OutputPath), "temp_"+filepath.Base(in.OutputPath))
	defer func() { _ = os.Remove(segPath) }()

	if err := u.d.Video.Trim(ctx, in.VideoPath, timecode.Format(start), timecode.Format(end), segPath); err != nil {
		return types.ClipResult{}, err
	}
	if err := u.d.Video.Normalize(ctx, segPath, in.OutputPath); err != nil {
		return types.ClipResult{}, err
	}

	return types.ClipResult{
		Found:    true,
		Start:    start,
		End:      end,
		ClipPath: in.OutputPath,
	}, nil
}

// Chat answers a free-form message about the video.
func (u Usecase) Chat(ctx context.Context, videoPath, message string) (string, error) {
	return u.d.Resolver.Chat(ctx, videoPath, message)
}

// validateRange enforces 0 <= start < end <= duration, clamping an
// out-of-bounds end to the duration rather than rejecting it.
func validateRange(start, end, duration float64) (float64, float64, error) {
	if end > duration {
		end = duration
	}
	if start < 0 {
		return 0, 0, fmt.Errorf("%w: start %.2fs is negative", types.ErrRangeInvalid, start)
	}
	if start >= duration {
		return 0, 0, fmt.Errorf("%w: start %.2fs is beyond video duration %.2fs", types.ErrRangeInvalid, start, duration)
	}
	if start >= end {
		return 0, 0, fmt.Errorf("%w: start %.2fs is not before end %.2fs", types.ErrRangeInvalid, start, end)
	}
	return start, end, nil
}
