package types

import "errors"

// Pipeline failure kinds. Adapters and the usecase wrap these with detail;
// callers branch with errors.Is and never expose the detail to clients.
var (
	ErrProbe             = errors.New("duration probe failed")
	ErrRemoteProcessing  = errors.New("remote service failed to process the video")
	ErrMalformedResponse = errors.New("malformed model response")
	ErrRangeInvalid      = errors.New("invalid time range")
	ErrExternalTool      = errors.New("external tool failed")
	ErrTimeout           = errors.New("timed out waiting for remote processing")
)

// LocateRequest asks the resolver where in the video the queried content occurs.
// Duration is the probed video length in seconds, passed along as grounding
// context for the model.
type LocateRequest struct {
	VideoPath string
	ImagePath string // optional reference image
	Query     string
	Duration  float64
}

// LocateResult is the resolver's answer. Start/End are raw seconds straight
// from the model output and must be validated against the probed duration
// before any extraction happens.
type LocateResult struct {
	Found bool
	Start float64
	End   float64
}

// ClipResult is the terminal outcome of a processing run.
type ClipResult struct {
	Found    bool
	Start    float64
	End      float64
	ClipPath string
}
