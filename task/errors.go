package task

import (
	"errors"
	"fmt"

	"framepipe/ffmpeg"
)

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrDecodeStartFailed     = errors.New("decode start failed")
	ErrTaskNotFound          = errors.New("no decode task found for this camera")
	ErrStaleFrame            = errors.New("latest frame is too old, frames have been cleaned up")
	ErrNoFrames              = errors.New("no frames found in the output folder for this camera")
	ErrOutputMissing         = errors.New("output folder does not exist for this camera")
	ErrInsufficientResources = errors.New("insufficient system resources")
	ErrStartInterrupted      = errors.New("decode was stopped while starting")
)

// StartError reports that every launch attempt died within the grace period.
type StartError struct {
	CameraID   string
	Backend    ffmpeg.Backend
	Diagnostic string
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start decode for camera %s (backend %s): %s", e.CameraID, e.Backend, e.Diagnostic)
}

func (e *StartError) Unwrap() error {
	return ErrDecodeStartFailed
}
