package task

import (
	"io"
	"time"

	"framepipe/ffmpeg"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusStopped    Status = "stopped"
)

// CameraTask is the supervisor's record of one camera's decode. The registry
// stores it by value; Process is the only shared part.
type CameraTask struct {
	CameraID  string
	Source    string
	Backend   ffmpeg.Backend
	FPS       int
	OutputDir string
	Status    Status
	LastError string
	Process   ffmpeg.Process
	StartedAt time.Time
	UpdatedAt time.Time

	// reservation is the token of the start that created the entry.
	reservation uint64
}

// StartOutcome distinguishes a fresh decoder from an idempotent start.
type StartOutcome string

const (
	StartStarted        StartOutcome = "started"
	StartAlreadyRunning StartOutcome = "already_running"
)

type StartRequest struct {
	CameraID     string
	SourceURL    string
	Upload       io.Reader
	UploadName   string
	FPS          int
	ForceBackend string
}

type StartResult struct {
	CameraID  string         `json:"camera_id"`
	Status    StartOutcome   `json:"status"`
	OutputDir string         `json:"output_folder"`
	Backend   ffmpeg.Backend `json:"backend"`
}

// StopOutcome is "stopped" or "not_found".
type StopOutcome string

const (
	StopStopped  StopOutcome = "stopped"
	StopNotFound StopOutcome = "not_found"
)

type StopResult struct {
	CameraID string      `json:"camera_id"`
	Status   StopOutcome `json:"status"`
}

type StatusResult struct {
	CameraID   string               `json:"camera_id"`
	Status     Status               `json:"status"`
	FrameCount int                  `json:"frame_count"`
	LastError  string               `json:"last_error,omitempty"`
	Backend    ffmpeg.Backend       `json:"backend,omitempty"`
	Source     string               `json:"source,omitempty"`
	OutputDir  string               `json:"output_folder,omitempty"`
	FPS        int                  `json:"fps,omitempty"`
	PID        int                  `json:"pid,omitempty"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	Stats      *ffmpeg.ProcessStats `json:"stats,omitempty"`
}
