package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"framepipe/config"
	"framepipe/ffmpeg"
	"framepipe/frames"
	"framepipe/task"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// Decoder is the continuous decoding surface of task.Manager.
type Decoder interface {
	Start(ctx context.Context, req task.StartRequest) (*task.StartResult, error)
	Stop(cameraID string) task.StopResult
	Status(cameraID string) task.StatusResult
	List() []task.StatusResult
	LatestFrame(cameraID string) (string, error)
	Cleanup(cameraID string) error
	SweepOrphans() []string
}

// Tools runs single blocking ffmpeg invocations.
type Tools interface {
	Snapshot(ctx context.Context, source, timestamp, outputPath string) (*ffmpeg.Result, error)
	Record(ctx context.Context, source, startTime, duration, outputPath string) (*ffmpeg.Result, error)
	VideoInfo(ctx context.Context, source string) (*ffmpeg.VideoInfo, error)
}

// Accel reports what the acceleration resolver sees.
type Accel interface {
	Priority() []ffmpeg.Backend
	Detect(ctx context.Context) ffmpeg.Backend
}

type Deps struct {
	Decoder  Decoder
	Tools    Tools
	Accel    Accel
	HWAccels func(ctx context.Context) ([]string, error)
}

type Handler struct {
	Deps
	cfg *config.Config
	log zerolog.Logger
}

func NewHandler(deps Deps, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		Deps: deps,
		cfg:  cfg,
		log:  log,
	}
}

// writeError maps domain errors onto status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var startErr *task.StartError
	switch {
	case errors.As(err, &startErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start decode", "details": startErr.Diagnostic})
	case errors.Is(err, task.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrInsufficientResources):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrStartInterrupted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrTaskNotFound), errors.Is(err, task.ErrNoFrames):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrStaleFrame):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// handleStartDecode starts continuous decoding from a multipart upload or a URL.
func (h *Handler) handleStartDecode(c *gin.Context) {
	req := task.StartRequest{
		CameraID:     c.PostForm("camera_id"),
		SourceURL:    c.PostForm("url"),
		ForceBackend: c.PostForm("force_format"),
	}
	if req.CameraID == "" {
		badRequest(c, "camera_id is required")
		return
	}
	if raw := c.PostForm("fps"); raw != "" {
		fps, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, fmt.Sprintf("invalid fps: %q", raw))
			return
		}
		req.FPS = fps
	}

	// A request that is not multipart simply has no file.
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			h.writeError(c, fmt.Errorf("%w: %v", task.ErrInvalidRequest, err))
			return
		}
		defer f.Close()
		req.Upload = f
		req.UploadName = fh.Filename
	}

	res, err := h.Decoder.Start(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	msg := "Decoding started"
	if res.Status == task.StartAlreadyRunning {
		msg = "Decoding already running"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       msg,
		"camera_id":     res.CameraID,
		"output_folder": res.OutputDir,
		"status":        res.Status,
		"backend":       res.Backend,
	})
}

func (h *Handler) handleStopDecode(c *gin.Context) {
	cameraID := c.PostForm("camera_id")
	if cameraID == "" {
		badRequest(c, "camera_id is required")
		return
	}

	res := h.Decoder.Stop(cameraID)
	msg := "Decoding stopped"
	if res.Status == task.StopNotFound {
		msg = "No decode task found for this camera"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "camera_id": res.CameraID, "status": res.Status})
}

func (h *Handler) handleDecodeStatus(c *gin.Context) {
	cameraID := c.Query("camera_id")
	if cameraID == "" {
		badRequest(c, "camera_id is required")
		return
	}
	c.JSON(http.StatusOK, h.Decoder.Status(cameraID))
}

func (h *Handler) handleListDecodes(c *gin.Context) {
	c.JSON(http.StatusOK, h.Decoder.List())
}

// handleLatestFrame serves the newest frame with a sniffed content type.
func (h *Handler) handleLatestFrame(c *gin.Context) {
	cameraID := c.Query("camera_id")
	if cameraID == "" {
		badRequest(c, "camera_id is required")
		return
	}

	path, err := h.Decoder.LatestFrame(cameraID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Type", frames.ContentType(path))
	c.Header("Cache-Control", "no-store")
	c.File(path)
}

// handleCleanup clears one camera, or sweeps orphans when no camera is named.
func (h *Handler) handleCleanup(c *gin.Context) {
	cameraID := c.PostForm("camera_id")
	if cameraID != "" {
		if err := h.Decoder.Cleanup(cameraID); err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Cleaned up frames for camera %s", cameraID)})
		return
	}

	cleared := h.Decoder.SweepOrphans()
	if cleared == nil {
		cleared = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cleaned up all orphaned frames", "cleared": cleared})
}

func (h *Handler) handleHWAccelCap(c *gin.Context) {
	accels, err := h.HWAccels(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hwaccels": accels,
		"priority": h.Accel.Priority(),
		"detected": h.Accel.Detect(c.Request.Context()),
	})
}

type SnapshotRequest struct {
	VideoURL    string `json:"video_url" binding:"required"`
	Timestamp   string `json:"timestamp" binding:"required"`
	OutputImage string `json:"output_image" binding:"required"`
}

type RecordRequest struct {
	VideoURL   string `json:"video_url" binding:"required"`
	StartTime  string `json:"start_time" binding:"required"`
	Duration   string `json:"duration" binding:"required"`
	OutputPath string `json:"output_path" binding:"required"`
}

// clipPath confines a caller supplied output name to the clip directory.
func (h *Handler) clipPath(name string) (string, error) {
	if err := ffmpeg.ValidateFileName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(h.cfg.ClipDir, 0o755); err != nil {
		return "", fmt.Errorf("creating clip folder: %w", err)
	}
	return filepath.Join(h.cfg.ClipDir, name), nil
}

// buildDownloadURL constructs the full URL for a file in the clip directory.
func (h *Handler) buildDownloadURL(c *gin.Context, name string) string {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return fmt.Sprintf("%s%s/clips/%s", baseURL, PathPrefix, name)
}

// writeOneShot reports a finished one-shot invocation.
func (h *Handler) writeOneShot(c *gin.Context, res *ffmpeg.Result, err error, name, msg string) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	if res.ExitCode != 0 {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     fmt.Sprintf("ffmpeg exited with code %d", res.ExitCode),
			"details":   res.Output,
			"exit_code": res.ExitCode,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      msg,
		"output":       name,
		"download_url": h.buildDownloadURL(c, name),
	})
}

func (h *Handler) handleSnapshot(c *gin.Context) {
	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.clipPath(req.OutputImage)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.Tools.Snapshot(c.Request.Context(), req.VideoURL, req.Timestamp, out)
	h.writeOneShot(c, res, err, req.OutputImage, "Snapshot captured")
}

func (h *Handler) handleRecord(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.clipPath(req.OutputPath)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.Tools.Record(c.Request.Context(), req.VideoURL, req.StartTime, req.Duration, out)
	h.writeOneShot(c, res, err, req.OutputPath, "Recording successful")
}

func (h *Handler) handleVideoInfoURL(c *gin.Context) {
	url := c.PostForm("url")
	if url == "" {
		badRequest(c, "url is required")
		return
	}
	h.videoInfo(c, url)
}

// handleVideoInfo inspects an uploaded file, which is removed afterwards.
func (h *Handler) handleVideoInfo(c *gin.Context) {
	fh, err := c.FormFile("video")
	if err != nil {
		badRequest(c, "video file is required")
		return
	}
	path, err := h.saveUpload(fh)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer os.Remove(path)

	h.videoInfo(c, path)
}

func (h *Handler) videoInfo(c *gin.Context, source string) {
	info, err := h.Tools.VideoInfo(c.Request.Context(), source)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Could not retrieve video information: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Video information retrieved", "info": info})
}

func (h *Handler) saveUpload(fh *multipart.FileHeader) (string, error) {
	if h.cfg.MaxInputSize > 0 && fh.Size > h.cfg.MaxInputSize {
		return "", fmt.Errorf("%w: input file size exceeds limit of %d bytes", task.ErrInvalidRequest, h.cfg.MaxInputSize)
	}
	if err := os.MkdirAll(h.cfg.SourceDir, 0o755); err != nil {
		return "", fmt.Errorf("creating source folder: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", task.ErrInvalidRequest, err)
	}
	defer src.Close()

	path := filepath.Join(h.cfg.SourceDir, "info_"+shortuuid.New()+filepath.Ext(filepath.Base(fh.Filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("saving upload: %w", err)
	}
	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("saving upload: %w", err)
	}
	return path, nil
}

// handleGetClip serves a snapshot or recording from the clip directory.
func (h *Handler) handleGetClip(c *gin.Context) {
	name := c.Param("filename")
	if err := ffmpeg.ValidateFileName(name); err != nil {
		badRequest(c, err.Error())
		return
	}
	path := filepath.Join(h.cfg.ClipDir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	c.File(path)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "video-pipeline"})
}

func (h *Handler) handleDebug(c *gin.Context) {
	hostname, _ := os.Hostname()
	c.JSON(http.StatusOK, gin.H{
		"status":     "running",
		"service":    "video-pipeline",
		"hostname":   hostname,
		"port":       h.cfg.Port,
		"ff_bin":     h.cfg.FFBin,
		"frame_root": h.cfg.FrameRoot,
		"tasks":      len(h.Decoder.List()),
	})
}
