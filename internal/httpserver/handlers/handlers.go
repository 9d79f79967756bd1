// Package handlers exposes the processing, chat, download and cleanup
// endpoints.
package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/clipseek/internal/config"
	"github.com/forPelevin/clipseek/internal/metrics"
	"github.com/forPelevin/clipseek/internal/storage"
	"github.com/forPelevin/clipseek/internal/types"
	"github.com/forPelevin/clipseek/internal/usecase"
)

// Processor runs the clip pipeline. Satisfied by usecase.Usecase; tests
// substitute a fake.
type Processor interface {
	Run(ctx context.Context, in usecase.Input) (types.ClipResult, error)
	Chat(ctx context.Context, videoPath, message string) (string, error)
}

const genericProcessingError = "An internal error occurred during processing."

type Handler struct {
	cfg     *config.Config
	proc    Processor
	staging *storage.Staging
	log     zerolog.Logger
}

func New(cfg *config.Config, proc Processor, staging *storage.Staging, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		proc:    proc,
		staging: staging,
		log:     log.With().Str("component", "handlers").Logger(),
	}
}

type processResponse struct {
	Found       bool    `json:"found"`
	StartTime   float64 `json:"start_time,omitempty"`
	EndTime     float64 `json:"end_time,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// ProcessVideo handles POST /api/process-video: multipart video (+ optional
// reference image) and a query, answered with a time range and a download URL
// for the trimmed clip.
func (h *Handler) ProcessVideo(c *gin.Context) {
	started := time.Now()

	video, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}
	query := strings.TrimSpace(c.PostForm("query"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query is required"})
		return
	}
	if !storage.AllowedVideo(video.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video file format"})
		return
	}

	var image *multipart.FileHeader
	if fh, err := c.FormFile("image"); err == nil && fh.Filename != "" {
		if !storage.AllowedImage(fh.Filename) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image file format"})
			return
		}
		image = fh
	}

	id := uuid.NewString()
	videoPath, err := h.staging.SaveUpload(video, id)
	if err != nil {
		h.log.Error().Err(err).Msg("stage video failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		return
	}
	defer h.staging.Remove(videoPath)
	metrics.RecordUpload(video.Size)

	imagePath := ""
	if image != nil {
		imagePath, err = h.staging.SaveUpload(image, id)
		if err != nil {
			h.log.Error().Err(err).Msg("stage image failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
			return
		}
		defer h.staging.Remove(imagePath)
		metrics.RecordUpload(image.Size)
	}

	outName := h.staging.ClipFilename(id, video.Filename)
	res, err := h.proc.Run(c.Request.Context(), usecase.Input{
		VideoPath:  videoPath,
		ImagePath:  imagePath,
		Query:      query,
		OutputPath: h.staging.OutputPath(outName),
	})
	elapsed := time.Since(started).Seconds()
	if err != nil {
		outcome := "failed"
		if errors.Is(err, types.ErrRangeInvalid) {
			outcome = "range_invalid"
		}
		metrics.RecordOutcome(outcome, elapsed)
		h.log.Error().Err(err).Str("id", id).Str("query", query).Msg("processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericProcessingError})
		return
	}

	if !res.Found {
		metrics.RecordOutcome("not_found", elapsed)
		c.JSON(http.StatusOK, processResponse{
			Found:   false,
			Message: "Could not find the requested segment in the video.",
		})
		return
	}

	metrics.RecordOutcome("done", elapsed)
	h.log.Info().Str("id", id).Float64("start", res.Start).Float64("end", res.End).Msg("clip ready")
	c.JSON(http.StatusOK, processResponse{
		Found:       true,
		StartTime:   res.Start,
		EndTime:     res.End,
		DownloadURL: "/outputs/" + outName,
	})
}

type chatResponse struct {
	Response  string `json:"response"`
	Timestamp int64  `json:"timestamp"`
}

// Chat handles POST /api/chat: free-form conversation with the uploaded video.
func (h *Handler) Chat(c *gin.Context) {
	video, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}
	message := strings.TrimSpace(c.PostForm("message"))
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No message provided"})
		return
	}
	if !storage.AllowedVideo(video.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video file format"})
		return
	}

	videoPath, err := h.staging.SaveUpload(video, uuid.NewString())
	if err != nil {
		h.log.Error().Err(err).Msg("stage chat video failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		return
	}
	defer h.staging.Remove(videoPath)

	reply, err := h.proc.Chat(c.Request.Context(), videoPath, message)
	if err != nil {
		metrics.RecordChat("failed")
		h.log.Error().Err(err).Msg("chat failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericProcessingError})
		return
	}

	metrics.RecordChat("ok")
	c.JSON(http.StatusOK, chatResponse{
		Response:  reply,
		Timestamp: time.Now().Unix(),
	})
}

// Download handles GET /outputs/:filename, streaming a finished clip as an
// attachment.
func (h *Handler) Download(c *gin.Context) {
	filename := c.Param("filename")
	if filename == "" || filename != storage.SanitizeFilename(filename) {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	path := h.staging.OutputPath(filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	c.FileAttachment(path, filename)
}

type cleanupRequest struct {
	TempVideoPath string `json:"temp_video_path"`
}

// CleanupTemp handles POST /api/cleanup-temp: best-effort removal of a staged
// upload, e.g. when the client tab closes. Always succeeds from the caller's
// perspective; paths outside the staging dir are ignored.
func (h *Handler) CleanupTemp(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.TempVideoPath != "" {
		if h.staging.InUploads(req.TempVideoPath) {
			h.staging.Remove(req.TempVideoPath)
		} else {
			h.log.Warn().Str("path", req.TempVideoPath).Msg("cleanup request outside staging dir ignored")
		}
	}
	c.Status(http.StatusNoContent)
}
