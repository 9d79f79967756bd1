package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/clipseek/internal/config"
	"github.com/forPelevin/clipseek/internal/storage"
	"github.com/forPelevin/clipseek/internal/types"
	"github.com/forPelevin/clipseek/internal/usecase"
)

type fakeProcessor struct {
	res types.ClipResult
	err error

	chatReply string
	chatErr   error

	lastInput       usecase.Input
	videoExistedRun bool
}

func (f *fakeProcessor) Run(_ context.Context, in usecase.Input) (types.ClipResult, error) {
	f.lastInput = in
	_, statErr := os.Stat(in.VideoPath)
	f.videoExistedRun = statErr == nil
	if f.err != nil {
		return types.ClipResult{}, f.err
	}
	res := f.res
	if res.Found {
		if err := os.WriteFile(in.OutputPath, []byte("clip"), 0o644); err != nil {
			return types.ClipResult{}, err
		}
		res.ClipPath = in.OutputPath
	}
	return res, nil
}

func (f *fakeProcessor) Chat(_ context.Context, _, _ string) (string, error) {
	return f.chatReply, f.chatErr
}

func newTestHandler(t *testing.T, proc *fakeProcessor) (*Handler, *storage.Staging) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tmp := t.TempDir()
	staging, err := storage.New(filepath.Join(tmp, "uploads"), filepath.Join(tmp, "outputs"), zerolog.Nop())
	require.NoError(t, err)
	cfg := &config.Config{ServiceName: "clipseek-test", MaxUploadBytes: 1 << 20}
	return New(cfg, proc, staging, zerolog.Nop()), staging
}

func newRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.POST("/api/process-video", h.ProcessVideo)
	r.POST("/api/chat", h.Chat)
	r.POST("/api/cleanup-temp", h.CleanupTemp)
	r.GET("/outputs/:filename", h.Download)
	return r
}

func multipartBody(t *testing.T, files map[string][2]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, nameAndContent := range files {
		fw, err := w.CreateFormFile(field, nameAndContent[0])
		require.NoError(t, err)
		_, err = fw.Write([]byte(nameAndContent[1]))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func doProcess(t *testing.T, r *gin.Engine, files map[string][2]string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/process-video", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestProcessVideo_MissingVideo(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProcessor{})
	rec := doProcess(t, newRouter(h), nil, map[string]string{"query": "the goal"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "No video file provided")
}

func TestProcessVideo_EmptyQuery(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProcessor{})
	rec := doProcess(t, newRouter(h),
		map[string][2]string{"video": {"in.mp4", "vid"}},
		map[string]string{"query": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Query is required")
}

func TestProcessVideo_BadVideoExtension(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProcessor{})
	rec := doProcess(t, newRouter(h),
		map[string][2]string{"video": {"in.exe", "vid"}},
		map[string]string{"query": "q"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid video file format")
}

func TestProcessVideo_BadImageExtension(t *testing.T) {
	h, _ := newTestHandler(t, &fakeProcessor{})
	rec := doProcess(t, newRouter(h),
		map[string][2]string{
			"video": {"in.mp4", "vid"},
			"image": {"ref.svg", "img"},
		},
		map[string]string{"query": "q"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid image file format")
}

func TestProcessVideo_Found(t *testing.T) {
	proc := &fakeProcessor{res: types.ClipResult{Found: true, Start: 10, End: 20}}
	h, _ := newTestHandler(t, proc)
	rec := doProcess(t, newRouter(h),
		map[string][2]string{"video": {"in.mp4", "vid"}},
		map[string]string{"query": "the goal"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Found       bool    `json:"found"`
		StartTime   float64 `json:"start_time"`
		EndTime     float64 `json:"end_time"`
		DownloadURL string  `json:"download_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Found)
	require.Equal(t, 10.0, resp.StartTime)
	require.Equal(t, 20.0, resp.EndTime)
	require.Contains(t, resp.DownloadURL, "/outputs/")
	require.Contains(t, resp.DownloadURL, "_in_trimmed.mp4")

	// Staged upload existed while the pipeline ran and is gone afterwards.
	require.True(t, proc.videoExistedRun)
	_, err := os.Stat(proc.lastInput.VideoPath)
	require.True(t, os.IsNotExist(err))
	// The clip artifact is retained.
	_, err = os.Stat(proc.lastInput.OutputPath)
	require.NoError(t, err)
}

func TestProcessVideo_NotFound(t *testing.T) {
	proc := &fakeProcessor{res: types.ClipResult{Found: false}}
	h, _ := newTestHandler(t, proc)
	rec := doProcess(t, newRouter(h),
		map[string][2]string{"video": {"in.mp4", "vid"}},
		map[string]string{"query": "a unicorn"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Found   bool   `json:"found"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Found)
	require.NotEmpty(t, resp.Message)
}

func TestProcessVideo_PipelineErrorIsOpaque(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("ffmpeg stderr: frame 1234 corrupt")}
	h, _ := newTestHandler(t, proc)
	rec := doProcess(t, newRouter(h),
		map[string][2]string{"video": {"in.mp4", "vid"}},
		map[string]string{"query": "q"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), genericProcessingError)
	require.NotContains(t, rec.Body.String(), "ffmpeg")

	// Staged upload is cleaned up on the failure path too.
	_, err := os.Stat(proc.lastInput.VideoPath)
	require.True(t, os.IsNotExist(err))
}

func TestChat(t *testing.T) {
	proc := &fakeProcessor{chatReply: "I show a beach."}
	h, _ := newTestHandler(t, proc)
	body, contentType := multipartBody(t,
		map[string][2]string{"video": {"in.mp4", "vid"}},
		map[string]string{"message": "what do you show?"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Response  string `json:"response"`
		Timestamp int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "I show a beach.", resp.Response)
	require.NotZero(t, resp.Timestamp)
}

func TestDownload(t *testing.T) {
	h, staging := newTestHandler(t, &fakeProcessor{})
	r := newRouter(h)

	clip := staging.OutputPath("abc_clip_trimmed.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("clip-bytes"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/outputs/abc_clip_trimmed.mp4", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	require.Equal(t, "clip-bytes", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/outputs/missing.mp4", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupTemp(t *testing.T) {
	h, staging := newTestHandler(t, &fakeProcessor{})
	r := newRouter(h)

	cleanup := func(path string) *httptest.ResponseRecorder {
		body, err := json.Marshal(map[string]string{"temp_video_path": path})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/cleanup-temp", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	// Inside the uploads dir: removed.
	staged := filepath.Join(staging.UploadDir(), "abc_video.mp4")
	require.NoError(t, os.WriteFile(staged, []byte("x"), 0o644))
	rec := cleanup(staged)
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err := os.Stat(staged)
	require.True(t, os.IsNotExist(err))

	// Outside the uploads dir: kept, still 204.
	outside := filepath.Join(t.TempDir(), "outside.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	rec = cleanup(outside)
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err = os.Stat(outside)
	require.NoError(t, err)

	// Repeating the same cleanup is idempotent.
	rec = cleanup(staged)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
