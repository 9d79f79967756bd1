// Package gemini talks to the Gemini API: file upload, readiness polling and
// prompt-based timestamp resolution under a strict output contract.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/forPelevin/clipseek/internal/timecode"
	"github.com/forPelevin/clipseek/internal/types"
)

const (
	defaultModel        = "gemini-2.0-flash"
	defaultPollInterval = 10 * time.Second
	defaultMaxPolls     = 60
	requestTimeout      = 2 * time.Minute
)

type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	PollInterval time.Duration
	// MaxPolls bounds the readiness polling loop; exceeding it fails with
	// types.ErrTimeout instead of blocking forever.
	MaxPolls int
	Logger   zerolog.Logger

	// Sleep is the wait between readiness polls. Tests inject a no-op.
	Sleep func(ctx context.Context, d time.Duration) error

	HTTPClient *http.Client
}

type Adapter struct {
	key          string
	model        string
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	sleep        func(ctx context.Context, d time.Duration) error
	client       *http.Client
	log          zerolog.Logger
}

func New(cfg Config) *Adapter {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Adapter{
		key:          cfg.APIKey,
		model:        cfg.Model,
		baseURL:      normalizeBaseURL(cfg.BaseURL),
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		sleep:        cfg.Sleep,
		client:       cfg.HTTPClient,
		log:          cfg.Logger.With().Str("component", "gemini").Logger(),
	}
}

// Locate uploads the video, waits for the remote side to finish processing it
// and asks the model for the time range matching the query. The returned range
// is raw model output; the caller validates it against the probed duration.
func (a *Adapter) Locate(ctx context.Context, req types.LocateRequest) (types.LocateResult, error) {
	fi, err := a.uploadAndWait(ctx, req.VideoPath)
	if err != nil {
		return types.LocateResult{}, err
	}

	parts := []part{{FileData: &fileData{MimeType: fi.MimeType, FileURI: fi.URI}}}
	if req.ImagePath != "" {
		img, err := inlineImage(req.ImagePath)
		if err != nil {
			return types.LocateResult{}, err
		}
		parts = append(parts, part{InlineData: img})
	}
	parts = append(parts, part{Text: locatePrompt(req.Query, req.Duration)})

	text, err := a.generate(ctx, parts)
	if err != nil {
		return types.LocateResult{}, err
	}
	a.log.Debug().Str("response", truncate(text, 200)).Msg("timestamp response")
	return parseTimestampResponse(text)
}

// Chat uploads the video and answers a free-form message with an open-ended
// persona prompt instead of the strict timestamp contract.
func (a *Adapter) Chat(ctx context.Context, videoPath, message string) (string, error) {
	fi, err := a.uploadAndWait(ctx, videoPath)
	if err != nil {
		return "", err
	}
	parts := []part{
		{FileData: &fileData{MimeType: fi.MimeType, FileURI: fi.URI}},
		{Text: chatPrompt(message)},
	}
	return a.generate(ctx, parts)
}

func (a *Adapter) uploadAndWait(ctx context.Context, path string) (fileInfo, error) {
	fi, err := a.uploadFile(ctx, path)
	if err != nil {
		return fileInfo{}, err
	}
	return a.waitActive(ctx, fi)
}

type fileInfo struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
}

// uploadFile pushes the asset through the resumable upload protocol: a start
// request that yields an upload URL, then a single upload+finalize request.
func (a *Adapter) uploadFile(ctx context.Context, path string) (fileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return fileInfo{}, fmt.Errorf("stat upload: %w", err)
	}
	mime := detectMime(path)

	meta, err := json.Marshal(map[string]any{
		"file": map[string]any{"display_name": filepath.Base(path)},
	})
	if err != nil {
		return fileInfo{}, err
	}

	startURL := a.baseURL + "/upload/v1beta/files?key=" + a.key
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, bytes.NewReader(meta))
	if err != nil {
		return fileInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.FormatInt(st.Size(), 10))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mime)

	resp, err := a.client.Do(req)
	if err != nil {
		return fileInfo{}, fmt.Errorf("%w: start upload: %v", types.ErrRemoteProcessing, err)
	}
	defer resp.Body.Close()
	if err := a.checkStatus(resp, "start upload"); err != nil {
		return fileInfo{}, err
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return fileInfo{}, fmt.Errorf("%w: upload start returned no upload URL", types.ErrRemoteProcessing)
	}

	f, err := os.Open(path)
	if err != nil {
		return fileInfo{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	up, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return fileInfo{}, err
	}
	up.ContentLength = st.Size()
	up.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	up.Header.Set("X-Goog-Upload-Offset", "0")

	upResp, err := a.client.Do(up)
	if err != nil {
		return fileInfo{}, fmt.Errorf("%w: upload bytes: %v", types.ErrRemoteProcessing, err)
	}
	defer upResp.Body.Close()
	if err := a.checkStatus(upResp, "upload bytes"); err != nil {
		return fileInfo{}, err
	}

	var out struct {
		File fileInfo `json:"file"`
	}
	if err := json.NewDecoder(upResp.Body).Decode(&out); err != nil {
		return fileInfo{}, fmt.Errorf("%w: decode upload response: %v", types.ErrRemoteProcessing, err)
	}
	a.log.Debug().Str("file", out.File.Name).Str("state", out.File.State).Msg("uploaded")
	return out.File, nil
}

func (a *Adapter) getFile(ctx context.Context, name string) (fileInfo, error) {
	url := a.baseURL + "/v1beta/" + name + "?key=" + a.key
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fileInfo{}, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fileInfo{}, fmt.Errorf("%w: get file: %v", types.ErrRemoteProcessing, err)
	}
	defer resp.Body.Close()
	if err := a.checkStatus(resp, "get file"); err != nil {
		return fileInfo{}, err
	}
	var fi fileInfo
	if err := json.NewDecoder(resp.Body).Decode(&fi); err != nil {
		return fileInfo{}, fmt.Errorf("%w: decode file state: %v", types.ErrRemoteProcessing, err)
	}
	return fi, nil
}

// waitActive polls the handle until it leaves PROCESSING, bounded by MaxPolls.
func (a *Adapter) waitActive(ctx context.Context, fi fileInfo) (fileInfo, error) {
	for attempt := 0; fi.State == "PROCESSING"; attempt++ {
		if attempt >= a.maxPolls {
			return fileInfo{}, fmt.Errorf("%w: still processing after %d polls", types.ErrTimeout, a.maxPolls)
		}
		a.log.Debug().Int("attempt", attempt+1).Msg("waiting for remote processing")
		if err := a.sleep(ctx, a.pollInterval); err != nil {
			return fileInfo{}, err
		}
		var err error
		fi, err = a.getFile(ctx, fi.Name)
		if err != nil {
			return fileInfo{}, err
		}
	}
	if fi.State == "FAILED" {
		return fileInfo{}, fmt.Errorf("%w: file %s settled in FAILED state", types.ErrRemoteProcessing, fi.Name)
	}
	return fi, nil
}

type part struct {
	Text       string    `json:"text,omitempty"`
	FileData   *fileData `json:"file_data,omitempty"`
	InlineData *blob     `json:"inline_data,omitempty"`
}

type fileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type blob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

func (a *Adapter) generate(ctx context.Context, parts []part) (string, error) {
	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": parts},
		},
		"generationConfig": map[string]any{
			"temperature": 0.4,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	url := a.baseURL + "/v1beta/models/" + a.model + ":generateContent?key=" + a.key

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: generate request after %s (model=%s)", types.ErrTimeout, requestTimeout, a.model)
		}
		return "", fmt.Errorf("%w: generate: %v", types.ErrRemoteProcessing, err)
	}
	defer resp.Body.Close()
	if err := a.checkStatus(resp, "generate"); err != nil {
		return "", err
	}

	var raw struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("%w: decode generate response: %v", types.ErrMalformedResponse, err)
	}
	if len(raw.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", types.ErrMalformedResponse)
	}
	var b strings.Builder
	for _, p := range raw.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty content", types.ErrMalformedResponse)
	}
	return text, nil
}

func (a *Adapter) checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	rb, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("%w: %s status %d and read body failed: %v", types.ErrRemoteProcessing, op, resp.StatusCode, readErr)
	}
	return fmt.Errorf("%w: %s status %d: %s",
		types.ErrRemoteProcessing, op, resp.StatusCode, truncate(redactSecrets(string(rb), a.key), 400))
}

// parseTimestampResponse applies the output contract: exactly one
// "TIMESTAMP - TIMESTAMP" pair, with "NONE - NONE" and "00:00:00 - 00:00:00"
// both accepted as the no-match sentinel.
func parseTimestampResponse(s string) (types.LocateResult, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.LocateResult{}, fmt.Errorf("%w: empty response", types.ErrMalformedResponse)
	}
	if strings.Contains(s, "NONE - NONE") || s == "00:00:00 - 00:00:00" {
		return types.LocateResult{Found: false}, nil
	}
	fields := strings.Split(s, "-")
	if len(fields) != 2 {
		return types.LocateResult{}, fmt.Errorf("%w: expected one \"-\" separated pair, got %q", types.ErrMalformedResponse, truncate(s, 100))
	}
	start, err := timecode.Parse(timecode.Normalize(fields[0]))
	if err != nil {
		return types.LocateResult{}, fmt.Errorf("%w: start: %v", types.ErrMalformedResponse, err)
	}
	end, err := timecode.Parse(timecode.Normalize(fields[1]))
	if err != nil {
		return types.LocateResult{}, fmt.Errorf("%w: end: %v", types.ErrMalformedResponse, err)
	}
	return types.LocateResult{Found: true, Start: start, End: end}, nil
}

func locatePrompt(query string, duration float64) string {
	return "You are a precise video analysis assistant.\n\n" +
		"You will be given a video file and possibly an image.\n" +
		"You also receive a user query about the content in the video.\n" +
		"Your task is to analyze the video and identify the exact start and end timestamps " +
		"in the format HH:MM:SS - HH:MM:SS where the requested action, person, or object appears.\n\n" +
		"Only output two timestamps in the format HH:MM:SS - HH:MM:SS (24-hour format).\n" +
		"Do NOT provide any additional text, explanation, or description.\n" +
		"Do NOT guess. Only provide timestamps if you are confident they exist within the video's actual duration.\n" +
		"Make sure the timestamps are within the real length of the video and that the start is less than the end.\n" +
		"If the query is about identifying a person or object in the image, match it against the video.\n" +
		"If the requested action, person, or object does not appear in the video, return exactly: NONE - NONE\n\n" +
		"User Query: " + query +
		fmt.Sprintf("\nVideo duration: %.2f seconds (%s)", duration, timecode.Format(duration))
}

func chatPrompt(message string) string {
	return "You are the video itself. You have been uploaded as a video file and can see " +
		"and understand everything that happens in the video.\n\n" +
		"The user is chatting with you as if you ARE the video. Respond to their questions " +
		"and comments as if you are the video speaking to them.\n\n" +
		"User message: " + message + "\n\n" +
		"Respond naturally as if you are the video having a conversation with the user. " +
		"Be engaging, informative, and conversational."
}

func inlineImage(path string) (*blob, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &blob{
		MimeType: detectMime(path),
		Data:     base64.StdEncoding.EncodeToString(b),
	}, nil
}

func detectMime(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	keyParamRE    = regexp.MustCompile(`(?i)\bkey=[A-Za-z0-9._-]+`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;&]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = keyParamRE.ReplaceAllString(out, "key=[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
