// Package storage manages the shared temp-upload and temp-output directories.
// Concurrent requests never collide because every staged file is namespaced by
// a per-request generated identifier.
package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

var allowedVideoExts = map[string]struct{}{
	".mp4": {}, ".avi": {}, ".mov": {}, ".mkv": {}, ".webm": {},
}

var allowedImageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {},
}

// AllowedVideo reports whether the filename carries an accepted video extension.
func AllowedVideo(name string) bool {
	_, ok := allowedVideoExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// AllowedImage reports whether the filename carries an accepted image extension.
func AllowedImage(name string) bool {
	_, ok := allowedImageExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

type Staging struct {
	uploadDir string
	outputDir string
	log       zerolog.Logger
}

func New(uploadDir, outputDir string, log zerolog.Logger) (*Staging, error) {
	s := &Staging{
		uploadDir: uploadDir,
		outputDir: outputDir,
		log:       log.With().Str("component", "storage").Logger(),
	}
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	s.log.Info().Str("uploads", uploadDir).Str("outputs", outputDir).Msg("staging directories ready")
	return s, nil
}

func (s *Staging) ensureDirs() error {
	for _, dir := range []string{s.uploadDir, s.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create staging dir %s: %w", dir, err)
		}
	}
	return nil
}

// SaveUpload stages a multipart upload under the uploads dir as
// "<id>_<sanitized original name>" and returns the staged path.
func (s *Staging) SaveUpload(fh *multipart.FileHeader, id string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst := filepath.Join(s.uploadDir, id+"_"+SanitizeFilename(fh.Filename))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, src)
	if err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("write staged file: %w", err)
	}

	if mt, err := mimetype.DetectFile(dst); err == nil {
		s.log.Debug().Str("file", dst).Int64("bytes", written).Str("mime", mt.String()).Msg("upload staged")
	}
	return dst, nil
}

// ClipFilename builds the output name "<id>_<basename>_trimmed.mp4".
func (s *Staging) ClipFilename(id, originalName string) string {
	base := SanitizeFilename(originalName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "clip"
	}
	return fmt.Sprintf("%s_%s_trimmed.mp4", id, base)
}

// OutputPath resolves a bare output filename inside the outputs dir.
func (s *Staging) OutputPath(filename string) string {
	return filepath.Join(s.outputDir, filepath.Base(filename))
}

// UploadDir returns the uploads staging directory.
func (s *Staging) UploadDir() string { return s.uploadDir }

// InUploads reports whether path points inside the uploads dir. Used to guard
// the caller-supplied path of the cleanup endpoint.
func (s *Staging) InUploads(path string) bool {
	absDir, err := filepath.Abs(s.uploadDir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Remove deletes a staged file. Missing files are not an error.
func (s *Staging) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("file", path).Msg("could not remove staged file")
	}
}

// Wipe removes and recreates both staging directories. Called at process
// shutdown; best-effort, concurrent requests are already drained by then.
func (s *Staging) Wipe() {
	s.log.Info().Msg("wiping staging directories")
	for _, dir := range []string{s.uploadDir, s.outputDir} {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn().Err(err).Str("dir", dir).Msg("wipe failed")
		}
	}
	if err := s.ensureDirs(); err != nil {
		s.log.Warn().Err(err).Msg("recreate staging dirs failed")
	}
}

// SanitizeFilename strips path components and characters that are unsafe in a
// filename, keeping the extension.
func SanitizeFilename(name string) string {
	name = filepath.Base(filepath.ToSlash(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "upload"
	}
	return out
}
