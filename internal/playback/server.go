// Package playback serves local clip videos with HTTP range support so the UI
// can seek without downloading the whole file.
package playback

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when the file to play does not exist.
var ErrNotFound = errors.New("file not found")

type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeFile writes the file honoring Range and conditional request headers.
// A missing file returns ErrNotFound without writing a response.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return ErrNotFound
	}

	w.Header().Set("Content-Type", ContentType(filePath))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")

	s.logger.Debug("serving file",
		"name", filepath.Base(filePath),
		"size", stat.Size(),
		"range", r.Header.Get("Range"),
	)
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
	return nil
}

// ContentType picks a media type from the file extension. Clip videos are
// always MP4, which not every platform's mime table knows.
func ContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
