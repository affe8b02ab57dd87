package playback

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testServer() *Server {
	return NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeVideo(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path
}

func TestServeFile_Ranges(t *testing.T) {
	path := writeVideo(t, 1000)

	tests := []struct {
		name         string
		header       string
		wantStatus   int
		wantLength   int
		wantRange    string
		wantFirstOff int
	}{
		{"no range", "", http.StatusOK, 1000, "", 0},
		{"full range", "bytes=0-999", http.StatusPartialContent, 1000, "bytes 0-999/1000", 0},
		{"open ended", "bytes=500-", http.StatusPartialContent, 500, "bytes 500-999/1000", 500},
		{"suffix", "bytes=-100", http.StatusPartialContent, 100, "bytes 900-999/1000", 900},
		{"middle", "bytes=100-199", http.StatusPartialContent, 100, "bytes 100-199/1000", 100},
		{"clamped end", "bytes=990-5000", http.StatusPartialContent, 10, "bytes 990-999/1000", 990},
		{"unsatisfiable", "bytes=1000-", http.StatusRequestedRangeNotSatisfiable, -1, "bytes */1000", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/video", nil)
			if tt.header != "" {
				req.Header.Set("Range", tt.header)
			}

			if err := testServer().ServeFile(rr, req, path); err != nil {
				t.Fatalf("ServeFile() error = %v", err)
			}
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Content-Range"); got != tt.wantRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.wantRange)
			}
			if tt.wantLength < 0 {
				return
			}
			body := rr.Body.Bytes()
			if len(body) != tt.wantLength {
				t.Fatalf("body length = %d, want %d", len(body), tt.wantLength)
			}
			if body[0] != byte(tt.wantFirstOff%251) {
				t.Errorf("first byte = %d, want offset %d", body[0], tt.wantFirstOff)
			}
		})
	}
}

func TestServeFile_Headers(t *testing.T) {
	path := writeVideo(t, 10)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/video", nil)

	if err := testServer().ServeFile(rr, req, path); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", got)
	}
	if got := rr.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q, want bytes", got)
	}
}

func TestServeFile_Missing(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/video", nil)

	err := testServer().ServeFile(rr, req, filepath.Join(t.TempDir(), "gone.mp4"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.mp4":  "video/mp4",
		"a.MP4":  "video/mp4",
		"a.jpg":  "image/jpeg",
		"a.json": "application/json",
		"a":      "application/octet-stream",
	}
	for path, want := range tests {
		if got := ContentType(path); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", path, got, want)
		}
	}
}
