//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// FakeServices stands in for every HTTP collaborator the pipeline talks
// to: the chat-completions script endpoint, the image generator and the
// TTS endpoint, all served from one httptest server.
type FakeServices struct {
	*httptest.Server
}

func NewFakeServices(t *testing.T) *FakeServices {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{
					"content": `{"title": "Test Video", "narration": "A short test narration."}`,
				}},
			},
		})
		w.Write(body)
	})
	mux.HandleFunc("/prompt/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(fakeBytes(2048))
	})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Write(fakeBytes(1024))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &FakeServices{Server: srv}
}

func fakeBytes(n int) []byte {
	return []byte(strings.Repeat("x", n))
}

// FakeFFmpeg writes a shell script that mimics ffmpeg by creating its
// output file (the last argument) and returns its path.
func FakeFFmpeg(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor a; do out=$a; done\necho fake-video > \"$out\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}
