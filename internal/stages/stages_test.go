package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/clipforge/orchestrator/internal/domain"
)

func kindOf(t *testing.T, err error) domain.ErrorKind {
	t.Helper()
	var se *domain.StageError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a StageError", err)
	}
	return se.Kind
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var se *domain.StageError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a StageError", err)
	}
	return se.Code
}

func chatReply(content string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	})
	return body
}

func TestScriptClient_Run(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(chatReply(`{"title": "The Lighthouse", "narration": "It began at midnight."}`))
	}))
	defer srv.Close()

	c := NewScriptClient(ScriptConfig{Endpoint: srv.URL, Model: "test", APIKey: "test-key"}, t.TempDir())
	p := domain.NewProject("p1", "lighthouse", "raw story text")

	artifacts, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}

	path, ok := artifacts[domain.ArtifactScript]
	if !ok {
		t.Fatal("no script artifact returned")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "It began at midnight." {
		t.Errorf("script content = %q", data)
	}
}

func TestScriptClient_FencedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply("```json\n{\"title\": \"t\", \"narration\": \"fenced\"}\n```"))
	}))
	defer srv.Close()

	c := NewScriptClient(ScriptConfig{Endpoint: srv.URL}, t.TempDir())
	artifacts, err := c.Run(context.Background(), domain.NewProject("p1", "n", "content"))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(artifacts[domain.ArtifactScript])
	if string(data) != "fenced" {
		t.Errorf("script content = %q", data)
	}
}

func TestScriptClient_StyleSetting(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.Write(chatReply(`{"title": "t", "narration": "n"}`))
	}))
	defer srv.Close()

	c := NewScriptClient(ScriptConfig{Endpoint: srv.URL}, t.TempDir())
	p := domain.NewProject("p1", "n", "content")
	p.Settings.Style = "noir"

	if _, err := c.Run(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "noir style") {
		t.Errorf("style not in prompt: %s", body)
	}
}

func TestScriptClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind domain.ErrorKind
		wantCode string
	}{
		{"server error is transient", 500, "boom", domain.ErrTransient, "llm_server_error"},
		{"rate limit is quota", 429, "slow down", domain.ErrQuotaExceeded, "quota_exceeded"},
		{"bad request is permanent", 400, "no", domain.ErrPermanent, "llm_rejected"},
		{"garbage body is permanent", 200, "<html>not json</html>", domain.ErrPermanent, "malformed_response"},
		{"no choices is permanent", 200, `{"choices": []}`, domain.ErrPermanent, "malformed_response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewScriptClient(ScriptConfig{Endpoint: srv.URL}, t.TempDir())
			_, err := c.Run(context.Background(), domain.NewProject("p1", "n", "content"))
			if err == nil {
				t.Fatal("want error")
			}
			if got := kindOf(t, err); got != tt.wantKind {
				t.Errorf("kind = %s, want %s", got, tt.wantKind)
			}
			if got := codeOf(t, err); got != tt.wantCode {
				t.Errorf("code = %s, want %s", got, tt.wantCode)
			}
		})
	}
}

func TestScriptClient_Unreachable(t *testing.T) {
	c := NewScriptClient(ScriptConfig{Endpoint: "http://127.0.0.1:1/v1/chat"}, t.TempDir())
	_, err := c.Run(context.Background(), domain.NewProject("p1", "n", "content"))
	if err == nil {
		t.Fatal("want error")
	}
	if got := kindOf(t, err); got != domain.ErrTransient {
		t.Errorf("kind = %s, want transient", got)
	}
}

func TestScriptClient_EmptyContent(t *testing.T) {
	c := NewScriptClient(ScriptConfig{Endpoint: "http://unused"}, t.TempDir())
	_, err := c.Run(context.Background(), domain.NewProject("p1", "n", "   "))
	if got := kindOf(t, err); got != domain.ErrPermanent {
		t.Errorf("kind = %s, want permanent", got)
	}
}

// assetsHarness serves images and voice from one test server, failing
// image requests whose index is listed
func assetsHarness(t *testing.T, failImages map[int]bool) (*AssetsClient, string, *atomic.Int64) {
	t.Helper()
	var imageCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/prompt/", func(w http.ResponseWriter, r *http.Request) {
		n := imageCalls.Add(1)
		if failImages[int(n)-1] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(bytes.Repeat([]byte("jpegdata"), 20))
	})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write(bytes.Repeat([]byte("mp3data"), 20))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	workDir := t.TempDir()
	c := NewAssetsClient(AssetsConfig{
		ImageEndpoint:  srv.URL,
		VoiceEndpoint:  srv.URL + "/tts",
		Voice:          "test-voice",
		ImageCount:     5,
		Parallelism:    2,
		MinSuccessRate: 0.8,
	}, workDir)
	return c, workDir, &imageCalls
}

func assetsProject(t *testing.T, workDir string) *domain.Project {
	t.Helper()
	p := domain.NewProject("p1", "teaser", "content")
	dir := filepath.Join(workDir, p.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(dir, "script.txt")
	if err := os.WriteFile(script, []byte("narration text"), 0o644); err != nil {
		t.Fatal(err)
	}
	p.Artifacts[domain.ArtifactScript] = script
	return p
}

func TestAssetsClient_Run(t *testing.T) {
	c, workDir, _ := assetsHarness(t, nil)
	p := assetsProject(t, workDir)

	artifacts, err := c.Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}

	dir := artifacts[domain.ArtifactImages]
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	images := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".jpg" {
			images++
		}
	}
	if images != 5 {
		t.Errorf("images = %d, want 5", images)
	}
	if _, err := os.Stat(artifacts[domain.ArtifactVoice]); err != nil {
		t.Errorf("voice artifact missing: %v", err)
	}
}

func TestAssetsClient_ToleratesOneFailure(t *testing.T) {
	// 4/5 meets the 0.8 threshold
	c, workDir, _ := assetsHarness(t, map[int]bool{2: true})
	p := assetsProject(t, workDir)

	if _, err := c.Run(context.Background(), p); err != nil {
		t.Fatalf("one failed image should be tolerated: %v", err)
	}
}

func TestAssetsClient_BelowThresholdIsTransient(t *testing.T) {
	c, workDir, _ := assetsHarness(t, map[int]bool{0: true, 2: true, 4: true})
	p := assetsProject(t, workDir)

	_, err := c.Run(context.Background(), p)
	if err == nil {
		t.Fatal("want error")
	}
	if got := kindOf(t, err); got != domain.ErrTransient {
		t.Errorf("kind = %s, want transient", got)
	}
	if got := codeOf(t, err); got != "assets_incomplete" {
		t.Errorf("code = %s, want assets_incomplete", got)
	}
}

func TestAssetsClient_VoiceSettingOverride(t *testing.T) {
	var gotVoice string
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("jpegdata"), 20))
	})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotVoice = req.Voice
		w.Write(bytes.Repeat([]byte("mp3data"), 20))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	workDir := t.TempDir()
	c := NewAssetsClient(AssetsConfig{
		ImageEndpoint: srv.URL,
		VoiceEndpoint: srv.URL + "/tts",
		Voice:         "default-voice",
		ImageCount:    2,
		Parallelism:   1,
	}, workDir)
	p := assetsProject(t, workDir)
	p.Settings.Voice = "en-GB-News-K"

	if _, err := c.Run(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if gotVoice != "en-GB-News-K" {
		t.Errorf("voice = %q, want the batch override", gotVoice)
	}
}

func TestAssetsClient_MissingScriptIsResource(t *testing.T) {
	c, _, _ := assetsHarness(t, nil)
	p := domain.NewProject("p1", "teaser", "content")

	_, err := c.Run(context.Background(), p)
	if got := kindOf(t, err); got != domain.ErrResource {
		t.Errorf("kind = %s, want resource", got)
	}
}

func TestRenderer_MissingFFmpegIsResource(t *testing.T) {
	workDir := t.TempDir()
	r := NewRenderer(RenderConfig{FFmpegPath: filepath.Join(workDir, "no-such-ffmpeg")}, workDir)

	p := domain.NewProject("p1", "teaser", "content")
	p.Artifacts[domain.ArtifactImages] = workDir
	p.Artifacts[domain.ArtifactVoice] = filepath.Join(workDir, "voice.mp3")

	_, err := r.Run(context.Background(), p)
	if err == nil {
		t.Fatal("want error")
	}
	if got := kindOf(t, err); got != domain.ErrResource {
		t.Errorf("kind = %s, want resource", got)
	}
	if got := codeOf(t, err); got != "ffmpeg_missing" {
		t.Errorf("code = %s, want ffmpeg_missing", got)
	}
	var se *domain.StageError
	errors.As(err, &se)
	if len(se.Solutions) == 0 {
		t.Error("ffmpeg_missing should carry solutions")
	}
}

func TestRenderer_MissingArtifactsIsResource(t *testing.T) {
	// a real binary path so LookPath succeeds before artifact checks
	workDir := t.TempDir()
	fake := filepath.Join(workDir, "ffmpeg")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := NewRenderer(RenderConfig{FFmpegPath: fake}, workDir)

	p := domain.NewProject("p1", "teaser", "content")
	_, err := r.Run(context.Background(), p)
	if got := kindOf(t, err); got != domain.ErrResource {
		t.Errorf("kind = %s, want resource", got)
	}
	if got := codeOf(t, err); got != "missing_artifact" {
		t.Errorf("code = %s, want missing_artifact", got)
	}
}

func TestThumbnailClient_Run(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("jpegdata"), 20))
	}))
	defer srv.Close()

	c := NewThumbnailClient(ThumbnailConfig{ImageEndpoint: srv.URL}, t.TempDir())
	artifacts, err := c.Run(context.Background(), domain.NewProject("p1", "teaser", "content"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(artifacts[domain.ArtifactThumbnail]); err != nil {
		t.Errorf("thumbnail artifact missing: %v", err)
	}
}

func TestThumbnailClient_RateLimitIsQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewThumbnailClient(ThumbnailConfig{ImageEndpoint: srv.URL}, t.TempDir())
	_, err := c.Run(context.Background(), domain.NewProject("p1", "teaser", "content"))
	if !domain.IsQuotaExceeded(err) {
		t.Errorf("want quota exceeded, got %v", err)
	}
}

func TestUploader_MissingVideoIsResource(t *testing.T) {
	u := NewUploader(UploadConfig{TokenFile: "token.json"})
	_, err := u.Run(context.Background(), domain.NewProject("p1", "teaser", "content"))
	if got := kindOf(t, err); got != domain.ErrResource {
		t.Errorf("kind = %s, want resource", got)
	}
}

func TestUploader_MissingCredentialsIsResource(t *testing.T) {
	t.Setenv("YOUTUBE_CLIENT_ID", "")
	t.Setenv("YOUTUBE_CLIENT_SECRET", "")

	workDir := t.TempDir()
	video := filepath.Join(workDir, "video.mp4")
	if err := os.WriteFile(video, []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}

	u := NewUploader(UploadConfig{TokenFile: filepath.Join(workDir, "token.json")})
	p := domain.NewProject("p1", "teaser", "content")
	p.Artifacts[domain.ArtifactVideo] = video

	_, err := u.Run(context.Background(), p)
	if got := codeOf(t, err); got != "youtube_credentials" {
		t.Errorf("code = %s, want youtube_credentials", got)
	}
}

func TestUploaderVisibility(t *testing.T) {
	u := NewUploader(UploadConfig{})
	p := domain.NewProject("p1", "teaser", "content")

	if got := u.visibility(p); got != "unlisted" {
		t.Errorf("visibility = %q, want unlisted default", got)
	}
	p.Settings.Visibility = "public"
	if got := u.visibility(p); got != "public" {
		t.Errorf("visibility = %q, want the batch override", got)
	}
}

func TestUploaderOAuthClient(t *testing.T) {
	t.Setenv("YOUTUBE_CLIENT_ID", "id")
	t.Setenv("YOUTUBE_CLIENT_SECRET", "secret")

	tokenFile := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(tokenFile, []byte(`{"access_token": "at", "refresh_token": "rt"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	u := NewUploader(UploadConfig{TokenFile: tokenFile})
	client, err := u.oauthClient(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if client == nil || client.Transport == nil {
		t.Fatalf("client = %+v, want an http client with an oauth transport", client)
	}
}

func TestLoadToken(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "token.json")
	os.WriteFile(good, []byte(`{"refresh_token": "r", "access_token": "a"}`), 0o600)
	if _, err := loadToken(good); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}

	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, []byte(`{}`), 0o600)
	if _, err := loadToken(empty); err == nil {
		t.Error("empty token accepted")
	}

	if _, err := loadToken(filepath.Join(dir, "absent.json")); err == nil {
		t.Error("missing token file accepted")
	}
}

func TestClassifyYouTube(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind domain.ErrorKind
	}{
		{
			"quota reason",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}},
			domain.ErrQuotaExceeded,
		},
		{
			"daily limit reason",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "dailyLimitExceeded"}}},
			domain.ErrQuotaExceeded,
		},
		{
			"plain 403 is permanent",
			&googleapi.Error{Code: 403, Message: "forbidden"},
			domain.ErrPermanent,
		},
		{
			"server error is transient",
			&googleapi.Error{Code: 503},
			domain.ErrTransient,
		},
		{
			"wrapped api error",
			fmt.Errorf("upload: %w", &googleapi.Error{Code: 500}),
			domain.ErrTransient,
		},
		{
			"network error is transient",
			errors.New("connection reset"),
			domain.ErrTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := classifyYouTube(tt.err)
			if se.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", se.Kind, tt.wantKind)
			}
		})
	}
}

func TestDefinitions_CoverPipeline(t *testing.T) {
	defs := Definitions(Config{WorkDir: t.TempDir()})
	if len(defs) != 5 {
		t.Fatalf("defs = %d, want 5", len(defs))
	}
	if defs[0].Working != domain.StageScriptGenerating || defs[4].Done != domain.StageCompleted {
		t.Error("definitions do not span the pipeline")
	}
	for _, d := range defs {
		if d.Run == nil {
			t.Errorf("stage %s has no collaborator", d.Working)
		}
		if d.MaxAttempts <= 0 {
			t.Errorf("stage %s has no retry budget", d.Working)
		}
	}
	// render has no quota gate, uploads are expensive
	if defs[2].QuotaService != "" {
		t.Error("render should not be quota gated")
	}
	if defs[4].QuotaCost != uploadCost {
		t.Errorf("upload cost = %d, want %d", defs[4].QuotaCost, uploadCost)
	}
}
