package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/clipforge/orchestrator/internal/domain"
)

// Uploader publishes the rendered video to YouTube via the Data API.
// Client credentials come from the environment; the user token is read
// from a JSON file on disk.
type Uploader struct {
	cfg UploadConfig
}

func NewUploader(cfg UploadConfig) *Uploader {
	if cfg.Visibility == "" {
		cfg.Visibility = "unlisted"
	}
	if cfg.CategoryID == "" {
		cfg.CategoryID = "22" // People & Blogs
	}
	return &Uploader{cfg: cfg}
}

// Run uploads the video and sets its thumbnail
func (u *Uploader) Run(ctx context.Context, p *domain.Project) (map[domain.ArtifactKind]string, error) {
	videoPath, ok := p.Artifacts[domain.ArtifactVideo]
	if !ok {
		return nil, domain.Resource("missing_artifact", "no video artifact to upload", nil)
	}

	client, err := u.oauthClient(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, domain.Transient("youtube_service", "creating youtube service", err)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:      p.Name,
			CategoryId: u.cfg.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: u.visibility(p),
		},
	}

	f, err := os.Open(videoPath)
	if err != nil {
		return nil, domain.Resource("missing_artifact", "opening video file", err)
	}
	defer f.Close()

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)

	uploaded, err := call.Do()
	if err != nil {
		return nil, classifyYouTube(err)
	}

	if thumb, ok := p.Artifacts[domain.ArtifactThumbnail]; ok {
		if err := u.setThumbnail(svc, uploaded.Id, thumb); err != nil {
			// the video is up, a missing custom thumbnail is not worth
			// failing the stage over
			log.Printf("project %s thumbnail upload failed: %v", p.ID, err)
		}
	}

	videoURL := fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id)
	log.Printf("project %s uploaded: %s", p.ID, videoURL)
	return map[domain.ArtifactKind]string{domain.ArtifactUpload: videoURL}, nil
}

// visibility prefers the batch-level setting over the configured default
func (u *Uploader) visibility(p *domain.Project) string {
	if p.Settings.Visibility != "" {
		return p.Settings.Visibility
	}
	return u.cfg.Visibility
}

func (u *Uploader) setThumbnail(svc *youtube.Service, videoID, thumbPath string) error {
	f, err := os.Open(thumbPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = svc.Thumbnails.Set(videoID).Media(f).Do()
	return err
}

func (u *Uploader) oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		se := domain.Resource("youtube_credentials",
			"YOUTUBE_CLIENT_ID or YOUTUBE_CLIENT_SECRET not set", nil)
		se.Solutions = []string{"export the YouTube OAuth client credentials in the environment"}
		return nil, se
	}

	token, err := loadToken(u.cfg.TokenFile)
	if err != nil {
		se := domain.Resource("youtube_token",
			fmt.Sprintf("reading token file %s", u.cfg.TokenFile), err)
		se.Solutions = []string{"run the OAuth consent flow once and save the token file"}
		return nil, se
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token)), nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	if token.RefreshToken == "" && token.AccessToken == "" {
		return nil, fmt.Errorf("token file has no usable token")
	}
	return &token, nil
}

// classifyYouTube maps Data API errors onto the retry taxonomy
func classifyYouTube(err error) *domain.StageError {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == 403 && hasReason(ge, "quotaExceeded", "dailyLimitExceeded"):
			return domain.QuotaExceeded(ServiceYouTube)
		case ge.Code == 429:
			return domain.QuotaExceeded(ServiceYouTube)
		case ge.Code >= 500:
			return domain.Transient("youtube_server_error",
				fmt.Sprintf("youtube returned HTTP %d", ge.Code), err)
		default:
			return domain.Permanent("youtube_rejected",
				fmt.Sprintf("youtube returned HTTP %d: %s", ge.Code, ge.Message), err)
		}
	}
	return domain.Transient("youtube_upload", "youtube upload failed", err)
}

func hasReason(ge *googleapi.Error, reasons ...string) bool {
	for _, item := range ge.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}
