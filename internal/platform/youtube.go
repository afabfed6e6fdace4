package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maheshrc27/postscheduler/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type YouTubeConfig struct {
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	RatePerMinute int
	// Endpoint overrides the API base path.
	Endpoint string
	// HTTPClient, when set, is used for API calls instead of an oauth2 client.
	HTTPClient *http.Client
	// MediaClient downloads the video before upload. Defaults to http.DefaultClient.
	MediaClient *http.Client
	Logger      *slog.Logger
}

// YouTubePublisher uploads the first media url of a post as a video.
type YouTubePublisher struct {
	cfg         YouTubeConfig
	tokenSource oauth2.TokenSource
	limiter     *rate.Limiter
	logger      *slog.Logger
}

func NewYouTubePublisher(cfg YouTubeConfig) *YouTubePublisher {
	if cfg.MediaClient == nil {
		cfg.MediaClient = http.DefaultClient
	}
	p := &YouTubePublisher{
		cfg:     cfg,
		limiter: newLimiter(cfg.RatePerMinute),
		logger:  loggerOrDefault(cfg.Logger).With("component", "youtube_publisher"),
	}

	if cfg.HTTPClient == nil && cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.RefreshToken != "" {
		conf := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{youtube.YoutubeUploadScope},
			Endpoint:     google.Endpoint,
		}
		p.tokenSource = conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})
	}
	return p
}

func (y *YouTubePublisher) Platform() models.Platform {
	return models.PlatformYouTube
}

func (y *YouTubePublisher) configured() bool {
	return y.cfg.HTTPClient != nil || y.tokenSource != nil
}

func (y *YouTubePublisher) Publish(ctx context.Context, pageID string, content Content, mediaURLs []string) (Result, error) {
	if !y.configured() {
		return simulate(y.logger, models.PlatformYouTube, pageID), nil
	}
	if len(mediaURLs) == 0 {
		return Result{}, &APIError{Platform: models.PlatformYouTube, Message: "youtube requires a video url"}
	}
	if err := y.limiter.Wait(ctx); err != nil {
		return Result{}, &APIError{Platform: models.PlatformYouTube, Message: err.Error(), Err: err}
	}

	service, err := y.service(ctx)
	if err != nil {
		return Result{}, &APIError{Platform: models.PlatformYouTube, Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURLs[0], nil)
	if err != nil {
		return Result{}, &APIError{Platform: models.PlatformYouTube, Message: err.Error(), Err: err}
	}
	media, err := y.cfg.MediaClient.Do(req)
	if err != nil {
		return Result{}, &APIError{Platform: models.PlatformYouTube, Message: "error downloading video: " + err.Error(), Err: err}
	}
	defer media.Body.Close()
	if media.StatusCode != http.StatusOK {
		return Result{}, &APIError{Platform: models.PlatformYouTube, StatusCode: media.StatusCode,
			Message: fmt.Sprintf("unexpected status downloading video: %d", media.StatusCode)}
	}

	title := content.Title
	if title == "" {
		title = truncate(content.Message, 100)
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: content.Message,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	uploaded, err := service.Videos.Insert([]string{"snippet", "status"}, video).Media(media.Body).Context(ctx).Do()
	if err != nil {
		return Result{}, &APIError{Platform: models.PlatformYouTube, Message: err.Error(), Err: err}
	}

	y.logger.Info("video uploaded to youtube", "channel", pageID, "post_id", uploaded.Id)
	return Result{PostID: uploaded.Id}, nil
}

func (y *YouTubePublisher) service(ctx context.Context) (*youtube.Service, error) {
	client := y.cfg.HTTPClient
	if client == nil {
		client = oauth2.NewClient(ctx, y.tokenSource)
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if y.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(y.cfg.Endpoint))
	}
	return youtube.NewService(ctx, opts...)
}

// RefreshToken asks the token source for a valid access token, refreshing it when expired.
func (y *YouTubePublisher) RefreshToken(ctx context.Context) error {
	if y.tokenSource == nil {
		return nil
	}
	if _, err := y.tokenSource.Token(); err != nil {
		return fmt.Errorf("refresh youtube token: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
