package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/transfer"
)

const (
	DefaultInstagramBaseURL    = "https://graph.instagram.com/v21.0"
	DefaultInstagramRefreshURL = "https://graph.instagram.com/refresh_access_token"

	defaultContainerPollInterval = 5 * time.Second
)

type InstagramConfig struct {
	BaseURL       string
	RefreshURL    string
	AccessToken   string
	RatePerMinute int
	// PollInterval is the wait between container status checks for video media.
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// InstagramPublisher uses the two step container + media_publish flow.
type InstagramPublisher struct {
	mu         sync.RWMutex
	token      string
	expiresAt  time.Time
	refreshURL string
	poll       time.Duration
	graph      *graphClient
	logger     *slog.Logger
}

func NewInstagramPublisher(cfg InstagramConfig) *InstagramPublisher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultInstagramBaseURL
	}
	if cfg.RefreshURL == "" {
		cfg.RefreshURL = DefaultInstagramRefreshURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultContainerPollInterval
	}
	return &InstagramPublisher{
		token:      cfg.AccessToken,
		refreshURL: cfg.RefreshURL,
		poll:       cfg.PollInterval,
		graph:      newGraphClient(models.PlatformInstagram, cfg.BaseURL, cfg.HTTPClient, cfg.RatePerMinute),
		logger:     loggerOrDefault(cfg.Logger).With("component", "instagram_publisher"),
	}
}

func (ig *InstagramPublisher) Platform() models.Platform {
	return models.PlatformInstagram
}

func (ig *InstagramPublisher) accessToken() string {
	ig.mu.RLock()
	defer ig.mu.RUnlock()
	return ig.token
}

func (ig *InstagramPublisher) Publish(ctx context.Context, pageID string, content Content, mediaURLs []string) (Result, error) {
	token := ig.accessToken()
	if token == "" {
		return simulate(ig.logger, models.PlatformInstagram, pageID), nil
	}
	if pageID == "" {
		return Result{}, &APIError{Platform: models.PlatformInstagram, Message: "instagram account id is required"}
	}
	if len(mediaURLs) == 0 {
		return Result{}, &APIError{Platform: models.PlatformInstagram, Message: "instagram requires at least one media url"}
	}

	var (
		containerID string
		err         error
	)
	if len(mediaURLs) == 1 {
		containerID, err = ig.createContainer(ctx, pageID, token, mediaURLs[0], content.Message, false)
	} else {
		containerID, err = ig.createCarousel(ctx, pageID, token, mediaURLs, content.Message)
	}
	if err != nil {
		return Result{}, err
	}

	if hasVideo(mediaURLs) {
		if err := ig.waitForContainer(ctx, containerID, token); err != nil {
			return Result{}, err
		}
	}

	res, err := ig.graph.createID(ctx, "/"+pageID+"/media_publish", map[string]interface{}{
		"creation_id":  containerID,
		"access_token": token,
	})
	if err != nil {
		return Result{}, err
	}

	ig.logger.Info("published to instagram", "account_id", pageID, "post_id", res.ID, "media", len(mediaURLs))
	return Result{PostID: res.ID}, nil
}

func (ig *InstagramPublisher) createContainer(ctx context.Context, accountID, token, mediaURL, caption string, carouselItem bool) (string, error) {
	payload := map[string]interface{}{
		"access_token": token,
	}
	if isVideo(mediaURL) {
		payload["video_url"] = mediaURL
		if carouselItem {
			payload["media_type"] = "VIDEO"
		} else {
			payload["media_type"] = "REELS"
		}
	} else {
		payload["image_url"] = mediaURL
	}
	if carouselItem {
		payload["is_carousel_item"] = true
	} else {
		payload["caption"] = caption
	}

	res, err := ig.graph.createID(ctx, "/"+accountID+"/media", payload)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (ig *InstagramPublisher) createCarousel(ctx context.Context, accountID, token string, mediaURLs []string, caption string) (string, error) {
	children := make([]string, 0, len(mediaURLs))
	for _, u := range mediaURLs {
		id, err := ig.createContainer(ctx, accountID, token, u, "", true)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	res, err := ig.graph.createID(ctx, "/"+accountID+"/media", map[string]interface{}{
		"media_type":   "CAROUSEL",
		"caption":      caption,
		"children":     children,
		"access_token": token,
	})
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

// waitForContainer polls the container until Instagram has finished
// processing its video. ctx bounds the wait.
func (ig *InstagramPublisher) waitForContainer(ctx context.Context, containerID, token string) error {
	q := url.Values{}
	q.Set("fields", "status_code")
	q.Set("access_token", token)
	statusURL := ig.graph.baseURL + "/" + containerID + "?" + q.Encode()

	ticker := time.NewTicker(ig.poll)
	defer ticker.Stop()

	for {
		var res transfer.InstagramContainerStatus
		if err := ig.graph.get(ctx, statusURL, &res); err != nil {
			return err
		}

		switch res.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			return &APIError{
				Platform: models.PlatformInstagram,
				Message:  fmt.Sprintf("instagram container %s status %s", containerID, res.StatusCode),
			}
		}

		ig.logger.Debug("waiting for instagram container", "container_id", containerID, "status", res.StatusCode)
		select {
		case <-ctx.Done():
			return &APIError{Platform: models.PlatformInstagram, Message: "instagram container not ready: " + ctx.Err().Error(), Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// RefreshToken exchanges the current long-lived token for a fresh one.
func (ig *InstagramPublisher) RefreshToken(ctx context.Context) error {
	token := ig.accessToken()
	if token == "" {
		return nil
	}

	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", token)

	var res transfer.InstagramRefreshResponse
	if err := ig.graph.get(ctx, ig.refreshURL+"?"+q.Encode(), &res); err != nil {
		return fmt.Errorf("refresh instagram token: %w", err)
	}
	if res.AccessToken == "" {
		return fmt.Errorf("refresh instagram token: empty access token")
	}

	ig.mu.Lock()
	ig.token = res.AccessToken
	ig.expiresAt = time.Now().Add(time.Duration(res.ExpiresIn) * time.Second)
	ig.mu.Unlock()

	ig.logger.Info("instagram token refreshed", "expires_in", res.ExpiresIn)
	return nil
}

func (ig *InstagramPublisher) TokenExpiresAt() time.Time {
	ig.mu.RLock()
	defer ig.mu.RUnlock()
	return ig.expiresAt
}

func hasVideo(mediaURLs []string) bool {
	for _, u := range mediaURLs {
		if isVideo(u) {
			return true
		}
	}
	return false
}

func isVideo(mediaURL string) bool {
	u, err := url.Parse(mediaURL)
	p := mediaURL
	if err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".mp4", ".mov", ".m4v", ".webm":
		return true
	}
	return false
}
