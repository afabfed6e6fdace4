package platform

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/transfer"
)

const DefaultFacebookBaseURL = "https://graph.facebook.com/v18.0"

type FacebookConfig struct {
	BaseURL       string
	AccessToken   string
	RatePerMinute int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// FacebookPublisher posts to a page feed. A single media url becomes a photo
// post, several become unpublished photos attached to one feed post.
type FacebookPublisher struct {
	token  string
	graph  *graphClient
	logger *slog.Logger
}

func NewFacebookPublisher(cfg FacebookConfig) *FacebookPublisher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFacebookBaseURL
	}
	return &FacebookPublisher{
		token:  cfg.AccessToken,
		graph:  newGraphClient(models.PlatformFacebook, cfg.BaseURL, cfg.HTTPClient, cfg.RatePerMinute),
		logger: loggerOrDefault(cfg.Logger).With("component", "facebook_publisher"),
	}
}

func (f *FacebookPublisher) Platform() models.Platform {
	return models.PlatformFacebook
}

func (f *FacebookPublisher) Publish(ctx context.Context, pageID string, content Content, mediaURLs []string) (Result, error) {
	if f.token == "" {
		return simulate(f.logger, models.PlatformFacebook, pageID), nil
	}
	if pageID == "" {
		return Result{}, &APIError{Platform: models.PlatformFacebook, Message: "facebook page id is required"}
	}

	switch len(mediaURLs) {
	case 0:
		return f.publishFeed(ctx, pageID, content.Message, nil)
	case 1:
		return f.publishPhoto(ctx, pageID, content.Message, mediaURLs[0])
	default:
		attached := make([]transfer.GraphAttachedMedia, 0, len(mediaURLs))
		for _, u := range mediaURLs {
			res, err := f.graph.createID(ctx, "/"+pageID+"/photos", map[string]interface{}{
				"url":          u,
				"published":    false,
				"access_token": f.token,
			})
			if err != nil {
				return Result{}, err
			}
			attached = append(attached, transfer.GraphAttachedMedia{MediaFBID: res.ID})
		}
		return f.publishFeed(ctx, pageID, content.Message, attached)
	}
}

func (f *FacebookPublisher) publishFeed(ctx context.Context, pageID, message string, attached []transfer.GraphAttachedMedia) (Result, error) {
	payload := map[string]interface{}{
		"message":      message,
		"access_token": f.token,
	}
	if len(attached) > 0 {
		payload["attached_media"] = attached
	}

	res, err := f.graph.createID(ctx, "/"+pageID+"/feed", payload)
	if err != nil {
		return Result{}, err
	}
	f.logger.Info("published to facebook feed", "page_id", pageID, "post_id", res.ID, "media", len(attached))
	return Result{PostID: res.ID}, nil
}

func (f *FacebookPublisher) publishPhoto(ctx context.Context, pageID, caption, mediaURL string) (Result, error) {
	res, err := f.graph.createID(ctx, "/"+pageID+"/photos", map[string]interface{}{
		"url":          mediaURL,
		"caption":      caption,
		"access_token": f.token,
	})
	if err != nil {
		return Result{}, err
	}

	id := res.PostID
	if id == "" {
		id = res.ID
	}
	f.logger.Info("published photo to facebook", "page_id", pageID, "post_id", id)
	return Result{PostID: id}, nil
}
