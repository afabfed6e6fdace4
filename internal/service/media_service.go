package service

import (
	"context"
	"fmt"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postscheduler/internal/apperr"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var allowedMediaTypes = map[string]struct{}{
	"mp4": {}, "mov": {}, "jpg": {}, "png": {}, "webp": {},
}

type MediaUpload struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// MediaService uploads post media so its public URL can be attached to a scheduled post.
type MediaService interface {
	Upload(ctx context.Context, data []byte) (*MediaUpload, error)
}

type mediaService struct {
	storage ObjectStorage
}

func NewMediaService(storage ObjectStorage) MediaService {
	return &mediaService{storage: storage}
}

func (s *mediaService) Upload(ctx context.Context, data []byte) (*MediaUpload, error) {
	if len(data) == 0 {
		return nil, apperr.New(apperr.InvalidRequest, "empty file")
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return nil, apperr.New(apperr.InvalidRequest, "unsupported file type")
	}
	if _, ok := allowedMediaTypes[kind.Extension]; !ok {
		return nil, apperr.New(apperr.InvalidRequest, "file type %s is not allowed", kind.Extension)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to generate media key")
	}
	key := fmt.Sprintf("%s.%s", id, kind.Extension)

	if err := s.storage.Upload(ctx, key, data, kind.MIME.Value); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to store media")
	}

	return &MediaUpload{
		Key:      key,
		URL:      s.storage.PublicURL(key),
		MIMEType: kind.MIME.Value,
		Size:     len(data),
	}, nil
}
