package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/models"
	"photorestore/internal/repository"
	"photorestore/internal/storage"
)

const (
	defaultImagePage = 24
	maxImagePage     = 100
)

// ImageView is a saved image with storage keys resolved to readable URLs.
type ImageView struct {
	models.SavedImage
	OriginalSignedURL string
	EditedSignedURL   string
}

type ImageService struct {
	images ImageStore
	store  ObjectStorage
	ttl    time.Duration
	log    zerolog.Logger
}

func NewImageService(images ImageStore, store ObjectStorage, ttl time.Duration, log zerolog.Logger) *ImageService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ImageService{images: images, store: store, ttl: ttl, log: log}
}

func (s *ImageService) List(ctx context.Context, userID string, limit, offset int) ([]ImageView, error) {
	if limit <= 0 {
		limit = defaultImagePage
	}
	if limit > maxImagePage {
		limit = maxImagePage
	}
	if offset < 0 {
		offset = 0
	}
	images, err := s.images.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]ImageView, 0, len(images))
	for _, img := range images {
		views = append(views, ImageView{
			SavedImage:        img,
			OriginalSignedURL: s.resolve(ctx, storage.BucketOriginals, img.OriginalURL),
			EditedSignedURL:   s.resolve(ctx, storage.BucketRestored, img.EditedURL),
		})
	}
	return views, nil
}

// Delete removes an owned image and, best effort, its persisted result.
func (s *ImageService) Delete(ctx context.Context, userID, imageID string) error {
	img, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		return err
	}
	if img.UserID != userID {
		return repository.ErrImageNotFound
	}
	if err := s.images.Delete(ctx, imageID, userID); err != nil {
		return err
	}
	if isStorageKey(img.EditedURL) {
		if err := s.store.Remove(ctx, storage.BucketRestored, img.EditedURL); err != nil {
			s.log.Warn().Err(err).Str("image_id", imageID).Msg("remove restored object failed")
		}
	}
	return nil
}

// AttachResult points a saved image at its persisted copy.
func (s *ImageService) AttachResult(ctx context.Context, imageID, key string) error {
	if !isStorageKey(key) {
		return fmt.Errorf("%w: %q is not a storage key", ErrInvalidInput, key)
	}
	err := s.images.UpdateEditedURL(ctx, imageID, key)
	if errors.Is(err, repository.ErrImageNotFound) {
		// Deleted before persistence finished.
		return nil
	}
	return err
}

func (s *ImageService) resolve(ctx context.Context, bucket storage.Bucket, ref string) string {
	if ref == "" || !isStorageKey(ref) {
		return ref
	}
	url, err := s.store.SignedURL(ctx, bucket, ref, s.ttl)
	if err != nil {
		s.log.Warn().Err(err).Str("key", ref).Msg("sign image url failed")
		return ""
	}
	return url
}

func isStorageKey(ref string) bool {
	return ref != "" && !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://")
}
