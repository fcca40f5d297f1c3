package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/config"
	"photorestore/internal/ids"
	"photorestore/internal/media/sniffer"
	"photorestore/internal/storage"
)

type UploadInput struct {
	UserID string
	File   multipart.File
	Header *multipart.FileHeader
}

type UploadResult struct {
	Path      string `json:"path"`
	MIME      string `json:"mime"`
	Size      int64  `json:"size"`
	SignedURL string `json:"signed_url"`
}

type UploadService struct {
	store ObjectStorage
	cfg   config.StorageConfig
	log   zerolog.Logger
}

func NewUploadService(store ObjectStorage, cfg config.StorageConfig, log zerolog.Logger) *UploadService {
	return &UploadService{
		store: store,
		cfg:   cfg,
		log:   log,
	}
}

// Upload stores a photo in the originals bucket under the user's folder. The
// format is sniffed from content and must agree with any declared type.
func (s *UploadService) Upload(ctx context.Context, input UploadInput) (UploadResult, error) {
	if input.UserID == "" || input.File == nil || input.Header == nil {
		return UploadResult{}, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	if s.cfg.MaxUploadBytes > 0 && input.Header.Size > s.cfg.MaxUploadBytes {
		return UploadResult{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, s.cfg.MaxUploadBytes)
	}

	result, head, err := sniffer.Detect(input.File)
	if errors.Is(err, sniffer.ErrUnsupported) {
		return UploadResult{}, ErrUnsupportedMedia
	}
	if err != nil {
		return UploadResult{}, fmt.Errorf("read head: %w", err)
	}

	declared := sniffer.DeclaredMIME(input.Header.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" && declared != result.MIME {
		return UploadResult{}, fmt.Errorf("%w: declared %s, content is %s", ErrUnsupportedMedia, declared, result.MIME)
	}

	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	rest, err := io.ReadAll(io.LimitReader(input.File, limit-int64(len(head))+1))
	if err != nil {
		return UploadResult{}, fmt.Errorf("read file: %w", err)
	}
	data := append(head, rest...)
	if int64(len(data)) > limit {
		return UploadResult{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, limit)
	}

	key := ObjectKey(input.UserID, ids.Sortable(), result.Extension())
	size, err := s.store.Put(ctx, storage.BucketOriginals, key, bytes.NewReader(data), int64(len(data)), result.MIME)
	if err != nil {
		return UploadResult{}, fmt.Errorf("put object: %w", err)
	}

	signed, err := s.store.SignedURL(ctx, storage.BucketOriginals, key, s.ttl())
	if err != nil {
		return UploadResult{}, fmt.Errorf("sign url: %w", err)
	}

	s.log.Info().
		Str("user_id", input.UserID).
		Str("path", key).
		Str("mime", result.MIME).
		Int64("size", size).
		Msg("photo uploaded")

	return UploadResult{
		Path:      key,
		MIME:      result.MIME,
		Size:      size,
		SignedURL: signed,
	}, nil
}

// SignedURL returns a time-limited read URL for an object in the user's folder.
func (s *UploadService) SignedURL(ctx context.Context, userID, key string) (string, time.Duration, error) {
	if key == "" {
		return "", 0, fmt.Errorf("%w: path is required", ErrInvalidInput)
	}
	if !OwnsObject(userID, key) {
		return "", 0, ErrNotFound
	}
	ttl := s.ttl()
	url, err := s.store.SignedURL(ctx, storage.BucketOriginals, key, ttl)
	if err != nil {
		return "", 0, fmt.Errorf("sign url: %w", err)
	}
	return url, ttl, nil
}

func (s *UploadService) ttl() time.Duration {
	if s.cfg.SignedURLTTL > 0 {
		return s.cfg.SignedURLTTL
	}
	return time.Hour
}

// ObjectKey places objects under "<user_id>/<name>.<ext>".
func ObjectKey(userID, name, ext string) string {
	return path.Join(userID, fmt.Sprintf("%s.%s", name, ext))
}
