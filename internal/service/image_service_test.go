package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photorestore/internal/models"
	"photorestore/internal/repository"
	"photorestore/internal/repository/memory"
	"photorestore/internal/storage"
)

func TestImageListSignsStorageKeys(t *testing.T) {
	images := memory.NewImages()
	store := newFakeStorage()
	svc := NewImageService(images, store, time.Hour, zerolog.New(io.Discard))

	require.NoError(t, images.Create(context.Background(), models.SavedImage{
		ID:          "img-1",
		UserID:      "user-1",
		OriginalURL: "user-1/scan.jpg",
		EditedURL:   "https://upstream.test/out.png",
		CreatedAt:   time.Now(),
	}))

	views, err := svc.List(context.Background(), "user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, strings.HasPrefix(views[0].OriginalSignedURL, "https://storage.test/originals/user-1/scan.jpg"))
	assert.Equal(t, "https://upstream.test/out.png", views[0].EditedSignedURL)

	require.NoError(t, svc.AttachResult(context.Background(), "img-1", "user-1/img-1.png"))
	views, err = svc.List(context.Background(), "user-1", 0, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(views[0].EditedSignedURL, "https://storage.test/restored/user-1/img-1.png"))
}

func TestImageDeleteChecksOwnership(t *testing.T) {
	images := memory.NewImages()
	store := newFakeStorage()
	svc := NewImageService(images, store, time.Hour, zerolog.New(io.Discard))
	ctx := context.Background()

	_, err := store.Put(ctx, storage.BucketRestored, "user-1/img-1.png", strings.NewReader("x"), 1, "image/png")
	require.NoError(t, err)
	require.NoError(t, images.Create(ctx, models.SavedImage{ID: "img-1", UserID: "user-1", EditedURL: "user-1/img-1.png"}))

	assert.ErrorIs(t, svc.Delete(ctx, "user-2", "img-1"), repository.ErrImageNotFound)
	require.NoError(t, svc.Delete(ctx, "user-1", "img-1"))

	_, ok := store.object(storage.BucketRestored, "user-1/img-1.png")
	assert.False(t, ok)
	assert.ErrorIs(t, svc.Delete(ctx, "user-1", "img-1"), repository.ErrImageNotFound)
}

func TestAttachResultIgnoresDeletedImage(t *testing.T) {
	svc := NewImageService(memory.NewImages(), newFakeStorage(), 0, zerolog.New(io.Discard))
	assert.NoError(t, svc.AttachResult(context.Background(), "gone", "user-1/gone.png"))
	assert.ErrorIs(t, svc.AttachResult(context.Background(), "gone", "https://x/y.png"), ErrInvalidInput)
}
