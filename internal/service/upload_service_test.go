package service

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photorestore/internal/config"
	"photorestore/internal/storage"
)

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func fileInput(userID, contentType string, data []byte) UploadInput {
	header := textproto.MIMEHeader{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return UploadInput{
		UserID: userID,
		File:   memFile{bytes.NewReader(data)},
		Header: &multipart.FileHeader{Filename: "scan", Header: header, Size: int64(len(data))},
	}
}

var _ multipart.File = memFile{}

func pngBytes(size int) []byte {
	data := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return append(data, bytes.Repeat([]byte{7}, size)...)
}

func newUploadService(store *fakeStorage, max int64) *UploadService {
	return NewUploadService(store, config.StorageConfig{MaxUploadBytes: max}, zerolog.New(io.Discard))
}

func TestUploadStoresUnderUserFolder(t *testing.T) {
	store := newFakeStorage()
	svc := newUploadService(store, 1<<20)
	data := pngBytes(2000)

	res, err := svc.Upload(context.Background(), fileInput("user-1", "image/png", data))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Path, "user-1/"))
	assert.True(t, strings.HasSuffix(res.Path, ".png"))
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Contains(t, res.SignedURL, res.Path)

	obj, ok := store.object(storage.BucketOriginals, res.Path)
	require.True(t, ok)
	assert.Equal(t, data, obj.data)
	assert.Equal(t, "image/png", obj.contentType)
}

func TestUploadRejectsNonImagesAndMismatch(t *testing.T) {
	svc := newUploadService(newFakeStorage(), 1<<20)

	_, err := svc.Upload(context.Background(), fileInput("user-1", "image/svg+xml", []byte("<svg></svg>")))
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = svc.Upload(context.Background(), fileInput("user-1", "image/jpeg", pngBytes(10)))
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestUploadEnforcesSizeLimit(t *testing.T) {
	svc := newUploadService(newFakeStorage(), 1024)

	in := fileInput("user-1", "", pngBytes(4096))
	_, err := svc.Upload(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidInput)

	// A client that understates Size is still caught while reading.
	in = fileInput("user-1", "", pngBytes(4096))
	in.Header.Size = 10
	_, err = svc.Upload(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSignedURLRequiresOwnership(t *testing.T) {
	svc := newUploadService(newFakeStorage(), 0)

	url, ttl, err := svc.SignedURL(context.Background(), "user-1", "user-1/a.jpg")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.Positive(t, ttl)

	_, _, err = svc.SignedURL(context.Background(), "user-1", "user-2/a.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}
