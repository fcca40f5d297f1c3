package tasks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photorestore/internal/queue"
	"photorestore/internal/storage"
)

type stubSweeper struct {
	cleaned int
	err     error
	calls   int
}

func (s *stubSweeper) Sweep(context.Context) (int, error) {
	s.calls++
	return s.cleaned, s.err
}

type stubCanceller struct{ ids []string }

func (c *stubCanceller) CancelUpstream(_ context.Context, id string) { c.ids = append(c.ids, id) }

type stubAttacher struct{ attached map[string]string }

func (a *stubAttacher) AttachResult(_ context.Context, imageID, key string) error {
	a.attached[imageID] = key
	return nil
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStorage) Put(_ context.Context, bucket storage.Bucket, key string, r io.Reader, _ int64, _ string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[string(bucket)+"/"+key] = data
	return int64(len(data)), nil
}

func (m *memStorage) Remove(context.Context, storage.Bucket, string) error { return nil }

func (m *memStorage) SignedURL(context.Context, storage.Bucket, string, time.Duration) (string, error) {
	return "", nil
}

func newProcessor(sweeper *stubSweeper, canceller *stubCanceller, attacher *stubAttacher, store *memStorage) *Processor {
	return NewProcessor(Deps{
		Sweeper:   sweeper,
		Canceller: canceller,
		Results:   attacher,
		Storage:   store,
	}, zerolog.New(io.Discard))
}

func TestProcessorSweepAndCancel(t *testing.T) {
	sweeper := &stubSweeper{cleaned: 2}
	canceller := &stubCanceller{}
	p := newProcessor(sweeper, canceller, &stubAttacher{}, &memStorage{})

	require.NoError(t, p.Handle(context.Background(), queue.Task{Type: queue.TaskSweep}))
	require.NoError(t, p.Handle(context.Background(), queue.Task{Type: queue.TaskCancelPrediction, PredictionID: "pred-1"}))

	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, []string{"pred-1"}, canceller.ids)

	sweeper.err = errors.New("db down")
	assert.Error(t, p.Handle(context.Background(), queue.Task{Type: queue.TaskSweep}))
}

func TestProcessorPersistsResult(t *testing.T) {
	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, bytes.Repeat([]byte{1}, 64)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	store := &memStorage{objects: map[string][]byte{}}
	attacher := &stubAttacher{attached: map[string]string{}}
	p := newProcessor(&stubSweeper{}, &stubCanceller{}, attacher, store)

	err := p.Handle(context.Background(), queue.Task{
		Type:      queue.TaskPersistResult,
		JobID:     "job-1",
		UserID:    "user-1",
		ImageID:   "img-1",
		SourceURL: srv.URL + "/out.png",
	})
	require.NoError(t, err)

	assert.Equal(t, "user-1/img-1.png", attacher.attached["img-1"])
	assert.Equal(t, png, store.objects["restored/user-1/img-1.png"])
}

func TestProcessorPersistFailsOnBadUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	p := newProcessor(&stubSweeper{}, &stubCanceller{}, &stubAttacher{attached: map[string]string{}}, &memStorage{objects: map[string][]byte{}})
	err := p.Handle(context.Background(), queue.Task{
		Type:      queue.TaskPersistResult,
		UserID:    "user-1",
		ImageID:   "img-1",
		SourceURL: srv.URL,
	})
	assert.Error(t, err)
}
