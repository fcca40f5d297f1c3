package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/media/sniffer"
	"photorestore/internal/metrics"
	"photorestore/internal/queue"
	"photorestore/internal/service"
	"photorestore/internal/storage"
)

const maxResultBytes = 50 << 20

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type UpstreamCanceller interface {
	CancelUpstream(ctx context.Context, predictionID string)
}

type ResultAttacher interface {
	AttachResult(ctx context.Context, imageID, key string) error
}

type Deps struct {
	Sweeper   Sweeper
	Canceller UpstreamCanceller
	Results   ResultAttacher
	Storage   service.ObjectStorage
	HTTP      *http.Client
}

// Processor executes queued lifecycle side effects for the worker.
type Processor struct {
	deps   Deps
	logger zerolog.Logger
}

func NewProcessor(deps Deps, logger zerolog.Logger) *Processor {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	return &Processor{deps: deps, logger: logger}
}

func (p *Processor) Handle(ctx context.Context, task queue.Task) error {
	var err error
	switch task.Type {
	case queue.TaskSweep:
		err = p.handleSweep(ctx)
	case queue.TaskCancelPrediction:
		p.deps.Canceller.CancelUpstream(ctx, task.PredictionID)
	case queue.TaskPersistResult:
		err = p.handlePersist(ctx, task)
	default:
		p.logger.Warn().Str("type", string(task.Type)).Msg("unknown task type")
	}
	metrics.RecordTask(string(task.Type), err)
	return err
}

func (p *Processor) handleSweep(ctx context.Context) error {
	cleaned, err := p.deps.Sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	p.logger.Info().Int("cleaned", cleaned).Msg("sweep finished")
	return nil
}

// handlePersist copies an upstream result into the restored bucket; upstream
// output URLs are short-lived.
func (p *Processor) handlePersist(ctx context.Context, task queue.Task) error {
	data, err := p.download(ctx, task.SourceURL)
	if err != nil {
		return fmt.Errorf("download result: %w", err)
	}

	format, err := sniffer.DetectHead(data)
	if err != nil {
		return fmt.Errorf("result for image %s: %w", task.ImageID, err)
	}

	key := service.ObjectKey(task.UserID, task.ImageID, format.Extension())
	if _, err := p.deps.Storage.Put(ctx, storage.BucketRestored, key, bytes.NewReader(data), int64(len(data)), format.MIME); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	if err := p.deps.Results.AttachResult(ctx, task.ImageID, key); err != nil {
		return fmt.Errorf("attach result: %w", err)
	}

	p.logger.Info().
		Str("job_id", task.JobID).
		Str("image_id", task.ImageID).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("restored image persisted")
	return nil
}

var errResultTooLarge = errors.New("result exceeds size limit")

func (p *Processor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.deps.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxResultBytes {
		return nil, errResultTooLarge
	}
	return data, nil
}
