package service

import (
	"context"
	"io"
	"time"

	"photorestore/internal/models"
	"photorestore/internal/prediction"
	"photorestore/internal/queue"
	"photorestore/internal/repository"
	"photorestore/internal/storage"
)

// The Postgres repositories and the in-memory stores both satisfy these.

type JobStore interface {
	Create(ctx context.Context, job models.Job) error
	CreateCharged(ctx context.Context, job models.Job) (int, error)
	GetByID(ctx context.Context, id string) (models.Job, error)
	GetByPredictionID(ctx context.Context, predictionID string) (models.Job, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Job, error)
	SetPredictionID(ctx context.Context, id string, predictionID string) error
	Transition(ctx context.Context, id string, t repository.JobTransition) (models.Job, error)
	FailExpired(ctx context.Context, now time.Time, staleBefore time.Time, message string) ([]models.Job, error)
	RefundCharge(ctx context.Context, id string, userID string, at time.Time) (models.Job, int, error)
}

type CreditStore interface {
	Get(ctx context.Context, userID string) (models.UserCredits, error)
	Deduct(ctx context.Context, userID string, amount int) (int, error)
	Add(ctx context.Context, userID string, amount int) (int, error)
	UpdateStreak(ctx context.Context, u repository.StreakUpdate) (models.UserCredits, error)
	ClaimMilestone(ctx context.Context, userID string, milestone models.Milestone) (models.UserCredits, error)
}

type ImageStore interface {
	Create(ctx context.Context, image models.SavedImage) error
	GetByID(ctx context.Context, id string) (models.SavedImage, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.SavedImage, error)
	UpdateEditedURL(ctx context.Context, id string, editedURL string) error
	Delete(ctx context.Context, id string, userID string) error
}

type BillingStore interface {
	GetCustomer(ctx context.Context, userID string) (models.StripeCustomer, error)
	SaveCustomer(ctx context.Context, customer models.StripeCustomer) error
	RecordWebhookEvent(ctx context.Context, provider string, eventID string) (bool, error)
	ForgetWebhookEvent(ctx context.Context, provider string, eventID string) error
	FulfillPurchase(ctx context.Context, purchase models.CreditPurchase, order models.StripeOrder) (bool, int, error)
	UpsertSubscription(ctx context.Context, sub models.StripeSubscription) error
	ListPurchases(ctx context.Context, userID string, limit int) ([]models.CreditPurchase, error)
}

type Predictor interface {
	Create(ctx context.Context, jobID, imageURL string) (prediction.Prediction, error)
	Cancel(ctx context.Context, predictionID string) error
}

type ObjectStorage interface {
	Put(ctx context.Context, bucket storage.Bucket, key string, r io.Reader, size int64, contentType string) (int64, error)
	Remove(ctx context.Context, bucket storage.Bucket, key string) error
	SignedURL(ctx context.Context, bucket storage.Bucket, key string, ttl time.Duration) (string, error)
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) error
}
