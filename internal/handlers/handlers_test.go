package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photorestore/internal/config"
	"photorestore/internal/ids"
	"photorestore/internal/models"
	"photorestore/internal/prediction"
	"photorestore/internal/repository/memory"
	"photorestore/internal/security"
	"photorestore/internal/service"
	"photorestore/internal/storage"
)

const testJWTSecret = "test-jwt-secret"

type stubPredictor struct {
	n    int
	fail bool
}

func (p *stubPredictor) Create(context.Context, string, string) (prediction.Prediction, error) {
	if p.fail {
		return prediction.Prediction{}, errors.New("upstream down")
	}
	p.n++
	return prediction.Prediction{ID: fmt.Sprintf("pred-%d", p.n), Status: prediction.StatusStarting}, nil
}

func (p *stubPredictor) Cancel(context.Context, string) error { return nil }

type stubStorage struct{}

func (stubStorage) Put(_ context.Context, _ storage.Bucket, _ string, r io.Reader, _ int64, _ string) (int64, error) {
	return io.Copy(io.Discard, r)
}

func (stubStorage) Remove(context.Context, storage.Bucket, string) error { return nil }

func (stubStorage) SignedURL(_ context.Context, b storage.Bucket, key string, _ time.Duration) (string, error) {
	return "https://storage.test/" + string(b) + "/" + key, nil
}

type apiFixture struct {
	router    *gin.Engine
	jobs      *memory.Jobs
	credits   *memory.Credits
	predictor *stubPredictor
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{
		Environment: "test",
		Supabase:    config.SupabaseConfig{JWTSecret: testJWTSecret},
		Jobs:        config.JobsConfig{Timeout: 10 * time.Minute, StalenessWindow: 15 * time.Minute, RestorationCost: 1},
		RateLimit:   config.RateLimitConfig{RequestsPerMinute: 600, Burst: 100},
	}
	log := zerolog.New(io.Discard)

	credits := memory.NewCredits(time.Now)
	jobs := memory.NewJobs(credits)
	images := memory.NewImages()
	predictor := &stubPredictor{}
	creditSvc := service.NewCreditService(credits, log)

	h := NewHandlerSet(log, cfg, Services{
		Jobs: service.NewJobService(service.JobServiceDeps{
			Jobs:      jobs,
			Images:    images,
			Storage:   stubStorage{},
			Predictor: predictor,
		}, cfg.Jobs, log),
		Credits: creditSvc,
		Uploads: service.NewUploadService(stubStorage{}, cfg.Storage, log),
		Images:  service.NewImageService(images, stubStorage{}, time.Hour, log),
		Checks: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		},
	})

	r := gin.New()
	h.Register(r.Group("/api"))
	return &apiFixture{router: r, jobs: jobs, credits: credits, predictor: predictor}
}

func (f *apiFixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := security.IssueAccessToken(testJWTSecret, userID, userID+"@example.com", time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStartRestoration(t *testing.T) {
	f := newAPIFixture(t)
	f.credits.Seed("user-1", 3)

	rec := f.do(t, http.MethodPost, "/api/v1/restorations", "user-1", gin.H{"user_id": "user-1", "image_path": "user-1/a.jpg"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "pred-1", body["prediction_id"])
	assert.Equal(t, 2.0, body["credits"])
	assert.True(t, ids.Valid(body["job_id"].(string)))
}

func TestStartRestorationWithoutCredits(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/restorations", "user-1", gin.H{"image_path": "user-1/a.jpg"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, 0, f.predictor.n)

	rec = f.do(t, http.MethodGet, "/api/v1/restorations", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "user-1/a.jpg")
}

func TestStartRestorationFailureIsRefundable(t *testing.T) {
	f := newAPIFixture(t)
	f.credits.Seed("user-1", 1)
	f.predictor.fail = true

	rec := f.do(t, http.MethodPost, "/api/v1/restorations", "user-1", gin.H{"image_path": "user-1/a.jpg"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Failed to start restoration", body["error"])
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	rec = f.do(t, http.MethodPost, "/api/v1/credits/refund", "user-1", gin.H{"job_id": jobID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["credits"])
}

func TestStartRestorationForOtherUserIsNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/restorations", "user-1", gin.H{"user_id": "user-2", "image_path": "user-2/a.jpg"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/restorations", "user-1", gin.H{"image_path": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user_id and image_path are required", decode(t, rec)["error"])
}

func TestRequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/restorations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCancelCompletedJobRejected(t *testing.T) {
	f := newAPIFixture(t)
	url := "https://x/y.png"
	job := models.Job{ID: ids.New(), UserID: "user-1", Status: models.JobStatusCompleted, ResultURL: &url, CreatedAt: time.Now()}
	require.NoError(t, f.jobs.Create(context.Background(), job))

	rec := f.do(t, http.MethodPost, "/api/v1/restorations/cancel", "user-1", gin.H{"job_id": job.ID, "user_id": "user-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Job cannot be cancelled", decode(t, rec)["error"])
}

func TestCancelThenRefund(t *testing.T) {
	f := newAPIFixture(t)
	f.credits.Seed("user-1", 1)

	rec := f.do(t, http.MethodPost, "/api/v1/restorations", "user-1", gin.H{"image_path": "user-1/a.jpg"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	jobID := decode(t, rec)["job_id"].(string)

	rec = f.do(t, http.MethodPost, "/api/v1/restorations/cancel", "user-1", gin.H{"job_id": jobID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	rec = f.do(t, http.MethodPost, "/api/v1/credits/refund", "user-1", gin.H{"job_id": jobID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["credits"])

	rec = f.do(t, http.MethodPost, "/api/v1/credits/refund", "user-1", gin.H{"job_id": jobID})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefundOfUnchargedJobRejected(t *testing.T) {
	f := newAPIFixture(t)
	f.credits.Seed("user-1", 0)
	job := models.Job{ID: ids.New(), UserID: "user-1", Status: models.JobStatusProcessing, CreatedAt: time.Now()}
	require.NoError(t, f.jobs.Create(context.Background(), job))

	rec := f.do(t, http.MethodPost, "/api/v1/restorations/cancel", "user-1", gin.H{"job_id": job.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/credits/refund", "user-1", gin.H{"job_id": job.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/credits", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode(t, rec)["credits"])
}

func TestDeductInsufficientCredits(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/credits/deduct", "user-1", gin.H{"amount": 1})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "Insufficient credits", decode(t, rec)["error"])

	rec = f.do(t, http.MethodGet, "/api/v1/credits", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 0.0, body["credits"])
	assert.Len(t, body["milestones"], 4)
}

func TestPredictionWebhook(t *testing.T) {
	f := newAPIFixture(t)
	job := models.Job{ID: ids.New(), UserID: "user-1", Status: models.JobStatusProcessing, PredictionID: "pred-x", CreatedAt: time.Now()}
	require.NoError(t, f.jobs.Create(context.Background(), job))

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks/prediction", "", gin.H{"id": "abc", "status": "succeeded", "output": "https://x/y.png"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/webhooks/prediction", "", gin.H{"id": "pred-x", "status": "succeeded", "output": []string{"https://x/y.png"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/api/v1/restorations/"+job.ID, "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://x/y.png", decode(t, rec)["result_url"])

	rec = f.do(t, http.MethodGet, "/api/v1/restorations/"+job.ID, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictionWebhookBeforePredictionIDStored(t *testing.T) {
	f := newAPIFixture(t)
	job := models.Job{ID: ids.New(), UserID: "user-1", Status: models.JobStatusProcessing, CreatedAt: time.Now()}
	require.NoError(t, f.jobs.Create(context.Background(), job))

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks/prediction?job_id="+job.ID, "", gin.H{"id": "pred-early", "status": "succeeded", "output": "https://x/early.png"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode(t, rec)["status"])

	stored, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "pred-early", stored.PredictionID)
}

func TestClaimMilestoneRejectsBadDay(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/credits/milestones/abc/claim", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/credits/milestones/3/claim", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckoutWithoutPayments(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/checkout", "user-1", gin.H{"price_id": "p", "mode": "payment"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}
