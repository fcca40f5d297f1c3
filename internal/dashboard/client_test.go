package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photorestore/internal/events"
	"photorestore/internal/security"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	token, err := security.IssueAccessToken("secret", "user-1", "u@example.com", time.Minute)
	require.NoError(t, err)
	c, err := NewClient(srv.URL, token, srv.Client())
	require.NoError(t, err)
	return c
}

func TestClientReadsSubject(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	assert.Equal(t, "user-1", c.UserID())

	_, err := NewClient("http://x", "not-a-token", nil)
	assert.Error(t, err)
}

func TestClientListJobs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/restorations", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		_, _ = w.Write([]byte(`{"jobs":[{"id":"j1","status":"processing","created_at":"2024-01-01T00:00:00Z"}]}`))
	})

	jobs, err := c.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].ID)
	assert.True(t, HasActiveJobs(jobs))
}

func TestClientMapsErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/credits/refund":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"Job is not refundable"}`))
		case "/api/v1/restorations":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "user-1", body["user_id"])
			if body["image_path"] == "user-1/broke.jpg" {
				w.WriteHeader(http.StatusPaymentRequired)
				_, _ = w.Write([]byte(`{"error":"Insufficient credits"}`))
				return
			}
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"Failed to start restoration","job_id":"j9"}`))
		}
	})

	_, err := c.StartRestoration(context.Background(), "user-1/broke.jpg")
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	_, err = c.StartRestoration(context.Background(), "user-1/a.jpg")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "j9", apiErr.JobID)
	assert.NotErrorIs(t, err, ErrInsufficientCredits)

	_, err = c.RefundCredits(context.Background(), "j9")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Job is not refundable", apiErr.Message)
}

func TestClientStartReturnsBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"job_id":"j1","prediction_id":"p1","status":"processing","credits":4}`))
	})

	res, err := c.StartRestoration(context.Background(), "user-1/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "j1", res.JobID)
	assert.Equal(t, 4, res.Credits)
}

func TestReadEvents(t *testing.T) {
	stream := "event:ping\ndata:{}\n\n" +
		"event:job\ndata:{\"type\":\"job.completed\",\"job_id\":\"j1\",\"status\":\"completed\"}\n\n" +
		"event: job\ndata: {\"type\":\"job.started\",\"job_id\":\"j2\"}\n\n"

	var got []events.JobEvent
	require.NoError(t, readEvents(strings.NewReader(stream), func(ev events.JobEvent) {
		got = append(got, ev)
	}))
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeJobCompleted, got[0].Type)
	assert.Equal(t, "j2", got[1].JobID)
}
