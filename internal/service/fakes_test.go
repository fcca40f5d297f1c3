package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"photorestore/internal/events"
	"photorestore/internal/payments"
	"photorestore/internal/prediction"
	"photorestore/internal/queue"
	"photorestore/internal/repository/memory"
	"photorestore/internal/storage"
)

type fakePredictor struct {
	mu        sync.Mutex
	createErr error
	cancelErr error
	created   []string
	jobIDs    []string
	cancelled []string
	next      int
	// onCreate runs before the prediction is returned, as a racing webhook would.
	onCreate func(jobID string, pred prediction.Prediction)
}

func (p *fakePredictor) Create(_ context.Context, jobID, imageURL string) (prediction.Prediction, error) {
	p.mu.Lock()
	if p.createErr != nil {
		p.mu.Unlock()
		return prediction.Prediction{}, p.createErr
	}
	p.next++
	p.created = append(p.created, imageURL)
	p.jobIDs = append(p.jobIDs, jobID)
	pred := prediction.Prediction{ID: fmt.Sprintf("pred-%d", p.next), Status: prediction.StatusStarting}
	hook := p.onCreate
	p.mu.Unlock()
	if hook != nil {
		hook(jobID, pred)
	}
	return pred, nil
}

func (p *fakePredictor) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, id)
	return p.cancelErr
}

// flakyLedger is a credit ledger whose increments can be made to fail.
type flakyLedger struct {
	*memory.Credits
	addErr error
}

func (l *flakyLedger) Add(ctx context.Context, userID string, amount int) (int, error) {
	if l.addErr != nil {
		return 0, l.addErr
	}
	return l.Credits.Add(ctx, userID, amount)
}

type storedObject struct {
	data        []byte
	contentType string
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]storedObject
	signErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]storedObject)}
}

func (s *fakeStorage) Put(_ context.Context, bucket storage.Bucket, key string, r io.Reader, _ int64, contentType string) (int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[string(bucket)+"/"+key] = storedObject{data: buf.Bytes(), contentType: contentType}
	return n, nil
}

func (s *fakeStorage) Remove(_ context.Context, bucket storage.Bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, string(bucket)+"/"+key)
	return nil
}

func (s *fakeStorage) SignedURL(_ context.Context, bucket storage.Bucket, key string, ttl time.Duration) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return fmt.Sprintf("https://storage.test/%s/%s?ttl=%s", bucket, key, ttl), nil
}

func (s *fakeStorage) object(bucket storage.Bucket, key string) (storedObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[string(bucket)+"/"+key]
	return obj, ok
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) ofType(t queue.TaskType) []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queue.Task
	for _, task := range q.tasks {
		if task.Type == t {
			out = append(out, task)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeGateway struct {
	customers int
	checkouts []payments.CheckoutRequest
	events    map[string]payments.Event
	failNext  bool
}

func (g *fakeGateway) CreateCustomer(_ context.Context, userID, _ string) (string, error) {
	g.customers++
	return "cus_" + userID, nil
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error) {
	if g.failNext {
		g.failNext = false
		return payments.CheckoutSession{}, errors.New("stripe down")
	}
	g.checkouts = append(g.checkouts, req)
	id := fmt.Sprintf("cs_%d", len(g.checkouts))
	return payments.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

// ParseEvent treats the payload as the event key and the signature as a shared secret.
func (g *fakeGateway) ParseEvent(payload []byte, signature string) (payments.Event, error) {
	if signature != "ok" {
		return payments.Event{}, payments.ErrInvalidSignature
	}
	ev, ok := g.events[string(payload)]
	if !ok {
		return payments.Event{}, errors.New("unknown event")
	}
	return ev, nil
}
