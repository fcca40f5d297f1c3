package dashboard

import (
	"context"
	"errors"
	"sync"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

// Authoritative performs the server-side half of a balance mutation and
// returns the balance the server now holds.
type Authoritative func(ctx context.Context) (int, error)

// OptimisticBalance shows a projected credit balance while a mutation is in
// flight and collapses to the server's value when it settles. Only one
// mutation is in flight at a time.
type OptimisticBalance struct {
	txn chan struct{}

	mu        sync.Mutex
	confirmed int
	projected int
	pending   bool
}

func NewOptimisticBalance(confirmed int) *OptimisticBalance {
	return &OptimisticBalance{
		txn:       make(chan struct{}, 1),
		confirmed: confirmed,
		projected: confirmed,
	}
}

// Displayed is the projected value while a mutation is pending, else the
// confirmed one.
func (b *OptimisticBalance) Displayed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending {
		return b.projected
	}
	return b.confirmed
}

func (b *OptimisticBalance) Confirmed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confirmed
}

func (b *OptimisticBalance) Projected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.projected
}

func (b *OptimisticBalance) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Deduct projects a spend of amount and confirms it with call. When the
// projection cannot cover amount, call is never made.
func (b *OptimisticBalance) Deduct(ctx context.Context, amount int, call Authoritative) (int, error) {
	return b.transact(ctx, func(projected int) (int, error) {
		if projected < amount {
			return 0, ErrInsufficientCredits
		}
		return projected - amount, nil
	}, call)
}

// Refund projects a credit of amount and confirms it with call.
func (b *OptimisticBalance) Refund(ctx context.Context, amount int, call Authoritative) (int, error) {
	return b.transact(ctx, func(projected int) (int, error) {
		return projected + amount, nil
	}, call)
}

// Set projects value outright and confirms it with call.
func (b *OptimisticBalance) Set(ctx context.Context, value int, call Authoritative) (int, error) {
	return b.transact(ctx, func(int) (int, error) {
		return value, nil
	}, call)
}

// Sync adopts a balance read from the server. It waits for any in-flight
// mutation so a stale read cannot overwrite a newer result.
func (b *OptimisticBalance) Sync(ctx context.Context, value int) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	b.mu.Lock()
	b.confirmed, b.projected = value, value
	b.mu.Unlock()
	return nil
}

func (b *OptimisticBalance) transact(ctx context.Context, project func(int) (int, error), call Authoritative) (int, error) {
	if err := b.acquire(ctx); err != nil {
		return 0, err
	}
	defer b.release()

	b.mu.Lock()
	before := b.projected
	next, err := project(before)
	if err != nil {
		b.mu.Unlock()
		return 0, err
	}
	b.projected = next
	b.pending = true
	b.mu.Unlock()

	server, err := call(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = false
	if err != nil {
		b.projected = before
		return 0, err
	}
	b.confirmed, b.projected = server, server
	return server, nil
}

func (b *OptimisticBalance) acquire(ctx context.Context) error {
	select {
	case b.txn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *OptimisticBalance) release() {
	<-b.txn
}
