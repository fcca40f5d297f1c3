package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func server(balance int, err error) Authoritative {
	return func(context.Context) (int, error) { return balance, err }
}

func TestDeductWithoutFundsNeverCallsServer(t *testing.T) {
	b := NewOptimisticBalance(0)
	called := false

	_, err := b.Deduct(context.Background(), 1, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.False(t, called)
	assert.Equal(t, 0, b.Displayed())
	assert.False(t, b.Pending())
}

func TestDeductShowsProjectionWhilePending(t *testing.T) {
	b := NewOptimisticBalance(3)
	var during int
	var pending bool

	got, err := b.Deduct(context.Background(), 1, func(context.Context) (int, error) {
		during, pending = b.Displayed(), b.Pending()
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, 2, during)
	assert.True(t, pending)
	assert.Equal(t, 2, b.Displayed())
}

func TestDeductRollsBackOnFailure(t *testing.T) {
	b := NewOptimisticBalance(3)

	_, err := b.Deduct(context.Background(), 1, server(0, errors.New("boom")))
	assert.Error(t, err)
	assert.Equal(t, 3, b.Displayed())
	assert.Equal(t, 3, b.Projected())
	assert.Equal(t, 3, b.Confirmed())
}

func TestMutationsCollapseToServerValue(t *testing.T) {
	b := NewOptimisticBalance(3)

	// Another device spent credits meanwhile; the server is the truth.
	got, err := b.Deduct(context.Background(), 1, server(1, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, b.Confirmed(), b.Projected())

	got, err = b.Refund(context.Background(), 2, server(3, nil))
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 3, b.Displayed())

	got, err = b.Set(context.Background(), 10, server(10, nil))
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestRefundProjection(t *testing.T) {
	b := NewOptimisticBalance(3)
	var during int
	_, err := b.Refund(context.Background(), 2, func(context.Context) (int, error) {
		during = b.Displayed()
		return 5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, during)
	assert.Equal(t, 5, b.Confirmed())
}

func TestMutationsAreSerialised(t *testing.T) {
	b := NewOptimisticBalance(2)
	release := make(chan struct{})
	firstIn := make(chan struct{})
	secondIn := make(chan struct{})

	go func() {
		_, _ = b.Deduct(context.Background(), 1, func(context.Context) (int, error) {
			close(firstIn)
			<-release
			return 1, nil
		})
	}()
	<-firstIn

	done := make(chan error, 1)
	go func() {
		_, err := b.Deduct(context.Background(), 1, func(context.Context) (int, error) {
			close(secondIn)
			return 0, nil
		})
		done <- err
	}()

	select {
	case <-secondIn:
		t.Fatal("second mutation ran while the first was pending")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, b.Displayed())
}

func TestSyncWaitsForContext(t *testing.T) {
	b := NewOptimisticBalance(1)
	b.txn <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Sync(ctx, 5), context.DeadlineExceeded)
	assert.Equal(t, 1, b.Displayed())
}
