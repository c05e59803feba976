package fungess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"noisefunge.org/funged/internal/testutil"
)

func TestResponderOnce(t *testing.T) {
	ctx := testutil.Context(t)
	r := NewResponder[int]()
	require.False(t, r.Responded())
	require.NoError(t, r.Respond(1))
	require.True(t, r.Responded())
	require.ErrorIs(t, r.Respond(2), ErrAlreadyResponded)

	x, err := r.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, x)
}

func TestResponderAwaitCancel(t *testing.T) {
	ctx := testutil.Context(t)
	ctx, cf := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cf()
	r := NewResponder[int]()
	_, err := r.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// responding after the waiter gave up must not block
	require.NoError(t, r.Respond(3))
}

func TestResponderConcurrent(t *testing.T) {
	ctx := testutil.Context(t)
	r := NewResponder[int]()
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() { errs <- r.Respond(i) }()
	}
	var ok int
	for i := 0; i < 10; i++ {
		if err := <-errs; err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, ErrAlreadyResponded)
		}
	}
	require.Equal(t, 1, ok)
	_, err := r.Await(ctx)
	require.NoError(t, err)
}
