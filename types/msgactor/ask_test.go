package msgactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskResolve(t *testing.T) {
	p, f := NewAsk[string]()

	assert.True(t, p.Resolve("pong"))

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", v)
}

func TestAskDropResolvesCanceled(t *testing.T) {
	p, f := NewAsk[string]()

	p.Drop()

	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestAskResolveExactlyOnce(t *testing.T) {
	p, f := NewAsk[int]()

	assert.True(t, p.Resolve(1))
	assert.False(t, p.Resolve(2), "second resolve must lose")
	p.Drop() // must be a no-op after resolve

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Await is terminal: repeated calls return the same outcome.
	v, err = f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestAskAwaitTimeout(t *testing.T) {
	_, f := NewAsk[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAskAwaitContextCancel(t *testing.T) {
	_, f := NewAsk[int]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestAskResolveAfterAwaitStarted(t *testing.T) {
	p, f := NewAsk[int]()

	got := make(chan int, 1)
	go func() {
		v, err := f.Await(context.Background())
		if err == nil {
			got <- v
		}
	}()

	// Give the awaiter a moment to block.
	time.Sleep(time.Millisecond)
	p.Resolve(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("awaiter never woke up")
	}
}

func TestAskTryAwait(t *testing.T) {
	p, f := NewAsk[int]()

	_, ok, _ := f.TryAwait()
	assert.False(t, ok, "pending future must not report ready")

	p.Resolve(9)

	v, ok, err := f.TryAwait()
	assert.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestAskTryAwaitDropped(t *testing.T) {
	p, f := NewAsk[int]()

	_, ok, err := f.TryAwait()
	assert.False(t, ok)
	assert.NoError(t, err, "pending future must not carry an error")

	p.Drop()

	_, ok, err = f.TryAwait()
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrCanceled)
}
