package comm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrderAndLen(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.push(i))
	}
	require.Equal(t, 5, q.len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		v, err := q.pop(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	require.Equal(t, 0, q.len())
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newQueue[string]()
	got := make(chan string, 1)

	go func() {
		v, err := q.pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.push("wake"))

	select {
	case v := <-got:
		require.Equal(t, "wake", v)
	case <-time.After(5 * time.Second):
		t.Fatal("pop did not observe push")
	}
}

func TestQueuePopHonorsCancellation(t *testing.T) {
	q := newQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.pop(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueueCloseDrainsThenRefuses(t *testing.T) {
	q := newQueue[int]()
	require.NoError(t, q.push(1))
	require.NoError(t, q.push(2))
	q.close()

	// Queued items stay poppable after close.
	ctx := context.Background()
	v, err := q.pop(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	v, err = q.pop(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)

	_, err = q.pop(ctx)
	require.True(t, errors.Is(err, errQueueClosed))
	require.True(t, errors.Is(q.push(3), errQueueClosed))
}

func TestQueueManyProducersOneConsumer(t *testing.T) {
	const producers = 8
	const perProducer = 100

	q := newQueue[int]()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.push(i))
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < producers*perProducer; i++ {
		_, err := q.pop(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 0, q.len())
}
