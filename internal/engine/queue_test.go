package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCrawlQueueKeyIsJobSourcePair(t *testing.T) {
	t.Parallel()

	q := newCrawlQueue("job-1", "src-a", 4)
	require.Equal(t, "job-1/src-a", q.Key())
}

func TestCrawlQueueDeliversInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newCrawlQueue("job-1", "src-a", 3)
	for _, id := range []string{"trk-1", "trk-2", "trk-3"} {
		require.NoError(t, q.Enqueue(ctx, Candidate{TrackingID: id}))
	}
	q.Close()

	var got []string
	for {
		cand, err := q.Dequeue(ctx)
		if err != nil {
			require.ErrorIs(t, err, errQueueDrained)
			break
		}
		got = append(got, cand.TrackingID)
	}
	require.Equal(t, []string{"trk-1", "trk-2", "trk-3"}, got)
}

func TestCrawlQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := newCrawlQueue("job-1", "src-a", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCrawlQueueEnqueueRespectsContext(t *testing.T) {
	t.Parallel()

	q := newCrawlQueue("job-1", "src-a", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, Candidate{TrackingID: "trk-1"}))
	err := q.Enqueue(ctx, Candidate{TrackingID: "trk-2"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCrawlQueueCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := newCrawlQueue("job-1", "src-a", 1)
	q.Close()
	require.NotPanics(t, q.Close)

	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, errQueueDrained)
}
