package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arachnid-go/arachne/pkg/types"
)

func record(url string) types.PageRecord {
	return types.PageRecord{URL: url, StatusCode: 200}
}

func TestFanOutAllSubscribers(t *testing.T) {
	hub := NewHub(OverflowDropOldest, zap.NewNop())
	defer hub.Close()

	subs := []*Subscription{hub.Subscribe(8), hub.Subscribe(8), hub.Subscribe(8)}
	published := []string{"https://example.org/a", "https://example.org/b", "https://example.org/c"}
	for _, u := range published {
		hub.Publish(record(u))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, sub := range subs {
		for _, want := range published {
			rec, err := sub.Recv(ctx)
			require.NoError(t, err)
			require.Equal(t, want, rec.URL, "per-subscriber order matches publish order")
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewHub(OverflowDropOldest, zap.NewNop())
	defer hub.Close()

	slow := hub.Subscribe(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(record("https://example.org/flood"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	_ = slow
}

func TestOverflowDropOldest(t *testing.T) {
	hub := NewHub(OverflowDropOldest, zap.NewNop())
	defer hub.Close()

	sub := hub.Subscribe(2)
	hub.Publish(record("https://example.org/1"))
	hub.Publish(record("https://example.org/2"))
	hub.Publish(record("https://example.org/3"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rec, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.org/2", rec.URL, "oldest record was evicted")
	rec, err = sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.org/3", rec.URL)
}

func TestOverflowLagNotify(t *testing.T) {
	hub := NewHub(OverflowLagNotify, zap.NewNop())
	defer hub.Close()

	sub := hub.Subscribe(2)
	hub.Publish(record("https://example.org/1"))
	hub.Publish(record("https://example.org/2"))
	hub.Publish(record("https://example.org/3")) // dropped, flags the lag

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := sub.Recv(ctx)
	require.ErrorIs(t, err, ErrSubscriberLagged)

	// Receiving resumes with the retained records.
	rec, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.org/1", rec.URL)
	rec, err = sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.org/2", rec.URL)
}

func TestSubscribeMidStream(t *testing.T) {
	hub := NewHub(OverflowDropOldest, zap.NewNop())
	defer hub.Close()

	hub.Publish(record("https://example.org/before"))
	sub := hub.Subscribe(4)
	hub.Publish(record("https://example.org/after"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.org/after", rec.URL, "only records published after subscribing arrive")
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	hub := NewHub(OverflowDropOldest, zap.NewNop())
	sub := hub.Subscribe(4)
	hub.Publish(record("https://example.org/a"))
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rec, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.org/a", rec.URL)

	_, err = sub.Recv(ctx)
	require.ErrorIs(t, err, ErrHubClosed)
}

func TestRecvHonorsContext(t *testing.T) {
	hub := NewHub(OverflowDropOldest, zap.NewNop())
	defer hub.Close()
	sub := hub.Subscribe(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
