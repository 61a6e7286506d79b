package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
)

// natsURL returns the server used by integration tests, skipping when none
// is configured.
func natsURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("JOBS_TEST_NATS_URL")
	if url == "" {
		t.Skip("JOBS_TEST_NATS_URL not set")
	}
	return url
}

func TestChannel_PublishConsumeDeadLetter(t *testing.T) {
	client, err := NewClient(natsURL(t), "channel-test")
	require.NoError(t, err)
	defer client.Close()

	ch, err := NewChannel(client, ChannelConfig{AckWait: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := "test." + uuid.NewString()[:8]
	dlq := queue + ".dlq"
	require.NoError(t, ch.DeclareQueue(ctx, queue, dlq))

	require.NoError(t, ch.Publish(ctx, queue, "m-1", []byte("first")))
	require.NoError(t, ch.Publish(ctx, queue, "m-1", []byte("first")))
	require.NoError(t, ch.Publish(ctx, queue, "m-2", []byte("second")))

	got := make(chan string, 4)
	sub, err := ch.Consume(ctx, queue, func(_ context.Context, d interfaces.Delivery) {
		got <- string(d.Data())
		if string(d.Data()) == "second" {
			assert.NoError(t, d.Nack(false))
			return
		}
		assert.NoError(t, d.Ack())
	})
	require.NoError(t, err)
	defer sub.Stop()

	var received []string
	for len(received) < 2 {
		select {
		case m := <-got:
			received = append(received, m)
		case <-ctx.Done():
			t.Fatalf("timed out, received %v", received)
		}
	}
	assert.Equal(t, []string{"first", "second"}, received)

	require.Eventually(t, func() bool {
		dead, err := ch.DeadLetters(ctx, dlq, 10)
		return err == nil && len(dead) == 1 && string(dead[0].Data) == "second"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestEventBus_RoundTrip(t *testing.T) {
	client, err := NewClient(natsURL(t), "events-test")
	require.NoError(t, err)
	defer client.Close()

	bus := NewEventBus(client)
	got := make(chan interfaces.Event, 1)
	require.NoError(t, bus.Subscribe(func(e interfaces.Event) { got <- e }))
	defer bus.Close()
	require.NoError(t, client.Conn().Flush())

	require.NoError(t, bus.PublishEvent(context.Background(), interfaces.Event{
		Type:   interfaces.EventJobUpdate,
		UserID: "user-1",
		Data:   map[string]any{"jobId": "job-1"},
	}))

	select {
	case e := <-got:
		assert.Equal(t, interfaces.EventJobUpdate, e.Type)
		assert.Equal(t, "user-1", e.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}
