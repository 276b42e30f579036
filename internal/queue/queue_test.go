package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	payload, err := Encode(Message{Type: "stats.changed", Body: []byte("c1|2026-03-02")})
	require.NoError(t, err)

	msg, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "stats.changed", msg.Type)
	assert.Equal(t, "c1|2026-03-02", string(msg.Body))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("type|body")
	assert.Error(t, err)

	_, err = Decode(`{"body":"eA=="}`)
	assert.Error(t, err)
}

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "a"}))
	require.NoError(t, q.Publish(ctx, Message{Type: "b"}))

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	for _, want := range []string{"a", "b"} {
		select {
		case msg := <-out:
			assert.Equal(t, want, msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestInMemoryFull(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{Type: "a"}))
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "b"}), ErrFull)
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out, err := NewInMemory(1).Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
