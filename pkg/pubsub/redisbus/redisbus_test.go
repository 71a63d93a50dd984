package redisbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestTransport(peerID string) *Transport {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return New(rdb, "", peerID, quiet)
}

func TestOpenUsesPrefix(t *testing.T) {
	tr := newTestTransport("me")
	defer tr.Close()

	ch, err := tr.Open(context.Background(), "cards")
	require.NoError(t, err)
	assert.Equal(t, "cards", ch.Name())
	assert.Equal(t, DefaultPrefix+"cards", ch.(*channel).key)

	_, err = tr.Open(context.Background(), "")
	assert.ErrorIs(t, err, pubsub.ErrEmptyChannel)
}

func TestDeliverSkipsOwnEnvelopes(t *testing.T) {
	tr := newTestTransport("me")
	defer tr.Close()
	raw, err := tr.Open(context.Background(), "cards")
	require.NoError(t, err)
	c := raw.(*channel)

	var got []common.Envelope
	c.handler = func(_ context.Context, env common.Envelope) { got = append(got, env) }

	mine, err := common.Wrap(common.Meta{Producer: "me"}, 1)
	require.NoError(t, err)
	theirs, err := common.Wrap(common.Meta{Producer: "you"}, 2)
	require.NoError(t, err)
	for _, env := range []common.Envelope{mine, theirs} {
		body, err := env.Marshal()
		require.NoError(t, err)
		c.deliver(context.Background(), string(body))
	}
	c.deliver(context.Background(), "garbage")

	require.Len(t, got, 1)
	assert.Equal(t, "you", got[0].Meta.Producer)
}

func TestClosedTransportRejectsOpen(t *testing.T) {
	tr := newTestTransport("me")
	ch, err := tr.Open(context.Background(), "cards")
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err = tr.Open(context.Background(), "cards")
	assert.ErrorIs(t, err, pubsub.ErrTransportClosed)
	assert.ErrorIs(t, ch.Publish(context.Background(), common.Envelope{}), pubsub.ErrChannelClosed)
}

func TestDialFailsWithoutServer(t *testing.T) {
	_, err := Dial(context.Background(), Config{Addr: "127.0.0.1:1", DialAttempts: 2, DialRetryDelay: time.Millisecond}, quiet)
	assert.Error(t, err)
}
