package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPublisher struct {
	calls int
	err   error
}

func (f *flakyPublisher) Publish(context.Context, string, any) error {
	f.calls++
	return f.err
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakyPublisher{err: errors.New("connection refused")}
	p := NewBreakerPublisher(next, BreakerConfig{Name: "test", MaxFailures: 2, Timeout: time.Hour})
	ctx := context.Background()

	require.EqualError(t, p.Publish(ctx, "message.created", map[string]string{}), "connection refused")
	require.EqualError(t, p.Publish(ctx, "message.created", map[string]string{}), "connection refused")
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err := p.Publish(ctx, "message.created", map[string]string{})
	require.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.Equal(t, 2, next.calls)
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	next := &flakyPublisher{}
	p := NewBreakerPublisher(next, BreakerConfig{Name: "ok"})
	require.NoError(t, p.Publish(context.Background(), "room.created", nil))
	assert.Equal(t, gobreaker.StateClosed, p.State())
	assert.Equal(t, 1, next.calls)
}
