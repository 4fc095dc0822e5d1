package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo_server/server/common/infra/docstore/memory"
	"halo_server/server/halo/domain"
)

func seedRoom(t *testing.T, rooms *RoomRepository, id string, at time.Time) {
	t.Helper()
	name := "team"
	require.NoError(t, rooms.Create(context.Background(), domain.Room{
		ID:              id,
		Scope:           domain.ScopeGroup,
		Name:            &name,
		CreatedBy:       "alice",
		CreatedAt:       at,
		UsersIDs:        []string{"alice", "bob"},
		RemovedUsersIDs: []string{},
		LastMessage:     domain.SentinelPreview(at),
	}))
}

func textMessage(id, room, sender, text string, at time.Time) domain.Message {
	return domain.Message{
		ID:        id,
		Room:      room,
		CreatedBy: sender,
		CreatedAt: &at,
		UpdatedAt: at,
		Content:   domain.TextContent{Text: text},
		ReadBy:    []string{},
	}
}

func TestAppendCommitsMessageAndPreview(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rooms := NewRoomRepository(store)
	messages := NewMessageRepository(store)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedRoom(t, rooms, "r1", start)

	msg := textMessage("m1", "r1", "bob", "hi", start.Add(time.Second))
	require.NoError(t, messages.Append(ctx, msg, nil))

	stored, err := messages.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "m1", stored[0].ID)

	room, err := rooms.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "m1", room.LastMessage.ID)
	assert.Equal(t, "hi", room.LastMessage.Text)
	assert.Equal(t, "bob", room.LastMessage.SentBy)

	older := textMessage("m0", "r1", "alice", "late", start.Add(time.Millisecond))
	require.NoError(t, messages.Append(ctx, older, nil))
	room, err = rooms.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "m1", room.LastMessage.ID)
}

func TestAppendKeepsDomainErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rooms := NewRoomRepository(store)
	messages := NewMessageRepository(store)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedRoom(t, rooms, "r1", start)

	denied := &domain.ForbiddenError{Op: "sendTextMessage", Actor: "mallory", Detail: "post to room r1"}
	err := messages.Append(ctx, textMessage("m1", "r1", "mallory", "hi", start), func(domain.Room) error { return denied })
	var forbidden *domain.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, "mallory", forbidden.Actor)

	err = messages.Append(ctx, textMessage("m2", "missing", "bob", "hi", start), nil)
	require.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := messages.List(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestPassDomainErr(t *testing.T) {
	assert.NoError(t, passDomainErr(nil, "append message"))

	notFound := domain.NewNotFound(domain.KindRoom, "r1")
	assert.Same(t, notFound, passDomainErr(notFound, "append message"))

	err := passDomainErr(errors.New("connection reset"), "append message")
	assert.EqualError(t, err, "append message: connection reset")
}
