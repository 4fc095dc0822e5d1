package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo_server/server/common/infra/docstore"
)

func TestCreateRejectsExisting(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := docstore.Doc("users", "u1")

	require.NoError(t, s.Create(ctx, ref, docstore.Document{"id": "u1"}))
	assert.ErrorIs(t, s.Create(ctx, ref, docstore.Document{"id": "u1"}), docstore.ErrAlreadyExists)

	_, err := s.Get(ctx, docstore.Doc("users", "nope"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestQueryEnforcesInLimit(t *testing.T) {
	ctx := context.Background()
	s := New(WithInLimit(2))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, docstore.Doc("users", id), docstore.Document{"id": id}))
	}

	_, err := s.Query(ctx, docstore.Query{Collection: "users", Filters: []docstore.Filter{docstore.Where("id", docstore.OpIn, []string{"a", "b", "c"})}})
	assert.ErrorIs(t, err, docstore.ErrInLimit)

	snaps, err := s.Query(ctx, docstore.Query{Collection: "users", Filters: []docstore.Filter{docstore.Where("id", docstore.OpIn, []string{"a", "c"})}})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestTransactionIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	room := docstore.Doc("rooms", "r1")
	require.NoError(t, s.Set(ctx, room, docstore.Document{"id": "r1", "lastMessage": map[string]any{"text": ""}}))

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(room); err != nil {
			return err
		}
		if err := tx.Create(docstore.Doc("rooms/r1/messages", "m1"), docstore.Document{"id": "m1"}); err != nil {
			return err
		}
		return tx.Update(docstore.Doc("rooms", "missing"), docstore.Update{Path: "x", Value: 1})
	})
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	_, err = s.Get(ctx, docstore.Doc("rooms/r1/messages", "m1"))
	assert.ErrorIs(t, err, docstore.ErrNotFound, "message must not be written when the transaction fails")
}

func TestTransactionRejectsReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(docstore.Doc("rooms", "r1"), docstore.Document{}); err != nil {
			return err
		}
		_, err := tx.Get(docstore.Doc("rooms", "r1"))
		return err
	})
	assert.True(t, errors.Is(err, errReadAfterWrite))
}

func TestQueryUnknownCursor(t *testing.T) {
	s := New()
	_, err := s.Query(context.Background(), docstore.Query{Collection: "rooms", StartAfter: "ghost"})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestWatchDeliversFullResultSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, docstore.Doc("users", "a"), docstore.Document{"id": "a"}))

	updates := make(chan []docstore.Snapshot, 8)
	sub, err := s.Watch(ctx, docstore.Query{Collection: "users"}, func(snaps []docstore.Snapshot) {
		updates <- snaps
	}, func(err error) { t.Errorf("watch error: %v", err) })
	require.NoError(t, err)
	defer sub.Stop()

	assert.Len(t, next(t, updates), 1)

	require.NoError(t, s.Set(ctx, docstore.Doc("users", "b"), docstore.Document{"id": "b"}))
	got := next(t, updates)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func next(t *testing.T, ch <-chan []docstore.Snapshot) []docstore.Snapshot {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
		return nil
	}
}
