package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(id string, sentAt time.Time, users ...string) Snapshot {
	return Snapshot{ID: id, Data: Document{
		"id":          id,
		"usersIds":    Normalize(users),
		"lastMessage": map[string]any{"sentAt": sentAt},
	}}
}

func TestMatchesOperators(t *testing.T) {
	doc := Document{
		"scope":    "GROUP",
		"tag":      "support",
		"usersIds": []any{"a", "b"},
		"count":    int64(3),
		"nested":   map[string]any{"flag": true},
	}

	assert.True(t, Matches(doc, []Filter{Where("scope", OpEqual, "GROUP")}))
	assert.False(t, Matches(doc, []Filter{Where("scope", OpNotEqual, "GROUP")}))
	assert.True(t, Matches(doc, []Filter{Where("usersIds", OpArrayContains, "b")}))
	assert.False(t, Matches(doc, []Filter{Where("usersIds", OpArrayContains, "z")}))
	assert.True(t, Matches(doc, []Filter{Where("tag", OpIn, []string{"sales", "support"})}))
	assert.True(t, Matches(doc, []Filter{Where("usersIds", OpArrayContainsAny, []string{"z", "a"})}))
	assert.True(t, Matches(doc, []Filter{Where("count", OpGreaterEqual, 3)}))
	assert.False(t, Matches(doc, []Filter{Where("count", OpLess, 3)}))
	assert.False(t, Matches(doc, []Filter{Where("count", OpLess, "3")}))
	assert.True(t, Matches(doc, []Filter{Where("nested.flag", OpEqual, true)}))
	assert.False(t, Matches(doc, []Filter{Where("missing", OpNotEqual, "x")}))
}

func TestCheckQueryInLimit(t *testing.T) {
	ids := []string{"1", "2", "3"}
	err := CheckQuery(Query{Collection: "users", Filters: []Filter{Where("id", OpIn, ids)}}, 2)
	assert.ErrorIs(t, err, ErrInLimit)

	err = CheckQuery(Query{Collection: "users", Filters: []Filter{Where("id", OpIn, []string{})}}, 2)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	assert.NoError(t, CheckQuery(Query{Collection: "users", Filters: []Filter{Where("id", OpIn, ids)}}, 3))
}

func TestWindowOrdersWithCursor(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	all := []Snapshot{
		snap("r1", base.Add(1*time.Minute), "a"),
		snap("r2", base.Add(3*time.Minute), "a"),
		snap("r3", base.Add(2*time.Minute), "a", "b"),
		snap("r4", base.Add(2*time.Minute), "a"),
		snap("r5", base.Add(5*time.Minute), "b"),
	}
	q := Query{
		Collection: "rooms",
		Filters:    []Filter{Where("usersIds", OpArrayContains, "a")},
		OrderBy:    "lastMessage.sentAt",
		Direction:  Desc,
		Limit:      2,
	}

	first := Window(all, q, nil)
	require.Len(t, first, 2)
	assert.Equal(t, "r2", first[0].ID)
	assert.Equal(t, "r4", first[1].ID)

	cursor := all[3]
	second := Window(all, q, &cursor)
	require.Len(t, second, 2)
	assert.Equal(t, "r3", second[0].ID)
	assert.Equal(t, "r1", second[1].ID)

	cursor = all[0]
	assert.Empty(t, Window(all, q, &cursor))
}

func TestApplyUpdatesArrayTransforms(t *testing.T) {
	doc := Document{"readBy": []any{"a"}, "lastMessage": map[string]any{"text": "old"}}

	out, err := ApplyUpdates(doc, []Update{
		{Path: "readBy", Value: ArrayUnion("a", "b")},
		{Path: "lastMessage.text", Value: "new"},
		{Path: "removedUsersIds", Value: ArrayRemove("x")},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out["readBy"])
	assert.Equal(t, "new", out["lastMessage"].(map[string]any)["text"])
	assert.Equal(t, []any{}, out["removedUsersIds"])
	assert.Equal(t, []any{"a"}, doc["readBy"], "input must not be mutated")

	out, err = ApplyUpdates(out, []Update{{Path: "readBy", Value: ArrayRemove("a")}})
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, out["readBy"])

	_, err = ApplyUpdates(doc, []Update{{Path: "a..b", Value: 1}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestCompareMixedTimestampShapes(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, Compare(at, FormatTime(at)))
	assert.Equal(t, -1, Compare(FormatTime(at), at.Add(time.Nanosecond)))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare(nil, false))
}

func TestRequeryEmitsOnChangeOnly(t *testing.T) {
	triggers := make(chan struct{}, 1)
	var mu sync.Mutex
	current := []Snapshot{{ID: "a"}}
	fetch := func(context.Context) ([]Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]Snapshot(nil), current...), nil
	}
	updates := make(chan []Snapshot, 4)
	released := make(chan struct{})

	sub := Requery(context.Background(), triggers, fetch, func(s []Snapshot) { updates <- s }, func(error) {}, func() { close(released) })

	assert.Len(t, <-updates, 1)

	triggers <- struct{}{}
	mu.Lock()
	current = append(current, Snapshot{ID: "b"})
	mu.Unlock()
	triggers <- struct{}{}

	select {
	case got := <-updates:
		assert.Len(t, got, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no emission after change")
	}

	sub.Stop()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("release not called after Stop")
	}
}

func TestRequeryReportsFetchErrorOnce(t *testing.T) {
	boom := errors.New("unreachable")
	errs := make(chan error, 2)
	sub := Requery(context.Background(), make(chan struct{}), func(context.Context) ([]Snapshot, error) {
		return nil, boom
	}, func([]Snapshot) { t.Error("unexpected update") }, func(err error) { errs <- err }, nil)
	defer sub.Stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("error not delivered")
	}
	<-sub.(*requery).Done()
	assert.Len(t, errs, 0)
}
