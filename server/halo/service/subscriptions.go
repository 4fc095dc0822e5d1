package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"halo_server/server/common/infra/docstore"
	"halo_server/server/halo/domain"
)

// liveSubscription fans one caller-facing subscription over one or more
// store watches. onErr fires at most once and tears every watch down.
type liveSubscription struct {
	mu      sync.Mutex
	watches []docstore.Subscription
	stopped bool
	errOnce sync.Once
	onErr   func(error)
}

func newLiveSubscription(onErr func(error)) *liveSubscription {
	return &liveSubscription{onErr: onErr}
}

func (l *liveSubscription) attach(watches ...docstore.Subscription) {
	l.mu.Lock()
	if !l.stopped {
		l.watches = append(l.watches, watches...)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	for _, w := range watches {
		w.Stop()
	}
}

func (l *liveSubscription) active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.stopped
}

func (l *liveSubscription) deliver(fn func()) {
	if l.active() {
		fn()
	}
}

func (l *liveSubscription) fail(err error) {
	if l.active() {
		l.errOnce.Do(func() {
			if l.onErr != nil {
				l.onErr(err)
			}
		})
	}
	l.Stop()
}

func (l *liveSubscription) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	watches := l.watches
	l.watches = nil
	l.mu.Unlock()
	for _, w := range watches {
		w.Stop()
	}
}

// FetchRooms streams the caller's rooms, hydrated and ordered by preview
// time, every time the set changes. The watch outlives ctx; only Stop ends
// it.
func (s *RoomService) FetchRooms(ctx context.Context, caller domain.Identity, onUpdate func([]domain.RoomDetails), onErr func(error)) (docstore.Subscription, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return nil, err
	}
	watchCtx := context.WithoutCancel(ctx)
	live := newLiveSubscription(onErr)
	sub, err := s.rooms.WatchForUser(watchCtx, caller.ID, func(rooms []domain.Room) {
		details, err := s.hydrate(watchCtx, rooms)
		if err != nil {
			live.fail(err)
			return
		}
		live.deliver(func() { onUpdate(details) })
	}, live.fail)
	if err != nil {
		return nil, err
	}
	live.attach(sub)
	return live, nil
}

// FetchRoomsByAgentTags streams AGENT rooms whose tag is in tags. Tag lists
// over the store's "in" cap are split into one watch per chunk; emissions
// start once every chunk has reported and carry the merged set.
func (s *RoomService) FetchRoomsByAgentTags(ctx context.Context, caller domain.Identity, tags []string, onUpdate func([]domain.RoomDetails), onErr func(error)) (docstore.Subscription, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return nil, err
	}
	tags = dedupe(trimAll(tags))
	if len(tags) == 0 {
		return nil, domain.NewInvariant("fetchRoomsByAgentTags", domain.ReasonInvalidArgument, "at least one tag is required")
	}
	watchCtx := context.WithoutCancel(ctx)
	live := newLiveSubscription(onErr)
	chunks := chunkIDs(tags, s.inLimit)

	var mu sync.Mutex
	latest := make([][]domain.Room, len(chunks))
	reported := make([]bool, len(chunks))

	for i, chunk := range chunks {
		sub, err := s.rooms.WatchByTags(watchCtx, chunk, func(rooms []domain.Room) {
			mu.Lock()
			defer mu.Unlock()
			latest[i], reported[i] = rooms, true
			for _, ok := range reported {
				if !ok {
					return
				}
			}
			details, err := s.hydrate(watchCtx, mergeRooms(latest))
			if err != nil {
				live.fail(err)
				return
			}
			live.deliver(func() { onUpdate(details) })
		}, live.fail)
		if err != nil {
			live.Stop()
			return nil, err
		}
		live.attach(sub)
	}
	return live, nil
}

// mergeRooms unions the per-chunk results, newest preview first.
func mergeRooms(sets [][]domain.Room) []domain.Room {
	seen := map[string]struct{}{}
	var out []domain.Room
	for _, set := range sets {
		for _, r := range set {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessage.SentAt, out[j].LastMessage.SentAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return strings.Compare(out[i].ID, out[j].ID) > 0
	})
	return out
}

// FetchMessages streams the room's messages newest first. Messages whose
// createdAt is not set yet are left out of every emission.
func (l *MessageLedger) FetchMessages(ctx context.Context, caller domain.Identity, roomID string, onUpdate func([]domain.Message), onErr func(error)) (docstore.Subscription, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return nil, err
	}
	room, err := l.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := authorizeReader("fetchMessages", caller, room); err != nil {
		return nil, err
	}
	live := newLiveSubscription(onErr)
	sub, err := l.messages.Watch(context.WithoutCancel(ctx), roomID, func(msgs []domain.Message) {
		visible := make([]domain.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.CreatedAt != nil {
				visible = append(visible, m)
			}
		}
		sortNewestFirst(visible)
		live.deliver(func() { onUpdate(visible) })
	}, live.fail)
	if err != nil {
		return nil, err
	}
	live.attach(sub)
	return live, nil
}
