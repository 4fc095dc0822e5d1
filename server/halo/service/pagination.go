package service

import (
	"context"
	"sync"

	"halo_server/server/halo/domain"
)

// GetRooms returns one page of the caller's rooms, newest preview first.
// next is the id of the last room of the previous page; "" starts from the
// top. HasNext comes from a one-row lookahead past the returned page. When a
// page comes back empty, Next echoes the cursor it was called with.
//
// Rooms created or bumped above the cursor between calls can cause skips or
// repeats; the cursor does not correct for concurrent writes.
func (s *RoomService) GetRooms(ctx context.Context, caller domain.Identity, next string) (domain.RoomPage, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.RoomPage{}, err
	}
	rooms, err := s.rooms.ListForUser(ctx, caller.ID, next, s.pageSize)
	if err != nil {
		return domain.RoomPage{}, err
	}
	if len(rooms) == 0 {
		return domain.RoomPage{Rooms: []domain.RoomDetails{}, Next: next, HasNext: false}, nil
	}

	cursor := rooms[len(rooms)-1].ID
	lookahead, err := s.rooms.ListForUser(ctx, caller.ID, cursor, 1)
	if err != nil {
		return domain.RoomPage{}, err
	}
	details, err := s.hydrate(ctx, rooms)
	if err != nil {
		return domain.RoomPage{}, err
	}
	return domain.RoomPage{Rooms: details, Next: cursor, HasNext: len(lookahead) > 0}, nil
}

// RoomFeed accumulates GetRooms pages for one caller the way a room list
// screen does: LoadMore appends the next page, Refresh starts over and
// replaces everything loaded so far.
type RoomFeed struct {
	rooms  *RoomService
	caller domain.Identity

	mu      sync.Mutex
	items   []domain.RoomDetails
	next    string
	hasNext bool
	loaded  bool
}

func NewRoomFeed(rooms *RoomService, caller domain.Identity) *RoomFeed {
	return &RoomFeed{rooms: rooms, caller: caller}
}

// Load fetches the first page when forced or not yet loaded, otherwise the
// next page if there is one.
func (f *RoomFeed) Load(ctx context.Context, forced bool) ([]domain.RoomDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !forced && f.loaded && !f.hasNext {
		return f.snapshot(), nil
	}
	cursor := f.next
	if forced || !f.loaded {
		cursor = ""
	}
	page, err := f.rooms.GetRooms(ctx, f.caller, cursor)
	if err != nil {
		return nil, err
	}
	if cursor == "" {
		f.items = page.Rooms
	} else {
		f.items = append(f.items, page.Rooms...)
	}
	f.next, f.hasNext, f.loaded = page.Next, page.HasNext, true
	return f.snapshot(), nil
}

func (f *RoomFeed) Refresh(ctx context.Context) ([]domain.RoomDetails, error) {
	return f.Load(ctx, true)
}

func (f *RoomFeed) LoadMore(ctx context.Context) ([]domain.RoomDetails, error) {
	return f.Load(ctx, false)
}

func (f *RoomFeed) HasNext() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.loaded || f.hasNext
}

func (f *RoomFeed) snapshot() []domain.RoomDetails {
	return append([]domain.RoomDetails(nil), f.items...)
}
