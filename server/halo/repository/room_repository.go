package repository

import (
	"context"
	"errors"
	"fmt"

	"halo_server/server/common/infra/docstore"
	"halo_server/server/halo/domain"
)

const lastMessageSentAt = "lastMessage.sentAt"

type RoomRepository struct {
	store docstore.Store
}

func NewRoomRepository(store docstore.Store) *RoomRepository {
	return &RoomRepository{store: store}
}

func (r *RoomRepository) Get(ctx context.Context, id string) (domain.Room, error) {
	doc, err := r.store.Get(ctx, docstore.Doc(RoomsCollection, id))
	if err != nil {
		return domain.Room{}, mapStoreErr(err, domain.KindRoom, id, "get room")
	}
	return roomFromDoc(id, doc), nil
}

func (r *RoomRepository) Create(ctx context.Context, room domain.Room) error {
	if err := r.store.Create(ctx, docstore.Doc(RoomsCollection, room.ID), roomToDoc(room)); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// MutateMembership reads the room, lets mutate validate and rewrite its
// membership lists, and writes them back in one transaction. mutate must not
// have side effects; it may run more than once.
func (r *RoomRepository) MutateMembership(ctx context.Context, id string, mutate func(room domain.Room) (domain.Room, error)) (domain.Room, error) {
	var updated domain.Room
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		ref := docstore.Doc(RoomsCollection, id)
		doc, err := tx.Get(ref)
		if err != nil {
			return mapStoreErr(err, domain.KindRoom, id, "get room")
		}
		next, err := mutate(roomFromDoc(id, doc))
		if err != nil {
			return err
		}
		if err := tx.Update(ref, membershipUpdates(next)...); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Room{}, passDomainErr(err, "update room membership")
	}
	return updated, nil
}

// FindPrivateRooms lists the PRIVATE rooms userID is an active member of.
func (r *RoomRepository) FindPrivateRooms(ctx context.Context, userID string) ([]domain.Room, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{
		Collection: RoomsCollection,
		Filters: []docstore.Filter{
			docstore.Where("scope", docstore.OpEqual, string(domain.ScopePrivate)),
			docstore.Where("usersIds", docstore.OpArrayContains, userID),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("find private rooms: %w", err)
	}
	return roomsFromSnapshots(snaps), nil
}

// ListForUser returns up to limit rooms userID is active in, newest preview
// first, strictly after the room named by after.
func (r *RoomRepository) ListForUser(ctx context.Context, userID, after string, limit int) ([]domain.Room, error) {
	q := userRoomsQuery(userID)
	q.StartAfter = after
	q.Limit = limit
	snaps, err := r.store.Query(ctx, q)
	if err != nil {
		if after != "" && errors.Is(err, docstore.ErrNotFound) {
			return nil, domain.NewNotFound(domain.KindRoom, after)
		}
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return roomsFromSnapshots(snaps), nil
}

func (r *RoomRepository) WatchForUser(ctx context.Context, userID string, onUpdate func([]domain.Room), onErr func(error)) (docstore.Subscription, error) {
	return r.watch(ctx, userRoomsQuery(userID), onUpdate, onErr)
}

// WatchByTags watches AGENT rooms whose tag is one of tags. len(tags) must
// not exceed the store's InLimit.
func (r *RoomRepository) WatchByTags(ctx context.Context, tags []string, onUpdate func([]domain.Room), onErr func(error)) (docstore.Subscription, error) {
	q := docstore.Query{
		Collection: RoomsCollection,
		Filters: []docstore.Filter{
			docstore.Where("scope", docstore.OpEqual, string(domain.ScopeAgent)),
			docstore.Where("tag", docstore.OpIn, tags),
		},
		OrderBy:   lastMessageSentAt,
		Direction: docstore.Desc,
	}
	return r.watch(ctx, q, onUpdate, onErr)
}

func (r *RoomRepository) watch(ctx context.Context, q docstore.Query, onUpdate func([]domain.Room), onErr func(error)) (docstore.Subscription, error) {
	sub, err := r.store.Watch(ctx, q, func(snaps []docstore.Snapshot) {
		onUpdate(roomsFromSnapshots(snaps))
	}, onErr)
	if err != nil {
		return nil, fmt.Errorf("watch rooms: %w", err)
	}
	return sub, nil
}

func userRoomsQuery(userID string) docstore.Query {
	return docstore.Query{
		Collection: RoomsCollection,
		Filters:    []docstore.Filter{docstore.Where("usersIds", docstore.OpArrayContains, userID)},
		OrderBy:    lastMessageSentAt,
		Direction:  docstore.Desc,
	}
}

func roomsFromSnapshots(snaps []docstore.Snapshot) []domain.Room {
	rooms := make([]domain.Room, 0, len(snaps))
	for _, s := range snaps {
		rooms = append(rooms, roomFromDoc(s.ID, s.Data))
	}
	return rooms
}

// passDomainErr keeps domain errors raised inside a transaction intact and
// wraps store failures.
func passDomainErr(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvariant),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrUnauthenticated):
		return err
	}
	return fmt.Errorf("%s: %w", action, err)
}
