package repository

import (
	"context"
	"errors"
	"fmt"

	"halo_server/server/common/infra/docstore"
	commonlog "halo_server/server/common/log"
	"halo_server/server/halo/domain"
)

type UserRepository struct {
	store docstore.Store
}

func NewUserRepository(store docstore.Store) *UserRepository {
	return &UserRepository{store: store}
}

func (r *UserRepository) Get(ctx context.Context, id string) (domain.User, error) {
	doc, err := r.store.Get(ctx, docstore.Doc(UsersCollection, id))
	if err != nil {
		return domain.User{}, mapStoreErr(err, domain.KindUser, id, "get user")
	}
	return userFromDoc(id, doc), nil
}

func (r *UserRepository) Create(ctx context.Context, u domain.User) error {
	if err := r.store.Create(ctx, docstore.Doc(UsersCollection, u.ID), userToDoc(u)); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return domain.NewInvariant("createUser", domain.ReasonAlreadyExists, u.ID)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) Update(ctx context.Context, id string, patch domain.ProfilePatch) error {
	err := r.store.Update(ctx, docstore.Doc(UsersCollection, id), profileUpdates(patch)...)
	return mapStoreErr(err, domain.KindUser, id, "update user")
}

func (r *UserRepository) SetDeviceToken(ctx context.Context, id string, token *string) error {
	err := r.store.Update(ctx, docstore.Doc(UsersCollection, id), docstore.Update{Path: "deviceToken", Value: optString(token)})
	return mapStoreErr(err, domain.KindUser, id, "update user device token")
}

// FindByIDs runs a single "id in ids" query. len(ids) must not exceed the
// store's InLimit.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.User, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{
		Collection: UsersCollection,
		Filters:    []docstore.Filter{docstore.Where("id", docstore.OpIn, ids)},
	})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	users := make([]domain.User, 0, len(snaps))
	for _, s := range snaps {
		users = append(users, userFromDoc(s.ID, s.Data))
	}
	return users, nil
}

func (r *UserRepository) WatchAll(ctx context.Context, onUpdate func([]domain.User), onErr func(error)) (docstore.Subscription, error) {
	return r.store.Watch(ctx, docstore.Query{Collection: UsersCollection}, func(snaps []docstore.Snapshot) {
		users := make([]domain.User, 0, len(snaps))
		for _, s := range snaps {
			users = append(users, userFromDoc(s.ID, s.Data))
		}
		onUpdate(users)
	}, onErr)
}

func profileUpdates(patch domain.ProfilePatch) []docstore.Update {
	var updates []docstore.Update
	if patch.FirstName != nil {
		updates = append(updates, docstore.Update{Path: "firstName", Value: *patch.FirstName})
	}
	if patch.LastName != nil {
		updates = append(updates, docstore.Update{Path: "lastName", Value: *patch.LastName})
	}
	if patch.Nickname != nil {
		updates = append(updates, docstore.Update{Path: "nickname", Value: *patch.Nickname})
	}
	if patch.Image != nil {
		updates = append(updates, docstore.Update{Path: "image", Value: *patch.Image})
	}
	return updates
}

// mapStoreErr turns a missing document into a typed not-found error and
// wraps everything else as a store failure.
func mapStoreErr(err error, kind domain.EntityKind, id, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.NewNotFound(kind, id)
	}
	commonlog.Warnf("event=docstore_call action=%q kind=%s id=%s status=failed err=%v", action, kind, id, err)
	return fmt.Errorf("%s: %w", action, err)
}
