package repository

import (
	"context"
	"fmt"
	"time"

	"halo_server/server/common/infra/docstore"
	commonlog "halo_server/server/common/log"
	"halo_server/server/halo/domain"
)

type MessageRepository struct {
	store docstore.Store
}

func NewMessageRepository(store docstore.Store) *MessageRepository {
	return &MessageRepository{store: store}
}

func (r *MessageRepository) Get(ctx context.Context, roomID, id string) (domain.Message, error) {
	doc, err := r.store.Get(ctx, docstore.Doc(MessagesCollection(roomID), id))
	if err != nil {
		return domain.Message{}, mapStoreErr(err, domain.KindMessage, id, "get message")
	}
	return messageFromDoc(id, doc)
}

// Append writes msg and moves the room preview to it in one transaction.
// authorize sees the room as read inside the transaction. The preview only
// moves forward: an older message never replaces a newer preview.
func (r *MessageRepository) Append(ctx context.Context, msg domain.Message, authorize func(domain.Room) error) error {
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		roomRef := docstore.Doc(RoomsCollection, msg.Room)
		roomDoc, err := tx.Get(roomRef)
		if err != nil {
			return mapStoreErr(err, domain.KindRoom, msg.Room, "get room")
		}
		room := roomFromDoc(msg.Room, roomDoc)
		if authorize != nil {
			if err := authorize(room); err != nil {
				return err
			}
		}
		if err := tx.Create(docstore.Doc(MessagesCollection(msg.Room), msg.ID), messageToDoc(msg)); err != nil {
			return err
		}
		preview := msg.Preview()
		if preview.SentAt.Before(room.LastMessage.SentAt) {
			return nil
		}
		return tx.Update(roomRef, docstore.Update{Path: "lastMessage", Value: previewToDoc(preview)})
	})
	return passDomainErr(err, "append message")
}

func (r *MessageRepository) MarkRead(ctx context.Context, roomID, id, userID string) error {
	err := r.store.Update(ctx, docstore.Doc(MessagesCollection(roomID), id),
		docstore.Update{Path: "readBy", Value: docstore.ArrayUnion(userID)},
	)
	return mapStoreErr(err, domain.KindMessage, id, "mark message read")
}

// SoftDelete flags the message deleted after authorize approves it. When the
// message is the room preview, the preview falls back to the newest remaining
// message, or to a sentinel keeping the old timestamp.
func (r *MessageRepository) SoftDelete(ctx context.Context, roomID, id string, now time.Time, authorize func(domain.Message) error) (domain.Message, error) {
	var deleted domain.Message
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		msgRef := docstore.Doc(MessagesCollection(roomID), id)
		doc, err := tx.Get(msgRef)
		if err != nil {
			return mapStoreErr(err, domain.KindMessage, id, "get message")
		}
		msg, err := messageFromDoc(id, doc)
		if err != nil {
			return err
		}
		if err := authorize(msg); err != nil {
			return err
		}
		roomRef := docstore.Doc(RoomsCollection, roomID)
		roomDoc, err := tx.Get(roomRef)
		if err != nil {
			return mapStoreErr(err, domain.KindRoom, roomID, "get room")
		}
		room := roomFromDoc(roomID, roomDoc)

		var replacement *domain.LastMessage
		if room.LastMessage.ID == id {
			fallback, err := newestRemaining(tx, roomID, id)
			if err != nil {
				return err
			}
			if fallback == nil {
				sentinel := domain.SentinelPreview(room.LastMessage.SentAt)
				fallback = &sentinel
			}
			replacement = fallback
		}

		if err := tx.Update(msgRef,
			docstore.Update{Path: "deleted", Value: true},
			docstore.Update{Path: "updatedAt", Value: now.UTC()},
		); err != nil {
			return err
		}
		if replacement != nil {
			if err := tx.Update(roomRef, docstore.Update{Path: "lastMessage", Value: previewToDoc(*replacement)}); err != nil {
				return err
			}
		}
		msg.Deleted = true
		msg.UpdatedAt = now.UTC()
		deleted = msg
		return nil
	})
	if err != nil {
		return domain.Message{}, passDomainErr(err, "delete message")
	}
	return deleted, nil
}

func newestRemaining(tx docstore.Tx, roomID, excludeID string) (*domain.LastMessage, error) {
	snaps, err := tx.Query(docstore.Query{
		Collection: MessagesCollection(roomID),
		Filters:    []docstore.Filter{docstore.Where("deleted", docstore.OpEqual, false)},
		OrderBy:    "createdAt",
		Direction:  docstore.Desc,
		Limit:      2,
	})
	if err != nil {
		return nil, err
	}
	for _, s := range snaps {
		if s.ID == excludeID {
			continue
		}
		msg, err := messageFromDoc(s.ID, s.Data)
		if err != nil {
			return nil, err
		}
		preview := msg.Preview()
		return &preview, nil
	}
	return nil, nil
}

// ReplaceSurvey rewrites the survey of a SURVEY message. change receives the
// stored message and room and returns the new survey.
func (r *MessageRepository) ReplaceSurvey(ctx context.Context, roomID, id string, now time.Time, change func(domain.Message, domain.Room) (domain.Survey, error)) (domain.Message, error) {
	var updated domain.Message
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		msgRef := docstore.Doc(MessagesCollection(roomID), id)
		doc, err := tx.Get(msgRef)
		if err != nil {
			return mapStoreErr(err, domain.KindMessage, id, "get message")
		}
		msg, err := messageFromDoc(id, doc)
		if err != nil {
			return err
		}
		roomRef := docstore.Doc(RoomsCollection, roomID)
		roomDoc, err := tx.Get(roomRef)
		if err != nil {
			return mapStoreErr(err, domain.KindRoom, roomID, "get room")
		}
		room := roomFromDoc(roomID, roomDoc)

		survey, err := change(msg, room)
		if err != nil {
			return err
		}
		if err := tx.Update(msgRef,
			docstore.Update{Path: "survey", Value: surveyToDoc(survey)},
			docstore.Update{Path: "updatedAt", Value: now.UTC()},
		); err != nil {
			return err
		}
		if room.LastMessage.ID == id && room.LastMessage.Text != survey.Question {
			if err := tx.Update(roomRef, docstore.Update{Path: "lastMessage.text", Value: survey.Question}); err != nil {
				return err
			}
		}
		msg.Content = domain.SurveyContent{Survey: survey}
		msg.UpdatedAt = now.UTC()
		updated = msg
		return nil
	})
	if err != nil {
		return domain.Message{}, passDomainErr(err, "update survey")
	}
	return updated, nil
}

// List returns every message of the room, unordered.
func (r *MessageRepository) List(ctx context.Context, roomID string) ([]domain.Message, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{Collection: MessagesCollection(roomID)})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messagesFromSnapshots(snaps), nil
}

func (r *MessageRepository) Watch(ctx context.Context, roomID string, onUpdate func([]domain.Message), onErr func(error)) (docstore.Subscription, error) {
	sub, err := r.store.Watch(ctx, docstore.Query{Collection: MessagesCollection(roomID)}, func(snaps []docstore.Snapshot) {
		onUpdate(messagesFromSnapshots(snaps))
	}, onErr)
	if err != nil {
		return nil, fmt.Errorf("watch messages: %w", err)
	}
	return sub, nil
}

func messagesFromSnapshots(snaps []docstore.Snapshot) []domain.Message {
	msgs := make([]domain.Message, 0, len(snaps))
	for _, s := range snaps {
		msg, err := messageFromDoc(s.ID, s.Data)
		if err != nil {
			commonlog.Warnf("event=message_decode action=skip id=%s status=failed err=%v", s.ID, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
