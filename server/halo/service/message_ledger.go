package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	commonlog "halo_server/server/common/log"
	"halo_server/server/halo/domain"
	"halo_server/server/halo/repository"
)

// MessageLedger appends messages to a room's sub-collection and keeps the
// room's lastMessage preview in step inside the same transaction.
type MessageLedger struct {
	messages   *repository.MessageRepository
	rooms      *repository.RoomRepository
	blobs      BlobStore
	guard      SendGuard
	publisher  EventPublisher
	thumbnails bool
	now        func() time.Time
	newID      func() string
}

type LedgerOption func(*MessageLedger)

func WithSendGuard(g SendGuard) LedgerOption {
	return func(l *MessageLedger) {
		if g != nil {
			l.guard = g
		}
	}
}

func WithMessageEvents(p EventPublisher) LedgerOption {
	return func(l *MessageLedger) {
		if p != nil {
			l.publisher = p
		}
	}
}

func WithThumbnails(enabled bool) LedgerOption {
	return func(l *MessageLedger) { l.thumbnails = enabled }
}

func NewMessageLedger(messages *repository.MessageRepository, rooms *repository.RoomRepository, blobs BlobStore, opts ...LedgerOption) *MessageLedger {
	l := &MessageLedger{
		messages:  messages,
		rooms:     rooms,
		blobs:     blobs,
		guard:     NewLocalSendGuard(),
		publisher: NopPublisher(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MessageLedger) SendTextMessage(ctx context.Context, caller domain.Identity, in domain.SendTextMessage) (domain.Message, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Message{}, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return domain.Message{}, domain.NewInvariant("sendTextMessage", domain.ReasonInvalidArgument, "text is required")
	}
	return l.send(ctx, caller, in.RoomID, in.ClientMessageID, in.Metadata, func(ctx context.Context, _ string) (domain.Content, error) {
		return domain.TextContent{Text: in.Text}, nil
	})
}

// SendFileMessage uploads the body first; the message is written only after
// the blob store has returned its URL.
func (l *MessageLedger) SendFileMessage(ctx context.Context, caller domain.Identity, in domain.SendFileMessage) (domain.Message, error) {
	const op = "sendFileMessage"
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Message{}, err
	}
	if in.Body == nil {
		return domain.Message{}, domain.NewInvariant(op, domain.ReasonInvalidArgument, "file body is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Message{}, domain.NewInvariant(op, domain.ReasonInvalidArgument, "file name is required")
	}
	if l.blobs == nil {
		return domain.Message{}, errors.New("sendFileMessage: no blob store configured")
	}
	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	category := domain.ContentTypeForMIME(mimeType)

	return l.send(ctx, caller, in.RoomID, in.ClientMessageID, in.Metadata, func(ctx context.Context, messageID string) (domain.Content, error) {
		// Reject before uploading so no blob is orphaned for a room the
		// caller cannot post to. The transaction checks again.
		room, err := l.rooms.Get(ctx, in.RoomID)
		if err != nil {
			return nil, err
		}
		if err := authorizeSender(op, caller, room); err != nil {
			return nil, err
		}

		key := objectPath(in.RoomID, category, messageID, in.Name)
		body, size := in.Body, in.Size
		var data []byte
		if l.thumbnails && category == domain.ContentImage && thumbnailable(mimeType) {
			data, err = io.ReadAll(in.Body)
			if err != nil {
				return nil, fmt.Errorf("read upload: %w", err)
			}
			body, size = bytes.NewReader(data), int64(len(data))
		}
		uri, err := l.blobs.Upload(ctx, key, body, size, mimeType)
		if err != nil {
			return nil, fmt.Errorf("upload file: %w", err)
		}
		file := domain.File{MimeType: mimeType, Name: in.Name, URI: uri}
		if data != nil {
			file.ThumbnailURI = l.uploadThumbnail(ctx, key, data)
		}
		commonlog.Infof("event=halo_file_upload action=upload status=ok room_id=%s key=%s bytes=%d", in.RoomID, key, size)
		return domain.FileContent{Type: category, File: file, Caption: blankToNil(in.Caption)}, nil
	})
}

func (l *MessageLedger) uploadThumbnail(ctx context.Context, key string, data []byte) *string {
	thumb, err := makeThumbnail(data)
	if err != nil {
		commonlog.Warnf("event=halo_thumbnail action=create key=%s status=failed err=%v", key, err)
		return nil
	}
	uri, err := l.blobs.Upload(ctx, thumbnailPath(key), bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg")
	if err != nil {
		commonlog.Warnf("event=halo_thumbnail action=upload key=%s status=failed err=%v", key, err)
		return nil
	}
	return &uri
}

// SendFileMessageFromURL stores a message pointing at an already hosted file.
func (l *MessageLedger) SendFileMessageFromURL(ctx context.Context, caller domain.Identity, in domain.SendFileMessageFromURL) (domain.Message, error) {
	const op = "sendFileMessageFromUrl"
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Message{}, err
	}
	if strings.TrimSpace(in.File.URI) == "" {
		return domain.Message{}, domain.NewInvariant(op, domain.ReasonInvalidArgument, "file uri is required")
	}
	file := in.File
	if strings.TrimSpace(file.MimeType) == "" {
		file.MimeType = "application/octet-stream"
	}
	if strings.TrimSpace(file.Name) == "" {
		file.Name = sanitizeName(file.URI)
	}
	return l.send(ctx, caller, in.RoomID, in.ClientMessageID, in.Metadata, func(ctx context.Context, _ string) (domain.Content, error) {
		return domain.FileContent{Type: domain.ContentTypeForMIME(file.MimeType), File: file, Caption: blankToNil(in.Caption)}, nil
	})
}

func (l *MessageLedger) SendSurveyMessage(ctx context.Context, caller domain.Identity, in domain.SendSurveyMessage) (domain.Message, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Message{}, err
	}
	survey := normalizeSurvey(in.Survey)
	if err := survey.Validate(); err != nil {
		return domain.Message{}, domain.NewInvariant("sendSurveyMessage", domain.ReasonInvalidArgument, err.Error())
	}
	return l.send(ctx, caller, in.RoomID, in.ClientMessageID, in.Metadata, func(ctx context.Context, _ string) (domain.Content, error) {
		return domain.SurveyContent{Survey: survey}, nil
	})
}

// send is the shared path of every send variant: idempotency claim, content
// build, then the message + preview transaction.
func (l *MessageLedger) send(ctx context.Context, caller domain.Identity, roomID, clientMessageID string, metadata map[string]any, build func(ctx context.Context, messageID string) (domain.Content, error)) (domain.Message, error) {
	const op = "sendMessage"
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return domain.Message{}, domain.NewInvariant(op, domain.ReasonInvalidArgument, "room id is required")
	}

	guardKey := ""
	if clientMessageID = strings.TrimSpace(clientMessageID); clientMessageID != "" {
		guardKey = sendGuardKey(roomID, caller.ID, clientMessageID)
		existingID, claimed, err := l.guard.Claim(ctx, guardKey, sendGuardTTL)
		if err != nil {
			return domain.Message{}, fmt.Errorf("claim client message id: %w", err)
		}
		if !claimed {
			if existingID == "" {
				return domain.Message{}, domain.NewInvariant(op, domain.ReasonAlreadyExists, "a send with this client message id is in progress")
			}
			commonlog.Infof("event=halo_message_send action=dedup status=ok room_id=%s message_id=%s client_msg_id=%s", roomID, existingID, clientMessageID)
			return l.messages.Get(ctx, roomID, existingID)
		}
	}

	msg, err := l.write(ctx, caller, roomID, metadata, build)
	if err != nil {
		if guardKey != "" {
			if relErr := l.guard.Release(context.WithoutCancel(ctx), guardKey); relErr != nil {
				commonlog.Warnf("event=halo_message_send action=release_guard key=%s status=failed err=%v", guardKey, relErr)
			}
		}
		return domain.Message{}, err
	}
	if guardKey != "" {
		if err := l.guard.Complete(ctx, guardKey, msg.ID, sendGuardTTL); err != nil {
			commonlog.Warnf("event=halo_message_send action=complete_guard key=%s status=failed err=%v", guardKey, err)
		}
	}
	commonlog.Infof("event=halo_message_send action=create status=ok room_id=%s message_id=%s type=%s sender=%s", roomID, msg.ID, msg.ContentType(), caller.ID)
	emit(ctx, l.publisher, Event{Type: EventMessageCreated, RoomID: roomID, ActorID: caller.ID, OccurredAt: *msg.CreatedAt, Data: msg})
	return msg, nil
}

func (l *MessageLedger) write(ctx context.Context, caller domain.Identity, roomID string, metadata map[string]any, build func(ctx context.Context, messageID string) (domain.Content, error)) (domain.Message, error) {
	messageID := l.newID()
	content, err := build(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	now := l.now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}
	msg := domain.Message{
		ID:        messageID,
		Room:      roomID,
		CreatedBy: caller.ID,
		CreatedAt: &now,
		UpdatedAt: now,
		Content:   content,
		Metadata:  metadata,
		ReadBy:    []string{},
	}
	if err := l.messages.Append(ctx, msg, func(room domain.Room) error {
		return authorizeSender("sendMessage", caller, room)
	}); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func authorizeSender(op string, caller domain.Identity, room domain.Room) error {
	if !room.IsParticipant(caller.ID) {
		return &domain.ForbiddenError{Op: op, Actor: caller.ID, Detail: "post to room " + room.ID}
	}
	return nil
}

func authorizeReader(op string, caller domain.Identity, room domain.Room) error {
	if !room.IsParticipant(caller.ID) {
		return &domain.ForbiddenError{Op: op, Actor: caller.ID, Detail: "read room " + room.ID}
	}
	return nil
}

// UpdateSurvey replaces the poll of a SURVEY message. The author may replace
// all of it, closed or not. Other participants only cast votes on an open
// survey: their own entries are taken from survey and the rest stays as stored.
func (l *MessageLedger) UpdateSurvey(ctx context.Context, caller domain.Identity, roomID, messageID string, survey domain.Survey) (domain.Message, error) {
	const op = "updateSurvey"
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Message{}, err
	}
	survey = normalizeSurvey(survey)
	if err := survey.Validate(); err != nil {
		return domain.Message{}, domain.NewInvariant(op, domain.ReasonInvalidArgument, err.Error())
	}
	msg, err := l.messages.ReplaceSurvey(ctx, roomID, messageID, l.now(), func(stored domain.Message, room domain.Room) (domain.Survey, error) {
		current, ok := stored.Survey()
		if !ok {
			return domain.Survey{}, domain.NewInvariant(op, domain.ReasonWrongContentType, string(stored.ContentType()))
		}
		if stored.Deleted {
			return domain.Survey{}, domain.NewNotFound(domain.KindMessage, messageID)
		}
		if err := authorizeSender(op, caller, room); err != nil {
			return domain.Survey{}, err
		}
		if stored.CreatedBy == caller.ID {
			return survey, nil
		}
		if current.Closed {
			return domain.Survey{}, domain.NewInvariant(op, domain.ReasonSurveyClosed, messageID)
		}
		return castVotes(op, caller, current, survey)
	})
	if err != nil {
		return domain.Message{}, err
	}
	emit(ctx, l.publisher, Event{Type: EventSurveyUpdated, RoomID: roomID, ActorID: caller.ID, OccurredAt: msg.UpdatedAt, Data: msg})
	return msg, nil
}

// GetRoomMedia scans the whole ledger of a room and projects the messages
// whose content type is in types, newest first.
func (l *MessageLedger) GetRoomMedia(ctx context.Context, caller domain.Identity, roomID string, types []domain.ContentType) ([]domain.MediaInfo, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return nil, err
	}
	room, err := l.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := authorizeReader("getRoomMedia", caller, room); err != nil {
		return nil, err
	}
	msgs, err := l.messages.List(ctx, roomID)
	if err != nil {
		return nil, err
	}
	msgs = slices.DeleteFunc(msgs, func(m domain.Message) bool {
		if !slices.Contains(types, m.ContentType()) {
			return true
		}
		_, isFile := m.File()
		return !isFile
	})
	sortNewestFirst(msgs)

	out := make([]domain.MediaInfo, 0, len(msgs))
	for _, m := range msgs {
		file, _ := m.File()
		out = append(out, domain.MediaInfo{MessageID: m.ID, CreatedBy: m.CreatedBy, File: file})
	}
	return out, nil
}

// ReadMessage adds the caller to readBy. Repeated reads leave a single entry.
func (l *MessageLedger) ReadMessage(ctx context.Context, caller domain.Identity, roomID, messageID string) error {
	if err := domain.RequireIdentity(caller); err != nil {
		return err
	}
	return l.messages.MarkRead(ctx, roomID, messageID, caller.ID)
}

// DeleteMessage soft deletes a message. Only its author may do so.
func (l *MessageLedger) DeleteMessage(ctx context.Context, caller domain.Identity, roomID, messageID string) (domain.Message, error) {
	const op = "deleteMessage"
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Message{}, err
	}
	msg, err := l.messages.SoftDelete(ctx, roomID, messageID, l.now(), func(m domain.Message) error {
		if m.CreatedBy != caller.ID {
			return &domain.ForbiddenError{Op: op, Actor: caller.ID, Detail: "delete message " + messageID}
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	commonlog.Infof("event=halo_message_delete action=soft_delete status=ok room_id=%s message_id=%s", roomID, messageID)
	emit(ctx, l.publisher, Event{Type: EventMessageDeleted, RoomID: roomID, ActorID: caller.ID, OccurredAt: msg.UpdatedAt, Data: map[string]string{"messageId": messageID}})
	return msg, nil
}

// castVotes applies only the caller's votes from submitted onto current. The
// question, flags and options must be unchanged.
func castVotes(op string, caller domain.Identity, current, submitted domain.Survey) (domain.Survey, error) {
	forbidden := &domain.ForbiddenError{Op: op, Actor: caller.ID, Detail: "edit a survey they did not create"}
	if submitted.Question != current.Question ||
		submitted.MultipleChoice != current.MultipleChoice ||
		submitted.Closed != current.Closed ||
		len(submitted.Options) != len(current.Options) {
		return domain.Survey{}, forbidden
	}
	next := current
	next.Options = make([]domain.SurveyOption, 0, len(current.Options))
	for i, opt := range current.Options {
		in := submitted.Options[i]
		if in.ID != opt.ID || in.Text != opt.Text {
			return domain.Survey{}, forbidden
		}
		votes := make([]string, 0, len(opt.Votes)+1)
		for _, v := range opt.Votes {
			if v != caller.ID {
				votes = append(votes, v)
			}
		}
		if slices.Contains(in.Votes, caller.ID) {
			votes = append(votes, caller.ID)
		}
		next.Options = append(next.Options, domain.SurveyOption{ID: opt.ID, Text: opt.Text, Votes: votes})
	}
	if err := next.Validate(); err != nil {
		return domain.Survey{}, domain.NewInvariant(op, domain.ReasonInvalidArgument, err.Error())
	}
	return next, nil
}

func normalizeSurvey(s domain.Survey) domain.Survey {
	out := s
	out.Question = strings.TrimSpace(s.Question)
	out.Options = make([]domain.SurveyOption, 0, len(s.Options))
	for _, opt := range s.Options {
		votes := dedupe(opt.Votes)
		out.Options = append(out.Options, domain.SurveyOption{ID: opt.ID, Text: opt.Text, Votes: votes})
	}
	return out
}

// sortNewestFirst orders by createdAt descending, ties by id descending.
// Messages without a timestamp sort last.
func sortNewestFirst(msgs []domain.Message) {
	slices.SortStableFunc(msgs, func(a, b domain.Message) int {
		switch {
		case a.CreatedAt == nil && b.CreatedAt == nil:
		case a.CreatedAt == nil:
			return 1
		case b.CreatedAt == nil:
			return -1
		default:
			if c := b.CreatedAt.Compare(*a.CreatedAt); c != 0 {
				return c
			}
		}
		return strings.Compare(b.ID, a.ID)
	})
}
