package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo_server/server/halo/domain"
)

func TestSendTextUpdatesPreview(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob", "carol")
	room := f.groupRoom(t, "alice", "bob", "carol")

	msg := f.sendText(t, "bob", room.ID, "hello")
	assert.Equal(t, domain.ContentText, msg.ContentType())
	assert.Equal(t, "bob", msg.CreatedBy)
	require.NotNil(t, msg.CreatedAt)
	assert.Empty(t, msg.ReadBy)
	assert.False(t, msg.Deleted)

	details, err := f.rooms.GetRoomDetails(context.Background(), domain.NewIdentity("alice"), room.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, details.LastMessage.ID)
	assert.Equal(t, "hello", details.LastMessage.Text)
	assert.Equal(t, "bob", details.LastMessage.SentBy)
	assert.Equal(t, domain.ContentText, details.LastMessage.Type)
	assert.True(t, details.LastMessage.SentAt.Equal(*msg.CreatedAt))

	stored, err := f.msgRepo.Get(context.Background(), room.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, stored.ID)
	assert.Contains(t, f.events.keys(), EventMessageCreated)
}

func TestSendRequiresActiveParticipant(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob", "carol", "mallory")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob", "carol")

	_, err := f.ledger.SendTextMessage(ctx, domain.NewIdentity("mallory"), domain.SendTextMessage{RoomID: room.ID, Text: "hi"})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.rooms.RemoveUser(ctx, domain.NewIdentity("alice"), "carol", room.ID)
	require.NoError(t, err)
	_, err = f.ledger.SendTextMessage(ctx, domain.NewIdentity("carol"), domain.SendTextMessage{RoomID: room.ID, Text: "still here?"})
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.ledger.SendTextMessage(ctx, domain.NewIdentity("alice"), domain.SendTextMessage{RoomID: "missing", Text: "hi"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.ledger.SendTextMessage(ctx, domain.NewIdentity("alice"), domain.SendTextMessage{RoomID: room.ID, Text: "  "})
	require.ErrorIs(t, err, domain.ErrInvariant)

	_, err = f.ledger.SendTextMessage(ctx, domain.Identity{}, domain.SendTextMessage{RoomID: room.ID, Text: "hi"})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	msgs, err := f.msgRepo.List(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	details, err := f.rooms.GetRoomDetails(ctx, domain.NewIdentity("alice"), room.ID)
	require.NoError(t, err)
	assert.True(t, details.LastMessage.IsSentinel())
}

func TestAgentCanPostToItsRoom(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice")
	f.seedAgent(t, "agent-1", "billing")
	ctx := context.Background()

	room, err := f.rooms.CreateRoomForAgents(ctx, domain.NewIdentity("alice"), "billing")
	require.NoError(t, err)
	_, err = f.rooms.JoinAgent(ctx, domain.NewIdentity("alice"), "agent-1", room.ID)
	require.NoError(t, err)

	msg := f.sendText(t, "agent-1", room.ID, "how can I help?")
	assert.Equal(t, "agent-1", msg.CreatedBy)
}

func TestRoomReadsRequireParticipant(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob", "carol", "mallory")
	f.seedAgent(t, "agent-1", "billing")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob", "carol")
	f.sendText(t, "bob", room.ID, "members only")
	_, err := f.rooms.RemoveUser(ctx, domain.NewIdentity("alice"), "carol", room.ID)
	require.NoError(t, err)

	for _, outsider := range []string{"mallory", "carol"} {
		who := domain.NewIdentity(outsider)
		_, err = f.rooms.GetRoomDetails(ctx, who, room.ID)
		require.ErrorIs(t, err, domain.ErrForbidden, outsider)
		_, err = f.ledger.GetRoomMedia(ctx, who, room.ID, []domain.ContentType{domain.ContentImage})
		require.ErrorIs(t, err, domain.ErrForbidden, outsider)
		_, err = f.ledger.FetchMessages(ctx, who, room.ID, func([]domain.Message) {}, nil)
		require.ErrorIs(t, err, domain.ErrForbidden, outsider)
	}

	support, err := f.rooms.CreateRoomForAgents(ctx, domain.NewIdentity("alice"), "billing")
	require.NoError(t, err)
	_, err = f.rooms.GetRoomDetails(ctx, domain.NewIdentity("agent-1"), support.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.rooms.JoinAgent(ctx, domain.NewIdentity("alice"), "agent-1", support.ID)
	require.NoError(t, err)
	details, err := f.rooms.GetRoomDetails(ctx, domain.NewIdentity("agent-1"), support.ID)
	require.NoError(t, err)
	assert.Equal(t, support.ID, details.ID)
}

func TestSendWithClientMessageIDIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")
	in := domain.SendTextMessage{RoomID: room.ID, Text: "once", ClientMessageID: "c-1"}

	first, err := f.ledger.SendTextMessage(ctx, domain.NewIdentity("alice"), in)
	require.NoError(t, err)
	second, err := f.ledger.SendTextMessage(ctx, domain.NewIdentity("alice"), in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// the same client id from another sender is a different send
	other, err := f.ledger.SendTextMessage(ctx, domain.NewIdentity("bob"), in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	msgs, err := f.msgRepo.List(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestFailedSendReleasesClientMessageID(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")
	f.blobs.fail = errors.New("bucket unavailable")

	in := domain.SendFileMessage{RoomID: room.ID, Name: "a.txt", MimeType: "text/plain", Body: strings.NewReader("x"), Size: 1, ClientMessageID: "c-9"}
	_, err := f.ledger.SendFileMessage(ctx, domain.NewIdentity("alice"), in)
	require.Error(t, err)

	f.blobs.fail = nil
	in.Body = strings.NewReader("x")
	msg, err := f.ledger.SendFileMessage(ctx, domain.NewIdentity("alice"), in)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentCustom, msg.ContentType())
}

func TestSendFileMessageUploadsThenWrites(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")
	caption := " look "

	msg, err := f.ledger.SendFileMessage(ctx, domain.NewIdentity("alice"), domain.SendFileMessage{
		RoomID:   room.ID,
		Name:     "my photo.png",
		MimeType: "image/png",
		Body:     bytes.NewReader([]byte("not really a png")),
		Size:     16,
		Caption:  &caption,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ContentImage, msg.ContentType())

	file, ok := msg.File()
	require.True(t, ok)
	wantKey := "rooms/" + room.ID + "/image/" + msg.ID + "-my_photo.png"
	assert.Equal(t, "https://blobs.test/"+wantKey, file.URI)
	assert.Equal(t, "my photo.png", file.Name)
	assert.Nil(t, file.ThumbnailURI)
	assert.Equal(t, []string{wantKey}, f.blobs.keys())
	assert.Equal(t, "image/png", f.blobs.types[wantKey])

	content, ok := msg.Content.(domain.FileContent)
	require.True(t, ok)
	require.NotNil(t, content.Caption)
	assert.Equal(t, "look", *content.Caption)

	details, err := f.rooms.GetRoomDetails(ctx, domain.NewIdentity("alice"), room.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, details.LastMessage.ID)
	assert.Equal(t, domain.ContentImage, details.LastMessage.Type)
}

func TestSendFileMessageRejectsOutsidersBeforeUpload(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob", "mallory")
	room := f.groupRoom(t, "alice", "bob")

	_, err := f.ledger.SendFileMessage(context.Background(), domain.NewIdentity("mallory"), domain.SendFileMessage{
		RoomID: room.ID, Name: "x.bin", Body: strings.NewReader("x"), Size: 1,
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, f.blobs.keys())
}

func TestSendFileMessageUploadFailureWritesNothing(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")
	f.sendText(t, "alice", room.ID, "before")
	f.blobs.fail = errors.New("bucket unavailable")

	_, err := f.ledger.SendFileMessage(ctx, domain.NewIdentity("bob"), domain.SendFileMessage{
		RoomID: room.ID, Name: "clip.mp4", MimeType: "video/mp4", Body: strings.NewReader("x"), Size: 1,
	})
	require.Error(t, err)

	msgs, err := f.msgRepo.List(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	details, err := f.rooms.GetRoomDetails(ctx, domain.NewIdentity("alice"), room.ID)
	require.NoError(t, err)
	assert.Equal(t, "before", details.LastMessage.Text)
}

func TestSendFileMessageWithThumbnail(t *testing.T) {
	f := newFixture(t, fixtureConfig{thumbnails: true})
	f.seedUsers(t, "alice", "bob")
	room := f.groupRoom(t, "alice", "bob")
	data := tinyPNG(t)

	msg, err := f.ledger.SendFileMessage(context.Background(), domain.NewIdentity("alice"), domain.SendFileMessage{
		RoomID: room.ID, Name: "pic.png", MimeType: "image/png", Body: bytes.NewReader(data), Size: int64(len(data)),
	})
	require.NoError(t, err)

	file, _ := msg.File()
	require.NotNil(t, file.ThumbnailURI)
	thumbKey := "rooms/" + room.ID + "/image/" + msg.ID + "-pic_thumb.jpg"
	assert.Equal(t, "https://blobs.test/"+thumbKey, *file.ThumbnailURI)
	assert.Equal(t, "image/jpeg", f.blobs.types[thumbKey])
	assert.Equal(t, data, f.blobs.objects["rooms/"+room.ID+"/image/"+msg.ID+"-pic.png"])
}

func TestSendFileMessageFromURL(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	room := f.groupRoom(t, "alice", "bob")

	msg, err := f.ledger.SendFileMessageFromURL(context.Background(), domain.NewIdentity("bob"), domain.SendFileMessageFromURL{
		RoomID: room.ID,
		File:   domain.File{MimeType: "video/mp4", URI: "https://cdn.test/clips/intro.mp4"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ContentVideo, msg.ContentType())
	file, _ := msg.File()
	assert.Equal(t, "intro.mp4", file.Name)
	assert.Empty(t, f.blobs.keys())

	_, err = f.ledger.SendFileMessageFromURL(context.Background(), domain.NewIdentity("bob"), domain.SendFileMessageFromURL{RoomID: room.ID})
	require.ErrorIs(t, err, domain.ErrInvariant)
}

func TestReadMessageIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")
	msg := f.sendText(t, "bob", room.ID, "read me")

	require.NoError(t, f.ledger.ReadMessage(ctx, domain.NewIdentity("alice"), room.ID, msg.ID))
	require.NoError(t, f.ledger.ReadMessage(ctx, domain.NewIdentity("alice"), room.ID, msg.ID))

	stored, err := f.msgRepo.Get(ctx, room.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, stored.ReadBy)

	err = f.ledger.ReadMessage(ctx, domain.NewIdentity("alice"), room.ID, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteMessageOnlyByAuthor(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")
	msg := f.sendText(t, "bob", room.ID, "mine")

	_, err := f.ledger.DeleteMessage(ctx, domain.NewIdentity("alice"), room.ID, msg.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	stored, err := f.msgRepo.Get(ctx, room.ID, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Deleted)

	deleted, err := f.ledger.DeleteMessage(ctx, domain.NewIdentity("bob"), room.ID, msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	stored, err = f.msgRepo.Get(ctx, room.ID, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
	assert.Contains(t, f.events.keys(), EventMessageDeleted)
}

func TestDeletePreviewFallsBack(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")

	first := f.sendText(t, "alice", room.ID, "first")
	second := f.sendText(t, "bob", room.ID, "second")

	_, err := f.ledger.DeleteMessage(ctx, domain.NewIdentity("bob"), room.ID, second.ID)
	require.NoError(t, err)
	details, err := f.rooms.GetRoomDetails(ctx, domain.NewIdentity("alice"), room.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, details.LastMessage.ID)
	assert.Equal(t, "first", details.LastMessage.Text)
	assert.Equal(t, "alice", details.LastMessage.SentBy)

	_, err = f.ledger.DeleteMessage(ctx, domain.NewIdentity("alice"), room.ID, first.ID)
	require.NoError(t, err)
	details, err = f.rooms.GetRoomDetails(ctx, domain.NewIdentity("alice"), room.ID)
	require.NoError(t, err)
	assert.True(t, details.LastMessage.IsSentinel())
	assert.True(t, details.LastMessage.SentAt.Equal(*first.CreatedAt))
}

func TestDeleteOlderMessageKeepsPreview(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")

	first := f.sendText(t, "alice", room.ID, "first")
	second := f.sendText(t, "bob", room.ID, "second")

	_, err := f.ledger.DeleteMessage(ctx, domain.NewIdentity("alice"), room.ID, first.ID)
	require.NoError(t, err)
	details, err := f.rooms.GetRoomDetails(ctx, domain.NewIdentity("alice"), room.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, details.LastMessage.ID)
}

func sampleSurvey() domain.Survey {
	return domain.Survey{
		Question: "Lunch?",
		Options: []domain.SurveyOption{
			{ID: "pizza", Text: "Pizza"},
			{ID: "sushi", Text: "Sushi"},
		},
	}
}

func TestSurveyLifecycle(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob", "mallory")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")

	msg, err := f.ledger.SendSurveyMessage(ctx, domain.NewIdentity("alice"), domain.SendSurveyMessage{RoomID: room.ID, Survey: sampleSurvey()})
	require.NoError(t, err)
	assert.Equal(t, domain.ContentSurvey, msg.ContentType())

	edit := sampleSurvey()
	edit.Question = "Lunch today?"
	_, err = f.ledger.UpdateSurvey(ctx, domain.NewIdentity("alice"), room.ID, msg.ID, edit)
	require.NoError(t, err)

	details, err := f.rooms.GetRoomDetails(ctx, domain.NewIdentity("alice"), room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lunch today?", details.LastMessage.Text)

	vote := edit
	vote.Options = []domain.SurveyOption{{ID: "pizza", Text: "Pizza"}, {ID: "sushi", Text: "Sushi", Votes: []string{"bob", "bob"}}}
	updated, err := f.ledger.UpdateSurvey(ctx, domain.NewIdentity("bob"), room.ID, msg.ID, vote)
	require.NoError(t, err)
	survey, ok := updated.Survey()
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, survey.Options[1].Votes)

	_, err = f.ledger.UpdateSurvey(ctx, domain.NewIdentity("mallory"), room.ID, msg.ID, vote)
	require.ErrorIs(t, err, domain.ErrForbidden)

	closed := survey
	closed.Closed = true
	_, err = f.ledger.UpdateSurvey(ctx, domain.NewIdentity("alice"), room.ID, msg.ID, closed)
	require.NoError(t, err)

	_, err = f.ledger.UpdateSurvey(ctx, domain.NewIdentity("bob"), room.ID, msg.ID, vote)
	var inv *domain.InvariantError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, domain.ReasonSurveyClosed, inv.Reason)
	assert.Contains(t, f.events.keys(), EventSurveyUpdated)
}

func TestSurveyParticipantsOnlyCastTheirOwnVotes(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob", "carol")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob", "carol")

	msg, err := f.ledger.SendSurveyMessage(ctx, domain.NewIdentity("alice"), domain.SendSurveyMessage{RoomID: room.ID, Survey: sampleSurvey()})
	require.NoError(t, err)

	votesOf := func(m domain.Message) [][]string {
		s, ok := m.Survey()
		require.True(t, ok)
		out := make([][]string, 0, len(s.Options))
		for _, opt := range s.Options {
			out = append(out, opt.Votes)
		}
		return out
	}
	update := func(who string, survey domain.Survey) (domain.Message, error) {
		return f.ledger.UpdateSurvey(ctx, domain.NewIdentity(who), room.ID, msg.ID, survey)
	}

	ballot := sampleSurvey()
	ballot.Options[0].Votes = []string{"bob"}
	got, err := update("bob", ballot)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"bob"}, {}}, votesOf(got))

	// a stale copy without bob's vote, trying to vote on bob's behalf
	ballot = sampleSurvey()
	ballot.Options[1].Votes = []string{"carol", "bob"}
	got, err = update("carol", ballot)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"bob"}, {"carol"}}, votesOf(got))

	ballot = sampleSurvey()
	ballot.Options[1].Votes = []string{"bob"}
	got, err = update("bob", ballot)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{}, {"carol", "bob"}}, votesOf(got))

	reworded := sampleSurvey()
	reworded.Question = "Dinner?"
	_, err = update("carol", reworded)
	require.ErrorIs(t, err, domain.ErrForbidden)

	renamed := sampleSurvey()
	renamed.Options[0].Text = "Tacos"
	_, err = update("carol", renamed)
	require.ErrorIs(t, err, domain.ErrForbidden)

	closing := sampleSurvey()
	closing.Closed = true
	_, err = update("carol", closing)
	require.ErrorIs(t, err, domain.ErrForbidden)

	both := sampleSurvey()
	both.Options[0].Votes = []string{"carol"}
	both.Options[1].Votes = []string{"carol"}
	_, err = update("carol", both)
	require.ErrorIs(t, err, domain.ErrInvariant)

	stored, err := f.msgRepo.Get(ctx, room.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{}, {"carol", "bob"}}, votesOf(stored))
}

func TestUpdateSurveyRejectsOtherContent(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")
	text := f.sendText(t, "alice", room.ID, "not a poll")

	_, err := f.ledger.UpdateSurvey(ctx, domain.NewIdentity("alice"), room.ID, text.ID, sampleSurvey())
	var inv *domain.InvariantError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, domain.ReasonWrongContentType, inv.Reason)

	bad := sampleSurvey()
	bad.Options = bad.Options[:1]
	_, err = f.ledger.SendSurveyMessage(ctx, domain.NewIdentity("alice"), domain.SendSurveyMessage{RoomID: room.ID, Survey: bad})
	require.ErrorIs(t, err, domain.ErrInvariant)

	_, err = f.ledger.UpdateSurvey(ctx, domain.NewIdentity("alice"), room.ID, "missing", sampleSurvey())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetRoomMediaFiltersAndOrders(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	f.seedUsers(t, "alice", "bob")
	ctx := context.Background()
	room := f.groupRoom(t, "alice", "bob")

	sendURL := func(sender, mime, uri string) domain.Message {
		msg, err := f.ledger.SendFileMessageFromURL(ctx, domain.NewIdentity(sender), domain.SendFileMessageFromURL{
			RoomID: room.ID, File: domain.File{MimeType: mime, URI: uri},
		})
		require.NoError(t, err)
		return msg
	}
	img1 := sendURL("alice", "image/jpeg", "https://cdn.test/1.jpg")
	f.sendText(t, "bob", room.ID, "nice")
	vid := sendURL("bob", "video/mp4", "https://cdn.test/2.mp4")
	sendURL("bob", "audio/mpeg", "https://cdn.test/3.mp3")
	img2 := sendURL("bob", "image/png", "https://cdn.test/4.png")

	media, err := f.ledger.GetRoomMedia(ctx, domain.NewIdentity("alice"), room.ID, []domain.ContentType{domain.ContentImage, domain.ContentVideo, domain.ContentText})
	require.NoError(t, err)
	ids := make([]string, 0, len(media))
	for _, m := range media {
		ids = append(ids, m.MessageID)
	}
	assert.Equal(t, []string{img2.ID, vid.ID, img1.ID}, ids)
	assert.Equal(t, "alice", media[2].CreatedBy)
	assert.Equal(t, "https://cdn.test/1.jpg", media[2].File.URI)

	_, err = f.ledger.GetRoomMedia(ctx, domain.NewIdentity("alice"), "missing", []domain.ContentType{domain.ContentImage})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
