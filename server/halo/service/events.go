package service

import (
	"context"
	"time"

	commonlog "halo_server/server/common/log"
)

const (
	EventRoomCreated    = "room.created"
	EventRoomUserJoined = "room.user_joined"
	EventRoomAgentJoin  = "room.agent_joined"
	EventRoomUserLeft   = "room.user_removed"
	EventMessageCreated = "message.created"
	EventMessageDeleted = "message.deleted"
	EventSurveyUpdated  = "survey.updated"
)

// Event is the envelope published after a write commits. Consumers such as
// push notification workers key off Type.
type Event struct {
	Type       string    `json:"type"`
	RoomID     string    `json:"roomId"`
	ActorID    string    `json:"actorId"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// NopPublisher drops every event.
func NopPublisher() EventPublisher {
	return nopPublisher{}
}

// emit publishes best effort. The write has already committed, so a broker
// outage is logged and never reported to the caller.
func emit(ctx context.Context, p EventPublisher, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(context.WithoutCancel(ctx), ev.Type, ev); err != nil {
		commonlog.Warnf("event=halo_event_publish action=%s room_id=%s status=failed err=%v", ev.Type, ev.RoomID, err)
	}
}
