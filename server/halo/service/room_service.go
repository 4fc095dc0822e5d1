package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	commonlog "halo_server/server/common/log"
	"halo_server/server/halo/domain"
	"halo_server/server/halo/repository"
)

const DefaultRoomsPageSize = 10

type RoomService struct {
	rooms     *repository.RoomRepository
	users     *repository.UserRepository
	agents    *repository.AgentRepository
	resolver  *IdentityResolver
	publisher EventPublisher
	pageSize  int
	inLimit   int
	now       func() time.Time
	newID     func() string
}

type RoomServiceOption func(*RoomService)

func WithRoomsPageSize(n int) RoomServiceOption {
	return func(s *RoomService) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithRoomEvents(p EventPublisher) RoomServiceOption {
	return func(s *RoomService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func NewRoomService(rooms *repository.RoomRepository, users *repository.UserRepository, agents *repository.AgentRepository, resolver *IdentityResolver, inLimit int, opts ...RoomServiceOption) *RoomService {
	s := &RoomService{
		rooms:     rooms,
		users:     users,
		agents:    agents,
		resolver:  resolver,
		publisher: NopPublisher(),
		pageSize:  DefaultRoomsPageSize,
		inLimit:   inLimit,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RoomService) GetRoomDetails(ctx context.Context, caller domain.Identity, roomID string) (domain.RoomDetails, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.RoomDetails{}, err
	}
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return domain.RoomDetails{}, err
	}
	if err := authorizeReader("getRoomDetails", caller, room); err != nil {
		return domain.RoomDetails{}, err
	}
	return s.hydrateOne(ctx, room)
}

// CreateRoomWithUsers creates a PRIVATE or GROUP room with the caller
// prepended to memberIDs. A PRIVATE room between the same two users is
// returned instead of creating a second one. That lookup is not
// transactional: two callers racing from both sides can each create a room.
func (s *RoomService) CreateRoomWithUsers(ctx context.Context, caller domain.Identity, memberIDs []string, scope domain.Scope, name *string) (domain.RoomDetails, error) {
	const op = "createRoomWithUsers"
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.RoomDetails{}, err
	}
	if scope != domain.ScopePrivate && scope != domain.ScopeGroup {
		return domain.RoomDetails{}, domain.NewInvariant(op, domain.ReasonWrongScope, string(scope))
	}
	members := slices.DeleteFunc(dedupe(trimAll(memberIDs)), func(id string) bool { return id == caller.ID })
	if len(members) == 0 {
		return domain.RoomDetails{}, domain.NewInvariant(op, domain.ReasonEmptyMembers, "")
	}
	name = blankToNil(name)
	switch scope {
	case domain.ScopePrivate:
		if len(members) != 1 {
			return domain.RoomDetails{}, domain.NewInvariant(op, domain.ReasonPrivateRoomSize, "")
		}
		existing, found, err := s.findPrivateRoom(ctx, caller.ID, members[0])
		if err != nil {
			return domain.RoomDetails{}, err
		}
		if found {
			commonlog.Infof("event=halo_room_create action=dedup status=ok room_id=%s user_id=%s target_id=%s", existing.ID, caller.ID, members[0])
			return s.hydrateOne(ctx, existing)
		}
	case domain.ScopeGroup:
		if name == nil {
			return domain.RoomDetails{}, domain.NewInvariant(op, domain.ReasonInvalidArgument, "group rooms need a name")
		}
	}

	usersIDs := append([]string{caller.ID}, members...)
	users, err := s.requireUsers(ctx, usersIDs)
	if err != nil {
		return domain.RoomDetails{}, err
	}
	now := s.now().UTC()
	room := domain.Room{
		ID:              s.newID(),
		Scope:           scope,
		Name:            name,
		CreatedBy:       caller.ID,
		CreatedAt:       now,
		UsersIDs:        usersIDs,
		RemovedUsersIDs: []string{},
		Metadata:        map[string]any{},
		LastMessage:     domain.SentinelPreview(now),
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return domain.RoomDetails{}, err
	}
	commonlog.Infof("event=halo_room_create action=create status=ok room_id=%s scope=%s members=%d", room.ID, room.Scope, len(room.UsersIDs))
	emit(ctx, s.publisher, Event{Type: EventRoomCreated, RoomID: room.ID, ActorID: caller.ID, OccurredAt: now, Data: room})
	return domain.RoomDetails{Room: room, Users: users, Agents: []domain.AgentDetails{}}, nil
}

func (s *RoomService) findPrivateRoom(ctx context.Context, callerID, targetID string) (domain.Room, bool, error) {
	rooms, err := s.rooms.FindPrivateRooms(ctx, callerID)
	if err != nil {
		return domain.Room{}, false, err
	}
	for _, r := range rooms {
		if r.HasActiveUser(targetID) {
			return r, true, nil
		}
	}
	return domain.Room{}, false, nil
}

// CreateRoomForAgents opens an AGENT room for the caller, addressed to the
// agents carrying tag. No deduplication.
func (s *RoomService) CreateRoomForAgents(ctx context.Context, caller domain.Identity, tag string) (domain.RoomDetails, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.RoomDetails{}, err
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return domain.RoomDetails{}, domain.NewInvariant("createRoomForAgents", domain.ReasonInvalidArgument, "tag is required")
	}
	users, err := s.requireUsers(ctx, []string{caller.ID})
	if err != nil {
		return domain.RoomDetails{}, err
	}
	now := s.now().UTC()
	room := domain.Room{
		ID:              s.newID(),
		Scope:           domain.ScopeAgent,
		Tag:             &tag,
		CreatedBy:       caller.ID,
		CreatedAt:       now,
		UsersIDs:        []string{caller.ID},
		RemovedUsersIDs: []string{},
		AgentsIDs:       []string{},
		Metadata:        map[string]any{},
		LastMessage:     domain.SentinelPreview(now),
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return domain.RoomDetails{}, err
	}
	commonlog.Infof("event=halo_room_create action=create status=ok room_id=%s scope=%s tag=%s", room.ID, room.Scope, tag)
	emit(ctx, s.publisher, Event{Type: EventRoomCreated, RoomID: room.ID, ActorID: caller.ID, OccurredAt: now, Data: room})
	return domain.RoomDetails{Room: room, Users: users, Agents: []domain.AgentDetails{}}, nil
}

// JoinUser adds userID to a GROUP room, reviving it from removedUsersIds if
// it was removed before.
func (s *RoomService) JoinUser(ctx context.Context, caller domain.Identity, userID, roomID string) (domain.RoomDetails, error) {
	const op = "joinUser"
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.RoomDetails{}, err
	}
	if _, err := s.users.Get(ctx, userID); err != nil {
		return domain.RoomDetails{}, err
	}
	room, err := s.rooms.MutateMembership(ctx, roomID, func(r domain.Room) (domain.Room, error) {
		if r.Scope != domain.ScopeGroup {
			return r, domain.NewInvariant(op, domain.ReasonWrongScope, string(r.Scope))
		}
		if r.HasActiveUser(userID) {
			return r, domain.NewInvariant(op, domain.ReasonAlreadyMember, userID)
		}
		r.RemovedUsersIDs = without(r.RemovedUsersIDs, userID)
		r.UsersIDs = append(slices.Clone(r.UsersIDs), userID)
		return r, nil
	})
	if err != nil {
		return domain.RoomDetails{}, err
	}
	commonlog.Infof("event=halo_room_membership action=join_user status=ok room_id=%s user_id=%s by=%s", room.ID, userID, caller.ID)
	emit(ctx, s.publisher, Event{Type: EventRoomUserJoined, RoomID: room.ID, ActorID: caller.ID, OccurredAt: s.now().UTC(), Data: map[string]string{"userId": userID}})
	return s.hydrateOne(ctx, room)
}

func (s *RoomService) JoinAgent(ctx context.Context, caller domain.Identity, agentID, roomID string) (domain.RoomDetails, error) {
	const op = "joinAgent"
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.RoomDetails{}, err
	}
	if _, err := s.agents.Get(ctx, agentID); err != nil {
		return domain.RoomDetails{}, err
	}
	room, err := s.rooms.MutateMembership(ctx, roomID, func(r domain.Room) (domain.Room, error) {
		if r.Scope != domain.ScopeAgent {
			return r, domain.NewInvariant(op, domain.ReasonWrongScope, string(r.Scope))
		}
		if r.HasAgent(agentID) {
			return r, domain.NewInvariant(op, domain.ReasonAlreadyMember, agentID)
		}
		r.AgentsIDs = append(slices.Clone(r.AgentsIDs), agentID)
		return r, nil
	})
	if err != nil {
		return domain.RoomDetails{}, err
	}
	commonlog.Infof("event=halo_room_membership action=join_agent status=ok room_id=%s agent_id=%s by=%s", room.ID, agentID, caller.ID)
	emit(ctx, s.publisher, Event{Type: EventRoomAgentJoin, RoomID: room.ID, ActorID: caller.ID, OccurredAt: s.now().UTC(), Data: map[string]string{"agentId": agentID}})
	return s.hydrateOne(ctx, room)
}

// RemoveUser moves userID to removedUsersIds. The id stays on the room so
// its past messages still resolve to an author.
func (s *RoomService) RemoveUser(ctx context.Context, caller domain.Identity, userID, roomID string) (domain.RoomDetails, error) {
	const op = "removeUser"
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.RoomDetails{}, err
	}
	room, err := s.rooms.MutateMembership(ctx, roomID, func(r domain.Room) (domain.Room, error) {
		if r.Scope != domain.ScopeGroup {
			return r, domain.NewInvariant(op, domain.ReasonWrongScope, string(r.Scope))
		}
		if !r.HasActiveUser(userID) {
			return r, domain.NewInvariant(op, domain.ReasonNotMember, userID)
		}
		r.UsersIDs = without(r.UsersIDs, userID)
		if !r.HasRemovedUser(userID) {
			r.RemovedUsersIDs = append(slices.Clone(r.RemovedUsersIDs), userID)
		}
		return r, nil
	})
	if err != nil {
		return domain.RoomDetails{}, err
	}
	commonlog.Infof("event=halo_room_membership action=remove_user status=ok room_id=%s user_id=%s by=%s", room.ID, userID, caller.ID)
	emit(ctx, s.publisher, Event{Type: EventRoomUserLeft, RoomID: room.ID, ActorID: caller.ID, OccurredAt: s.now().UTC(), Data: map[string]string{"userId": userID}})
	return s.hydrateOne(ctx, room)
}

// requireUsers resolves ids and fails with a not-found error naming the
// first id that has no user record.
func (s *RoomService) requireUsers(ctx context.Context, ids []string) ([]domain.UserDetails, error) {
	users, err := s.resolver.ResolveUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.UserDetails, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	ordered := make([]domain.UserDetails, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			return nil, domain.NewNotFound(domain.KindUser, id)
		}
		ordered = append(ordered, u)
	}
	return ordered, nil
}

func (s *RoomService) hydrateOne(ctx context.Context, room domain.Room) (domain.RoomDetails, error) {
	details, err := s.hydrate(ctx, []domain.Room{room})
	if err != nil {
		return domain.RoomDetails{}, err
	}
	return details[0], nil
}

// hydrate resolves every member and agent of rooms with one resolver pass
// per kind, then hands each room its own slice. Users cover usersIds and
// removedUsersIds.
func (s *RoomService) hydrate(ctx context.Context, rooms []domain.Room) ([]domain.RoomDetails, error) {
	var userIDs, agentIDs []string
	for _, r := range rooms {
		userIDs = append(userIDs, r.MemberIDs()...)
		agentIDs = append(agentIDs, r.AgentsIDs...)
	}

	var (
		users  []domain.UserDetails
		agents []domain.AgentDetails
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.resolver.ResolveUsers(gctx, userIDs)
		return err
	})
	g.Go(func() error {
		var err error
		agents, err = s.resolver.ResolveAgents(gctx, agentIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	userByID := make(map[string]domain.UserDetails, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}
	agentByID := make(map[string]domain.AgentDetails, len(agents))
	for _, a := range agents {
		agentByID[a.ID] = a
	}

	out := make([]domain.RoomDetails, 0, len(rooms))
	for _, r := range rooms {
		d := domain.RoomDetails{Room: r, Users: []domain.UserDetails{}, Agents: []domain.AgentDetails{}}
		for _, id := range dedupe(r.MemberIDs()) {
			if u, ok := userByID[id]; ok {
				d.Users = append(d.Users, u)
			}
		}
		for _, id := range dedupe(r.AgentsIDs) {
			if a, ok := agentByID[id]; ok {
				d.Agents = append(d.Agents, a)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func without(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
