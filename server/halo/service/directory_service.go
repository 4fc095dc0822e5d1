package service

import (
	"context"
	"strings"
	"time"

	"halo_server/server/common/infra/docstore"
	commonlog "halo_server/server/common/log"
	"halo_server/server/halo/domain"
	"halo_server/server/halo/repository"
)

// DirectoryService owns user and agent profiles. Both are keyed by the
// caller's identity: signing up creates the record for whoever is signed in.
type DirectoryService struct {
	users  *repository.UserRepository
	agents *repository.AgentRepository
	now    func() time.Time
}

func NewDirectoryService(users *repository.UserRepository, agents *repository.AgentRepository) *DirectoryService {
	return &DirectoryService{users: users, agents: agents, now: time.Now}
}

func (s *DirectoryService) GetUser(ctx context.Context, caller domain.Identity, userID string) (domain.User, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, domain.NewInvariant("getUser", domain.ReasonInvalidArgument, "user id is required")
	}
	return s.users.Get(ctx, userID)
}

func (s *DirectoryService) CreateUser(ctx context.Context, caller domain.Identity, profile domain.Profile) (domain.User, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.User{}, err
	}
	if err := validateProfile("createUser", profile); err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:        caller.ID,
		FirstName: strings.TrimSpace(profile.FirstName),
		LastName:  strings.TrimSpace(profile.LastName),
		Nickname:  profile.Nickname,
		Image:     profile.Image,
		CreatedAt: s.now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return domain.User{}, err
	}
	commonlog.Infof("event=halo_user_create action=create status=ok user_id=%s", u.ID)
	return u, nil
}

// UpdateUser patches the caller's profile and returns the stored record.
func (s *DirectoryService) UpdateUser(ctx context.Context, caller domain.Identity, patch domain.ProfilePatch) (domain.User, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.User{}, err
	}
	if patch.Empty() {
		return domain.User{}, domain.NewInvariant("updateUser", domain.ReasonInvalidArgument, "nothing to update")
	}
	if err := s.users.Update(ctx, caller.ID, patch); err != nil {
		return domain.User{}, err
	}
	return s.users.Get(ctx, caller.ID)
}

// UpdateUserDeviceToken sets the push token; nil clears it.
func (s *DirectoryService) UpdateUserDeviceToken(ctx context.Context, caller domain.Identity, token *string) (domain.User, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.User{}, err
	}
	if err := s.users.SetDeviceToken(ctx, caller.ID, blankToNil(token)); err != nil {
		return domain.User{}, err
	}
	return s.users.Get(ctx, caller.ID)
}

// FetchUsers streams the full user directory until the subscription is
// stopped.
func (s *DirectoryService) FetchUsers(ctx context.Context, caller domain.Identity, onUpdate func([]domain.UserDetails), onErr func(error)) (docstore.Subscription, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return nil, err
	}
	live := newLiveSubscription(onErr)
	sub, err := s.users.WatchAll(context.WithoutCancel(ctx), func(users []domain.User) {
		details := make([]domain.UserDetails, 0, len(users))
		for _, u := range users {
			details = append(details, u.Details())
		}
		live.deliver(func() { onUpdate(details) })
	}, live.fail)
	if err != nil {
		return nil, err
	}
	live.attach(sub)
	return live, nil
}

func (s *DirectoryService) GetAgent(ctx context.Context, caller domain.Identity, agentID string) (domain.Agent, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Agent{}, err
	}
	if strings.TrimSpace(agentID) == "" {
		return domain.Agent{}, domain.NewInvariant("getAgent", domain.ReasonInvalidArgument, "agent id is required")
	}
	return s.agents.Get(ctx, agentID)
}

func (s *DirectoryService) CreateAgent(ctx context.Context, caller domain.Identity, profile domain.Profile, tags []string) (domain.Agent, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Agent{}, err
	}
	if err := validateProfile("createAgent", profile); err != nil {
		return domain.Agent{}, err
	}
	a := domain.Agent{
		ID:        caller.ID,
		FirstName: strings.TrimSpace(profile.FirstName),
		LastName:  strings.TrimSpace(profile.LastName),
		Nickname:  profile.Nickname,
		Image:     profile.Image,
		CreatedAt: s.now().UTC(),
		Tags:      dedupe(trimAll(tags)),
	}
	if err := s.agents.Create(ctx, a); err != nil {
		return domain.Agent{}, err
	}
	commonlog.Infof("event=halo_agent_create action=create status=ok agent_id=%s tags=%v", a.ID, a.Tags)
	return a, nil
}

func (s *DirectoryService) UpdateAgent(ctx context.Context, caller domain.Identity, patch domain.AgentPatch) (domain.Agent, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Agent{}, err
	}
	if patch.Empty() {
		return domain.Agent{}, domain.NewInvariant("updateAgent", domain.ReasonInvalidArgument, "nothing to update")
	}
	if patch.Tags != nil {
		patch.Tags = dedupe(trimAll(patch.Tags))
	}
	if err := s.agents.Update(ctx, caller.ID, patch); err != nil {
		return domain.Agent{}, err
	}
	return s.agents.Get(ctx, caller.ID)
}

func (s *DirectoryService) UpdateAgentDeviceToken(ctx context.Context, caller domain.Identity, token *string) (domain.Agent, error) {
	if err := domain.RequireIdentity(caller); err != nil {
		return domain.Agent{}, err
	}
	if err := s.agents.SetDeviceToken(ctx, caller.ID, blankToNil(token)); err != nil {
		return domain.Agent{}, err
	}
	return s.agents.Get(ctx, caller.ID)
}

func validateProfile(op string, p domain.Profile) error {
	if strings.TrimSpace(p.FirstName) == "" {
		return domain.NewInvariant(op, domain.ReasonInvalidArgument, "firstName is required")
	}
	if strings.TrimSpace(p.LastName) == "" {
		return domain.NewInvariant(op, domain.ReasonInvalidArgument, "lastName is required")
	}
	return nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
