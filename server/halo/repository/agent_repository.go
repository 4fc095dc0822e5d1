package repository

import (
	"context"
	"errors"
	"fmt"

	"halo_server/server/common/infra/docstore"
	"halo_server/server/halo/domain"
)

type AgentRepository struct {
	store docstore.Store
}

func NewAgentRepository(store docstore.Store) *AgentRepository {
	return &AgentRepository{store: store}
}

func (r *AgentRepository) Get(ctx context.Context, id string) (domain.Agent, error) {
	doc, err := r.store.Get(ctx, docstore.Doc(AgentsCollection, id))
	if err != nil {
		return domain.Agent{}, mapStoreErr(err, domain.KindAgent, id, "get agent")
	}
	return agentFromDoc(id, doc), nil
}

func (r *AgentRepository) Create(ctx context.Context, a domain.Agent) error {
	if err := r.store.Create(ctx, docstore.Doc(AgentsCollection, a.ID), agentToDoc(a)); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return domain.NewInvariant("createAgent", domain.ReasonAlreadyExists, a.ID)
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (r *AgentRepository) Update(ctx context.Context, id string, patch domain.AgentPatch) error {
	updates := profileUpdates(patch.ProfilePatch)
	if patch.Tags != nil {
		updates = append(updates, docstore.Update{Path: "tags", Value: stringList(patch.Tags)})
	}
	err := r.store.Update(ctx, docstore.Doc(AgentsCollection, id), updates...)
	return mapStoreErr(err, domain.KindAgent, id, "update agent")
}

func (r *AgentRepository) SetDeviceToken(ctx context.Context, id string, token *string) error {
	err := r.store.Update(ctx, docstore.Doc(AgentsCollection, id), docstore.Update{Path: "deviceToken", Value: optString(token)})
	return mapStoreErr(err, domain.KindAgent, id, "update agent device token")
}

func (r *AgentRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.Agent, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{
		Collection: AgentsCollection,
		Filters:    []docstore.Filter{docstore.Where("id", docstore.OpIn, ids)},
	})
	if err != nil {
		return nil, fmt.Errorf("find agents: %w", err)
	}
	agents := make([]domain.Agent, 0, len(snaps))
	for _, s := range snaps {
		agents = append(agents, agentFromDoc(s.ID, s.Data))
	}
	return agents, nil
}
