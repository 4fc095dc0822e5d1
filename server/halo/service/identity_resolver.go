package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"halo_server/server/common/infra/docstore"
	"halo_server/server/halo/domain"
)

type userFinder interface {
	FindByIDs(ctx context.Context, ids []string) ([]domain.User, error)
}

type agentFinder interface {
	FindByIDs(ctx context.Context, ids []string) ([]domain.Agent, error)
}

// IdentityResolver hydrates id sets into user and agent details, splitting
// sets larger than the store's "in" cap into concurrent chunk queries.
type IdentityResolver struct {
	users     userFinder
	agents    agentFinder
	chunkSize int
}

func NewIdentityResolver(users userFinder, agents agentFinder, chunkSize int) *IdentityResolver {
	if chunkSize <= 0 {
		chunkSize = docstore.DefaultInLimit
	}
	return &IdentityResolver{users: users, agents: agents, chunkSize: chunkSize}
}

// ResolveUsers returns details for the ids that exist, in no particular
// order. Any failed chunk fails the whole call.
func (r *IdentityResolver) ResolveUsers(ctx context.Context, ids []string) ([]domain.UserDetails, error) {
	users, err := fanOut(ctx, chunkIDs(dedupe(ids), r.chunkSize), r.users.FindByIDs)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserDetails, 0, len(users))
	for _, u := range users {
		out = append(out, u.Details())
	}
	return out, nil
}

func (r *IdentityResolver) ResolveAgents(ctx context.Context, ids []string) ([]domain.AgentDetails, error) {
	agents, err := fanOut(ctx, chunkIDs(dedupe(ids), r.chunkSize), r.agents.FindByIDs)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AgentDetails, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Details())
	}
	return out, nil
}

func fanOut[T any](ctx context.Context, chunks [][]string, fetch func(context.Context, []string) ([]T, error)) ([]T, error) {
	if len(chunks) == 0 {
		return []T{}, nil
	}
	results := make([][]T, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			found, err := fetch(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]T, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = docstore.DefaultInLimit
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// dedupe keeps first occurrences and drops blanks.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
