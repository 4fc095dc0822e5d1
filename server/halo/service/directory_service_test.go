package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo_server/server/halo/domain"
)

func strp(s string) *string { return &s }

func TestUserDirectory(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	alice := domain.NewIdentity("alice")

	created, err := f.dir.CreateUser(ctx, alice, domain.Profile{FirstName: " Alice ", LastName: "Liddell", Nickname: strp("al")})
	require.NoError(t, err)
	assert.Equal(t, "alice", created.ID)
	assert.Equal(t, "Alice", created.FirstName)

	_, err = f.dir.CreateUser(ctx, alice, domain.Profile{FirstName: "Again", LastName: "Liddell"})
	var inv *domain.InvariantError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, domain.ReasonAlreadyExists, inv.Reason)

	_, err = f.dir.CreateUser(ctx, domain.NewIdentity("bob"), domain.Profile{FirstName: "Bob"})
	require.ErrorIs(t, err, domain.ErrInvariant)

	updated, err := f.dir.UpdateUser(ctx, alice, domain.ProfilePatch{LastName: strp("Pleasance")})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.FirstName)
	assert.Equal(t, "Pleasance", updated.LastName)
	require.NotNil(t, updated.Nickname)
	assert.Equal(t, "al", *updated.Nickname)

	_, err = f.dir.UpdateUser(ctx, alice, domain.ProfilePatch{})
	require.ErrorIs(t, err, domain.ErrInvariant)

	withToken, err := f.dir.UpdateUserDeviceToken(ctx, alice, strp("fcm-token"))
	require.NoError(t, err)
	require.NotNil(t, withToken.DeviceToken)
	assert.Equal(t, "fcm-token", *withToken.DeviceToken)

	cleared, err := f.dir.UpdateUserDeviceToken(ctx, alice, strp(" "))
	require.NoError(t, err)
	assert.Nil(t, cleared.DeviceToken)

	got, err := f.dir.GetUser(ctx, domain.NewIdentity("bob"), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Pleasance", got.LastName)

	_, err = f.dir.GetUser(ctx, alice, "ghost")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.KindUser, nf.Kind)

	_, err = f.dir.UpdateUser(ctx, domain.NewIdentity("ghost"), domain.ProfilePatch{FirstName: strp("G")})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.dir.GetUser(ctx, domain.Identity{}, "alice")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestAgentDirectory(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	agent := domain.NewIdentity("agent-1")

	created, err := f.dir.CreateAgent(ctx, agent, domain.Profile{FirstName: "Ada", LastName: "Bot"}, []string{"billing", " billing", "sales", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "sales"}, created.Tags)

	updated, err := f.dir.UpdateAgent(ctx, agent, domain.AgentPatch{Tags: []string{"support"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"support"}, updated.Tags)
	assert.Equal(t, "Ada", updated.FirstName)

	renamed, err := f.dir.UpdateAgent(ctx, agent, domain.AgentPatch{ProfilePatch: domain.ProfilePatch{Nickname: strp("ada")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"support"}, renamed.Tags)

	withToken, err := f.dir.UpdateAgentDeviceToken(ctx, agent, strp("apns"))
	require.NoError(t, err)
	require.NotNil(t, withToken.DeviceToken)

	got, err := f.dir.GetAgent(ctx, domain.NewIdentity("alice"), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "apns", *got.DeviceToken)

	_, err = f.dir.GetAgent(ctx, agent, "agent-2")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.dir.UpdateAgent(ctx, agent, domain.AgentPatch{})
	require.ErrorIs(t, err, domain.ErrInvariant)
}
