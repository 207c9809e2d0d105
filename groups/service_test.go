package groups_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-call-relay/groups"
	"github.com/jrsteele09/go-call-relay/groups/sqlstore"
	relayerrors "github.com/jrsteele09/go-call-relay/internal/errors"
	"github.com/jrsteele09/go-call-relay/internal/sqlutil"
)

type repoFactory func(t *testing.T) groups.Repo

func repoFactories() map[string]repoFactory {
	return map[string]repoFactory{
		"memory": func(t *testing.T) groups.Repo {
			return groups.NewInMemoryGroupRepo()
		},
		"sqlite": func(t *testing.T) groups.Repo {
			db, err := sqlutil.Open(sqlutil.DriverSQLite, filepath.Join(t.TempDir(), "relay.db"))
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return sqlstore.New(db)
		},
	}
}

type removal struct {
	userID, groupID string
}

type testFixture struct {
	service  *groups.Service
	mu       sync.Mutex
	removals []removal
}

func setupTestFixture(t *testing.T, repo groups.Repo, ttl time.Duration) *testFixture {
	t.Helper()

	f := &testFixture{service: groups.NewService(repo, ttl)}
	f.service.Start()
	t.Cleanup(f.service.Stop)
	f.service.OnMemberRemoved(func(_ context.Context, userID, groupID string) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.removals = append(f.removals, removal{userID, groupID})
	})
	return f
}

func TestService_CreateAndMembership(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := setupTestFixture(t, factory(t), time.Minute)

			g, err := f.service.Create(ctx, "alice", "Team", []string{"bob", "carol", "bob"})
			require.NoError(t, err)
			require.NotEmpty(t, g.ID)
			require.Equal(t, []string{"alice", "bob", "carol"}, g.Members)
			require.Equal(t, []string{"alice"}, g.Admins)

			members, err := f.service.Members(ctx, g.ID)
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"alice", "bob", "carol"}, members)

			ok, err := f.service.IsMember(ctx, g.ID, "carol")
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = f.service.IsMember(ctx, g.ID, "mallory")
			require.NoError(t, err)
			require.False(t, ok)

			ok, err = f.service.IsMember(ctx, "no-such-group", "alice")
			require.NoError(t, err)
			require.False(t, ok)

			list, err := f.service.ListForUser(ctx, "bob")
			require.NoError(t, err)
			require.Len(t, list, 1)
			require.Equal(t, "Team", list[0].Name)

			fetched, err := f.service.Get(ctx, "carol", g.ID)
			require.NoError(t, err)
			require.True(t, fetched.IsAdmin("alice"))

			_, err = f.service.Get(ctx, "mallory", g.ID)
			require.ErrorIs(t, err, relayerrors.ErrNotGroupMember)
		})
	}
}

func TestService_CreateValidation(t *testing.T) {
	f := setupTestFixture(t, groups.NewInMemoryGroupRepo(), time.Minute)
	_, err := f.service.Create(context.Background(), "alice", " ", []string{"bob"})
	require.ErrorIs(t, err, relayerrors.ErrInvalidRequest)
	_, err = f.service.Create(context.Background(), "alice", "Team", nil)
	require.ErrorIs(t, err, relayerrors.ErrInvalidRequest)
}

func TestService_AdminOnlyManagement(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := setupTestFixture(t, factory(t), time.Minute)

			g, err := f.service.Create(ctx, "alice", "Team", []string{"bob"})
			require.NoError(t, err)

			_, err = f.service.AddMembers(ctx, "bob", g.ID, []string{"carol"})
			require.ErrorIs(t, err, relayerrors.ErrNotGroupAdmin)

			_, err = f.service.RemoveMember(ctx, "bob", g.ID, "alice")
			require.ErrorIs(t, err, relayerrors.ErrNotGroupAdmin)

			_, err = f.service.AddMembers(ctx, "alice", "no-such-group", []string{"carol"})
			require.ErrorIs(t, err, relayerrors.ErrGroupNotFound)

			require.Empty(t, f.removals)
		})
	}
}

func TestService_ChangesInvalidateCachedMembers(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := setupTestFixture(t, factory(t), time.Hour)

			g, err := f.service.Create(ctx, "alice", "Team", []string{"bob"})
			require.NoError(t, err)

			// Warm the cache
			ok, err := f.service.IsMember(ctx, g.ID, "carol")
			require.NoError(t, err)
			require.False(t, ok)

			updated, err := f.service.AddMembers(ctx, "alice", g.ID, []string{"carol", "bob"})
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"alice", "bob", "carol"}, updated.Members)

			ok, err = f.service.IsMember(ctx, g.ID, "carol")
			require.NoError(t, err)
			require.True(t, ok)

			updated, err = f.service.RemoveMember(ctx, "alice", g.ID, "bob")
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"alice", "carol"}, updated.Members)

			ok, err = f.service.IsMember(ctx, g.ID, "bob")
			require.NoError(t, err)
			require.False(t, ok)

			require.Equal(t, []removal{{"bob", g.ID}}, f.removals)
		})
	}
}

func TestService_RemovingAdminDropsAdminRights(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := setupTestFixture(t, factory(t), time.Minute)

			g, err := f.service.Create(ctx, "alice", "Team", []string{"bob"})
			require.NoError(t, err)

			updated, err := f.service.RemoveMember(ctx, "alice", g.ID, "alice")
			require.NoError(t, err)
			require.Equal(t, []string{"bob"}, updated.Members)
			require.Empty(t, updated.Admins)
		})
	}
}

func TestService_RemovingNonMemberNotifiesNobody(t *testing.T) {
	for name, factory := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := setupTestFixture(t, factory(t), time.Minute)

			g, err := f.service.Create(ctx, "alice", "Team", []string{"bob"})
			require.NoError(t, err)

			updated, err := f.service.RemoveMember(ctx, "alice", g.ID, "mallory")
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"alice", "bob"}, updated.Members)
			require.Empty(t, f.removals)
		})
	}
}
