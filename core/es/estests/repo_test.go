package estests

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/internal/domain"
)

func TestRepository_All(t *testing.T) {
	t.Run("create, mutate, load", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te   = tef()
			repo = es.NewTypedRepositoryFrom(te.Env, domain.NewUser)
			at   = time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC)
		)

		u := repo.New()
		require.NoError(t, u.Create("ada@example.com", domain.RoleAdmin, language.BritishEnglish, es.WithActor("system")))
		require.NoError(t, u.SignIn(at, es.WithActor(es.ActorID(u.ID()))))
		require.NoError(t, repo.Save(t.Context(), u))
		require.False(t, u.HasChanges())

		loaded, ok, err := repo.Load(t.Context(), u.ID())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "ada@example.com", loaded.Email)
		require.Equal(t, domain.RoleAdmin, loaded.Role)
		require.Equal(t, "en-GB", loaded.Locale.String())
		require.Equal(t, 1, loaded.SignInCount)
		require.True(t, at.Equal(loaded.LastSignedIn))
		require.Equal(t, es.Version(2), loaded.Version())
		require.Equal(t, es.ActorID("system"), loaded.CreatedBy())

		require.NoError(t, loaded.ChangeLocale(language.Swahili))
		require.NoError(t, repo.Save(t.Context(), loaded))

		again, _, err := repo.Load(t.Context(), u.ID())
		require.NoError(t, err)
		require.Equal(t, "sw", again.Locale.String())
		require.Equal(t, es.Version(3), again.Version())

		old, ok, err := repo.Load(t.Context(), u.ID(), es.AtVersion(1))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 0, old.SignInCount)
	}))

	t.Run("save without changes", eachBackend(func(t *testing.T, tef Tef) {
		var (
			rec  = &es.RecordingBus{}
			te   = tef(es.WithBus(rec))
			repo = es.NewTypedRepositoryFrom(te.Env, domain.NewUser)
		)

		u := repo.New()
		require.NoError(t, u.Create("a@b.c", domain.RoleMember, language.English))
		require.NoError(t, repo.Save(t.Context(), u))
		require.Len(t, rec.Events(), 1)

		require.NoError(t, repo.Save(t.Context(), u))
		require.NoError(t, u.ChangeEmail("a@b.c"), "unchanged email raises nothing")
		require.NoError(t, repo.Save(t.Context(), u))
		require.Len(t, rec.Events(), 1)
		te.Assert().StreamVersion(t.Context(), u.ID(), 1)
	}))

	t.Run("concurrent saves", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te   = tef()
			repo = es.NewTypedRepositoryFrom(te.Env, domain.NewUser)
		)

		u := repo.New()
		require.NoError(t, u.Create("a@b.c", domain.RoleMember, language.English))
		require.NoError(t, repo.Save(t.Context(), u))

		const n = 5
		users := make([]*domain.User, n)
		for i := range users {
			loaded, ok, err := repo.Load(t.Context(), u.ID())
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, loaded.SignIn(time.Now()))
			users[i] = loaded
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for _, loaded := range users {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.Save(t.Context(), loaded)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, es.ErrConcurrencyViolation)
				assert.True(t, loaded.HasChanges(), "changes survive a failed save")
			}()
		}
		wg.Wait()

		require.Equal(t, 1, wins)
		te.Assert().StreamVersion(t.Context(), u.ID(), 2)
	}))

	t.Run("delete and restore", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te   = tef()
			repo = es.NewTypedRepositoryFrom(te.Env, domain.NewUser)
		)

		u := repo.New()
		require.NoError(t, u.Create("a@b.c", domain.RoleMember, language.English))
		require.NoError(t, u.Delete(es.WithActor("admin")))
		require.ErrorIs(t, u.SignIn(time.Now()), domain.ErrUserDeleted)
		require.NoError(t, repo.Save(t.Context(), u))

		_, ok, err := repo.Load(t.Context(), u.ID(), es.WithDeleted(false))
		require.NoError(t, err)
		require.False(t, ok)

		deleted, ok, err := repo.Load(t.Context(), u.ID(), es.WithDeleted(true))
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, deleted.IsDeleted())
		require.Equal(t, es.ActorID("admin"), deleted.UpdatedBy())

		require.NoError(t, deleted.Restore())
		require.NoError(t, repo.Save(t.Context(), deleted))

		restored, ok, err := repo.Load(t.Context(), u.ID(), es.WithDeleted(false))
		require.NoError(t, err)
		require.True(t, ok)
		require.False(t, restored.IsDeleted())
	}))

	t.Run("load many and all", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te   = tef(es.WithLoadConcurrency(2))
			repo = es.NewTypedRepositoryFrom(te.Env, domain.NewUser)
			ids  []es.StreamID
		)

		var batch []*domain.User
		for range 4 {
			u := repo.New()
			require.NoError(t, u.Create("a@b.c", domain.RoleMember, language.English))
			batch = append(batch, u)
			ids = append(ids, u.ID())
		}
		require.NoError(t, repo.Save(t.Context(), batch...))

		many, err := repo.LoadMany(t.Context(), []es.StreamID{ids[2], newID("missing"), ids[0]})
		require.NoError(t, err)
		require.Len(t, many, 2)
		require.Equal(t, ids[2], many[0].ID())
		require.Equal(t, ids[0], many[1].ID())

		all, err := repo.LoadAll(t.Context())
		require.NoError(t, err)
		require.Len(t, all, 4)
	}))

	t.Run("replay matches projection", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te   = tef()
			repo = es.NewTypedRepositoryFrom(te.Env, domain.NewUser)
		)

		u := repo.New()
		require.NoError(t, u.Create("a@b.c", domain.RoleMember, language.English, es.WithActor("alice")))
		require.NoError(t, u.ChangeEmail("x@y.z", es.WithActor("bob")))
		require.NoError(t, u.Delete(es.WithActor("carol")))
		require.NoError(t, u.Restore(es.WithActor("dave")))
		require.NoError(t, u.SignIn(time.Now(), es.WithActor("erin")))
		require.NoError(t, repo.Save(t.Context(), u))

		s, err := te.Store().Fetch(t.Context(), u.ID())
		require.NoError(t, err)
		require.NotNil(t, s)

		replayed := domain.NewUser()
		require.NoError(t, es.LoadFromChanges(replayed, u.ID(), s.Events))

		require.Equal(t, s.Version, replayed.Version())
		require.Equal(t, s.CreatedBy, replayed.CreatedBy())
		require.True(t, s.CreatedOn.Equal(replayed.CreatedOn()))
		require.Equal(t, s.UpdatedBy, replayed.UpdatedBy())
		require.True(t, s.UpdatedOn.Equal(replayed.UpdatedOn()))
		require.Equal(t, s.IsDeleted, replayed.IsDeleted())
		require.Equal(t, es.ActorID("erin"), s.UpdatedBy)
		require.False(t, s.IsDeleted)
	}))
}
