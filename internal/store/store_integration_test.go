package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorainsight/dora/internal/log"
	"github.com/dorainsight/dora/internal/store"
	"github.com/dorainsight/dora/internal/testutil"
)

// vec returns a unit-ish embedding whose first component is v, so L2
// distances to a probe vector are easy to reason about.
func vec(v float32) []float32 {
	out := make([]float32, store.EmbeddingDim)
	out[0] = v
	return out
}

func addMessage(t *testing.T, s *store.Store, sessionID uuid.UUID, sender, content string, embedding []float32) *store.Message {
	t.Helper()
	m := &store.Message{
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
		Embedding: embedding,
	}
	require.NoError(t, s.AddMessage(context.Background(), m))
	return m
}

func TestStoreIntegration(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	s := store.New(pool, log.NewNop())
	ctx := context.Background()

	t.Run("get or create user is stable", func(t *testing.T) {
		first, err := s.GetOrCreateUser(ctx, "alice@example.com")
		require.NoError(t, err)
		second, err := s.GetOrCreateUser(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		byIdent, err := s.GetUserByIdentifier(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, first.ID, byIdent.ID)

		_, err = s.GetUserByIdentifier(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("session lifecycle", func(t *testing.T) {
		user, err := s.GetOrCreateUser(ctx, "sessions@example.com")
		require.NoError(t, err)

		sess, err := s.CreateSession(ctx, user.ID, nil)
		require.NoError(t, err)
		assert.Nil(t, sess.Title)

		require.NoError(t, s.SetSessionTitleIfEmpty(ctx, sess.ID, "first title"))
		require.NoError(t, s.SetSessionTitleIfEmpty(ctx, sess.ID, "second title"))

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Title)
		assert.Equal(t, "first title", *got.Title, "backfill only fills a null title")

		_, err = s.GetSession(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list sessions newest first", func(t *testing.T) {
		user, err := s.GetOrCreateUser(ctx, "lister@example.com")
		require.NoError(t, err)

		older, err := s.CreateSession(ctx, user.ID, nil)
		require.NoError(t, err)
		newer, err := s.CreateSession(ctx, user.ID, nil)
		require.NoError(t, err)

		sessions, err := s.ListSessions(ctx, user.ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, newer.ID, sessions[0].ID)
		assert.Equal(t, older.ID, sessions[1].ID)

		page, err := s.ListSessions(ctx, user.ID, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, older.ID, page[0].ID)
	})

	t.Run("messages ordered by insertion", func(t *testing.T) {
		user, err := s.GetOrCreateUser(ctx, "messages@example.com")
		require.NoError(t, err)
		sess, err := s.CreateSession(ctx, user.ID, nil)
		require.NoError(t, err)

		addMessage(t, s, sess.ID, store.SenderUser, "question", vec(0.1))
		addMessage(t, s, sess.ID, store.SenderAssistant, "answer", nil)

		full, err := s.SessionWithMessages(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, full.Messages, 2)
		assert.Equal(t, "question", full.Messages[0].Content)
		assert.Equal(t, "answer", full.Messages[1].Content)
		assert.Less(t, full.Messages[0].ID, full.Messages[1].ID)
	})

	t.Run("add message rejects wrong vector length", func(t *testing.T) {
		user, err := s.GetOrCreateUser(ctx, "baddim@example.com")
		require.NoError(t, err)
		sess, err := s.CreateSession(ctx, user.ID, nil)
		require.NoError(t, err)

		err = s.AddMessage(ctx, &store.Message{
			SessionID: sess.ID,
			Sender:    store.SenderUser,
			Content:   "bad vector",
			Embedding: []float32{0.1, 0.2},
		})
		require.Error(t, err)
	})

	t.Run("similarity search", func(t *testing.T) {
		user, err := s.GetOrCreateUser(ctx, "search@example.com")
		require.NoError(t, err)
		other, err := s.GetOrCreateUser(ctx, "other@example.com")
		require.NoError(t, err)

		sess, err := s.CreateSession(ctx, user.ID, nil)
		require.NoError(t, err)
		otherSess, err := s.CreateSession(ctx, other.ID, nil)
		require.NoError(t, err)

		near := addMessage(t, s, sess.ID, store.SenderUser, "near", vec(0.9))
		far := addMessage(t, s, sess.ID, store.SenderAssistant, "far", vec(-0.9))
		addMessage(t, s, sess.ID, store.SenderUser, "no embedding", nil)
		addMessage(t, s, otherSess.ID, store.SenderUser, "other user near", vec(0.9))
		probe := addMessage(t, s, sess.ID, store.SenderUser, "probe", vec(1.0))

		rows, err := s.SearchSimilar(ctx, store.SimilaritySearch{
			UserID:           user.ID,
			Embedding:        vec(1.0),
			ExcludeMessageID: probe.ID,
			Since:            time.Now().Add(-time.Hour),
			Limit:            5,
		})
		require.NoError(t, err)

		require.Len(t, rows, 2, "own-vector rows only, probe and null embeddings excluded")
		assert.Equal(t, near.ID, rows[0].ID, "nearest first")
		assert.Equal(t, far.ID, rows[1].ID)
		assert.Less(t, rows[0].Distance, rows[1].Distance)
		for _, row := range rows {
			assert.NotEqual(t, probe.ID, row.ID)
			assert.NotEqual(t, "other user near", row.Content)
		}
	})

	t.Run("similarity search respects recency window", func(t *testing.T) {
		user, err := s.GetOrCreateUser(ctx, "recency@example.com")
		require.NoError(t, err)
		sess, err := s.CreateSession(ctx, user.ID, nil)
		require.NoError(t, err)
		addMessage(t, s, sess.ID, store.SenderUser, "recent", vec(0.5))

		rows, err := s.SearchSimilar(ctx, store.SimilaritySearch{
			UserID:    user.ID,
			Embedding: vec(0.5),
			Since:     time.Now().Add(time.Hour),
			Limit:     5,
		})
		require.NoError(t, err)
		assert.Empty(t, rows, "future cutoff excludes everything")
	})

	t.Run("integration upsert and deactivate", func(t *testing.T) {
		user, err := s.GetOrCreateUser(ctx, "github@example.com")
		require.NoError(t, err)

		integ := &store.Integration{
			UserID:         user.ID,
			Type:           store.IntegrationGitHub,
			AccessToken:    "cipher-one",
			RemoteUserID:   "42",
			RemoteUsername: "octocat",
		}
		require.NoError(t, s.UpsertIntegration(ctx, integ))

		got, err := s.GetIntegration(ctx, user.ID, store.IntegrationGitHub)
		require.NoError(t, err)
		assert.Equal(t, "cipher-one", got.AccessToken)
		assert.True(t, got.Active)

		// Reconnecting replaces the credential in the same row.
		integ.AccessToken = "cipher-two"
		require.NoError(t, s.UpsertIntegration(ctx, integ))
		got, err = s.GetIntegration(ctx, user.ID, store.IntegrationGitHub)
		require.NoError(t, err)
		assert.Equal(t, "cipher-two", got.AccessToken)

		require.NoError(t, s.DeactivateIntegration(ctx, user.ID, store.IntegrationGitHub))
		_, err = s.GetIntegration(ctx, user.ID, store.IntegrationGitHub)
		assert.ErrorIs(t, err, store.ErrNotFound)

		// Reconnect after disconnect activates again.
		integ.AccessToken = "cipher-three"
		require.NoError(t, s.UpsertIntegration(ctx, integ))
		got, err = s.GetIntegration(ctx, user.ID, store.IntegrationGitHub)
		require.NoError(t, err)
		assert.Equal(t, "cipher-three", got.AccessToken)
	})
}
