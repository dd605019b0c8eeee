//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/leadflow/internal/campaigns"
	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const migrationsDir = "../../../migrations"

func TestRepository(t *testing.T) {
	pool := testutil.NewMigratedPool(t, migrationsDir)
	repo := NewRepository(pool)
	ctx := context.Background()

	createCampaign := func(t *testing.T) *domain.Campaign {
		t.Helper()
		c := &domain.Campaign{
			Name:    "Q3 outbound",
			Channel: domain.ChannelEmail,
			Status:  domain.CampaignStatusDraft,
			SequenceSteps: []domain.SequenceStep{
				{StepNumber: 0, Channel: domain.ChannelEmail, Subject: "Hi {{.name}}", TemplateBody: "Hello"},
			},
			Settings: domain.DefaultCampaignSettings(),
		}
		require.NoError(t, repo.CreateCampaign(ctx, c))
		return c
	}

	messagesAt := func(at time.Time, ids ...string) []domain.ScheduledMessage {
		msgs := make([]domain.ScheduledMessage, 0, len(ids))
		for _, id := range ids {
			msgs = append(msgs, domain.ScheduledMessage{
				EntityID:     id,
				EntityData:   map[string]any{"email": id + "@example.com"},
				StepNumber:   0,
				Channel:      domain.ChannelEmail,
				Status:       domain.MessageStatusScheduled,
				Subject:      "Hi",
				TemplateBody: "Hello",
				ScheduledAt:  at,
			})
		}
		return msgs
	}

	running := func(t *testing.T, ids ...string) *domain.Campaign {
		t.Helper()
		c := createCampaign(t)
		_, err := repo.ScheduleCampaign(ctx, c.ID, time.Now(), messagesAt(time.Now().Add(-time.Minute), ids...))
		require.NoError(t, err)
		_, err = repo.TransitionCampaign(ctx, c.ID,
			[]domain.CampaignStatus{domain.CampaignStatusScheduled}, domain.CampaignStatusRunning)
		require.NoError(t, err)
		return c
	}

	t.Run("schedule inserts messages once", func(t *testing.T) {
		testutil.Truncate(t, pool, "campaigns")
		c := createCampaign(t)

		n, err := repo.ScheduleCampaign(ctx, c.ID, time.Now(), messagesAt(time.Now(), "a", "b", "c"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		got, err := repo.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignStatusScheduled, got.Status)
		assert.NotNil(t, got.ScheduledAt)
		require.Len(t, got.SequenceSteps, 1)
		assert.Equal(t, "Hi {{.name}}", got.SequenceSteps[0].Subject)

		_, err = repo.ScheduleCampaign(ctx, c.ID, time.Now(), messagesAt(time.Now(), "d"))
		assert.ErrorIs(t, err, campaigns.ErrInvalidTransition)

		msgs, err := repo.ListMessages(ctx, c.ID, "", 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
		assert.Equal(t, "a@example.com", msgs[0].EntityData["email"])
	})

	t.Run("transitions stamp timestamps", func(t *testing.T) {
		testutil.Truncate(t, pool, "campaigns")
		c := running(t, "a")

		got, err := repo.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.StartedAt)

		_, err = repo.TransitionCampaign(ctx, c.ID,
			[]domain.CampaignStatus{domain.CampaignStatusScheduled}, domain.CampaignStatusRunning)
		assert.ErrorIs(t, err, campaigns.ErrInvalidTransition)

		_, err = repo.TransitionCampaign(ctx, "0b8c9d4e-1f2a-4b3c-8d5e-6f7a8b9c0d1e",
			[]domain.CampaignStatus{domain.CampaignStatusRunning}, domain.CampaignStatusPaused)
		assert.ErrorIs(t, err, campaigns.ErrCampaignNotFound)
	})

	t.Run("claim is exclusive and skips paused campaigns", func(t *testing.T) {
		testutil.Truncate(t, pool, "campaigns")
		c := running(t, "a", "b", "c", "d", "e")
		paused := running(t, "x")
		_, err := repo.TransitionCampaign(ctx, paused.ID,
			[]domain.CampaignStatus{domain.CampaignStatusRunning}, domain.CampaignStatusPaused)
		require.NoError(t, err)

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				now := time.Now()
				msgs, err := repo.ClaimDueMessages(ctx, now, now.Add(10*time.Minute), "", 2)
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				for _, m := range msgs {
					seen[m.ID]++
					assert.Equal(t, c.ID, m.CampaignID)
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, 5)
		for id, n := range seen {
			assert.Equal(t, 1, n, "message %s claimed more than once", id)
		}
	})

	t.Run("claim filters by campaign", func(t *testing.T) {
		testutil.Truncate(t, pool, "campaigns")
		first := running(t, "a")
		running(t, "b")

		now := time.Now()
		msgs, err := repo.ClaimDueMessages(ctx, now, now.Add(time.Minute), first.ID, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "a", msgs[0].EntityID)
	})

	t.Run("guarded message updates", func(t *testing.T) {
		testutil.Truncate(t, pool, "campaigns")
		c := running(t, "a", "b")
		msgs, err := repo.ListMessages(ctx, c.ID, domain.MessageStatusScheduled, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)

		sentAt := time.Now()
		require.NoError(t, repo.MarkMessageSent(ctx, msgs[0].ID, "Hello a", "ext-1", sentAt))
		assert.ErrorIs(t, repo.MarkMessageSent(ctx, msgs[0].ID, "Hello a", "ext-1", sentAt), campaigns.ErrMessageChanged)
		assert.ErrorIs(t, repo.MarkMessageFailed(ctx, msgs[0].ID, "boom"), campaigns.ErrMessageChanged)

		got, err := repo.GetMessageByExternalID(ctx, "ext-1")
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStatusSent, got.Status)
		assert.Equal(t, "Hello a", got.PersonalizedBody)
		assert.NotNil(t, got.SentAt)

		require.NoError(t, repo.AdvanceMessage(ctx, got.ID, domain.MessageStatusSent, domain.MessageStatusOpened, sentAt))
		assert.ErrorIs(t, repo.AdvanceMessage(ctx, got.ID, domain.MessageStatusSent, domain.MessageStatusDelivered, sentAt),
			campaigns.ErrMessageChanged)

		got, err = repo.GetMessageByExternalID(ctx, "ext-1")
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStatusOpened, got.Status)
		assert.NotNil(t, got.OpenedAt)

		_, err = repo.GetMessageByExternalID(ctx, "missing")
		assert.ErrorIs(t, err, campaigns.ErrMessageNotFound)
	})

	t.Run("complete only when drained", func(t *testing.T) {
		testutil.Truncate(t, pool, "campaigns")
		c := running(t, "a", "b")

		done, err := repo.CompleteIfDrained(ctx, c.ID)
		require.NoError(t, err)
		assert.False(t, done)

		msgs, err := repo.ListMessages(ctx, c.ID, "", 10)
		require.NoError(t, err)
		require.NoError(t, repo.MarkMessageSent(ctx, msgs[0].ID, "x", "", time.Now()))
		require.NoError(t, repo.MarkMessageFailed(ctx, msgs[1].ID, "no recipient"))

		counts, err := repo.CountMessagesByStatus(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, map[domain.MessageStatus]int{
			domain.MessageStatusSent:   1,
			domain.MessageStatusFailed: 1,
		}, counts)

		done, err = repo.CompleteIfDrained(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, done)

		got, err := repo.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("cancel fails outstanding messages", func(t *testing.T) {
		testutil.Truncate(t, pool, "campaigns")
		c := running(t, "a", "b", "c")
		msgs, err := repo.ListMessages(ctx, c.ID, "", 10)
		require.NoError(t, err)
		require.NoError(t, repo.MarkMessageSent(ctx, msgs[0].ID, "x", "", time.Now()))

		got, failed, err := repo.CancelCampaign(ctx, c.ID, "Campaign cancelled")
		require.NoError(t, err)
		assert.Equal(t, 2, failed)
		assert.Equal(t, domain.CampaignStatusCancelled, got.Status)

		failedMsgs, err := repo.ListMessages(ctx, c.ID, domain.MessageStatusFailed, 10)
		require.NoError(t, err)
		require.Len(t, failedMsgs, 2)
		assert.Equal(t, "Campaign cancelled", failedMsgs[0].ErrorMessage)

		_, _, err = repo.CancelCampaign(ctx, c.ID, "again")
		assert.ErrorIs(t, err, campaigns.ErrInvalidTransition)
	})

	t.Run("metrics round trip", func(t *testing.T) {
		testutil.Truncate(t, pool, "campaigns")
		c := createCampaign(t)
		metrics := domain.CampaignMetrics{Total: 4, Sent: 3, Delivered: 2, Pending: 1}
		require.NoError(t, repo.SaveMetrics(ctx, c.ID, metrics))

		got, err := repo.GetCampaign(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, metrics, got.Metrics)

		list, err := repo.ListCampaigns(ctx, domain.CampaignStatusDraft)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}
