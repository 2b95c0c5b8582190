package jobstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract exercises the behavior every Store must share. Targets
// are third-party so the suite needs no project fixtures.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	insert := func(t *testing.T, s Store, ref int64, createdAt time.Time) *domain.Job {
		t.Helper()
		job := &domain.Job{
			Target:      domain.ThirdPartyTarget{InspectionID: ref},
			Model:       "FLIGHT_50M",
			TotalImages: 10,
			CreatedAt:   createdAt,
		}
		_, err := s.Insert(ctx, job)
		require.NoError(t, err)
		return job
	}

	t.Run("insert assigns id and pending status", func(t *testing.T) {
		s := newStore(t)
		job := insert(t, s, 101, base)

		assert.NotZero(t, job.ID)
		assert.Equal(t, domain.JobStatusPending, job.Status)

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ThirdPartyTarget{InspectionID: 101}, got.Target)
		assert.Equal(t, "FLIGHT_50M", got.Model)
		assert.Equal(t, 10, got.TotalImages)
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)
		assert.False(t, got.PendingNotificationSent)
	})

	t.Run("insert rejects second active job for target", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, 102, base)

		_, err := s.Insert(ctx, &domain.Job{
			Target: domain.ThirdPartyTarget{InspectionID: 102},
			Model:  "FLIGHT_50M",
		})
		assert.ErrorIs(t, err, ErrActiveJobExists)
	})

	t.Run("insert allowed after previous job finished", func(t *testing.T) {
		s := newStore(t)
		first := insert(t, s, 103, base)
		moveTo(t, s, first.ID, domain.JobStatusRunning)
		moveTo(t, s, first.ID, domain.JobStatusCompleted)

		second := insert(t, s, 103, base.Add(time.Minute))
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("get unknown id", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, 999999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("oldest pending is fifo by created at", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, 201, base.Add(2*time.Minute))
		oldest := insert(t, s, 202, base)
		insert(t, s, 203, base.Add(time.Minute))

		got, err := s.FindOldestPending(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, oldest.ID, got.ID)
	})

	t.Run("empty queue returns nil", func(t *testing.T) {
		s := newStore(t)
		got, err := s.FindOldestPending(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)

		running, err := s.FindRunning(ctx)
		require.NoError(t, err)
		assert.Nil(t, running)
	})

	t.Run("transition is conditional on expected status", func(t *testing.T) {
		s := newStore(t)
		job := insert(t, s, 301, base)

		ok, err := s.Transition(ctx, job.ID, domain.JobStatusRunning, domain.JobStatusCompleted, domain.TransitionFields{})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
	})

	t.Run("transition rejects edges outside the state machine", func(t *testing.T) {
		s := newStore(t)
		job := insert(t, s, 302, base)

		_, err := s.Transition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusCompleted, domain.TransitionFields{})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("transition refuses a second running job", func(t *testing.T) {
		s := newStore(t)
		a := insert(t, s, 401, base)
		b := insert(t, s, 402, base.Add(time.Second))

		moveTo(t, s, a.ID, domain.JobStatusRunning)

		ok, err := s.Transition(ctx, b.ID, domain.JobStatusPending, domain.JobStatusRunning, domain.TransitionFields{})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
	})

	t.Run("transition writes fields with the status", func(t *testing.T) {
		s := newStore(t)
		job := insert(t, s, 501, base)
		started := base.Add(time.Minute)
		completed := base.Add(time.Hour)
		processed := 8
		eff := 80.0

		ok, err := s.Transition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusRunning, domain.TransitionFields{
			StartedAt:                &started,
			ResetPendingNotification: true,
		})
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.Transition(ctx, job.ID, domain.JobStatusRunning, domain.JobStatusCompleted, domain.TransitionFields{
			CompletedAt: &completed,
			Stats: &domain.JobStats{
				ProcessedImages:      &processed,
				ProcessingEfficiency: &eff,
				ProcessingDetails:    "ok",
			},
		})
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
		require.NotNil(t, got.StartedAt)
		assert.True(t, started.Equal(*got.StartedAt))
		require.NotNil(t, got.CompletedAt)
		assert.True(t, completed.Equal(*got.CompletedAt))
		require.NotNil(t, got.Stats.ProcessedImages)
		assert.Equal(t, 8, *got.Stats.ProcessedImages)
		require.NotNil(t, got.Stats.ProcessingEfficiency)
		assert.InDelta(t, 80.0, *got.Stats.ProcessingEfficiency, 0.001)
		assert.Equal(t, "ok", got.Stats.ProcessingDetails)
		assert.Nil(t, got.Stats.RGBImages)
	})

	t.Run("active by target returns running job", func(t *testing.T) {
		s := newStore(t)
		job := insert(t, s, 601, base)
		moveTo(t, s, job.ID, domain.JobStatusRunning)

		got, err := s.FindActiveByTarget(ctx, domain.ThirdPartyTarget{InspectionID: 601})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)

		none, err := s.FindActiveByTarget(ctx, domain.ThirdPartyTarget{InspectionID: 602})
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("stale pending unnotified and mark notified", func(t *testing.T) {
		s := newStore(t)
		old := insert(t, s, 701, base)
		insert(t, s, 702, base.Add(2*time.Hour))

		cutoff := base.Add(time.Hour)
		stale, err := s.FindStalePendingUnnotified(ctx, cutoff)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, old.ID, stale[0].ID)

		n, err := s.MarkPendingNotified(ctx, []int64{old.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.MarkPendingNotified(ctx, []int64{old.ID})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		stale, err = s.FindStalePendingUnnotified(ctx, cutoff)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("claim resets pending notification flag", func(t *testing.T) {
		s := newStore(t)
		job := insert(t, s, 801, base)
		_, err := s.MarkPendingNotified(ctx, []int64{job.ID})
		require.NoError(t, err)

		ok, err := s.Transition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusRunning, domain.TransitionFields{
			ResetPendingNotification: true,
		})
		require.NoError(t, err)
		require.True(t, ok)

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, got.PendingNotificationSent)
	})

	t.Run("count by status includes every status", func(t *testing.T) {
		s := newStore(t)
		a := insert(t, s, 901, base)
		insert(t, s, 902, base.Add(time.Second))
		moveTo(t, s, a.ID, domain.JobStatusRunning)

		counts, err := s.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[domain.JobStatusPending])
		assert.Equal(t, 1, counts[domain.JobStatusRunning])
		assert.Equal(t, 0, counts[domain.JobStatusCompleted])
		assert.Equal(t, 0, counts[domain.JobStatusFailed])
		assert.Len(t, counts, len(domain.AllJobStatuses))
	})

	t.Run("concurrent claims produce one running job", func(t *testing.T) {
		s := newStore(t)
		for i := int64(0); i < 5; i++ {
			insert(t, s, 1000+i, base.Add(time.Duration(i)*time.Second))
		}

		var claimed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InClaimTx(ctx, func(tx Tx) error {
					running, err := tx.FindRunning(ctx)
					if err != nil || running != nil {
						return err
					}
					next, err := tx.FindOldestPending(ctx)
					if err != nil || next == nil {
						return err
					}
					ok, err := tx.Transition(ctx, next.ID, domain.JobStatusPending, domain.JobStatusRunning, domain.TransitionFields{})
					if ok {
						claimed.Add(1)
					}
					return err
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), claimed.Load())
		counts, err := s.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[domain.JobStatusRunning])
		assert.Equal(t, 4, counts[domain.JobStatusPending])
	})
}

// moveTo advances a job one edge along the state machine.
func moveTo(t *testing.T, s Store, id int64, next domain.JobStatus) {
	t.Helper()
	expected := domain.JobStatusPending
	if next != domain.JobStatusRunning {
		expected = domain.JobStatusRunning
	}
	ok, err := s.Transition(context.Background(), id, expected, next, domain.TransitionFields{})
	require.NoError(t, err)
	require.True(t, ok, "transition %s -> %s", expected, next)
}
