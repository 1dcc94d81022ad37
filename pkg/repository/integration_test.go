package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

func runIntegrationRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	const userID = types.UserID("test-user")

	create := func(t *testing.T, repo interfaces.Repository) *model.Integration {
		t.Helper()
		created, err := repo.Integration().Create(context.Background(), &model.Integration{
			GroupID:      types.NewGroupID(),
			UserID:       userID,
			Service:      types.ServiceOura,
			InstanceType: "daily_activity",
			Config:       model.SyncConfig{UpdateFrequencyMinutes: 60, DaysBack: 29},
		})
		gt.NoError(t, err).Required()
		return created
	}

	t.Run("Create assigns an ID and timestamps", func(t *testing.T) {
		repo := newRepo(t)
		created := create(t, repo)

		gt.Bool(t, created.ID == "").False()
		gt.Bool(t, created.CreatedAt.IsZero()).False()

		got, err := repo.Integration().Get(context.Background(), created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.InstanceType).Equal(types.InstanceType("daily_activity"))
		gt.Value(t, got.Config.UpdateFrequencyMinutes).Equal(60)
	})

	t.Run("Get returns ErrNotFound for unknown or deleted instances", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Integration().Get(ctx, types.NewIntegrationID())
		gt.Bool(t, errors.Is(err, types.ErrNotFound)).True()

		created := create(t, repo)
		gt.NoError(t, repo.Integration().SoftDelete(ctx, created.ID)).Required()
		_, err = repo.Integration().Get(ctx, created.ID)
		gt.Bool(t, errors.Is(err, types.ErrNotFound)).True()
	})

	t.Run("UpdateConfig replaces the sync configuration", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		created := create(t, repo)

		gt.NoError(t, repo.Integration().UpdateConfig(ctx, created.ID, model.SyncConfig{
			UpdateFrequencyMinutes: 15,
			Paused:                 true,
		})).Required()

		got, err := repo.Integration().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Config.UpdateFrequencyMinutes).Equal(15)
		gt.Bool(t, got.Config.Paused).True()
	})

	t.Run("ClaimTrigger blocks a second claim inside the window", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		created := create(t, repo)
		now := time.Now().UTC()

		gt.NoError(t, repo.Integration().ClaimTrigger(ctx, created.ID, now, 30*time.Minute)).Required()

		err := repo.Integration().ClaimTrigger(ctx, created.ID, now.Add(time.Minute), 30*time.Minute)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, types.ErrAlreadyTriggered)).True()
	})

	t.Run("ClaimTrigger succeeds once the window has lapsed", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		created := create(t, repo)
		now := time.Now().UTC()

		gt.NoError(t, repo.Integration().ClaimTrigger(ctx, created.ID, now, 30*time.Minute)).Required()
		gt.NoError(t, repo.Integration().ClaimTrigger(ctx, created.ID, now.Add(31*time.Minute), 30*time.Minute))
	})

	t.Run("MarkSucceeded records success and releases the claim", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		created := create(t, repo)
		now := time.Now().UTC()

		gt.NoError(t, repo.Integration().ClaimTrigger(ctx, created.ID, now, 30*time.Minute)).Required()
		gt.NoError(t, repo.Integration().MarkSucceeded(ctx, created.ID, now.Add(time.Minute))).Required()

		got, err := repo.Integration().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.LastTriggeredAt).Nil()
		gt.Value(t, got.LastSuccessfulUpdateAt).NotNil()

		// released claim means a new run can start immediately
		gt.NoError(t, repo.Integration().ClaimTrigger(ctx, created.ID, now.Add(2*time.Minute), 30*time.Minute))
	})

	t.Run("MarkFailed releases the claim without recording success", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		created := create(t, repo)
		now := time.Now().UTC()

		gt.NoError(t, repo.Integration().ClaimTrigger(ctx, created.ID, now, 30*time.Minute)).Required()
		gt.NoError(t, repo.Integration().MarkFailed(ctx, created.ID)).Required()

		got, err := repo.Integration().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.LastTriggeredAt).Nil()
		gt.Value(t, got.LastSuccessfulUpdateAt).Nil()
	})

	t.Run("ListActive excludes soft-deleted instances", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		kept := create(t, repo)
		dropped := create(t, repo)
		gt.NoError(t, repo.Integration().SoftDelete(ctx, dropped.ID)).Required()

		active, err := repo.Integration().ListActive(ctx)
		gt.NoError(t, err).Required()
		gt.Array(t, active).Length(1)
		gt.Value(t, active[0].ID).Equal(kept.ID)
	})
}

// the claim must be exactly-once even when racers hit it simultaneously
func TestMemoryClaimTriggerRace(t *testing.T) {
	repo := newMemoryRepository(t)
	ctx := context.Background()

	created, err := repo.Integration().Create(ctx, &model.Integration{
		GroupID:      types.NewGroupID(),
		UserID:       "test-user",
		Service:      types.ServiceOura,
		InstanceType: "daily_activity",
	})
	gt.NoError(t, err).Required()

	now := time.Now().UTC()
	const racers = 16

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.Integration().ClaimTrigger(ctx, created.ID, now, 30*time.Minute); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	gt.Value(t, won).Equal(1)
}

func TestMemoryIntegrationRepository(t *testing.T) {
	runIntegrationRepositoryTest(t, newMemoryRepository)
}

func TestFirestoreIntegrationRepository(t *testing.T) {
	runIntegrationRepositoryTest(t, newFirestoreRepository)
}
