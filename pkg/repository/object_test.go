package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

func runObjectRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	const userID = types.UserID("test-user")

	t.Run("Upsert creates on first sight", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Object().Upsert(ctx, userID, &model.ObjectDraft{
			Concept:    "merchant",
			ObjectType: "monzo_merchant",
			Title:      "Pret A Manger",
			Content:    "Eating out",
		})
		gt.NoError(t, err).Required()
		gt.Bool(t, created.ID == "").False()

		got, err := repo.Object().Get(ctx, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Title).Equal("Pret A Manger")
		gt.Value(t, got.Content).Equal("Eating out")
	})

	t.Run("Upsert by the same natural key reuses the object", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		first, err := repo.Object().Upsert(ctx, userID, &model.ObjectDraft{
			Concept:    "merchant",
			ObjectType: "monzo_merchant",
			Title:      "Pret A Manger",
			Content:    "Eating out",
		})
		gt.NoError(t, err).Required()

		second, err := repo.Object().Upsert(ctx, userID, &model.ObjectDraft{
			Concept:    "merchant",
			ObjectType: "monzo_merchant",
			Title:      "Pret A Manger",
			Content:    "Coffee",
			Metadata:   map[string]any{"category": "eating_out"},
		})
		gt.NoError(t, err).Required()

		gt.Value(t, second.ID).Equal(first.ID)
		gt.Value(t, second.Content).Equal("Coffee")
		gt.Value(t, second.Metadata["category"]).Equal("eating_out")
	})

	t.Run("different titles produce different objects", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		first, err := repo.Object().Upsert(ctx, userID, &model.ObjectDraft{
			Concept:    "person",
			ObjectType: "github_user",
			Title:      "octocat",
		})
		gt.NoError(t, err).Required()

		second, err := repo.Object().Upsert(ctx, userID, &model.ObjectDraft{
			Concept:    "person",
			ObjectType: "github_user",
			Title:      "hubot",
		})
		gt.NoError(t, err).Required()

		gt.Value(t, second.ID).NotEqual(first.ID)
	})

	t.Run("zero draft time does not clobber the stored time", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		seen := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
		first, err := repo.Object().Upsert(ctx, userID, &model.ObjectDraft{
			Concept:    "account",
			ObjectType: "oura_account",
			Title:      "Oura",
			Time:       seen,
		})
		gt.NoError(t, err).Required()

		second, err := repo.Object().Upsert(ctx, userID, &model.ObjectDraft{
			Concept:    "account",
			ObjectType: "oura_account",
			Title:      "Oura",
		})
		gt.NoError(t, err).Required()

		gt.Value(t, second.ID).Equal(first.ID)
		gt.Bool(t, second.Time.Equal(seen)).True()
	})
}

func TestObjectIdentityKey(t *testing.T) {
	key := model.ObjectIdentityKey("u1", "merchant", "monzo_merchant", "Pret A Manger")

	t.Run("deterministic", func(t *testing.T) {
		gt.Value(t, model.ObjectIdentityKey("u1", "merchant", "monzo_merchant", "Pret A Manger")).Equal(key)
	})

	t.Run("every identity field participates", func(t *testing.T) {
		gt.Value(t, model.ObjectIdentityKey("u2", "merchant", "monzo_merchant", "Pret A Manger")).NotEqual(key)
		gt.Value(t, model.ObjectIdentityKey("u1", "person", "monzo_merchant", "Pret A Manger")).NotEqual(key)
		gt.Value(t, model.ObjectIdentityKey("u1", "merchant", "merchant", "Pret A Manger")).NotEqual(key)
		gt.Value(t, model.ObjectIdentityKey("u1", "merchant", "monzo_merchant", "Pret")).NotEqual(key)
	})

	t.Run("field boundaries are unambiguous", func(t *testing.T) {
		// concatenation across the separator must not collide
		a := model.ObjectIdentityKey("u1", "ab", "c", "d")
		b := model.ObjectIdentityKey("u1", "a", "bc", "d")
		gt.Value(t, a).NotEqual(b)
	})
}

func TestMemoryObjectRepository(t *testing.T) {
	runObjectRepositoryTest(t, newMemoryRepository)
}

func TestFirestoreObjectRepository(t *testing.T) {
	runObjectRepositoryTest(t, newFirestoreRepository)
}
