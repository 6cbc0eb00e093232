package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
)

const mb = 1000 * 1000

func capped(capBytes int64) simpleasset.Limit {
	return simpleasset.Limit{Class: simpleasset.AccountCapped, CapBytes: capBytes}
}

func TestMemoryRepository_ApplyDelta(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownOwnerStartsAtZero", func(t *testing.T) {
		repo := memory.New()
		acct, err := repo.GetAccount(ctx, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, int64(0), acct.TotalBytes)
	})

	t.Run("CapEnforced", func(t *testing.T) {
		repo := memory.New()
		owner := uuid.New()
		limit := capped(50 * mb)

		_, err := repo.ApplyDelta(ctx, owner, 49_900_000, limit)
		require.NoError(t, err)

		_, err = repo.ApplyDelta(ctx, owner, 200_000, limit)
		require.Error(t, err)
		assert.ErrorIs(t, err, simpleasset.ErrQuotaExceeded)

		var qe *simpleasset.QuotaExceededError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, int64(50*mb), qe.CapBytes)
		assert.Equal(t, int64(200_000), qe.Delta)
		assert.Equal(t, int64(49_900_000), qe.TotalBytes)

		acct, err := repo.GetAccount(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, int64(49_900_000), acct.TotalBytes)

		// Exactly reaching the cap is allowed
		acct, err = repo.ApplyDelta(ctx, owner, 100_000, limit)
		require.NoError(t, err)
		assert.Equal(t, int64(50*mb), acct.TotalBytes)
	})

	t.Run("NegativeDeltaAllowedOverCap", func(t *testing.T) {
		repo := memory.New()
		owner := uuid.New()
		_, err := repo.SetTotal(ctx, owner, 80*mb)
		require.NoError(t, err)

		acct, err := repo.ApplyDelta(ctx, owner, -1*mb, capped(50*mb))
		require.NoError(t, err)
		assert.Equal(t, int64(79*mb), acct.TotalBytes)

		acct, err = repo.ApplyDelta(ctx, owner, 0, capped(50*mb))
		require.NoError(t, err)
		assert.Equal(t, int64(79*mb), acct.TotalBytes)
	})

	t.Run("UncappedAlwaysAllowed", func(t *testing.T) {
		repo := memory.New()
		owner := uuid.New()
		acct, err := repo.ApplyDelta(ctx, owner, 500*mb, simpleasset.Unlimited)
		require.NoError(t, err)
		assert.Equal(t, int64(500*mb), acct.TotalBytes)
	})

	t.Run("ClampsAtZero", func(t *testing.T) {
		repo := memory.New()
		owner := uuid.New()
		_, err := repo.ApplyDelta(ctx, owner, 10, simpleasset.Unlimited)
		require.NoError(t, err)

		acct, err := repo.ApplyDelta(ctx, owner, -25, simpleasset.Unlimited)
		require.NoError(t, err)
		assert.Equal(t, int64(0), acct.TotalBytes)
		assert.Equal(t, int64(15), acct.ClampedBytes)
	})

	t.Run("ConcurrentDeltasNotLost", func(t *testing.T) {
		repo := memory.New()
		owner := uuid.New()
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.ApplyDelta(ctx, owner, 7, simpleasset.Unlimited)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		acct, err := repo.GetAccount(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, int64(700), acct.TotalBytes)
	})

	t.Run("ConcurrentChargesRespectCap", func(t *testing.T) {
		repo := memory.New()
		owner := uuid.New()
		var wg sync.WaitGroup
		var mu sync.Mutex
		accepted := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.ApplyDelta(ctx, owner, 10, capped(95)); err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 9, accepted)
		acct, _ := repo.GetAccount(ctx, owner)
		assert.Equal(t, int64(90), acct.TotalBytes)
	})
}

func newRecord(owner uuid.UUID, text string) *simpleasset.Record {
	content := simpleasset.TextContent(text)
	now := time.Now().UTC()
	return &simpleasset.Record{
		ID:          uuid.New(),
		OwnerID:     owner,
		Kind:        simpleasset.RecordNote,
		Content:     content,
		ContentSize: content.Size(),
		Status:      simpleasset.RecordStatusCreated,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryRepository_CommitRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateChargesContent", func(t *testing.T) {
		repo := memory.New()
		owner := uuid.New()
		rec := newRecord(owner, "hello")

		acct, err := repo.CommitRecord(ctx, rec, 0, rec.ContentSize, capped(100))
		require.NoError(t, err)
		assert.Equal(t, int64(5), acct.TotalBytes)

		got, err := repo.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		text, _ := got.Content.Text()
		assert.Equal(t, "hello", text)
	})

	t.Run("QuotaRejectionLeavesNoRecord", func(t *testing.T) {
		repo := memory.New()
		owner := uuid.New()
		rec := newRecord(owner, "0123456789")

		_, err := repo.CommitRecord(ctx, rec, 0, rec.ContentSize, capped(5))
		assert.ErrorIs(t, err, simpleasset.ErrQuotaExceeded)

		_, err = repo.GetRecord(ctx, rec.ID)
		assert.ErrorIs(t, err, simpleasset.ErrRecordNotFound)
		acct, _ := repo.GetAccount(ctx, owner)
		assert.Equal(t, int64(0), acct.TotalBytes)
	})

	t.Run("VersionConflict", func(t *testing.T) {
		repo := memory.New()
		owner := uuid.New()
		rec := newRecord(owner, "v1")
		_, err := repo.CommitRecord(ctx, rec, 0, rec.ContentSize, simpleasset.Unlimited)
		require.NoError(t, err)

		edit := *rec
		edit.Version = 2
		_, err = repo.CommitRecord(ctx, &edit, 1, 0, simpleasset.Unlimited)
		require.NoError(t, err)

		stale := *rec
		stale.Version = 2
		_, err = repo.CommitRecord(ctx, &stale, 1, 0, simpleasset.Unlimited)
		assert.ErrorIs(t, err, simpleasset.ErrVersionConflict)

		_, err = repo.CommitRecord(ctx, rec, 0, 0, simpleasset.Unlimited)
		assert.ErrorIs(t, err, simpleasset.ErrVersionConflict)
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		repo := memory.New()
		folder := uuid.New()
		rec := newRecord(uuid.New(), "x")
		rec.FolderID = &folder
		_, err := repo.CommitRecord(ctx, rec, 0, 1, simpleasset.Unlimited)
		require.NoError(t, err)

		got, _ := repo.GetRecord(ctx, rec.ID)
		*got.FolderID = uuid.New()
		got.Title = "changed"

		again, _ := repo.GetRecord(ctx, rec.ID)
		assert.Equal(t, folder, *again.FolderID)
		assert.Empty(t, again.Title)
	})
}

func TestMemoryRepository_ListAndUsage(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	owner := uuid.New()
	other := uuid.New()
	folder := uuid.New()

	a := newRecord(owner, "aaaa")
	a.FolderID = &folder
	b := newRecord(owner, "bb")
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	deleted := newRecord(owner, "gone")
	deleted.Status = simpleasset.RecordStatusDeleted
	foreign := newRecord(other, "other")

	for _, rec := range []*simpleasset.Record{a, b, deleted, foreign} {
		_, err := repo.CommitRecord(ctx, rec, 0, rec.ContentSize, simpleasset.Unlimited)
		require.NoError(t, err)
	}
	require.NoError(t, repo.PutObject(ctx, &simpleasset.StoredObject{OwnerID: owner, StoredName: "n1", StoredSize: 100}))
	require.NoError(t, repo.PutObject(ctx, &simpleasset.StoredObject{OwnerID: owner, StoredName: "n1", StoredSize: 999}))
	require.NoError(t, repo.PutObject(ctx, &simpleasset.StoredObject{OwnerID: other, StoredName: "n2", StoredSize: 50}))

	all, err := repo.ListRecords(ctx, owner, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, b.ID, all[1].ID)

	inFolder, err := repo.ListRecords(ctx, owner, &folder)
	require.NoError(t, err)
	require.Len(t, inFolder, 1)
	assert.Equal(t, a.ID, inFolder[0].ID)

	obj, err := repo.GetObject(ctx, owner, "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), obj.StoredSize)
	_, err = repo.GetObject(ctx, other, "n1")
	assert.ErrorIs(t, err, simpleasset.ErrObjectNotFound)

	usage, err := repo.ComputeUsage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.ObjectCount)
	assert.Equal(t, int64(100), usage.ObjectBytes)
	assert.Equal(t, int64(2), usage.RecordCount)
	assert.Equal(t, int64(6), usage.RecordContentBytes)
}
