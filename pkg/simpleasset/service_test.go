package simpleasset_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/hasher"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
)

type mockTransformer struct {
	mock.Mock
}

func (m *mockTransformer) Transform(ctx context.Context, category simpleasset.Category, src io.ReadSeeker, dst io.Writer) (*simpleasset.FormatMetadata, error) {
	args := m.Called(ctx, category, src, dst)
	meta, _ := args.Get(0).(*simpleasset.FormatMetadata)
	return meta, args.Error(1)
}

func (m *mockTransformer) Inspect(ctx context.Context, category simpleasset.Category, src io.ReadSeeker) (*simpleasset.FormatMetadata, error) {
	args := m.Called(ctx, category, src)
	meta, _ := args.Get(0).(*simpleasset.FormatMetadata)
	return meta, args.Error(1)
}

type mockEventSink struct {
	mock.Mock
}

func (m *mockEventSink) ObjectStored(ctx context.Context, obj *simpleasset.StoredObject) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockEventSink) ObjectDeduplicated(ctx context.Context, obj *simpleasset.StoredObject) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockEventSink) RecordCommitted(ctx context.Context, rec *simpleasset.Record, delta int64) error {
	return m.Called(ctx, rec, delta).Error(0)
}

func (m *mockEventSink) QuotaRejected(ctx context.Context, rejection *simpleasset.QuotaExceededError) error {
	return m.Called(ctx, rejection).Error(0)
}

// failingStore fails every lookup with an error that carries a path.
type failingStore struct {
	*memorystorage.Backend
}

func (failingStore) Exists(ctx context.Context, name string) (bool, error) {
	return false, errors.New("stat /var/lib/assets/owners/secret: permission denied")
}

type fixture struct {
	svc   simpleasset.Service
	repo  *memory.Repository
	blobs *memorystorage.Backend
}

func newFixture(t *testing.T, opts ...simpleasset.Option) fixture {
	t.Helper()
	f := fixture{repo: memory.New(), blobs: memorystorage.New()}
	base := []simpleasset.Option{
		simpleasset.WithRepository(f.repo),
		simpleasset.WithBlobStore(f.blobs),
		simpleasset.WithSpoolDir(t.TempDir()),
	}
	svc, err := simpleasset.New(append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f fixture) total(t *testing.T, owner uuid.UUID) int64 {
	t.Helper()
	acct, err := f.repo.GetAccount(context.Background(), owner)
	require.NoError(t, err)
	return acct.TotalBytes
}

func scopeFor(owner uuid.UUID) simpleasset.Scope {
	return simpleasset.Scope{OwnerID: owner, Class: simpleasset.AccountCapped}
}

func save(t *testing.T, svc simpleasset.Service, scope simpleasset.Scope, category simpleasset.Category, data string) *simpleasset.SaveResult {
	t.Helper()
	res, err := svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{
		Scope:    scope,
		Category: category,
		Reader:   strings.NewReader(data),
	})
	require.NoError(t, err)
	return res
}

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []simpleasset.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []simpleasset.Option{},
			expectError: true,
		},
		{
			name: "missing blob store should fail",
			options: []simpleasset.Option{
				simpleasset.WithRepository(memory.New()),
			},
			expectError: true,
		},
		{
			name: "non-positive cap should fail",
			options: []simpleasset.Option{
				simpleasset.WithRepository(memory.New()),
				simpleasset.WithBlobStore(memorystorage.New()),
				simpleasset.WithDefaultQuotaCap(0),
			},
			expectError: true,
		},
		{
			name: "with repository and blob store should succeed",
			options: []simpleasset.Option{
				simpleasset.WithRepository(memory.New()),
				simpleasset.WithBlobStore(memorystorage.New()),
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := simpleasset.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestSaveObject_Deduplicates(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	data := "hello asset store"

	first := save(t, f.svc, scopeFor(owner), simpleasset.CategoryDocument, data)
	assert.False(t, first.Deduplicated)
	assert.Equal(t, int64(len(data)), first.BytesAdded)
	assert.Equal(t, int64(len(data)), first.StoredSize)
	assert.Equal(t, hasher.SumBytes([]byte(data)).String(), first.ContentHash)
	assert.True(t, strings.HasPrefix(first.StoredName, objectkey.OwnerPrefix(owner)))

	second := save(t, f.svc, scopeFor(owner), simpleasset.CategoryDocument, data)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, int64(0), second.BytesAdded)
	assert.Equal(t, first.StoredName, second.StoredName)
	assert.Equal(t, first.StoredSize, second.StoredSize)

	assert.Equal(t, 1, f.blobs.Len())
	assert.Equal(t, int64(len(data)), f.total(t, owner))
}

func TestSaveObject_DeduplicatesAcrossNamesAndCategories(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	data := "identical bytes"

	uploads := []struct {
		name     string
		category simpleasset.Category
	}{
		{"report.txt", simpleasset.CategoryDocument},
		{"report.md", simpleasset.CategoryDocument},
		{"report", simpleasset.CategoryDocument},
		{"report.png", simpleasset.CategoryImage},
	}

	var names []string
	var added int64
	for _, u := range uploads {
		res, err := f.svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{
			Scope:        scopeFor(owner),
			Category:     u.category,
			Reader:       strings.NewReader(data),
			OriginalName: u.name,
		})
		require.NoError(t, err, u.name)
		names = append(names, res.StoredName)
		added += res.BytesAdded
	}

	for _, name := range names[1:] {
		assert.Equal(t, names[0], name)
	}
	assert.True(t, strings.HasSuffix(names[0], ".txt"))
	assert.Equal(t, int64(len(data)), added)
	assert.Equal(t, 1, f.blobs.Len())
	assert.Equal(t, int64(len(data)), f.total(t, owner))
}

func TestSaveObject_StoredNameLayout(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()

	res := save(t, f.svc, scopeFor(owner), simpleasset.CategoryPDF, "%PDF-ish")
	hash := hasher.SumBytes([]byte("%PDF-ish")).String()
	assert.Equal(t, objectkey.StoredName(owner, hash, "pdf"), res.StoredName)
	assert.Contains(t, res.StoredName, "/"+hash[:2]+"/")
	assert.True(t, strings.HasSuffix(res.StoredName, ".pdf"))
}

func TestSaveObject_OwnersAreIsolated(t *testing.T) {
	f := newFixture(t)
	alice, bob := uuid.New(), uuid.New()
	data := "shared bytes"

	a := save(t, f.svc, scopeFor(alice), simpleasset.CategoryDocument, data)
	b := save(t, f.svc, scopeFor(bob), simpleasset.CategoryDocument, data)

	assert.NotEqual(t, a.StoredName, b.StoredName)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.False(t, b.Deduplicated)
	assert.Equal(t, int64(len(data)), f.total(t, alice))
	assert.Equal(t, int64(len(data)), f.total(t, bob))

	_, err := f.svc.OpenObject(context.Background(), scopeFor(bob), a.StoredName)
	assert.ErrorIs(t, err, simpleasset.ErrObjectNotFound)
	_, err = f.svc.StatObject(context.Background(), scopeFor(bob), a.StoredName)
	assert.ErrorIs(t, err, simpleasset.ErrObjectNotFound)

	rc, err := f.svc.OpenObject(context.Background(), scopeFor(alice), a.StoredName)
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, data, string(got))
}

func TestSaveObject_EmptyInput(t *testing.T) {
	transformer := &mockTransformer{}
	f := newFixture(t, simpleasset.WithTransformer(transformer))
	owner := uuid.New()

	res := save(t, f.svc, scopeFor(owner), simpleasset.CategoryImage, "")
	assert.Equal(t, hasher.EmptyDigest.String(), res.ContentHash)
	assert.Equal(t, int64(0), res.StoredSize)
	assert.Equal(t, int64(0), res.BytesAdded)
	assert.False(t, res.Deduplicated)
	assert.Nil(t, res.Format)

	again := save(t, f.svc, scopeFor(owner), simpleasset.CategoryImage, "")
	assert.True(t, again.Deduplicated)
	transformer.AssertNotCalled(t, "Transform", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSaveObject_QuotaCap(t *testing.T) {
	sink := &mockEventSink{}
	sink.On("ObjectStored", mock.Anything, mock.Anything).Return(nil)
	sink.On("QuotaRejected", mock.Anything, mock.AnythingOfType("*simpleasset.QuotaExceededError")).Return(nil).Once()

	f := newFixture(t, simpleasset.WithEventSink(sink))
	owner := uuid.New()
	scope := simpleasset.Scope{OwnerID: owner, Class: simpleasset.AccountCapped, CapBytes: 10}

	save(t, f.svc, scope, simpleasset.CategoryDocument, "12345678")

	_, err := f.svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{
		Scope:    scope,
		Category: simpleasset.CategoryDocument,
		Reader:   strings.NewReader("abcde"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, simpleasset.ErrQuotaExceeded)

	var qe *simpleasset.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, int64(10), qe.CapBytes)
	assert.Equal(t, int64(5), qe.Delta)
	assert.Equal(t, int64(8), qe.TotalBytes)

	assert.Equal(t, 1, f.blobs.Len(), "rejected upload must not be published")
	assert.Equal(t, int64(8), f.total(t, owner))
	sink.AssertExpectations(t)
}

func TestSaveObject_UncappedIgnoresCap(t *testing.T) {
	f := newFixture(t, simpleasset.WithDefaultQuotaCap(4))
	owner := uuid.New()

	res := save(t, f.svc, simpleasset.Scope{OwnerID: owner, Class: simpleasset.AccountUncapped}, simpleasset.CategoryDocument, "well over four bytes")
	assert.Equal(t, res.StoredSize, f.total(t, owner))
}

func TestSaveObject_TransformFallback(t *testing.T) {
	transformer := &mockTransformer{}
	transformer.On("Transform", mock.Anything, simpleasset.CategoryImage, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			w := args.Get(3).(io.Writer)
			_, _ = w.Write([]byte("half-written garbage"))
		}).
		Return(nil, &simpleasset.TransformError{Category: simpleasset.CategoryImage, Err: errors.New("corrupt image")})

	f := newFixture(t, simpleasset.WithTransformer(transformer))
	owner := uuid.New()
	data := "not really a png"

	res := save(t, f.svc, scopeFor(owner), simpleasset.CategoryImage, data)
	assert.Nil(t, res.Format)
	assert.Equal(t, int64(len(data)), res.StoredSize)
	assert.Equal(t, int64(len(data)), res.BytesAdded)

	rc, err := f.svc.OpenObject(context.Background(), scopeFor(owner), res.StoredName)
	require.NoError(t, err)
	defer rc.Close()
	stored, _ := io.ReadAll(rc)
	assert.Equal(t, data, string(stored))
	transformer.AssertExpectations(t)
}

func TestSaveObject_TransformedBytesAreCharged(t *testing.T) {
	pages := 2
	meta := &simpleasset.FormatMetadata{Format: "pdf", PageCount: &pages}
	transformer := &mockTransformer{}
	transformer.On("Transform", mock.Anything, simpleasset.CategoryPDF, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = args.Get(3).(io.Writer).Write([]byte("small"))
		}).
		Return(meta, nil).Once()

	f := newFixture(t, simpleasset.WithTransformer(transformer))
	owner := uuid.New()
	data := "a much larger original document body"

	res := save(t, f.svc, scopeFor(owner), simpleasset.CategoryPDF, data)
	assert.Equal(t, int64(5), res.StoredSize)
	assert.Equal(t, int64(5), res.BytesAdded)
	assert.Equal(t, hasher.SumBytes([]byte(data)).String(), res.ContentHash)
	require.NotNil(t, res.Format)
	assert.Equal(t, 2, *res.Format.PageCount)

	// The dedup hit returns the indexed metadata without transforming again
	again := save(t, f.svc, scopeFor(owner), simpleasset.CategoryPDF, data)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, meta, again.Format)
	assert.Equal(t, int64(5), f.total(t, owner))
	transformer.AssertExpectations(t)
}

func TestSaveObject_ConcurrentIdenticalUploads(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	data := "the same bytes from many requests"

	const workers = 20
	results := make([]*simpleasset.SaveResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{
				Scope:    scopeFor(owner),
				Category: simpleasset.CategoryDocument,
				Reader:   strings.NewReader(data),
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	added := 0
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, results[0].StoredName, res.StoredName)
		if res.BytesAdded > 0 {
			added++
		}
	}
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, f.blobs.Len())
	assert.Equal(t, int64(len(data)), f.total(t, owner))
}

func TestSaveObject_ConcurrentDistinctUploadsAllCharged(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()

	const workers = 16
	var wg sync.WaitGroup
	var expected int64
	for i := 0; i < workers; i++ {
		data := fmt.Sprintf("payload number %02d", i)
		expected += int64(len(data))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{
				Scope:    scopeFor(owner),
				Category: simpleasset.CategoryDocument,
				Reader:   strings.NewReader(data),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, f.blobs.Len())
	assert.Equal(t, expected, f.total(t, owner))
}

func TestSaveObject_HashReadFailure(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()

	_, err := f.svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{
		Scope:    scopeFor(owner),
		Category: simpleasset.CategoryDocument,
		Reader:   io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("connection reset by peer"))),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, simpleasset.ErrStorageFailure)
	assert.ErrorIs(t, err, hasher.ErrRead)

	var se *simpleasset.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "hash", se.Op)
	assert.Equal(t, 0, f.blobs.Len())
	assert.Equal(t, int64(0), f.total(t, owner))
}

func TestSaveObject_StorageErrorsAreOpaque(t *testing.T) {
	repo := memory.New()
	svc, err := simpleasset.New(
		simpleasset.WithRepository(repo),
		simpleasset.WithBlobStore(failingStore{memorystorage.New()}),
		simpleasset.WithSpoolDir(t.TempDir()),
	)
	require.NoError(t, err)

	_, err = svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{
		Scope:    scopeFor(uuid.New()),
		Category: simpleasset.CategoryDocument,
		Reader:   strings.NewReader("data"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, simpleasset.ErrStorageFailure)
	assert.NotContains(t, err.Error(), "/var/lib")
	assert.NotContains(t, err.Error(), "owners/")
	assert.Equal(t, "storage failure during lookup", err.Error())
}

func TestSaveObject_RepairsMissingIndex(t *testing.T) {
	transformer := &mockTransformer{}
	transformer.On("Inspect", mock.Anything, simpleasset.CategoryImage, mock.Anything).
		Return(nil, errors.New("unreadable")).Once()

	f := newFixture(t, simpleasset.WithTransformer(transformer))
	owner := uuid.New()
	data := []byte("image published by an earlier process")
	name := objectkey.StoredName(owner, hasher.SumBytes(data).String(), objectkey.ExtensionFor(data))

	_, err := simpleasset.WriteAtomic(context.Background(), f.blobs, name, bytes.NewReader(data))
	require.NoError(t, err)

	res := save(t, f.svc, scopeFor(owner), simpleasset.CategoryImage, string(data))
	assert.True(t, res.Deduplicated)
	assert.Equal(t, name, res.StoredName)
	assert.Equal(t, int64(len(data)), res.StoredSize)
	assert.Nil(t, res.Format, "inspect failure is reported as unknown metadata")

	obj, err := f.svc.StatObject(context.Background(), scopeFor(owner), name)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), obj.StoredSize)
	transformer.AssertExpectations(t)
}

func TestSaveObject_InvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{
		Scope:  simpleasset.Scope{},
		Reader: strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, simpleasset.ErrInvalidRequest)

	_, err = f.svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{Scope: scopeFor(uuid.New())})
	assert.ErrorIs(t, err, simpleasset.ErrInvalidRequest)

	_, err = f.svc.SaveObject(context.Background(), simpleasset.SaveObjectRequest{
		Scope:  simpleasset.Scope{OwnerID: uuid.New(), Class: "gold"},
		Reader: strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, simpleasset.ErrInvalidRequest)

	_, err = f.svc.OpenObject(context.Background(), scopeFor(uuid.New()), "../../etc/passwd")
	assert.ErrorIs(t, err, simpleasset.ErrInvalidRequest)
}

func TestSaveObject_CancelledContext(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.SaveObject(ctx, simpleasset.SaveObjectRequest{
		Scope:    scopeFor(owner),
		Category: simpleasset.CategoryDocument,
		Reader:   strings.NewReader("never stored"),
	})
	require.Error(t, err)
	assert.Equal(t, 0, f.blobs.Len())
	assert.Equal(t, int64(0), f.total(t, owner))
}
