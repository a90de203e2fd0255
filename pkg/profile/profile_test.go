package profile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/cigraph/pkg/cmdb"
)

type failingBackend struct {
	err   error
	calls int
}

func (b *failingBackend) ListProfiles(context.Context) ([]cmdb.FilterProfile, error) {
	b.calls++
	return nil, b.err
}

func (b *failingBackend) CreateProfile(context.Context, cmdb.FilterProfile) (cmdb.FilterProfile, error) {
	b.calls++
	return cmdb.FilterProfile{}, b.err
}

func (b *failingBackend) UpdateProfile(context.Context, int, cmdb.FilterProfile) (cmdb.FilterProfile, error) {
	b.calls++
	return cmdb.FilterProfile{}, b.err
}

func (b *failingBackend) DeleteProfile(context.Context, int) error {
	b.calls++
	return b.err
}

func openStore(t *testing.T, path string) *FileStore {
	t.Helper()
	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func TestServiceRejectsBlankName(t *testing.T) {
	b := &failingBackend{}
	svc := NewService(b)

	_, err := svc.Create(context.Background(), cmdb.FilterProfile{Name: "   "})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidProfile)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "create", perr.Op)
	assert.Equal(t, "The filter profile needs a name.", perr.Notification())
	assert.Zero(t, b.calls, "invalid profiles never reach the backend")
}

func TestServiceWrapsBackendFailureWithoutRetry(t *testing.T) {
	boom := errors.New("connection refused")
	b := &failingBackend{err: boom}
	svc := NewService(b)

	_, err := svc.Update(context.Background(), 4, cmdb.FilterProfile{Name: "prod"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, b.calls)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 4, perr.PublicID)
	assert.Equal(t, "Could not update the filter profile.", perr.Notification())

	_, err = svc.List(context.Background())
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Could not load filter profiles.", perr.Notification())
}

func TestServiceCRUDOnFileStore(t *testing.T) {
	ctx := context.Background()
	svc := NewService(openStore(t, filepath.Join(t.TempDir(), "p.journal")))

	a, err := svc.Create(ctx, cmdb.FilterProfile{Name: "  servers ", TypesFilter: []int{3}})
	require.NoError(t, err)
	assert.Equal(t, 1, a.PublicID)
	assert.Equal(t, "servers", a.Name)
	assert.Equal(t, []int{}, a.RelationsFilter)

	b, err := svc.Create(ctx, cmdb.FilterProfile{Name: "network", RelationsFilter: []int{7, 8}})
	require.NoError(t, err)
	assert.Equal(t, 2, b.PublicID)

	b.Name = "network core"
	updated, err := svc.Update(ctx, b.PublicID, b)
	require.NoError(t, err)
	assert.Equal(t, "network core", updated.Name)

	got, err := svc.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	require.NoError(t, svc.Delete(ctx, 1))
	err = svc.Delete(ctx, 1)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "The filter profile no longer exists.", perr.Notification())

	_, err = svc.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].PublicID)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "p.journal")

	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	_, err = fs.CreateProfile(ctx, cmdb.FilterProfile{Name: "a"})
	require.NoError(t, err)
	_, err = fs.CreateProfile(ctx, cmdb.FilterProfile{Name: "b"})
	require.NoError(t, err)
	require.NoError(t, fs.DeleteProfile(ctx, 2))
	require.NoError(t, fs.Close())

	fs = openStore(t, path)
	list, err := fs.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Name)

	c, err := fs.CreateProfile(ctx, cmdb.FilterProfile{Name: "c"})
	require.NoError(t, err)
	assert.Equal(t, 3, c.PublicID, "deleted ids are not reused")
}

func TestFileStoreCompactKeepsIDs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "p.journal")

	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := fs.CreateProfile(ctx, cmdb.FilterProfile{Name: "x"})
		require.NoError(t, err)
	}
	for _, id := range []int{2, 5} {
		require.NoError(t, fs.DeleteProfile(ctx, id))
	}
	require.NoError(t, fs.Compact())
	require.NoError(t, fs.Close())

	fs = openStore(t, path)
	list, err := fs.ListProfiles(ctx)
	require.NoError(t, err)
	ids := make([]int, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.PublicID)
	}
	assert.Equal(t, []int{1, 3, 4}, ids)

	next, err := fs.CreateProfile(ctx, cmdb.FilterProfile{Name: "y"})
	require.NoError(t, err)
	assert.Equal(t, 6, next.PublicID)

	_, err = fs.UpdateProfile(ctx, 99, cmdb.FilterProfile{Name: "z"})
	assert.ErrorIs(t, err, ErrNotFound)
}
