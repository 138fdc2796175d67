package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutOverwritesAndLists(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "archive")
	store, err := Open(ctx, dir, Options{})
	require.NoError(t, err)
	defer store.Close()

	src := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(src, []byte("first"), 0o644))
	require.NoError(t, store.Put(ctx, "20200101_T2M_ERA5_SL_REANALYSIS.nc", src))

	require.NoError(t, os.WriteFile(src, []byte("second"), 0o644))
	require.NoError(t, store.Put(ctx, "20200101_T2M_ERA5_SL_REANALYSIS.nc", src))

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20200101_T2M_ERA5_SL_REANALYSIS.nc"}, names)

	got, err := os.ReadFile(filepath.Join(dir, "20200101_T2M_ERA5_SL_REANALYSIS.nc"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestLocalPutMissingSource(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	err = store.Put(context.Background(), "key.nc", filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestOpenLocations(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(context.Background(), "file://"+dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, "file://"+dir, store.Location())

	s3, err := Open(context.Background(), "s3://era5-atlantic-northeast/netcdf/single-levels/day", Options{
		Endpoint: "s3.us-east-2.wasabisys.com",
		Region:   "us-east-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://era5-atlantic-northeast/netcdf/single-levels/day", s3.Location())

	_, err = Open(context.Background(), "ftp://example.com/data", Options{})
	assert.Error(t, err)
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "key.nc", objectName("", "key.nc"))
	assert.Equal(t, "netcdf/day/key.nc", objectName("netcdf/day", "key.nc"))
}
