package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/era5sync/internal/archive"
	"github.com/rtm0/era5sync/internal/era5"
	"github.com/rtm0/era5sync/internal/grid"
)

// flakyStore rejects uploads of one key and delegates the rest.
type flakyStore struct {
	archive.Store
	reject string
}

func (s *flakyStore) Put(ctx context.Context, key, filePath string) error {
	if key == s.reject {
		return errors.New("connection reset")
	}
	return s.Store.Put(ctx, key, filePath)
}

func canonical(date time.Time, names ...string) *grid.Canonical {
	c := &grid.Canonical{
		Date:      date,
		Time:      grid.CanonicalTimes(date),
		Latitude:  []float64{90, 89.75},
		Longitude: []float64{0, 0.25, 0.5},
	}
	for _, n := range names {
		c.Vars = append(c.Vars, &grid.Variable{
			Name:  n,
			Dims:  []string{grid.DimTime, grid.DimLatitude, grid.DimLongitude},
			Shape: []int{24, 2, 3},
			Data:  make([]float32, 24*2*3),
		})
	}
	return c
}

func TestExportContinuesAfterUploadFailure(t *testing.T) {
	local, err := archive.NewLocal(t.TempDir())
	require.NoError(t, err)
	date := day("20200101")
	store := &flakyStore{Store: local, reject: era5.Key(date, "t2m")}
	scratch := t.TempDir()

	keys, err := NewExporter(testLogger(), store).Export(context.Background(), canonical(date, "t2m", "tp", "sf"), date, scratch)

	require.Error(t, err)
	assert.ErrorIs(t, err, era5.ErrUpload)
	assert.Equal(t, []string{era5.Key(date, "tp"), era5.Key(date, "sf")}, keys)

	names, err := local.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, names)

	leftovers, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestExportScratchFailureIsNotUpload(t *testing.T) {
	store, err := archive.NewLocal(t.TempDir())
	require.NoError(t, err)
	date := day("20200101")
	missing := filepath.Join(t.TempDir(), "gone")

	keys, err := NewExporter(testLogger(), store).Export(context.Background(), canonical(date, "t2m"), date, missing)
	assert.Empty(t, keys)
	assert.ErrorIs(t, err, era5.ErrScratch)
	assert.NotErrorIs(t, err, era5.ErrUpload)

	names, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestExportIsIdempotent(t *testing.T) {
	store, err := archive.NewLocal(t.TempDir())
	require.NoError(t, err)
	date := day("20200101")
	e := NewExporter(testLogger(), store)

	for n := 0; n < 2; n++ {
		keys, err := e.Export(context.Background(), canonical(date, "t2m"), date, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, []string{"20200101_T2M_ERA5_SL_REANALYSIS.nc"}, keys)
	}
	names, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestDiscardRemovesSidecars(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw.nc")
	for _, f := range []string{raw, raw + ".5b7b6.idx", filepath.Join(dir, "keep.nc")} {
		require.NoError(t, os.WriteFile(f, nil, 0o644))
	}
	Discard(testLogger(), raw)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.nc", entries[0].Name())

	// Missing files are not an error.
	Discard(testLogger(), raw)
}
