package era5

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/era5sync/internal/grid"
)

func TestWriteVariableReadsBack(t *testing.T) {
	date := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	lat := []float64{90, 89.75}
	lon := []float64{-180, -179.75, -179.5}
	v := &grid.Variable{
		Name:     "t2m",
		Dims:     []string{grid.DimTime, grid.DimLatitude, grid.DimLongitude},
		Shape:    []int{24, 2, 3},
		Data:     make([]float32, 24*2*3),
		Units:    "K",
		LongName: "2 metre temperature",
	}
	for i := range v.Data {
		v.Data[i] = 250 + float32(i)
	}
	v.Data[0] = grid.Missing
	c := &grid.Canonical{
		Date:      date,
		Time:      grid.CanonicalTimes(date),
		Latitude:  lat,
		Longitude: lon,
		Vars:      []*grid.Variable{v},
	}

	path := filepath.Join(t.TempDir(), Key(date, v.Name))
	require.NoError(t, WriteVariable(path, c, v))

	dss, err := ReadPayload(path)
	require.NoError(t, err)
	require.Len(t, dss, 1)
	ds := dss[0]
	assert.Equal(t, []string{grid.DimTime, grid.DimLatitude, grid.DimLongitude}, ds.Dims)
	require.Len(t, ds.Time, 24)
	for i := range c.Time {
		assert.True(t, c.Time[i].Equal(ds.Time[i]), "time[%d] = %s", i, ds.Time[i])
	}
	assert.Equal(t, lat, ds.Latitude)
	assert.Equal(t, lon, ds.Longitude)
	require.Len(t, ds.Vars, 1)
	got := ds.Vars[0]
	assert.Equal(t, "t2m", got.Name)
	assert.Equal(t, "K", got.Units)
	assert.Equal(t, []int{24, 2, 3}, got.Shape)
	assert.True(t, math.IsNaN(float64(got.Data[0])))
	assert.Equal(t, v.Data[1:], got.Data[1:])
}

func TestWriteVariableRejectsNonCanonical(t *testing.T) {
	date := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &grid.Canonical{Date: date, Time: grid.CanonicalTimes(date)[:23]}
	err := WriteVariable(filepath.Join(t.TempDir(), "x.nc"), c, &grid.Variable{Name: "x"})
	assert.ErrorIs(t, err, ErrNormalization)
}

func TestReadPayloadMissingFile(t *testing.T) {
	_, err := ReadPayload(filepath.Join(t.TempDir(), "absent.nc"))
	assert.ErrorIs(t, err, ErrNormalization)
}
