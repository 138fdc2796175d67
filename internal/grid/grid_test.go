package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermute(t *testing.T) {
	// 2x3 matrix [[0 1 2] [3 4 5]].
	v := &Variable{Name: "t2m", Dims: []string{"a", "b"}, Shape: []int{2, 3}, Data: []float32{0, 1, 2, 3, 4, 5}}

	p, err := v.Permute([]string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, p.Dims)
	assert.Equal(t, []int{3, 2}, p.Shape)
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, p.Data)
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, v.Data, "source modified")

	same, err := v.Permute([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, v.Data, same.Data)
	same.Data[0] = 42
	assert.Equal(t, float32(0), v.Data[0], "identity permutation shares data")

	_, err = v.Permute([]string{"a", "c"})
	assert.Error(t, err)
	_, err = v.Permute([]string{"a"})
	assert.Error(t, err)
}

func TestPermute3D(t *testing.T) {
	shape := []int{2, 3, 4}
	v := &Variable{Dims: []string{"x", "y", "z"}, Shape: shape, Data: make([]float32, Product(shape))}
	for i := range v.Data {
		v.Data[i] = float32(i)
	}
	p, err := v.Permute([]string{"z", "x", "y"})
	require.NoError(t, err)
	require.Equal(t, []int{4, 2, 3}, p.Shape)
	for z := 0; z < 4; z++ {
		for x := 0; x < 2; x++ {
			for y := 0; y < 3; y++ {
				assert.Equal(t, v.Data[x*12+y*4+z], p.Data[z*6+x*3+y])
			}
		}
	}
}

func TestCanonicalValidate(t *testing.T) {
	date := time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)
	times := CanonicalTimes(date)
	require.Len(t, times, HoursPerDay)
	assert.Equal(t, date, times[0])
	assert.Equal(t, date.Add(23*time.Hour), times[23])

	newCanonical := func() *Canonical {
		return &Canonical{
			Date:      date,
			Time:      CanonicalTimes(date),
			Latitude:  []float64{1, 0},
			Longitude: []float64{0},
			Vars: []*Variable{{
				Name:  "tp",
				Dims:  []string{DimTime, DimLatitude, DimLongitude},
				Shape: []int{24, 2, 1},
				Data:  make([]float32, 48),
			}},
		}
	}
	require.NoError(t, newCanonical().Validate())

	c := newCanonical()
	c.Time = c.Time[1:]
	assert.Error(t, c.Validate())

	c = newCanonical()
	c.Time[0] = c.Time[0].Add(-time.Hour)
	assert.Error(t, c.Validate())

	c = newCanonical()
	c.Vars[0].Dims = []string{DimLatitude, DimTime, DimLongitude}
	assert.Error(t, c.Validate())

	c = newCanonical()
	c.Vars[0].Data = c.Vars[0].Data[:10]
	assert.Error(t, c.Validate())
}

func TestAllMissing(t *testing.T) {
	assert.True(t, AllMissing([]float32{Missing, Missing}))
	assert.False(t, AllMissing([]float32{Missing, 0}))
	assert.True(t, AllMissing(nil))
}
