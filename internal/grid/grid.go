// Package grid holds in-memory gridded datasets passed between decoding,
// normalization and export.
package grid

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Canonical dimension names.
const (
	DimTime      = "time"
	DimStep      = "step"
	DimLatitude  = "latitude"
	DimLongitude = "longitude"
	DimExpver    = "expver"
)

// HoursPerDay is the length of a canonical time axis.
const HoursPerDay = 24

// Variable is an n-dimensional array of float32 values stored in row-major
// order. Missing values are NaN.
type Variable struct {
	Name     string
	Dims     []string
	Shape    []int
	Data     []float32
	Units    string
	LongName string
}

// Size returns the length of dim, or 0 if the variable does not have it.
func (v *Variable) Size(dim string) int {
	if i := slices.Index(v.Dims, dim); i >= 0 {
		return v.Shape[i]
	}
	return 0
}

// Permute returns a copy of v with its dimensions reordered to order, which
// must be a permutation of v.Dims.
func (v *Variable) Permute(order []string) (*Variable, error) {
	if len(order) != len(v.Dims) {
		return nil, fmt.Errorf("%s: cannot permute %v to %v", v.Name, v.Dims, order)
	}
	perm := make([]int, len(order))
	for i, d := range order {
		j := slices.Index(v.Dims, d)
		if j < 0 {
			return nil, fmt.Errorf("%s: has no dimension %q", v.Name, d)
		}
		perm[i] = j
	}
	out := *v
	out.Dims = slices.Clone(order)
	out.Shape = make([]int, len(order))
	for i, j := range perm {
		out.Shape[i] = v.Shape[j]
	}
	if isIdentity(perm) {
		out.Data = slices.Clone(v.Data)
		return &out, nil
	}

	srcStrides := strides(v.Shape)
	out.Data = make([]float32, len(v.Data))
	idx := make([]int, len(order))
	for k := range out.Data {
		src := 0
		for i, j := range perm {
			src += idx[i] * srcStrides[j]
		}
		out.Data[k] = v.Data[src]
		// Advance the output multi-index, last dimension fastest.
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < out.Shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return &out, nil
}

func isIdentity(perm []int) bool {
	for i, j := range perm {
		if i != j {
			return false
		}
	}
	return true
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	n := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = n
		n *= shape[i]
	}
	return s
}

// Product returns the number of elements of an array of the given shape.
func Product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Dataset is a group of data variables sharing one dimension tuple together
// with the decoded coordinates of those dimensions.
type Dataset struct {
	Dims []string
	// Time holds the base times. It has a single element when the base time
	// is a scalar coordinate rather than a dimension.
	Time []time.Time
	// Step holds forecast offsets when DimStep is one of Dims.
	Step      []time.Duration
	Latitude  []float64
	Longitude []float64
	Vars      []*Variable
}

// Has reports whether dim is one of the dataset dimensions.
func (ds *Dataset) Has(dim string) bool {
	return slices.Contains(ds.Dims, dim)
}

// Size returns the length of dim, or 0 if the dataset does not have it.
func (ds *Dataset) Size(dim string) int {
	if len(ds.Vars) == 0 {
		return 0
	}
	return ds.Vars[0].Size(dim)
}

// Canonical is one day of data on the canonical hourly grid. Every variable
// has dimensions (time, latitude, longitude).
type Canonical struct {
	Date      time.Time
	Time      []time.Time
	Latitude  []float64
	Longitude []float64
	Vars      []*Variable
}

// CanonicalTimes returns the 24 hourly timestamps of date's calendar day.
func CanonicalTimes(date time.Time) []time.Time {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, HoursPerDay)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return times
}

// Validate checks the canonical shape invariant.
func (c *Canonical) Validate() error {
	if len(c.Time) != HoursPerDay {
		return fmt.Errorf("time axis has %d entries, want %d", len(c.Time), HoursPerDay)
	}
	for i, t := range CanonicalTimes(c.Date) {
		if !c.Time[i].Equal(t) {
			return fmt.Errorf("time[%d] is %s, want %s", i, c.Time[i], t)
		}
	}
	want := []string{DimTime, DimLatitude, DimLongitude}
	shape := []int{HoursPerDay, len(c.Latitude), len(c.Longitude)}
	for _, v := range c.Vars {
		if !slices.Equal(v.Dims, want) {
			return fmt.Errorf("%s: dimensions %v, want %v", v.Name, v.Dims, want)
		}
		if !slices.Equal(v.Shape, shape) || len(v.Data) != Product(shape) {
			return fmt.Errorf("%s: shape %v, want %v", v.Name, v.Shape, shape)
		}
	}
	return nil
}

// AllMissing reports whether every value in data is missing.
func AllMissing(data []float32) bool {
	for _, x := range data {
		if !math.IsNaN(float64(x)) {
			return false
		}
	}
	return true
}

// Missing is the marker stored for absent values.
var Missing = float32(math.NaN())
