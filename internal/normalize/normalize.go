// Package normalize reshapes decoded payload datasets onto the canonical
// hourly (time, latitude, longitude) grid of one calendar day.
package normalize

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rtm0/era5sync/internal/era5"
	"github.com/rtm0/era5sync/internal/grid"
)

// Mode is the way a dataset encodes time.
type Mode int

const (
	// ModePlain datasets have a single absolute time dimension.
	ModePlain Mode = iota
	// ModeStacked datasets express time as several base times crossed with
	// forecast steps.
	ModeStacked
	// ModeForecast datasets have one base time and a forecast step dimension.
	ModeForecast
)

func (m Mode) String() string {
	switch m {
	case ModeStacked:
		return "stacked"
	case ModeForecast:
		return "forecast"
	default:
		return "plain"
	}
}

// Classify reports how ds encodes time.
func Classify(ds *grid.Dataset) Mode {
	if !ds.Has(grid.DimStep) {
		return ModePlain
	}
	if ds.Size(grid.DimTime) > 1 {
		return ModeStacked
	}
	return ModeForecast
}

// Normalize converts ds into the canonical dataset of date.
//
// Step encoded time is flattened into absolute times and entries missing in
// every variable are dropped. A 23 hour axis starting at 01:00 gets a missing
// 00:00 entry. The resulting axis must have exactly 24 entries on date; it is
// then replaced by the canonical hourly grid. Duplicate versions are summed
// with missing values counted as zero.
func Normalize(ds *grid.Dataset, date time.Time) (*grid.Canonical, error) {
	date = era5.Day(date)
	if len(ds.Vars) == 0 {
		return nil, fmt.Errorf("%w: dataset has no variables", era5.ErrNormalization)
	}

	a, err := newAxis(ds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", era5.ErrNormalization, err)
	}
	a.repairLeadingHour()
	a.sort()

	if len(a.times) != grid.HoursPerDay {
		return nil, fmt.Errorf("%w: time axis has %d entries, want %d",
			era5.ErrNormalization, len(a.times), grid.HoursPerDay)
	}
	if first := era5.Day(a.times[0]); !first.Equal(date) {
		return nil, fmt.Errorf("%w: time axis starts on %s, want %s",
			era5.ErrNormalization, first.Format(time.DateOnly), date.Format(time.DateOnly))
	}

	c := &grid.Canonical{
		Date:      date,
		Time:      grid.CanonicalTimes(date),
		Latitude:  slices.Clone(ds.Latitude),
		Longitude: slices.Clone(ds.Longitude),
	}
	for _, v := range a.vars {
		v, err := collapse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", era5.ErrNormalization, err)
		}
		v.Name = strings.ToLower(v.Name)
		c.Vars = append(c.Vars, v)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", era5.ErrNormalization, err)
	}
	return c, nil
}

// axis is a dataset whose variables have been laid out as a sequence of
// frames, one per entry of times. Every variable has dimensions
// (time, latitude, longitude, extra...).
type axis struct {
	times []time.Time
	vars  []*grid.Variable
}

func newAxis(ds *grid.Dataset) (*axis, error) {
	var lead []string
	switch Classify(ds) {
	case ModeStacked:
		lead = []string{grid.DimTime, grid.DimStep}
	case ModeForecast:
		lead = []string{grid.DimStep}
		if ds.Has(grid.DimTime) {
			lead = []string{grid.DimTime, grid.DimStep}
		}
	default:
		if !ds.Has(grid.DimTime) {
			return nil, fmt.Errorf("dataset has neither time nor step dimension")
		}
		lead = []string{grid.DimTime}
	}

	order := append(slices.Clone(lead), grid.DimLatitude, grid.DimLongitude)
	for _, d := range ds.Dims {
		if !slices.Contains(order, d) {
			order = append(order, d)
		}
	}

	times, err := absoluteTimes(ds, lead)
	if err != nil {
		return nil, err
	}

	a := &axis{times: times}
	for _, v := range ds.Vars {
		p, err := v.Permute(order)
		if err != nil {
			return nil, err
		}
		// Fold the leading time dimensions into one.
		n := 1
		for range lead {
			n *= p.Shape[0]
			p.Dims, p.Shape = p.Dims[1:], p.Shape[1:]
		}
		p.Dims = append([]string{grid.DimTime}, p.Dims...)
		p.Shape = append([]int{n}, p.Shape...)
		if n != len(times) {
			return nil, fmt.Errorf("%s: %d time entries, coordinates give %d", v.Name, n, len(times))
		}
		a.vars = append(a.vars, p)
	}

	if slices.Contains(lead, grid.DimStep) {
		a.dropMissing()
	}
	return a, nil
}

// absoluteTimes returns the real time of every entry of the folded lead
// dimensions, base time varying slowest.
func absoluteTimes(ds *grid.Dataset, lead []string) ([]time.Time, error) {
	if !slices.Contains(lead, grid.DimStep) {
		if len(ds.Time) != ds.Size(grid.DimTime) {
			return nil, fmt.Errorf("%d base times for a time dimension of %d", len(ds.Time), ds.Size(grid.DimTime))
		}
		return slices.Clone(ds.Time), nil
	}

	nBase := 1
	if slices.Contains(lead, grid.DimTime) {
		nBase = ds.Size(grid.DimTime)
	}
	if len(ds.Time) != nBase {
		return nil, fmt.Errorf("%d base times, want %d", len(ds.Time), nBase)
	}
	if len(ds.Step) != ds.Size(grid.DimStep) {
		return nil, fmt.Errorf("%d steps for a step dimension of %d", len(ds.Step), ds.Size(grid.DimStep))
	}
	times := make([]time.Time, 0, nBase*len(ds.Step))
	for _, base := range ds.Time {
		for _, step := range ds.Step {
			times = append(times, base.Add(step))
		}
	}
	return times, nil
}

func (a *axis) frameSize(v *grid.Variable) int {
	return grid.Product(v.Shape[1:])
}

// take rebuilds every variable from the frames at idx. A negative index
// yields an all-missing frame.
func (a *axis) take(idx []int, times []time.Time) {
	for _, v := range a.vars {
		f := a.frameSize(v)
		data := make([]float32, 0, len(idx)*f)
		for _, i := range idx {
			if i < 0 {
				for k := 0; k < f; k++ {
					data = append(data, grid.Missing)
				}
				continue
			}
			data = append(data, v.Data[i*f:(i+1)*f]...)
		}
		v.Data = data
		v.Shape[0] = len(idx)
	}
	a.times = times
}

func (a *axis) dropMissing() {
	var (
		keep  []int
		times []time.Time
	)
	for i, t := range a.times {
		for _, v := range a.vars {
			f := a.frameSize(v)
			if !grid.AllMissing(v.Data[i*f : (i+1)*f]) {
				keep = append(keep, i)
				times = append(times, t)
				break
			}
		}
	}
	if len(keep) != len(a.times) {
		a.take(keep, times)
	}
}

// repairLeadingHour restores the 00:00 entry that the provider omits for
// some processing streams.
func (a *axis) repairLeadingHour() {
	if len(a.times) != grid.HoursPerDay-1 || a.times[0].Hour() != 1 {
		return
	}
	idx := make([]int, 0, grid.HoursPerDay)
	idx = append(idx, -1)
	for i := range a.times {
		idx = append(idx, i)
	}
	times := append([]time.Time{a.times[0].Add(-time.Hour)}, a.times...)
	a.take(idx, times)
}

func (a *axis) sort() {
	if slices.IsSortedFunc(a.times, func(x, y time.Time) int { return x.Compare(y) }) {
		return
	}
	idx := make([]int, len(a.times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return a.times[idx[i]].Before(a.times[idx[j]]) })
	times := make([]time.Time, len(idx))
	for i, j := range idx {
		times[i] = a.times[j]
	}
	a.take(idx, times)
}

// collapse removes every dimension after longitude: duplicate versions are
// summed, singleton dimensions are squeezed.
func collapse(v *grid.Variable) (*grid.Variable, error) {
	for len(v.Dims) > 3 {
		k := len(v.Dims) - 1
		switch {
		case v.Dims[k] == grid.DimExpver:
			v = sumOver(v, k)
		case v.Shape[k] == 1:
			v.Dims, v.Shape = v.Dims[:k], v.Shape[:k]
		default:
			return nil, fmt.Errorf("%s: unexpected dimension %s of size %d", v.Name, v.Dims[k], v.Shape[k])
		}
	}
	return v, nil
}

// sumOver sums v along dimension k treating missing values as zero. An
// element missing in every slice along k stays missing.
func sumOver(v *grid.Variable, k int) *grid.Variable {
	outer := grid.Product(v.Shape[:k])
	n := v.Shape[k]
	inner := grid.Product(v.Shape[k+1:])
	data := make([]float32, outer*inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			var (
				sum   float32
				found bool
			)
			for j := 0; j < n; j++ {
				x := v.Data[(o*n+j)*inner+i]
				if math.IsNaN(float64(x)) {
					continue
				}
				sum += x
				found = true
			}
			if !found {
				sum = grid.Missing
			}
			data[o*inner+i] = sum
		}
	}
	out := *v
	out.Dims = slices.Delete(slices.Clone(v.Dims), k, k+1)
	out.Shape = slices.Delete(slices.Clone(v.Shape), k, k+1)
	out.Data = data
	return &out
}
