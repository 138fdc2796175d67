package era5

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/rtm0/era5sync/internal/grid"
)

// Names used for the canonical dimensions by the various encodings the
// provider produces.
var dimAliases = map[string][]string{
	grid.DimTime:      {"valid_time", "forecast_reference_time"},
	grid.DimStep:      {"forecast_period"},
	grid.DimLatitude:  {"lat"},
	grid.DimLongitude: {"lon"},
}

// ReadPayload decodes a raw netCDF payload into datasets. Data variables, i.e.
// those gridded over latitude and longitude, are grouped by their dimensions:
// each distinct dimension tuple yields one dataset.
func ReadPayload(filePath string) ([]*grid.Dataset, error) {
	nc, err := netcdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalization, err)
	}
	defer nc.Close()

	p, err := newPayload(nc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalization, err)
	}
	dss, err := p.datasets()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalization, err)
	}
	return dss, nil
}

type payload struct {
	names []string
	vars  map[string]*api.Variable
}

func newPayload(nc api.Group) (*payload, error) {
	fileNames := nc.ListVariables()
	raw := make(map[string]*api.Variable, len(fileNames))
	dims := map[string]bool{}
	for _, name := range fileNames {
		v, err := nc.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		raw[name] = v
		for _, d := range v.Dimensions {
			dims[d] = true
		}
	}

	rename := map[string]string{}
	for canonical, aliases := range dimAliases {
		if dims[canonical] || raw[canonical] != nil {
			continue
		}
		if alias, ok := pickAlias(aliases, dims, raw); ok {
			rename[alias] = canonical
		}
	}
	canon := func(name string) string {
		if c, ok := rename[name]; ok {
			return c
		}
		return name
	}

	p := &payload{vars: make(map[string]*api.Variable, len(raw))}
	for _, name := range fileNames {
		v := *raw[name]
		v.Dimensions = make([]string, len(raw[name].Dimensions))
		for i, d := range raw[name].Dimensions {
			v.Dimensions[i] = canon(d)
		}
		p.names = append(p.names, canon(name))
		p.vars[canon(name)] = &v
	}
	return p, nil
}

// pickAlias returns the first alias used as a dimension or, failing that, the
// first one present as a scalar variable, such as the base time of a pure
// forecast payload.
func pickAlias(aliases []string, dims map[string]bool, raw map[string]*api.Variable) (string, bool) {
	for _, alias := range aliases {
		if dims[alias] {
			return alias, true
		}
	}
	for _, alias := range aliases {
		if v := raw[alias]; v != nil && len(v.Dimensions) == 0 {
			return alias, true
		}
	}
	return "", false
}

func (p *payload) datasets() ([]*grid.Dataset, error) {
	var (
		order  []string
		groups = map[string][]string{}
		dimsOf = map[string][]string{}
	)
	for _, name := range p.names {
		dims := p.vars[name].Dimensions
		if !slices.Contains(dims, grid.DimLatitude) || !slices.Contains(dims, grid.DimLongitude) {
			continue
		}
		k := strings.Join(dims, ",")
		if _, ok := groups[k]; !ok {
			order = append(order, k)
			dimsOf[k] = dims
		}
		groups[k] = append(groups[k], name)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no gridded variables in payload")
	}

	dss := make([]*grid.Dataset, 0, len(order))
	for _, k := range order {
		ds, err := p.dataset(dimsOf[k], groups[k])
		if err != nil {
			return nil, err
		}
		dss = append(dss, ds)
	}
	return dss, nil
}

func (p *payload) dataset(dims []string, names []string) (*grid.Dataset, error) {
	ds := &grid.Dataset{Dims: slices.Clone(dims)}
	for _, name := range names {
		v, err := p.dataVariable(name)
		if err != nil {
			return nil, err
		}
		if len(ds.Vars) > 0 && !slices.Equal(v.Shape, ds.Vars[0].Shape) {
			return nil, fmt.Errorf("%s: shape %v differs from %v", name, v.Shape, ds.Vars[0].Shape)
		}
		ds.Vars = append(ds.Vars, v)
	}

	var err error
	if ds.Latitude, err = p.coordinate(grid.DimLatitude, ds.Size(grid.DimLatitude)); err != nil {
		return nil, err
	}
	if ds.Longitude, err = p.coordinate(grid.DimLongitude, ds.Size(grid.DimLongitude)); err != nil {
		return nil, err
	}

	wantTimes := 1
	if ds.Has(grid.DimTime) {
		wantTimes = ds.Size(grid.DimTime)
	}
	if ds.Time, err = p.times(wantTimes); err != nil {
		return nil, err
	}
	if ds.Has(grid.DimStep) {
		if ds.Step, err = p.steps(ds.Size(grid.DimStep)); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// dataVariable decodes a packed variable into float32 values with NaN for
// missing entries.
func (p *payload) dataVariable(name string) (*grid.Variable, error) {
	v := p.vars[name]
	scale, ok := attrFloat(v.Attributes, "scale_factor")
	if !ok {
		scale = 1
	}
	offset, _ := attrFloat(v.Attributes, "add_offset")
	fill, hasFill := attrFloat(v.Attributes, "_FillValue")
	missing, hasMissing := attrFloat(v.Attributes, "missing_value")

	shape := shapeOf(reflect.ValueOf(v.Values))
	data := make([]float32, 0, grid.Product(shape))
	err := walk(reflect.ValueOf(v.Values), func(x float64) {
		switch {
		case math.IsNaN(x), hasFill && x == fill, hasMissing && x == missing:
			data = append(data, grid.Missing)
		default:
			data = append(data, float32(x*scale+offset))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(shape) != len(v.Dimensions) || len(data) != grid.Product(shape) {
		return nil, fmt.Errorf("%s: values do not match dimensions %v", name, v.Dimensions)
	}
	return &grid.Variable{
		Name:     strings.ToLower(name),
		Dims:     slices.Clone(v.Dimensions),
		Shape:    shape,
		Data:     data,
		Units:    attrString(v.Attributes, "units"),
		LongName: attrString(v.Attributes, "long_name"),
	}, nil
}

func (p *payload) coordinate(name string, want int) ([]float64, error) {
	v, ok := p.vars[name]
	if !ok {
		return nil, fmt.Errorf("no %s coordinate", name)
	}
	vals, err := values(v.Values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(vals) != want {
		return nil, fmt.Errorf("%s has %d values, want %d", name, len(vals), want)
	}
	return vals, nil
}

func (p *payload) times(want int) ([]time.Time, error) {
	vals, err := p.coordinate(grid.DimTime, want)
	if err != nil {
		return nil, err
	}
	unit, ref, err := parseTimeUnits(attrString(p.vars[grid.DimTime].Attributes, "units"))
	if err != nil {
		return nil, fmt.Errorf("time: %w", err)
	}
	if ref.IsZero() {
		return nil, fmt.Errorf("time units have no reference date")
	}
	times := make([]time.Time, len(vals))
	for i, x := range vals {
		if math.IsNaN(x) {
			return nil, fmt.Errorf("time[%d] is missing", i)
		}
		times[i] = ref.Add(scaled(x, unit))
	}
	return times, nil
}

func (p *payload) steps(want int) ([]time.Duration, error) {
	vals, err := p.coordinate(grid.DimStep, want)
	if err != nil {
		return nil, err
	}
	unit, _, err := parseTimeUnits(attrString(p.vars[grid.DimStep].Attributes, "units"))
	if err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}
	steps := make([]time.Duration, len(vals))
	for i, x := range vals {
		// A missing step is an offset of zero.
		if !math.IsNaN(x) {
			steps[i] = scaled(x, unit)
		}
	}
	return steps, nil
}

func scaled(x float64, unit time.Duration) time.Duration {
	return time.Duration(math.Round(x*unit.Seconds())) * time.Second
}

var refLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimeUnits parses CF units of the form "hours since 1900-01-01 00:00:00"
// or a bare unit such as "hours". The reference time is zero for bare units.
func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	unitStr, refStr, hasRef := strings.Cut(strings.TrimSpace(units), " since ")
	var unit time.Duration
	switch strings.ToLower(strings.TrimSpace(unitStr)) {
	case "days", "day", "d":
		unit = 24 * time.Hour
	case "hours", "hour", "h":
		unit = time.Hour
	case "minutes", "minute", "min":
		unit = time.Minute
	case "seconds", "second", "s":
		unit = time.Second
	default:
		return 0, time.Time{}, fmt.Errorf("unsupported time units %q", units)
	}
	if !hasRef {
		return unit, time.Time{}, nil
	}
	refStr = strings.TrimSpace(refStr)
	for _, layout := range refLayouts {
		if ref, err := time.Parse(layout, refStr); err == nil {
			return unit, ref.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unsupported reference date %q", refStr)
}

func values(v any) ([]float64, error) {
	var vals []float64
	err := walk(reflect.ValueOf(v), func(x float64) { vals = append(vals, x) })
	return vals, err
}

func shapeOf(v reflect.Value) []int {
	var shape []int
	for v.Kind() == reflect.Slice {
		shape = append(shape, v.Len())
		if v.Len() == 0 {
			break
		}
		v = v.Index(0)
	}
	return shape
}

func walk(v reflect.Value, emit func(float64)) error {
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := walk(v.Index(i), emit); err != nil {
				return err
			}
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		emit(float64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		emit(float64(v.Uint()))
	case reflect.Float32, reflect.Float64:
		emit(v.Float())
	default:
		return fmt.Errorf("unsupported value kind %s", v.Kind())
	}
	return nil
}

func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	val, has := attrs.Get(key)
	if !has {
		return 0, false
	}
	var (
		x     float64
		found bool
	)
	_ = walk(reflect.ValueOf(val), func(f float64) {
		if !found {
			x, found = f, true
		}
	})
	return x, found
}

func attrString(attrs api.AttributeMap, key string) string {
	if attrs == nil {
		return ""
	}
	val, has := attrs.Get(key)
	if !has {
		return ""
	}
	s, _ := val.(string)
	return s
}
