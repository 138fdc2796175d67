package era5

import (
	"fmt"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/rtm0/era5sync/internal/grid"
)

// TZ=UTC date --date="1900-01-01 00:00:00" +%s
const unixSecs1900 = -2208988800

const timeUnits = "hours since 1900-01-01 00:00:00.0"

var epoch1900 = time.Unix(unixSecs1900, 0).UTC()

// WriteVariable writes a single variable of a canonical dataset, together with
// its time, latitude and longitude coordinates, to a netCDF classic file.
func WriteVariable(filePath string, c *grid.Canonical, v *grid.Variable) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrNormalization, err)
	}
	nLat, nLon := len(c.Latitude), len(c.Longitude)

	hours := make([]int32, len(c.Time))
	for i, t := range c.Time {
		hours[i] = int32(t.Sub(epoch1900) / time.Hour)
	}
	lat := make([]float32, nLat)
	for i, x := range c.Latitude {
		lat[i] = float32(x)
	}
	lon := make([]float32, nLon)
	for i, x := range c.Longitude {
		lon[i] = float32(x)
	}
	data := make([][][]float32, len(c.Time))
	for t := range data {
		data[t] = make([][]float32, nLat)
		for i := range data[t] {
			off := (t*nLat + i) * nLon
			data[t][i] = v.Data[off : off+nLon]
		}
	}

	dataAttrs := map[string]any{"_FillValue": grid.Missing}
	dataKeys := []string{"_FillValue"}
	if v.Units != "" {
		dataAttrs["units"] = v.Units
		dataKeys = append(dataKeys, "units")
	}
	if v.LongName != "" {
		dataAttrs["long_name"] = v.LongName
		dataKeys = append(dataKeys, "long_name")
	}

	vars := []struct {
		name  string
		vals  any
		dims  []string
		keys  []string
		attrs map[string]any
	}{
		{grid.DimTime, hours, []string{grid.DimTime},
			[]string{"units", "calendar"}, map[string]any{"units": timeUnits, "calendar": "gregorian"}},
		{grid.DimLatitude, lat, []string{grid.DimLatitude},
			[]string{"units"}, map[string]any{"units": "degrees_north"}},
		{grid.DimLongitude, lon, []string{grid.DimLongitude},
			[]string{"units"}, map[string]any{"units": "degrees_east"}},
		{v.Name, data, []string{grid.DimTime, grid.DimLatitude, grid.DimLongitude}, dataKeys, dataAttrs},
	}

	cw, err := cdf.OpenWriter(filePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScratch, err)
	}
	for _, nv := range vars {
		attrs, err := util.NewOrderedMap(nv.keys, nv.attrs)
		if err != nil {
			cw.Close()
			return fmt.Errorf("%w: %s attributes: %w", ErrScratch, nv.name, err)
		}
		err = cw.AddVar(nv.name, api.Variable{Values: nv.vals, Dimensions: nv.dims, Attributes: attrs})
		if err != nil {
			cw.Close()
			return fmt.Errorf("%w: %s: %w", ErrScratch, nv.name, err)
		}
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrScratch, err)
	}
	return nil
}
