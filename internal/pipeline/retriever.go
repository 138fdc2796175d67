package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rtm0/era5sync/internal/cds"
	"github.com/rtm0/era5sync/internal/era5"
)

// Dataset is the upstream name of the ERA5 single-level reanalysis.
const Dataset = "reanalysis-era5-single-levels"

// GlobalArea is the whole globe as north, west, south, east.
var GlobalArea = []float64{90, -180, -90, 180}

// Retriever requests one day of ERA5 data from the Climate Data Store.
type Retriever struct {
	client  *cds.Client
	dataset string
	hours   []string
}

// NewRetriever returns a Retriever requesting the given hours of each day,
// formatted as "HH:00".
func NewRetriever(client *cds.Client, dataset string, hours []string) *Retriever {
	if dataset == "" {
		dataset = Dataset
	}
	return &Retriever{client: client, dataset: dataset, hours: hours}
}

// Fetch writes the raw grid of date for the upstream variables to dest.
func (r *Retriever) Fetch(ctx context.Context, date time.Time, variables []string, dest string) error {
	if len(variables) == 0 {
		return fmt.Errorf("%w: no variables requested", era5.ErrRetrieval)
	}
	req := cds.Request{
		ProductType:    []string{"reanalysis"},
		Variable:       variables,
		Year:           []string{fmt.Sprintf("%04d", date.Year())},
		Month:          []string{fmt.Sprintf("%02d", date.Month())},
		Day:            []string{fmt.Sprintf("%02d", date.Day())},
		Time:           r.hours,
		Area:           GlobalArea,
		DataFormat:     "netcdf",
		DownloadFormat: "unarchived",
	}
	if err := r.client.Retrieve(ctx, r.dataset, req, dest); err != nil {
		return fmt.Errorf("%w: %s: %w", era5.ErrRetrieval, date.Format(time.DateOnly), err)
	}
	return nil
}
