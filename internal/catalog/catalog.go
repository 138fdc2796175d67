// Package catalog reconciles the archive contents with the configured date
// range and variables.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rtm0/era5sync/internal/era5"
)

// Lister enumerates the objects present in the archive.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Missing returns one unit per day of [start, end] that lacks at least one of
// the variables in the archive listing. An object counts as present as soon as
// its name appears in the listing. Units are ordered by date and their
// variables by code.
func Missing(start, end time.Time, vars era5.Variables, listing []string) ([]era5.Unit, error) {
	start, end = era5.Day(start), era5.Day(end)
	if start.After(end) {
		return nil, fmt.Errorf("start date %s is after end date %s",
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	present := make(map[string]bool, len(listing))
	for _, name := range listing {
		present[path.Base(name)] = true
	}

	var missing []string
	for _, day := range era5.Days(start, end) {
		for _, short := range vars.ShortNames() {
			if k := era5.Key(day, short); !present[k] {
				missing = append(missing, k)
			}
		}
	}

	byDate := map[time.Time][]string{}
	for _, k := range missing {
		date, short, err := era5.ParseKey(k)
		if err != nil {
			return nil, err
		}
		byDate[date] = append(byDate[date], short)
	}

	units := make([]era5.Unit, 0, len(byDate))
	for date, shorts := range byDate {
		slices.Sort(shorts)
		units = append(units, era5.Unit{Date: date, Variables: slices.Compact(shorts)})
	}
	slices.SortFunc(units, func(a, b era5.Unit) int { return a.Date.Compare(b.Date) })
	return units, nil
}

// Reconciler computes missing units against a live archive listing.
type Reconciler struct {
	logger *slog.Logger
	lister Lister
	vars   era5.Variables
}

// NewReconciler creates a Reconciler for vars.
func NewReconciler(logger *slog.Logger, lister Lister, vars era5.Variables) *Reconciler {
	return &Reconciler{logger: logger, lister: lister, vars: vars}
}

// Reconcile lists the archive once and returns the units missing in
// [start, end]. A listing failure wraps era5.ErrListing.
func (r *Reconciler) Reconcile(ctx context.Context, start, end time.Time) ([]era5.Unit, error) {
	listing, err := r.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", era5.ErrListing, err)
	}
	units, err := Missing(start, end, r.vars, listing)
	if err != nil {
		return nil, err
	}
	var pairs int
	for _, u := range units {
		pairs += len(u.Variables)
	}
	r.logger.Info("reconciled archive",
		"start", era5.Day(start).Format(time.DateOnly),
		"end", era5.Day(end).Format(time.DateOnly),
		"variables", strings.Join(r.vars.ShortNames(), ","),
		"objects", len(listing),
		"missingUnits", len(units),
		"missingFiles", pairs)
	return units, nil
}
