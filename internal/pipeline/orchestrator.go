// Package pipeline retrieves, normalizes and exports missing archive units.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rtm0/era5sync/internal/era5"
	"github.com/rtm0/era5sync/internal/grid"
	"github.com/rtm0/era5sync/internal/normalize"
)

// State is the processing state of a unit.
type State string

const (
	StatePending     State = "PENDING"
	StateFetching    State = "FETCHING"
	StateNormalizing State = "NORMALIZING"
	StateExporting   State = "EXPORTING"
	StateRetrying    State = "RETRYING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Fetcher downloads the raw grid of one day.
type Fetcher interface {
	Fetch(ctx context.Context, date time.Time, variables []string, dest string) error
}

// Uploader exports a canonical dataset and returns the archive keys written.
type Uploader interface {
	Export(ctx context.Context, c *grid.Canonical, date time.Time, scratchDir string) ([]string, error)
}

// Observer is notified of every state change of a unit. Implementations must
// be safe for concurrent use.
type Observer interface {
	Transition(u era5.Unit, state State, attempt int, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(u era5.Unit, state State, attempt int, err error)

// Transition implements Observer.
func (f ObserverFunc) Transition(u era5.Unit, state State, attempt int, err error) {
	f(u, state, attempt, err)
}

// Options controls unit execution.
type Options struct {
	// Retries is the number of attempts made after the first one fails.
	Retries    int
	RetryDelay time.Duration
	// Concurrency bounds the number of units processed at once. Zero or a
	// negative value means no bound.
	Concurrency int
	// ScratchDir receives one temporary directory per unit attempt.
	ScratchDir string
}

// Result is the outcome of one unit.
type Result struct {
	Unit     era5.Unit
	State    State
	Attempts int
	Keys     []string
	Err      error
}

// Report summarizes a run.
type Report struct {
	Started  time.Time
	Finished time.Time
	Results  []Result
}

// Count returns the number of units that ended in state.
func (r Report) Count(state State) int {
	n := 0
	for _, res := range r.Results {
		if res.State == state {
			n++
		}
	}
	return n
}

// Failed returns the results of units that exhausted their retries.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.State == StateFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Orchestrator runs every unit through fetch, normalization and export,
// retrying a failed unit from the start after a fixed delay.
type Orchestrator struct {
	logger    *slog.Logger
	fetcher   Fetcher
	exporter  Uploader
	vars      era5.Variables
	opts      Options
	observers []Observer

	decode    func(path string) ([]*grid.Dataset, error)
	normalize func(ds *grid.Dataset, date time.Time) (*grid.Canonical, error)
}

// New creates an Orchestrator.
func New(logger *slog.Logger, fetcher Fetcher, exporter Uploader, vars era5.Variables, opts Options, observers ...Observer) *Orchestrator {
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	return &Orchestrator{
		logger:    logger,
		fetcher:   fetcher,
		exporter:  exporter,
		vars:      vars,
		opts:      opts,
		observers: observers,
		decode:    era5.ReadPayload,
		normalize: normalize.Normalize,
	}
}

// Run processes units independently and waits for all of them. A unit that
// fails does not affect the others.
func (o *Orchestrator) Run(ctx context.Context, units []era5.Unit) Report {
	report := Report{Started: time.Now(), Results: make([]Result, len(units))}
	for i, u := range units {
		report.Results[i] = Result{Unit: u, State: StatePending}
		o.notify(u, StatePending, 0, nil)
	}

	var g errgroup.Group
	if o.opts.Concurrency > 0 {
		g.SetLimit(o.opts.Concurrency)
	}
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			report.Results[i] = o.runUnit(ctx, u)
			return nil
		})
	}
	g.Wait()
	report.Finished = time.Now()

	o.logger.Info("run finished",
		"units", len(units),
		"done", report.Count(StateDone),
		"failed", report.Count(StateFailed),
		"in", report.Finished.Sub(report.Started).Round(time.Second))
	return report
}

func (o *Orchestrator) runUnit(ctx context.Context, u era5.Unit) Result {
	res := Result{Unit: u}
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		keys, err := o.attempt(ctx, u, attempt)
		res.Keys = append(res.Keys, keys...)
		if err == nil {
			res.State, res.Err = StateDone, nil
			slices.Sort(res.Keys)
			res.Keys = slices.Compact(res.Keys)
			o.notify(u, StateDone, attempt, nil)
			o.logger.Info("unit done", "unit", u.String(), "attempts", attempt, "files", len(res.Keys))
			return res
		}

		res.Err = err
		if attempt > o.opts.Retries || ctx.Err() != nil {
			res.State = StateFailed
			o.notify(u, StateFailed, attempt, err)
			o.logger.Error("unit failed", "unit", u.String(), "attempts", attempt, "err", err)
			return res
		}

		o.notify(u, StateRetrying, attempt, err)
		o.logger.Warn("unit attempt failed, retrying",
			"unit", u.String(), "attempt", attempt, "of", o.opts.Retries+1, "in", o.opts.RetryDelay, "err", err)
		timer := time.NewTimer(o.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.State, res.Err = StateFailed, errors.Join(err, ctx.Err())
			o.notify(u, StateFailed, attempt, res.Err)
			o.logger.Error("unit abandoned", "unit", u.String(), "attempts", attempt, "err", res.Err)
			return res
		case <-timer.C:
		}
	}
}

// attempt runs one pass of a unit inside its own scratch directory.
func (o *Orchestrator) attempt(ctx context.Context, u era5.Unit, attempt int) ([]string, error) {
	longNames, err := o.vars.LongNames(u.Variables)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", era5.ErrRetrieval, err)
	}

	scratch := filepath.Join(o.opts.ScratchDir, u.Date.Format(era5.DateLayout)+"-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", era5.ErrScratch, err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			o.logger.Warn("Could not remove scratch directory", "dir", scratch, "err", err)
		}
	}()

	raw := filepath.Join(scratch, "raw.nc")
	o.notify(u, StateFetching, attempt, nil)
	if err := o.fetcher.Fetch(ctx, u.Date, longNames, raw); err != nil {
		return nil, err
	}
	defer Discard(o.logger, raw)

	o.notify(u, StateNormalizing, attempt, nil)
	dss, err := o.decode(raw)
	if err != nil {
		return nil, err
	}
	var (
		canon []*grid.Canonical
		have  = map[string]bool{}
	)
	for _, ds := range dss {
		c, err := o.normalize(ds, u.Date)
		if err != nil {
			return nil, err
		}
		o.logger.Debug("normalized dataset", "unit", u.String(), "mode", normalize.Classify(ds).String(), "vars", len(c.Vars))
		for _, v := range c.Vars {
			have[v.Name] = true
		}
		canon = append(canon, c)
	}
	for _, v := range u.Variables {
		if !have[v] {
			return nil, fmt.Errorf("%w: payload has no variable %q", era5.ErrNormalization, v)
		}
	}

	o.notify(u, StateExporting, attempt, nil)
	var (
		keys []string
		errs []error
	)
	for _, c := range canon {
		k, err := o.exporter.Export(ctx, c, u.Date, scratch)
		keys = append(keys, k...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return keys, errors.Join(errs...)
}

func (o *Orchestrator) notify(u era5.Unit, state State, attempt int, err error) {
	for _, obs := range o.observers {
		obs.Transition(u, state, attempt, err)
	}
}
