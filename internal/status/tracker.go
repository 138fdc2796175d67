// Package status tracks unit progress and serves it over HTTP.
package status

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rtm0/era5sync/internal/era5"
	"github.com/rtm0/era5sync/internal/pipeline"
)

// UnitStatus is the latest known state of one unit.
type UnitStatus struct {
	Date      string    `json:"date"`
	Variables []string  `json:"variables"`
	State     string    `json:"state"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Updated   time.Time `json:"updated"`
}

// RunSummary describes a finished run.
type RunSummary struct {
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Units    int          `json:"units"`
	Done     int          `json:"done"`
	Failed   int          `json:"failed"`
	Keys     int          `json:"keys"`
	Failures []UnitStatus `json:"failures"`
}

// Tracker records unit transitions of the current run and the summary of the
// last finished one. It implements pipeline.Observer.
type Tracker struct {
	mu      sync.RWMutex
	now     func() time.Time
	running bool
	units   map[string]UnitStatus
	last    *RunSummary
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now, units: map[string]UnitStatus{}}
}

// Begin starts tracking a new run and forgets the units of the previous one.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.units = map[string]UnitStatus{}
}

// Transition implements pipeline.Observer.
func (t *Tracker) Transition(u era5.Unit, state pipeline.State, attempt int, err error) {
	st := UnitStatus{
		Date:      u.Date.Format(era5.DateLayout),
		Variables: slices.Clone(u.Variables),
		State:     string(state),
		Attempt:   attempt,
		Updated:   t.now(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.units[st.Date] = st
}

// Finish records the report of the finished run.
func (t *Tracker) Finish(r pipeline.Report) {
	s := &RunSummary{
		Started:  r.Started,
		Finished: r.Finished,
		Units:    len(r.Results),
		Done:     r.Count(pipeline.StateDone),
		Failed:   r.Count(pipeline.StateFailed),
		Failures: []UnitStatus{},
	}
	for _, res := range r.Results {
		s.Keys += len(res.Keys)
	}
	for _, res := range r.Failed() {
		st := UnitStatus{
			Date:      res.Unit.Date.Format(era5.DateLayout),
			Variables: slices.Clone(res.Unit.Variables),
			State:     string(res.State),
			Attempt:   res.Attempts,
			Updated:   r.Finished,
		}
		if res.Err != nil {
			st.Error = res.Err.Error()
		}
		s.Failures = append(s.Failures, st)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.last = s
}

// Running reports whether a run is in progress.
func (t *Tracker) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Units returns the units of the current or last run ordered by date. A
// non-empty state keeps only units in that state.
func (t *Tracker) Units(state string) []UnitStatus {
	t.mu.RLock()
	out := make([]UnitStatus, 0, len(t.units))
	for _, st := range t.units {
		if state == "" || st.State == state {
			out = append(out, st)
		}
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b UnitStatus) int { return strings.Compare(a.Date, b.Date) })
	return out
}

// LastRun returns the summary of the last finished run.
func (t *Tracker) LastRun() (RunSummary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return RunSummary{}, false
	}
	return *t.last, true
}
