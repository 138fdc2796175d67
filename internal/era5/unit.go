package era5

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Unit is a calendar day paired with the variables still missing from the
// archive for that day.
type Unit struct {
	Date time.Time
	// Variables holds lower-case short codes, e.g. "t2m".
	Variables []string
}

// String returns a compact representation suitable for logging.
func (u Unit) String() string {
	return fmt.Sprintf("%s[%s]", u.Date.Format(DateLayout), strings.Join(u.Variables, ","))
}

// Keys returns the archive keys the unit is expected to produce.
func (u Unit) Keys() []string {
	keys := make([]string, len(u.Variables))
	for i, v := range u.Variables {
		keys[i] = Key(u.Date, v)
	}
	return keys
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Days returns every day in the inclusive range [start, end].
func Days(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Variable pairs the upstream long name with the archive short code.
type Variable struct {
	LongName  string
	ShortName string
}

// Variables is an ordered set of variables configured for archiving.
type Variables []Variable

// NewVariables builds Variables from a long name to short code mapping. The
// result is sorted by long name so that iteration order is stable.
func NewVariables(m map[string]string) Variables {
	vars := make(Variables, 0, len(m))
	for long, short := range m {
		vars = append(vars, Variable{LongName: long, ShortName: strings.ToLower(short)})
	}
	slices.SortFunc(vars, func(a, b Variable) int { return strings.Compare(a.LongName, b.LongName) })
	return vars
}

// ShortNames returns the short codes in configuration order.
func (vs Variables) ShortNames() []string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.ShortName
	}
	return names
}

// LongNames translates short codes into upstream long names. Unknown codes are
// reported as an error.
func (vs Variables) LongNames(shorts []string) ([]string, error) {
	var longs []string
	for _, s := range shorts {
		i := slices.IndexFunc(vs, func(v Variable) bool { return v.ShortName == strings.ToLower(s) })
		if i < 0 {
			return nil, fmt.Errorf("unknown variable %q", s)
		}
		longs = append(longs, vs[i].LongName)
	}
	return longs, nil
}
