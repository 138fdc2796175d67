package era5

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the date part of an archive key.
const DateLayout = "20060102"

const keySuffix = "_ERA5_SL_REANALYSIS.nc"

// Key returns the archive object name of a variable on a given day.
func Key(date time.Time, variable string) string {
	return date.Format(DateLayout) + "_" + strings.ToUpper(variable) + keySuffix
}

// ParseKey is the inverse of Key. The returned variable is lower-case.
func ParseKey(key string) (time.Time, string, error) {
	rest, ok := strings.CutSuffix(key, keySuffix)
	if !ok {
		return time.Time{}, "", fmt.Errorf("key %q has no %q suffix", key, keySuffix)
	}
	dateStr, variable, ok := strings.Cut(rest, "_")
	if !ok || variable == "" {
		return time.Time{}, "", fmt.Errorf("key %q has no variable", key)
	}
	date, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("key %q: %w", key, err)
	}
	return date, strings.ToLower(variable), nil
}
