package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rtm0/era5sync/internal/archive"
	"github.com/rtm0/era5sync/internal/era5"
	"github.com/rtm0/era5sync/internal/grid"
)

// Exporter writes every variable of a canonical dataset to its own file and
// uploads it to the archive.
type Exporter struct {
	logger *slog.Logger
	store  archive.Store
}

// NewExporter creates an Exporter uploading to store.
func NewExporter(logger *slog.Logger, store archive.Store) *Exporter {
	return &Exporter{logger: logger, store: store}
}

// Export uploads each variable of c under its archive key and returns the keys
// written. A failing variable does not stop the others; the returned error
// joins every failure. A file that could not be written wraps era5.ErrScratch,
// a failed transfer wraps era5.ErrUpload.
func (e *Exporter) Export(ctx context.Context, c *grid.Canonical, date time.Time, scratchDir string) ([]string, error) {
	var (
		keys []string
		errs []error
	)
	for _, v := range c.Vars {
		key := era5.Key(date, v.Name)
		if err := e.exportVariable(ctx, c, v, key, scratchDir); err != nil {
			e.logger.Error("Could not export variable", "key", key, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		e.logger.Info("exported variable", "key", key, "location", e.store.Location())
		keys = append(keys, key)
	}
	if len(errs) > 0 {
		return keys, errors.Join(errs...)
	}
	return keys, nil
}

func (e *Exporter) exportVariable(ctx context.Context, c *grid.Canonical, v *grid.Variable, key, scratchDir string) error {
	local := filepath.Join(scratchDir, key)
	defer os.Remove(local)

	if err := era5.WriteVariable(local, c, v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := e.store.Put(ctx, key, local); err != nil {
		return fmt.Errorf("%w: %w", era5.ErrUpload, err)
	}
	return nil
}

// Discard removes a raw payload together with any index sidecars the
// provider tooling left next to it.
func Discard(logger *slog.Logger, rawPath string) {
	sidecars, _ := filepath.Glob(rawPath + "*.idx")
	for _, f := range append([]string{rawPath}, sidecars...) {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Could not remove temporary file", "file", f, "err", err)
		}
	}
}
