package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		logLevel, configPath = "", ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMissingCommand(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("ARCHIVE_LOCATION", "")
	archiveDir := filepath.Join(dir, "archive")
	require.NoError(t, os.MkdirAll(archiveDir, 0o755))
	for _, f := range []string{
		"20200101_T2M_ERA5_SL_REANALYSIS.nc",
		"20200101_TP_ERA5_SL_REANALYSIS.nc",
		"20200102_TP_ERA5_SL_REANALYSIS.nc",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(archiveDir, f), nil, 0o644))
	}
	cfgPath := filepath.Join(dir, "era5sync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
archive:
  location: `+archiveDir+`
start_date: "2020-01-01"
end_date: "2020-01-03"
`), 0o644))

	out, err := execute(t, "missing", "--config", cfgPath, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"20200102_T2M_ERA5_SL_REANALYSIS.nc",
		"20200103_T2M_ERA5_SL_REANALYSIS.nc",
		"20200103_TP_ERA5_SL_REANALYSIS.nc",
	}, strings.Fields(out))
}

func TestRunRequiresUpstreamKey(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("ARCHIVE_LOCATION", dir)
	t.Setenv("CDSAPI_KEY", "")

	_, err := execute(t, "run", "--log-level", "error")
	assert.ErrorContains(t, err, "CDSAPI_KEY")
}

func TestInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("ARCHIVE_LOCATION", dir)

	_, err := execute(t, "missing", "--log-level", "loud")
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(wd)) })
}
