package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10, cfg.UsefulLifeYears)
	require.Equal(t, 2*time.Minute, cfg.StepTimeout)

	rate, err := cfg.TaxRate()
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(30)))
	tol, err := cfg.Tolerance()
	require.NoError(t, err)
	require.Equal(t, "0.01", tol.String())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CONSOL_DEFAULT_TAX_RATE=29.83\nCONSOL_RUN_CONCURRENCY=2\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() {
		_ = os.Unsetenv("CONSOL_DEFAULT_TAX_RATE")
		_ = os.Unsetenv("CONSOL_RUN_CONCURRENCY")
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)
	rate, err := cfg.TaxRate()
	require.NoError(t, err)
	require.Equal(t, "29.83", rate.String())
	require.Equal(t, 2, cfg.RunConcurrency)
}

func TestLoadConfigRejectsInvalidRate(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("CONSOL_DEFAULT_TAX_RATE", "130")

	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("CONSOL_DEFAULT_TAX_RATE", "abc")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsStepTimeoutAboveLockTTL(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("CONSOL_LOCK_TTL", "5m")
	t.Setenv("CONSOL_STEP_TIMEOUT", "5m")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "CONSOL_LOCK_TTL")

	t.Setenv("CONSOL_STEP_TIMEOUT", "4m")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.LockTTL)
}
