package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilmpc/coren/internal/config"
)

func TestDefaultIsValidForSafePrime256(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, cfg.Validate(256))
}

func TestValidateRejectsOversizedParameters(t *testing.T) {
	cfg := config.Default()
	cfg.StatisticalSecurityKappa = 40
	cfg.MaxSecretBitsK = 40
	assert.ErrorIs(t, cfg.Validate(64), config.ErrKappaTooLarge)
}

func TestLoadRoundTripsExampleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coren.toml")
	require.NoError(t, config.WriteExample(path))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.PolynomialDegree)
	assert.Equal(t, uint16(3), cfg.NetworkSize)
	assert.Equal(t, config.Parallel, cfg.ExecutionVMConfig.PlanStrategy)
}
