package nn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariant(t *testing.T) {
	cases := map[string]Variant{
		"standard":   VariantStandard,
		"vanilla":    VariantStandard,
		" Peephole ": VariantPeephole,
	}
	for in, want := range cases {
		got, err := ParseVariant(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseVariant("gru")
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "variant", ce.Field)
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	exec, err := cfg.NewExecutor(quietLogger())
	require.NoError(t, err)
	assert.Equal(t, Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}, exec.Cell().Architecture())
	assert.Equal(t, VariantStandard, exec.Cell().Variant())
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hidden_dim": 8, "variant": "peephole", "workers": 2}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.InputDim)
	assert.Equal(t, 8, cfg.HiddenDim)
	assert.Equal(t, "info", cfg.LogLevel)

	exec, err := cfg.NewExecutor(quietLogger())
	require.NoError(t, err)
	assert.Equal(t, VariantPeephole, exec.Cell().Variant())
	assert.Equal(t, 2, exec.Workers())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hidden_dim": `), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		field  string
	}{
		"zero input": {func(c *Config) { c.InputDim = 0 }, "input_dim"},
		"neg output": {func(c *Config) { c.OutputDim = -1 }, "output_dim"},
		"variant":    {func(c *Config) { c.Variant = "lstm2" }, "variant"},
		"workers":    {func(c *Config) { c.Workers = -2 }, "workers"},
		"log level":  {func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrConfiguration)
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestConfigLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = ""
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, level)
	require.NoError(t, cfg.Validate())

	cfg.LogLevel = "debug"
	level, err = cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, level)

	cfg.LogLevel = "loud"
	_, err = cfg.Level()
	assert.ErrorIs(t, err, ErrConfiguration)
}
