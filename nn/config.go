package nn

import (
	"encoding/json"
	"os"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config describes a cell and how to execute it. It is loaded from JSON.
type Config struct {
	InputDim  int    `json:"input_dim"`
	HiddenDim int    `json:"hidden_dim"`
	OutputDim int    `json:"output_dim"`
	Variant   string `json:"variant"`   // "standard" | "peephole"
	Seed      int64  `json:"seed"`      // parameter initialization seed
	Workers   int    `json:"workers"`   // 0 = physical cores
	UseGPU    bool   `json:"use_gpu"`   // callers run ForwardGPU instead of Forward
	LogLevel  string `json:"log_level"` // logrus level name
}

// DefaultConfig returns a small standard cell
func DefaultConfig() *Config {
	return &Config{
		InputDim:  3,
		HiddenDim: 4,
		OutputDim: 2,
		Variant:   string(VariantStandard),
		Seed:      42,
		LogLevel:  "info",
	}
}

// LoadConfig reads a JSON config file on top of DefaultConfig
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", filename)
	}
	return cfg, nil
}

// Architecture returns the cell dimensions
func (c *Config) Architecture() Architecture {
	return Architecture{InputDim: c.InputDim, HiddenDim: c.HiddenDim, OutputDim: c.OutputDim}
}

// Validate reports the first ConfigurationError in c
func (c *Config) Validate() error {
	if err := c.Architecture().Validate(); err != nil {
		return err
	}
	if _, err := ParseVariant(c.Variant); err != nil {
		return err
	}
	if c.Workers < 0 {
		return configError("workers", c.Workers, "must be >= 0")
	}
	_, err := c.Level()
	return err
}

// Level returns the logrus level named by LogLevel; empty means info.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, configError("log_level", c.LogLevel, err.Error())
	}
	return level, nil
}

// NewExecutor validates c and builds the cell and executor it describes
func (c *Config) NewExecutor(logger *logrus.Logger) (*Executor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	variant, _ := ParseVariant(c.Variant)
	cell, err := NewCell(c.Architecture(), variant)
	if err != nil {
		return nil, err
	}
	return NewExecutor(cell, WithWorkers(c.Workers), WithLogger(logger)), nil
}

// defaultWorkers returns the physical core count, or NumCPU when cpuid
// cannot tell.
func defaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}
