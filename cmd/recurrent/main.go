// Command recurrent builds an LSTM cell from flags or a JSON config and runs
// it over synthetic data.
//
// Usage:
//
//	recurrent describe --variant peephole
//	recurrent forward --batch 8 --timesteps 16 --gpu
//	recurrent grad --config cell.json
//	recurrent gradcheck --input 2 --hidden 2 --output 1 --timesteps 2
package main

import (
	"encoding/json"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/openfluke/recurrent/nn"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

var (
	configFile string
	cfg        = nn.DefaultConfig()
	batchSize  int
	timesteps  int
	epsilon    float64
	tolerance  float64

	log = logrus.New()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recurrent",
		Short:         "Run standard and peephole LSTM cells over synthetic batches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&configFile, "config", "", "JSON config file; flags override its values")
	f.IntVar(&cfg.InputDim, "input", cfg.InputDim, "input dimension")
	f.IntVar(&cfg.HiddenDim, "hidden", cfg.HiddenDim, "hidden dimension")
	f.IntVar(&cfg.OutputDim, "output", cfg.OutputDim, "output dimension")
	f.StringVar(&cfg.Variant, "variant", cfg.Variant, "cell variant: standard or peephole")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "seed for parameters and synthetic data")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent sequences (0 = physical cores)")
	f.BoolVar(&cfg.UseGPU, "gpu", cfg.UseGPU, "run forward through the WebGPU kernel (float32)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	f.IntVar(&batchSize, "batch", 4, "sequences per batch")
	f.IntVar(&timesteps, "timesteps", 8, "timesteps per sequence")

	gradcheck := newGradCheckCmd()
	gradcheck.Flags().Float64Var(&epsilon, "eps", 1e-5, "finite-difference step")
	gradcheck.Flags().Float64Var(&tolerance, "tol", 1e-4, "maximum allowed absolute difference")

	root.AddCommand(newDescribeCmd(), newForwardCmd(), newGradCmd(), gradcheck)
	return root
}

// loadConfig layers the config file under any flags set explicitly.
func loadConfig(cmd *cobra.Command) error {
	if configFile != "" {
		fileCfg, err := nn.LoadConfig(configFile)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		override := func(name string, apply func()) {
			if !flags.Changed(name) {
				apply()
			}
		}
		override("input", func() { cfg.InputDim = fileCfg.InputDim })
		override("hidden", func() { cfg.HiddenDim = fileCfg.HiddenDim })
		override("output", func() { cfg.OutputDim = fileCfg.OutputDim })
		override("variant", func() { cfg.Variant = fileCfg.Variant })
		override("seed", func() { cfg.Seed = fileCfg.Seed })
		override("workers", func() { cfg.Workers = fileCfg.Workers })
		override("gpu", func() { cfg.UseGPU = fileCfg.UseGPU })
		if fileCfg.LogLevel != "" {
			override("log-level", func() { cfg.LogLevel = fileCfg.LogLevel })
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if batchSize < 0 || timesteps < 0 {
		return errors.Errorf("batch and timesteps must be >= 0, got %d and %d", batchSize, timesteps)
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	return nil
}

// session is everything one command run needs
type session struct {
	exec   *nn.Executor
	params *nn.Params
	rng    *rand.Rand
	log    *logrus.Entry
}

func newSession() (*session, error) {
	exec, err := cfg.NewExecutor(log)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	cell := exec.Cell()
	params, err := nn.InitParams(cell.Architecture(), cell.Variant(), rng)
	if err != nil {
		return nil, err
	}
	entry := log.WithFields(logrus.Fields{
		"run":     uuid.New().String(),
		"variant": cell.Variant(),
		"cpu":     cpuid.CPU.BrandName,
		"workers": exec.Workers(),
	})
	entry.WithField("params", params.NumParams()).Info("session ready")
	return &session{exec: exec, params: params, rng: rng, log: entry}, nil
}

// randomBatch draws a [batchSize][timesteps][dim] batch uniformly from [-1, 1).
func (s *session) randomBatch(dim int) nn.Batch {
	data := make([][][]float64, batchSize)
	for b := range data {
		data[b] = make([][]float64, timesteps)
		for t := range data[b] {
			data[b][t] = make([]float64, dim)
			for k := range data[b][t] {
				data[b][t][k] = s.rng.Float64()*2 - 1
			}
		}
	}
	return nn.NewBatch(data)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "encode output")
}

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the parameter tensors of the configured cell",
		RunE: func(*cobra.Command, []string) error {
			variant, err := nn.ParseVariant(cfg.Variant)
			if err != nil {
				return err
			}
			cell, err := nn.NewCell(cfg.Architecture(), variant)
			if err != nil {
				return err
			}
			return printJSON(nn.ExtractBlueprint(cell))
		},
	}
}

func newForwardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forward",
		Short: "Run a random batch forward and print the outputs",
		RunE: func(*cobra.Command, []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			batch := s.randomBatch(cfg.InputDim)
			if cfg.UseGPU {
				out, err := s.exec.ForwardGPU(s.params, batch)
				if err == nil {
					return printJSON(out.Raw())
				}
				s.log.WithError(err).Warn("GPU forward failed, running the whole batch on CPU")
			}
			out, err := s.exec.Forward(s.params, batch)
			if err != nil {
				return err
			}
			return printJSON(out.Raw())
		},
	}
}

func newGradCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grad",
		Short: "Compute the MSE gradient against random targets",
		RunE: func(*cobra.Command, []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			batch := s.randomBatch(cfg.InputDim)
			targets := s.randomBatch(cfg.OutputDim)
			grad, loss, err := s.exec.Gradients(s.params, batch, targets)
			if err != nil {
				return err
			}
			norms := lo.SliceToMap(grad.Tensors(), func(t nn.NamedTensor) (string, float64) {
				return t.Name, mat.Norm(t.Value, 2)
			})
			s.log.WithFields(logrus.Fields{"loss": loss, "grad_norm": grad.Norm()}).Info("gradient computed")
			return printJSON(map[string]interface{}{"loss": loss, "grad_norm": grad.Norm(), "tensor_norms": norms})
		},
	}
}

func newGradCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gradcheck",
		Short: "Compare analytic gradients against centered finite differences",
		RunE: func(*cobra.Command, []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			batch := s.randomBatch(cfg.InputDim)
			targets := s.randomBatch(cfg.OutputDim)
			report, err := nn.CheckGradients(s.exec, s.params, batch, targets, epsilon)
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if worst := report.MaxAbsDiff(); worst > tolerance {
				return errors.Errorf("gradient check failed: max abs diff %g > %g", worst, tolerance)
			}
			s.log.WithField("max_abs_diff", report.MaxAbsDiff()).Info("gradient check passed")
			return nil
		},
	}
}
