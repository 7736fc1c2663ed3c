package nn

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Executor runs a Cell over batches of sequences. Sequences share one Params
// snapshot and never interact, so scans run concurrently, each writing only
// its own output slot. An Executor holds no state between calls.
type Executor struct {
	cell    Cell
	workers int
	log     *logrus.Entry
}

// Option configures an Executor
type Option func(*Executor)

// WithWorkers bounds the number of sequences processed concurrently.
// n <= 0 keeps the default (physical core count).
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger replaces the default logrus standard logger
func WithLogger(l *logrus.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l.WithField("component", "nn")
		}
	}
}

// NewExecutor creates an executor for cell
func NewExecutor(cell Cell, opts ...Option) *Executor {
	e := &Executor{
		cell:    cell,
		workers: defaultWorkers(),
		log:     logrus.StandardLogger().WithField("component", "nn"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cell returns the cell this executor runs
func (e *Executor) Cell() Cell { return e.cell }

// Workers returns the concurrency bound
func (e *Executor) Workers() int { return e.workers }

// Forward scans every sequence of batch independently from a zero state on
// the CPU and returns the output sequences, index-aligned with batch.
// See ForwardGPU for the float32 WebGPU path.
func (e *Executor) Forward(p *Params, batch Batch) (Batch, error) {
	if err := e.validate(p, batch); err != nil {
		return nil, err
	}
	return e.forwardCPU(p, batch)
}

func (e *Executor) forwardCPU(p *Params, batch Batch) (Batch, error) {
	start := time.Now()
	out := make(Batch, len(batch))
	err := e.each(len(batch), func(i int) error {
		out[i] = outputs(scanTrace(e.cell, p, batch[i]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"variant":  e.cell.Variant(),
		"batch":    len(batch),
		"workers":  e.workers,
		"duration": time.Since(start),
	}).Debug("forward pass complete")
	return out, nil
}

// Loss runs the forward pass on the CPU and returns the MSE against targets.
func (e *Executor) Loss(p *Params, batch, targets Batch) (float64, error) {
	if err := e.validate(p, batch); err != nil {
		return 0, err
	}
	if err := checkTargets(batch, targets, e.cell.Architecture().OutputDim); err != nil {
		return 0, err
	}
	pred, err := e.forwardCPU(p, batch)
	if err != nil {
		return 0, err
	}
	return MSE(pred, targets)
}

func (e *Executor) validate(p *Params, batch Batch) error {
	arch := e.cell.Architecture()
	if err := p.Validate(arch, e.cell.Variant()); err != nil {
		return err
	}
	return checkBatch("batch", batch, arch.InputDim)
}

// each runs fn for every index in [0, n) on at most e.workers goroutines.
func (e *Executor) each(n int, fn func(i int) error) error {
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return errors.Wrapf(fn(i), "sequence %d", i)
		})
	}
	return g.Wait()
}
