package nn

import (
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Gradients differentiates the batch MSE with respect to every tensor of p by
// backpropagation through time and returns the gradient together with the
// loss. Every shape is validated before any computation; on error no gradient
// is returned. The returned Gradient never aliases p.
func (e *Executor) Gradients(p *Params, batch, targets Batch) (*Gradient, float64, error) {
	if err := e.validate(p, batch); err != nil {
		return nil, 0, err
	}
	arch := e.cell.Architecture()
	if err := checkTargets(batch, targets, arch.OutputDim); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	count := 0
	for _, seq := range targets {
		count += len(seq) * arch.OutputDim
	}
	grad := NewParams(arch, e.cell.Variant())
	if count == 0 {
		return grad, 0, nil
	}

	// d(mean((y-t)^2))/dy = 2(y-t)/N
	scale := 2.0 / float64(count)
	partial := make([]*Gradient, len(batch))
	squared := make([]float64, len(batch))
	err := e.each(len(batch), func(i int) error {
		partial[i], squared[i] = backpropSequence(e.cell, p, batch[i], targets[i], scale)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// Reduce in index order so the result does not depend on scheduling.
	sum := 0.0
	for i := range partial {
		if err := grad.Add(partial[i]); err != nil {
			return nil, 0, err
		}
		sum += squared[i]
	}
	loss := sum / float64(count)

	e.log.WithFields(logrus.Fields{
		"variant":  e.cell.Variant(),
		"batch":    len(batch),
		"loss":     loss,
		"duration": time.Since(start),
	}).Debug("gradient pass complete")
	return grad, loss, nil
}

// backpropSequence runs one forward scan, then walks it backwards threading
// dh and dc from t+1 to t. It returns the sequence's gradient contribution and
// its sum of squared errors.
func backpropSequence(cell Cell, p *Params, seq, target Sequence, scale float64) (*Gradient, float64) {
	arch := cell.Architecture()
	grad := NewParams(arch, cell.Variant())
	traces := scanTrace(cell, p, seq)

	dhNext := mat.NewVecDense(arch.HiddenDim, nil)
	dcNext := mat.NewVecDense(arch.HiddenDim, nil)
	squared := 0.0

	for t := len(traces) - 1; t >= 0; t-- {
		tr := traces[t]

		dOut := mat.NewVecDense(arch.OutputDim, nil)
		dOut.SubVec(tr.out, target[t])
		squared += mat.Dot(dOut, dOut)
		dOut.ScaleVec(scale, dOut)

		// out_t = Wout · h_t
		grad.Wout.RankOne(grad.Wout, 1, dOut, tr.h)
		dh := mat.NewVecDense(arch.HiddenDim, nil)
		dh.MulVec(p.Wout.T(), dOut)
		dh.AddVec(dh, dhNext)

		dhNext, dcNext = cell.backprop(p, tr, dh, dcNext, grad)
	}
	return grad, squared
}
