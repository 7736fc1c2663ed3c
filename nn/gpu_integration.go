package nn

import (
	"sort"
	"time"

	"github.com/openfluke/recurrent/gpu"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// ForwardGPU is Forward computed by the WebGPU kernel in float32. Sequences
// are grouped by length and each group runs as one rectangular dispatch, so
// the route a sequence takes never depends on the rest of the batch.
// Zero-length sequences yield empty outputs without touching the device.
// GPU failures are returned as errors; there is no silent CPU fallback.
func (e *Executor) ForwardGPU(p *Params, batch Batch) (Batch, error) {
	if err := e.validate(p, batch); err != nil {
		return nil, err
	}

	start := time.Now()
	out := make(Batch, len(batch))
	groups := lo.GroupBy(lo.Range(len(batch)), func(i int) int { return len(batch[i]) })
	lengths := lo.Keys(groups)
	sort.Ints(lengths)

	for _, steps := range lengths {
		idx := groups[steps]
		if steps == 0 {
			for _, i := range idx {
				out[i] = Sequence{}
			}
			continue
		}
		group := lo.Map(idx, func(i int, _ int) Sequence { return batch[i] })
		res, err := e.runGPU(p, group, steps)
		if err != nil {
			return nil, errors.Wrapf(err, "gpu forward of %d sequences with %d steps", len(idx), steps)
		}
		for j, i := range idx {
			out[i] = res[j]
		}
	}

	e.log.WithFields(logrus.Fields{
		"variant":  e.cell.Variant(),
		"batch":    len(batch),
		"groups":   len(lengths),
		"duration": time.Since(start),
	}).Debug("GPU forward pass complete")
	return out, nil
}

// runGPU runs equal-length sequences through one kernel dispatch.
func (e *Executor) runGPU(p *Params, group Batch, steps int) (Batch, error) {
	spec := gpuSpec(e.cell.Architecture(), e.cell.Variant(), p, len(group), steps)
	flat, err := gpu.RunLSTMForward(spec, flattenBatch(group, spec.InputSize))
	if err != nil {
		return nil, err
	}
	return unflattenBatch(flat, spec.BatchSize, spec.SeqLen, spec.OutputSize), nil
}

// gpuSpec converts validated params into the kernel's row-major float32 layout
func gpuSpec(arch Architecture, variant Variant, p *Params, batchSize, seqLen int) gpu.LSTMSpec {
	spec := gpu.LSTMSpec{
		InputSize:  arch.InputDim,
		HiddenSize: arch.HiddenDim,
		OutputSize: arch.OutputDim,
		SeqLen:     seqLen,
		BatchSize:  batchSize,
		Peephole:   variant == VariantPeephole,
		Wout:       toFloat32(p.Wout),
	}
	for k, g := range p.gates() {
		spec.W[k] = toFloat32(g.W)
		spec.U[k] = toFloat32(g.U)
		spec.B[k] = toFloat32(g.B)
	}
	return spec
}

// toFloat32 flattens m row-major. A nil matrix yields an empty slice.
func toFloat32(m *mat.Dense) []float32 {
	if m == nil {
		return []float32{}
	}
	r, c := m.Dims()
	out := make([]float32, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, float32(m.At(i, j)))
		}
	}
	return out
}

func flattenBatch(batch Batch, dim int) []float32 {
	out := make([]float32, 0, len(batch)*batch.Timesteps()*dim)
	for _, seq := range batch {
		for _, v := range seq {
			for k := 0; k < dim; k++ {
				out = append(out, float32(v.AtVec(k)))
			}
		}
	}
	return out
}

func unflattenBatch(flat []float32, batchSize, seqLen, dim int) Batch {
	out := make(Batch, batchSize)
	for b := range out {
		out[b] = make(Sequence, seqLen)
		for t := range out[b] {
			v := mat.NewVecDense(dim, nil)
			base := (b*seqLen + t) * dim
			for k := 0; k < dim; k++ {
				v.SetVec(k, float64(flat[base+k]))
			}
			out[b][t] = v
		}
	}
	return out
}
