package nn

import (
	"math/rand"
	"testing"

	"github.com/openfluke/recurrent/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPUSpecFromParams(t *testing.T) {
	arch := Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			_, p := newTestCell(t, arch, v, 1)
			spec := gpuSpec(arch, v, p, 5, 7)
			require.NoError(t, spec.Validate())

			assert.Equal(t, v == VariantPeephole, spec.Peephole)
			_, cols := p.Forget.W.Dims()
			assert.Equal(t, float32(p.Forget.W.At(1, 2)), spec.W[gpu.GateForget][cols+2])
			assert.Equal(t, float32(p.Wout.At(1, 3)), spec.Wout[1*4+3])
			assert.Len(t, spec.U[gpu.GateCandidate], 16)
			if v == VariantPeephole {
				assert.Empty(t, spec.U[gpu.GateOutput])
			}
		})
	}
}

func TestFlattenBatchLayout(t *testing.T) {
	batch := randomBatch(rand.New(rand.NewSource(1)), []int{3, 3}, 2)
	flat := flattenBatch(batch, 2)
	require.Len(t, flat, 12)
	// [batch][timestep][dim]
	assert.Equal(t, float32(batch[1][2].AtVec(1)), flat[(1*3+2)*2+1])

	back := unflattenBatch(flat, 2, 3, 2)
	for b := range batch {
		for ts := range batch[b] {
			for k := 0; k < 2; k++ {
				assert.InDelta(t, batch[b][ts].AtVec(k), back[b][ts].AtVec(k), 1e-6)
			}
		}
	}
}

func requireGPU(t *testing.T) {
	t.Helper()
	if _, err := gpu.GetContext(); err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
}

func TestForwardGPUMatchesCPU(t *testing.T) {
	requireGPU(t)
	arch := Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}
	lengths := []int{4, 4, 2, 0, 3}
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			cell, p := newTestCell(t, arch, v, 12)
			exec := NewExecutor(cell, WithLogger(quietLogger()))
			batch := randomBatch(rand.New(rand.NewSource(5)), lengths, arch.InputDim)

			cpu, err := exec.Forward(p, batch)
			require.NoError(t, err)
			gpuOut, err := exec.ForwardGPU(p, batch)
			require.NoError(t, err)
			require.Len(t, gpuOut, len(batch))

			for i := range batch {
				require.Len(t, gpuOut[i], lengths[i])
				for ts := range gpuOut[i] {
					for k := 0; k < arch.OutputDim; k++ {
						assert.InDelta(t, cpu[i][ts].AtVec(k), gpuOut[i][ts].AtVec(k), 1e-5, "seq %d t=%d k=%d", i, ts, k)
					}
				}
			}
		})
	}
}

func TestForwardGPUBatchIndependence(t *testing.T) {
	requireGPU(t)
	arch := Architecture{InputDim: 2, HiddenDim: 3, OutputDim: 2}
	cell, p := newTestCell(t, arch, VariantPeephole, 4)
	exec := NewExecutor(cell, WithLogger(quietLogger()))
	batch := randomBatch(rand.New(rand.NewSource(9)), []int{4, 4, 1}, arch.InputDim)

	all, err := exec.ForwardGPU(p, batch)
	require.NoError(t, err)
	for i := range batch {
		alone, err := exec.ForwardGPU(p, Batch{batch[i]})
		require.NoError(t, err)
		for ts := range alone[0] {
			for k := 0; k < arch.OutputDim; k++ {
				assert.InDelta(t, alone[0][ts].AtVec(k), all[i][ts].AtVec(k), 1e-6)
			}
		}
	}
}

func TestForwardGPUValidatesBeforeDispatch(t *testing.T) {
	arch := Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}
	cell, p := newTestCell(t, arch, VariantStandard, 1)
	batch := randomBatch(rand.New(rand.NewSource(1)), []int{2}, 4)

	out, err := NewExecutor(cell, WithLogger(quietLogger())).ForwardGPU(p, batch)
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrShapeMismatch)

	empty, err := NewExecutor(cell, WithLogger(quietLogger())).ForwardGPU(p, Batch{{}, {}})
	require.NoError(t, err)
	assert.Len(t, empty, 2)
}
