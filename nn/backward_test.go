package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	cases := []struct {
		name    string
		arch    Architecture
		lengths []int
	}{
		{"tiny", Architecture{InputDim: 2, HiddenDim: 2, OutputDim: 1}, []int{2}},
		{"batch", Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}, []int{4, 2, 5}},
		{"ragged", Architecture{InputDim: 2, HiddenDim: 3, OutputDim: 2}, []int{3, 0, 1}},
	}
	for _, v := range variants {
		for _, tc := range cases {
			t.Run(string(v)+"/"+tc.name, func(t *testing.T) {
				cell, p := newTestCell(t, tc.arch, v, 13)
				rng := rand.New(rand.NewSource(17))
				batch := randomBatch(rng, tc.lengths, tc.arch.InputDim)
				targets := randomBatch(rng, tc.lengths, tc.arch.OutputDim)
				exec := NewExecutor(cell, WithLogger(quietLogger()))

				report, err := CheckGradients(exec, p, batch, targets, 1e-5)
				require.NoError(t, err)
				assert.Len(t, report.Tensors, len(p.Tensors()))
				for _, tensor := range report.Tensors {
					assert.Less(t, tensor.MaxAbsDiff, 1e-4, "%s: analytic gradient disagrees with finite difference", tensor.Name)
				}
			})
		}
	}
}

func TestGradientsShapeAndLoss(t *testing.T) {
	arch := Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}
	for _, v := range variants {
		t.Run(string(v), func(t *testing.T) {
			cell, p := newTestCell(t, arch, v, 3)
			rng := rand.New(rand.NewSource(5))
			batch := randomBatch(rng, []int{3, 3}, 3)
			targets := randomBatch(rng, []int{3, 3}, 2)
			exec := NewExecutor(cell, WithLogger(quietLogger()))

			grad, loss, err := exec.Gradients(p, batch, targets)
			require.NoError(t, err)
			require.NoError(t, grad.Validate(arch, v))
			assert.Positive(t, grad.Norm())

			want, err := exec.Loss(p, batch, targets)
			require.NoError(t, err)
			assert.InDelta(t, want, loss, 1e-12)
		})
	}
}

func TestGradientsAreDeterministic(t *testing.T) {
	arch := Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}
	cell, p := newTestCell(t, arch, VariantPeephole, 6)
	rng := rand.New(rand.NewSource(9))
	lengths := []int{5, 3, 6, 1, 4, 4, 2}
	batch := randomBatch(rng, lengths, 3)
	targets := randomBatch(rng, lengths, 2)

	serial, lossA, err := NewExecutor(cell, WithWorkers(1), WithLogger(quietLogger())).Gradients(p, batch, targets)
	require.NoError(t, err)
	parallel, lossB, err := NewExecutor(cell, WithWorkers(6), WithLogger(quietLogger())).Gradients(p, batch, targets)
	require.NoError(t, err)

	assert.Equal(t, lossA, lossB)
	want, got := serial.Tensors(), parallel.Tensors()
	for i := range want {
		assert.True(t, mat.Equal(want[i].Value, got[i].Value), want[i].Name)
	}
}

func TestGradientsEmptyBatch(t *testing.T) {
	arch := Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}
	cell, p := newTestCell(t, arch, VariantStandard, 1)
	exec := NewExecutor(cell, WithLogger(quietLogger()))

	for name, b := range map[string]Batch{"no sequences": {}, "empty sequences": {{}, {}}} {
		t.Run(name, func(t *testing.T) {
			grad, loss, err := exec.Gradients(p, b, b)
			require.NoError(t, err)
			assert.Zero(t, loss)
			assert.Zero(t, grad.Norm())
			require.NoError(t, grad.Validate(arch, VariantStandard))
		})
	}
}

func TestGradientsShapeErrorReturnsNothing(t *testing.T) {
	arch := Architecture{InputDim: 3, HiddenDim: 4, OutputDim: 2}
	cell, p := newTestCell(t, arch, VariantPeephole, 1)
	exec := NewExecutor(cell, WithLogger(quietLogger()))
	rng := rand.New(rand.NewSource(1))
	batch := randomBatch(rng, []int{3, 2}, 3)

	grad, loss, err := exec.Gradients(p, batch, randomBatch(rng, []int{3, 4}, 2))
	require.ErrorIs(t, err, ErrShapeMismatch)
	assert.Nil(t, grad)
	assert.Zero(t, loss)

	var se *ShapeMismatchError
	_, _, err = exec.Gradients(p, batch, randomBatch(rng, []int{3, 2}, 3))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "targets[0][t=0]", se.Tensor)
}

func TestGradientsLeaveParamsUntouched(t *testing.T) {
	arch := Architecture{InputDim: 2, HiddenDim: 3, OutputDim: 2}
	cell, p := newTestCell(t, arch, VariantStandard, 4)
	snapshot := p.Clone()
	rng := rand.New(rand.NewSource(2))
	batch := randomBatch(rng, []int{4}, 2)
	targets := randomBatch(rng, []int{4}, 2)

	grad, _, err := NewExecutor(cell, WithLogger(quietLogger())).Gradients(p, batch, targets)
	require.NoError(t, err)
	for i, nt := range p.Tensors() {
		assert.True(t, mat.Equal(snapshot.Tensors()[i].Value, nt.Value), nt.Name)
		assert.NotSame(t, nt.Value, grad.Tensors()[i].Value)
	}
}
