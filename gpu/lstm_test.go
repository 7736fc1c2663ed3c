package gpu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func testSpec(peephole bool) LSTMSpec {
	s := LSTMSpec{InputSize: 3, HiddenSize: 4, OutputSize: 2, SeqLen: 5, BatchSize: 2, Peephole: peephole}
	for k := 0; k < 4; k++ {
		s.W[k] = filled(s.HiddenSize*s.wCols(k), float32(k+1))
		if s.hasU(k) {
			s.U[k] = filled(s.HiddenSize*s.HiddenSize, -float32(k+1))
		}
		s.B[k] = filled(s.HiddenSize, 0.5)
	}
	s.Wout = filled(s.OutputSize*s.HiddenSize, 2)
	return s
}

func TestLSTMSpecPack(t *testing.T) {
	s := testSpec(false)
	require.NoError(t, s.Validate())
	data, l := s.Pack()

	// per gate: W 4x3, U 4x4, b 4
	assert.Equal(t, [4]int{0, 32, 64, 96}, l.W)
	assert.Equal(t, [4]int{12, 44, 76, 108}, l.U)
	assert.Equal(t, 128, l.Wout)
	assert.Equal(t, 136, l.Total)
	assert.Len(t, data, l.Total)
	assert.Equal(t, float32(3), data[l.W[GateCandidate]])
	assert.Equal(t, float32(-4), data[l.U[GateOutput]])
}

func TestLSTMSpecPackPeephole(t *testing.T) {
	s := testSpec(true)
	require.NoError(t, s.Validate())
	_, l := s.Pack()

	// forget/input/output: W 4x11, no U
	assert.Equal(t, l.W[GateForget]+44, l.U[GateForget])
	assert.Equal(t, l.U[GateForget], l.B[GateForget])
	assert.Equal(t, l.W[GateCandidate]+12, l.U[GateCandidate])
	assert.Equal(t, 3*48+32+8, l.Total)
}

func TestLSTMSpecValidate(t *testing.T) {
	s := testSpec(true)
	s.U[GateForget] = filled(16, 1)
	assert.Error(t, s.Validate())

	s = testSpec(false)
	s.Wout = s.Wout[:3]
	assert.Error(t, s.Validate())

	s = testSpec(false)
	s.SeqLen = 0
	assert.Error(t, s.Validate())
}

func TestGenerateShaders(t *testing.T) {
	for _, peephole := range []bool{false, true} {
		s := testSpec(peephole)
		_, l := s.Pack()
		cell, hidden, project := s.GenerateShaders(l)

		for name, src := range map[string]string{"cell": cell, "hidden": hidden, "project": project} {
			assert.NotContains(t, src, "{{", "%s shader has unreplaced placeholders", name)
			assert.Contains(t, src, "@workgroup_size(64)")
		}
		assert.Contains(t, cell, "const HIDDEN_SIZE: u32 = 4u;")
		assert.Contains(t, project, "const ROWS: u32 = 10u;")
		assert.Contains(t, cell, "let g = tanh(standard_pre(")

		if peephole {
			assert.Contains(t, cell, "let f = sigmoid(peephole_pre(0u, 44u, batch, j, false))")
			assert.True(t, strings.Contains(hidden, "peephole_pre(") && strings.Contains(hidden, "batch, j, true))"),
				"peephole output gate must read the current cell state")
		} else {
			assert.Contains(t, cell, "let f = sigmoid(standard_pre(0u, 12u, 28u, batch, j))")
			assert.Contains(t, hidden, "let o = sigmoid(standard_pre(")
		}
	}
}
