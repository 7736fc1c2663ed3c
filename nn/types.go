package nn

import (
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Variant selects the gate wiring of a cell
type Variant string

const (
	VariantStandard Variant = "standard" // gates read x_t and h_{t-1} through W and U
	VariantPeephole Variant = "peephole" // forget/input/output gates also read the cell state
)

// ParseVariant maps a selector string to a Variant.
// "vanilla" is accepted as an alias of "standard".
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "vanilla":
		return VariantStandard, nil
	case "peephole":
		return VariantPeephole, nil
	default:
		return "", configError("variant", s, "must be 'standard' or 'peephole'")
	}
}

// Architecture holds the fixed dimensions of a cell
type Architecture struct {
	InputDim  int `json:"input_dim"`
	HiddenDim int `json:"hidden_dim"`
	OutputDim int `json:"output_dim"`
}

// Validate checks that every dimension is positive
func (a Architecture) Validate() error {
	if a.InputDim <= 0 {
		return configError("input_dim", a.InputDim, "must be > 0")
	}
	if a.HiddenDim <= 0 {
		return configError("hidden_dim", a.HiddenDim, "must be > 0")
	}
	if a.OutputDim <= 0 {
		return configError("output_dim", a.OutputDim, "must be > 0")
	}
	return nil
}

// State is the (h, c) pair threaded through a scan.
type State struct {
	H *mat.VecDense
	C *mat.VecDense
}

// ZeroState returns h_0 = c_0 = 0 for the given hidden size
func ZeroState(hiddenDim int) State {
	return State{
		H: mat.NewVecDense(hiddenDim, nil),
		C: mat.NewVecDense(hiddenDim, nil),
	}
}

// Sequence is an ordered list of column vectors, one per timestep
type Sequence []*mat.VecDense

// Batch is an ordered collection of independent sequences
type Batch []Sequence

// NewSequence copies rows into a Sequence. Each row is one timestep.
func NewSequence(rows [][]float64) Sequence {
	seq := make(Sequence, len(rows))
	for t, row := range rows {
		data := make([]float64, len(row))
		copy(data, row)
		seq[t] = mat.NewVecDense(len(data), data)
	}
	return seq
}

// NewBatch copies a [batch][timestep][dim] array into a Batch
func NewBatch(data [][][]float64) Batch {
	b := make(Batch, len(data))
	for i, rows := range data {
		b[i] = NewSequence(rows)
	}
	return b
}

// Raw returns the sequence as [timestep][dim] float64 slices
func (s Sequence) Raw() [][]float64 {
	rows := make([][]float64, len(s))
	for t, v := range s {
		rows[t] = make([]float64, v.Len())
		for j := range rows[t] {
			rows[t][j] = v.AtVec(j)
		}
	}
	return rows
}

// Raw returns the batch as [batch][timestep][dim] float64 slices
func (b Batch) Raw() [][][]float64 {
	out := make([][][]float64, len(b))
	for i, s := range b {
		out[i] = s.Raw()
	}
	return out
}

// Timesteps returns the length of the longest sequence in the batch
func (b Batch) Timesteps() int {
	m := 0
	for _, s := range b {
		if len(s) > m {
			m = len(s)
		}
	}
	return m
}
