package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Gate holds the parameters of one gate.
// W multiplies the gate input (x_t, or concat(c, h_{t-1}, x_t) for peephole gates),
// U multiplies h_{t-1} and is nil for peephole forget/input/output gates,
// B is the hidden_dim x 1 bias.
type Gate struct {
	W *mat.Dense
	U *mat.Dense
	B *mat.Dense
}

// Params holds every tensor of a cell. Params are treated as a read-only
// snapshot during Forward and Gradients.
type Params struct {
	Forget    Gate
	Input     Gate
	Candidate Gate
	Output    Gate

	Wout *mat.Dense // output projection [outputDim][hiddenDim]
}

// Gradient mirrors Params tensor for tensor
type Gradient = Params

// NamedTensor pairs a parameter tensor with a stable name
type NamedTensor struct {
	Name  string
	Value *mat.Dense
}

// gateShapes returns the (rows, cols) of W and U for the named gate.
// A zero U shape means the gate has no recurrent matrix.
func gateShapes(arch Architecture, variant Variant, gate string) (w, u [2]int) {
	h, in := arch.HiddenDim, arch.InputDim
	if variant == VariantPeephole && gate != "candidate" {
		return [2]int{h, 2*h + in}, [2]int{}
	}
	return [2]int{h, in}, [2]int{h, h}
}

var gateNames = [4]string{"forget", "input", "candidate", "output"}

func (p *Params) gates() [4]*Gate {
	return [4]*Gate{&p.Forget, &p.Input, &p.Candidate, &p.Output}
}

// NewParams allocates zero-valued parameters whose shapes match arch and variant
func NewParams(arch Architecture, variant Variant) *Params {
	p := &Params{}
	for i, g := range p.gates() {
		w, u := gateShapes(arch, variant, gateNames[i])
		g.W = mat.NewDense(w[0], w[1], nil)
		if u[0] > 0 {
			g.U = mat.NewDense(u[0], u[1], nil)
		}
		g.B = mat.NewDense(arch.HiddenDim, 1, nil)
	}
	p.Wout = mat.NewDense(arch.OutputDim, arch.HiddenDim, nil)
	return p
}

// InitParams draws Xavier/Glorot normal weights from rng with zero biases.
func InitParams(arch Architecture, variant Variant, rng *rand.Rand) (*Params, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParseVariant(string(variant)); err != nil {
		return nil, err
	}
	p := NewParams(arch, variant)
	fill := func(m *mat.Dense) {
		if m == nil {
			return
		}
		r, c := m.Dims()
		std := math.Sqrt(2.0 / float64(r+c))
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				m.Set(i, j, rng.NormFloat64()*std)
			}
		}
	}
	for _, g := range p.gates() {
		fill(g.W)
		fill(g.U)
	}
	fill(p.Wout)
	return p, nil
}

// Tensors lists every tensor in a fixed order. Missing U matrices are skipped.
func (p *Params) Tensors() []NamedTensor {
	out := make([]NamedTensor, 0, 13)
	for i, g := range p.gates() {
		out = append(out, NamedTensor{Name: gateNames[i] + ".W", Value: g.W})
		if g.U != nil {
			out = append(out, NamedTensor{Name: gateNames[i] + ".U", Value: g.U})
		}
		out = append(out, NamedTensor{Name: gateNames[i] + ".b", Value: g.B})
	}
	out = append(out, NamedTensor{Name: "Wout", Value: p.Wout})
	return out
}

// NumParams returns the total number of scalar parameters
func (p *Params) NumParams() int {
	n := 0
	for _, t := range p.Tensors() {
		r, c := t.Value.Dims()
		n += r * c
	}
	return n
}

// Clone returns a deep copy that shares no memory with p
func (p *Params) Clone() *Params {
	cp := &Params{}
	src := p.gates()
	for i, g := range cp.gates() {
		g.W = mat.DenseCopyOf(src[i].W)
		if src[i].U != nil {
			g.U = mat.DenseCopyOf(src[i].U)
		}
		g.B = mat.DenseCopyOf(src[i].B)
	}
	cp.Wout = mat.DenseCopyOf(p.Wout)
	return cp
}

// Validate checks every tensor shape against arch and variant and returns a
// ShapeMismatchError naming the first inconsistent tensor.
func (p *Params) Validate(arch Architecture, variant Variant) error {
	if p == nil {
		return shapeError("params", nil, nil)
	}
	check := func(name string, m *mat.Dense, want [2]int) error {
		if want[0] == 0 {
			if m != nil {
				r, c := m.Dims()
				return shapeError(name, nil, []int{r, c})
			}
			return nil
		}
		if m == nil {
			return shapeError(name, want[:], nil)
		}
		if r, c := m.Dims(); r != want[0] || c != want[1] {
			return shapeError(name, want[:], []int{r, c})
		}
		return nil
	}
	for i, g := range p.gates() {
		w, u := gateShapes(arch, variant, gateNames[i])
		if err := check(gateNames[i]+".W", g.W, w); err != nil {
			return err
		}
		if err := check(gateNames[i]+".U", g.U, u); err != nil {
			return err
		}
		if err := check(gateNames[i]+".b", g.B, [2]int{arch.HiddenDim, 1}); err != nil {
			return err
		}
	}
	return check("Wout", p.Wout, [2]int{arch.OutputDim, arch.HiddenDim})
}

// Add accumulates other into p element-wise. Tensor names and shapes must
// match; otherwise p is left unchanged and a ShapeMismatchError is returned.
func (p *Params) Add(other *Params) error {
	if other == nil {
		return shapeError("params", nil, nil)
	}
	dst, src := p.Tensors(), other.Tensors()
	if len(dst) != len(src) {
		return shapeError("tensors", []int{len(dst)}, []int{len(src)})
	}
	for i := range dst {
		if dst[i].Name != src[i].Name {
			return shapeError(dst[i].Name, nil, nil)
		}
		dr, dc := dst[i].Value.Dims()
		sr, sc := src[i].Value.Dims()
		if dr != sr || dc != sc {
			return shapeError(dst[i].Name, []int{dr, dc}, []int{sr, sc})
		}
	}
	for i := range dst {
		dst[i].Value.Add(dst[i].Value, src[i].Value)
	}
	return nil
}

// Norm returns the L2 norm over every tensor
func (p *Params) Norm() float64 {
	sum := 0.0
	for _, t := range p.Tensors() {
		n := mat.Norm(t.Value, 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}
