package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Cell is one LSTM variant. Gate functions are pure; cPrev/c arguments are
// ignored by gates that have no peephole connection.
//
// Gate shape mismatches are caller bugs and panic inside gonum. Step validates
// its inputs and returns a ShapeMismatchError instead.
type Cell interface {
	Architecture() Architecture
	Variant() Variant

	ForgetGate(p *Params, x, hPrev, cPrev mat.Vector) *mat.VecDense
	InputGate(p *Params, x, hPrev, cPrev mat.Vector) *mat.VecDense
	CandidateGate(p *Params, x, hPrev mat.Vector) *mat.VecDense
	// OutputGate receives the already-updated cell state c_t.
	OutputGate(p *Params, x, hPrev, c mat.Vector) *mat.VecDense

	// Step performs one state transition and returns (h_t, c_t) and Wout·h_t.
	Step(p *Params, x mat.Vector, prev State) (State, *mat.VecDense, error)

	backprop(p *Params, tr *stepTrace, dh, dcNext *mat.VecDense, grad *Gradient) (dhPrev, dcPrev *mat.VecDense)
}

// NewCell validates the architecture and returns the cell for variant
func NewCell(arch Architecture, variant Variant) (Cell, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	switch variant {
	case VariantStandard:
		return &standardCell{arch: arch}, nil
	case VariantPeephole:
		return &peepholeCell{arch: arch}, nil
	default:
		return nil, configError("variant", variant, "must be 'standard' or 'peephole'")
	}
}

// stepTrace keeps everything one timestep computed, for BPTT.
type stepTrace struct {
	x, hPrev, cPrev mat.Vector
	f, i, g, o      *mat.VecDense // gate activations (g is the candidate ĉ_t)
	c, tanhC, h     *mat.VecDense
	out             *mat.VecDense
}

// forwardStep runs the shared cell skeleton without validation:
//
//	c_t   = f_t ⊙ c_{t-1} + i_t ⊙ ĉ_t
//	h_t   = o_t ⊙ tanh(c_t)
//	out_t = Wout · h_t
func forwardStep(cell Cell, p *Params, x, hPrev, cPrev mat.Vector) *stepTrace {
	tr := &stepTrace{x: x, hPrev: hPrev, cPrev: cPrev}
	tr.f = cell.ForgetGate(p, x, hPrev, cPrev)
	tr.i = cell.InputGate(p, x, hPrev, cPrev)
	tr.g = cell.CandidateGate(p, x, hPrev)

	var fc, ig mat.VecDense
	fc.MulElemVec(tr.f, cPrev)
	ig.MulElemVec(tr.i, tr.g)
	tr.c = mat.NewVecDense(tr.f.Len(), nil)
	tr.c.AddVec(&fc, &ig)

	// o_t must see c_t, so it is computed after the cell update
	tr.o = cell.OutputGate(p, x, hPrev, tr.c)

	tr.tanhC = apply(mat.VecDenseCopyOf(tr.c), math.Tanh)
	tr.h = mat.NewVecDense(tr.c.Len(), nil)
	tr.h.MulElemVec(tr.o, tr.tanhC)

	r, _ := p.Wout.Dims()
	tr.out = mat.NewVecDense(r, nil)
	tr.out.MulVec(p.Wout, tr.h)
	return tr
}

// step validates shapes then runs forwardStep.
func step(cell Cell, p *Params, x mat.Vector, prev State) (State, *mat.VecDense, error) {
	arch := cell.Architecture()
	if err := p.Validate(arch, cell.Variant()); err != nil {
		return State{}, nil, err
	}
	if err := checkVec("x", x, arch.InputDim); err != nil {
		return State{}, nil, err
	}
	if prev.H == nil || prev.C == nil {
		return State{}, nil, shapeError("state", []int{arch.HiddenDim, 1}, nil)
	}
	if err := checkVec("h_prev", prev.H, arch.HiddenDim); err != nil {
		return State{}, nil, err
	}
	if err := checkVec("c_prev", prev.C, arch.HiddenDim); err != nil {
		return State{}, nil, err
	}
	tr := forwardStep(cell, p, x, prev.H, prev.C)
	return State{H: tr.h, C: tr.c}, tr.out, nil
}

// accumulate adds the outer products of one gate's pre-activation gradient
// into its parameter gradients. h is ignored when the gate has no U.
func accumulate(g *Gate, da *mat.VecDense, in, h mat.Vector) {
	g.W.RankOne(g.W, 1, da, in)
	if g.U != nil {
		g.U.RankOne(g.U, 1, da, h)
	}
	g.B.RankOne(g.B, 1, da, unit())
}

// =============================================================================
// Standard cell
// =============================================================================

type standardCell struct {
	arch Architecture
}

func (c *standardCell) Architecture() Architecture { return c.arch }
func (c *standardCell) Variant() Variant           { return VariantStandard }

// ForgetGate: f_t = sigmoid(U_f·h_{t-1} + W_f·x_t + b_f)
func (c *standardCell) ForgetGate(p *Params, x, hPrev, _ mat.Vector) *mat.VecDense {
	return apply(affine(&p.Forget, x, hPrev), sigmoid)
}

// InputGate: i_t = sigmoid(U_i·h_{t-1} + W_i·x_t + b_i)
func (c *standardCell) InputGate(p *Params, x, hPrev, _ mat.Vector) *mat.VecDense {
	return apply(affine(&p.Input, x, hPrev), sigmoid)
}

// CandidateGate: ĉ_t = tanh(U_c·h_{t-1} + W_c·x_t + b_c)
func (c *standardCell) CandidateGate(p *Params, x, hPrev mat.Vector) *mat.VecDense {
	return apply(affine(&p.Candidate, x, hPrev), math.Tanh)
}

// OutputGate: o_t = sigmoid(U_o·h_{t-1} + W_o·x_t + b_o)
func (c *standardCell) OutputGate(p *Params, x, hPrev, _ mat.Vector) *mat.VecDense {
	return apply(affine(&p.Output, x, hPrev), sigmoid)
}

func (c *standardCell) Step(p *Params, x mat.Vector, prev State) (State, *mat.VecDense, error) {
	return step(c, p, x, prev)
}

func (c *standardCell) backprop(p *Params, tr *stepTrace, dh, dcNext *mat.VecDense, grad *Gradient) (*mat.VecDense, *mat.VecDense) {
	n := dh.Len()
	daf := mat.NewVecDense(n, nil)
	dai := mat.NewVecDense(n, nil)
	dag := mat.NewVecDense(n, nil)
	dao := mat.NewVecDense(n, nil)
	dcPrev := mat.NewVecDense(n, nil)

	for j := 0; j < n; j++ {
		o, tc := tr.o.AtVec(j), tr.tanhC.AtVec(j)
		f, i, g := tr.f.AtVec(j), tr.i.AtVec(j), tr.g.AtVec(j)
		dhj := dh.AtVec(j)

		// h_t = o_t ⊙ tanh(c_t)
		dc := dcNext.AtVec(j) + dhj*o*tanhDerivative(tc)
		dao.SetVec(j, dhj*tc*sigmoidDerivative(o))

		// c_t = f_t ⊙ c_{t-1} + i_t ⊙ ĉ_t
		daf.SetVec(j, dc*tr.cPrev.AtVec(j)*sigmoidDerivative(f))
		dai.SetVec(j, dc*g*sigmoidDerivative(i))
		dag.SetVec(j, dc*i*tanhDerivative(g))
		dcPrev.SetVec(j, dc*f)
	}

	accumulate(&grad.Forget, daf, tr.x, tr.hPrev)
	accumulate(&grad.Input, dai, tr.x, tr.hPrev)
	accumulate(&grad.Candidate, dag, tr.x, tr.hPrev)
	accumulate(&grad.Output, dao, tr.x, tr.hPrev)

	dhPrev := mat.NewVecDense(n, nil)
	for _, pair := range []struct {
		u  *mat.Dense
		da *mat.VecDense
	}{
		{p.Forget.U, daf}, {p.Input.U, dai}, {p.Candidate.U, dag}, {p.Output.U, dao},
	} {
		var r mat.VecDense
		r.MulVec(pair.u.T(), pair.da)
		dhPrev.AddVec(dhPrev, &r)
	}
	return dhPrev, dcPrev
}

// checkVec reports a ShapeMismatchError when v is nil or not of length n.
func checkVec(name string, v mat.Vector, n int) error {
	if v == nil {
		return shapeError(name, []int{n, 1}, nil)
	}
	if v.Len() != n {
		return shapeError(name, []int{n, 1}, []int{v.Len(), 1})
	}
	return nil
}
