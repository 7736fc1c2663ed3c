package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// peepholeCell wires the forget and input gates to c_{t-1} and the output
// gate to c_t through a single W over concat(c, h_{t-1}, x_t).
// The candidate gate has no peephole and keeps W_c and U_c.
type peepholeCell struct {
	arch Architecture
}

func (c *peepholeCell) Architecture() Architecture { return c.arch }
func (c *peepholeCell) Variant() Variant           { return VariantPeephole }

// ForgetGate: f_t = sigmoid(W_f·[c_{t-1}; h_{t-1}; x_t] + b_f)
func (c *peepholeCell) ForgetGate(p *Params, x, hPrev, cPrev mat.Vector) *mat.VecDense {
	return apply(affine(&p.Forget, concat(cPrev, hPrev, x), nil), sigmoid)
}

// InputGate: i_t = sigmoid(W_i·[c_{t-1}; h_{t-1}; x_t] + b_i)
func (c *peepholeCell) InputGate(p *Params, x, hPrev, cPrev mat.Vector) *mat.VecDense {
	return apply(affine(&p.Input, concat(cPrev, hPrev, x), nil), sigmoid)
}

// CandidateGate: ĉ_t = tanh(U_c·h_{t-1} + W_c·x_t + b_c)
func (c *peepholeCell) CandidateGate(p *Params, x, hPrev mat.Vector) *mat.VecDense {
	return apply(affine(&p.Candidate, x, hPrev), math.Tanh)
}

// OutputGate: o_t = sigmoid(W_o·[c_t; h_{t-1}; x_t] + b_o)
func (c *peepholeCell) OutputGate(p *Params, x, hPrev, cCur mat.Vector) *mat.VecDense {
	return apply(affine(&p.Output, concat(cCur, hPrev, x), nil), sigmoid)
}

func (c *peepholeCell) Step(p *Params, x mat.Vector, prev State) (State, *mat.VecDense, error) {
	return step(c, p, x, prev)
}

func (c *peepholeCell) backprop(p *Params, tr *stepTrace, dh, dcNext *mat.VecDense, grad *Gradient) (*mat.VecDense, *mat.VecDense) {
	n := dh.Len()

	// Output gate first: its peephole on c_t feeds back into dc.
	dao := mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		dao.SetVec(j, dh.AtVec(j)*tr.tanhC.AtVec(j)*sigmoidDerivative(tr.o.AtVec(j)))
	}
	var dzo mat.VecDense
	dzo.MulVec(p.Output.W.T(), dao) // [c_t; h_{t-1}; x_t]

	daf := mat.NewVecDense(n, nil)
	dai := mat.NewVecDense(n, nil)
	dag := mat.NewVecDense(n, nil)
	dc := mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		o, tc := tr.o.AtVec(j), tr.tanhC.AtVec(j)
		f, i, g := tr.f.AtVec(j), tr.i.AtVec(j), tr.g.AtVec(j)

		dcj := dcNext.AtVec(j) + dh.AtVec(j)*o*tanhDerivative(tc) + dzo.AtVec(j)
		dc.SetVec(j, dcj)

		daf.SetVec(j, dcj*tr.cPrev.AtVec(j)*sigmoidDerivative(f))
		dai.SetVec(j, dcj*g*sigmoidDerivative(i))
		dag.SetVec(j, dcj*i*tanhDerivative(g))
	}

	zf := concat(tr.cPrev, tr.hPrev, tr.x)
	zo := concat(tr.c, tr.hPrev, tr.x)
	accumulate(&grad.Forget, daf, zf, nil)
	accumulate(&grad.Input, dai, zf, nil)
	accumulate(&grad.Candidate, dag, tr.x, tr.hPrev)
	accumulate(&grad.Output, dao, zo, nil)

	var dzf, dzi, dhc mat.VecDense
	dzf.MulVec(p.Forget.W.T(), daf)
	dzi.MulVec(p.Input.W.T(), dai)
	dzf.AddVec(&dzf, &dzi) // [c_{t-1}; h_{t-1}; x_t]
	dhc.MulVec(p.Candidate.U.T(), dag)

	dhPrev := mat.NewVecDense(n, nil)
	dcPrev := mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		dcPrev.SetVec(j, dc.AtVec(j)*tr.f.AtVec(j)+dzf.AtVec(j))
		dhPrev.SetVec(j, dzf.AtVec(n+j)+dzo.AtVec(n+j)+dhc.AtVec(j))
	}
	return dhPrev, dcPrev
}
