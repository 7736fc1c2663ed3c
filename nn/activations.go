package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// sigmoid: 1 / (1 + exp(-v))
func sigmoid(v float64) float64 {
	return 1.0 / (1.0 + math.Exp(-v))
}

// sigmoidDerivative takes the post-activation value y = sigmoid(v)
func sigmoidDerivative(y float64) float64 {
	return y * (1.0 - y)
}

// tanhDerivative takes the post-activation value y = tanh(v)
func tanhDerivative(y float64) float64 {
	return 1.0 - y*y
}

// apply runs fn over every element of v in place and returns v
func apply(v *mat.VecDense, fn func(float64) float64) *mat.VecDense {
	for i := 0; i < v.Len(); i++ {
		v.SetVec(i, fn(v.AtVec(i)))
	}
	return v
}

// affine computes W·x + U·h + b. U may be nil.
func affine(g *Gate, x, h mat.Vector) *mat.VecDense {
	var z mat.VecDense
	z.MulVec(g.W, x)
	if g.U != nil {
		var r mat.VecDense
		r.MulVec(g.U, h)
		z.AddVec(&z, &r)
	}
	z.AddVec(&z, g.B.ColView(0))
	return &z
}

// concat stacks vectors into one column, in argument order.
func concat(vs ...mat.Vector) *mat.VecDense {
	n := 0
	for _, v := range vs {
		n += v.Len()
	}
	data := make([]float64, 0, n)
	for _, v := range vs {
		for i := 0; i < v.Len(); i++ {
			data = append(data, v.AtVec(i))
		}
	}
	return mat.NewVecDense(n, data)
}

// unit is the 1-vector used to accumulate bias gradients with RankOne.
func unit() *mat.VecDense {
	return mat.NewVecDense(1, []float64{1})
}
