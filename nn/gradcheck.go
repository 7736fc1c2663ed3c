package nn

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// TensorCheck is the finite-difference result for one parameter tensor
type TensorCheck struct {
	Name        string  `json:"name"`
	Entries     int     `json:"entries"`
	MaxAbsDiff  float64 `json:"max_abs_diff"`
	MaxAnalytic float64 `json:"max_analytic"`
}

// GradCheckReport collects per-tensor results of CheckGradients
type GradCheckReport struct {
	Loss    float64       `json:"loss"`
	Epsilon float64       `json:"epsilon"`
	Tensors []TensorCheck `json:"tensors"`
}

// MaxAbsDiff returns the worst deviation over every tensor
func (r *GradCheckReport) MaxAbsDiff() float64 {
	m := 0.0
	for _, t := range r.Tensors {
		m = math.Max(m, t.MaxAbsDiff)
	}
	return m
}

// CheckGradients compares the analytic gradient of every scalar parameter
// against gonum's centered difference (L(θ+ε) - L(θ-ε)) / 2ε, one tensor at a
// time. p is not modified; perturbations are applied to a clone.
func CheckGradients(e *Executor, p *Params, batch, targets Batch, eps float64) (*GradCheckReport, error) {
	grad, loss, err := e.Gradients(p, batch, targets)
	if err != nil {
		return nil, err
	}

	perturbed := p.Clone()
	analytic := grad.Tensors()
	report := &GradCheckReport{Loss: loss, Epsilon: eps}
	settings := &fd.Settings{Formula: fd.Central, Step: eps}

	for k, nt := range perturbed.Tensors() {
		rows, cols := nt.Value.Dims()
		x0 := mat.DenseCopyOf(nt.Value).RawMatrix().Data

		var lossErr error
		f := func(x []float64) float64 {
			nt.Value.Copy(mat.NewDense(rows, cols, x))
			l, err := e.Loss(perturbed, batch, targets)
			if err != nil && lossErr == nil {
				lossErr = err
			}
			return l
		}
		numeric := fd.Gradient(nil, f, x0, settings)
		nt.Value.Copy(mat.NewDense(rows, cols, x0))
		if lossErr != nil {
			return nil, errors.Wrapf(lossErr, "finite difference over %s", nt.Name)
		}

		check := TensorCheck{Name: nt.Name, Entries: len(numeric)}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				a := analytic[k].Value.At(i, j)
				check.MaxAbsDiff = math.Max(check.MaxAbsDiff, math.Abs(numeric[i*cols+j]-a))
				check.MaxAnalytic = math.Max(check.MaxAnalytic, math.Abs(a))
			}
		}
		report.Tensors = append(report.Tensors, check)
	}
	return report, nil
}
