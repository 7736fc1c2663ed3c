package nn

import (
	"fmt"
)

// MSE computes the mean over every (sequence, timestep, dim) element of
// (predicted - target)^2. Both batches must have identical shapes.
// An empty batch has loss 0.
func MSE(predicted, target Batch) (float64, error) {
	if len(predicted) != len(target) {
		return 0, shapeError("target", []int{len(predicted)}, []int{len(target)})
	}
	sum, count := 0.0, 0
	for i := range predicted {
		if len(predicted[i]) != len(target[i]) {
			return 0, shapeError(fmt.Sprintf("target[%d]", i), []int{len(predicted[i])}, []int{len(target[i])})
		}
		for t := range predicted[i] {
			p, y := predicted[i][t], target[i][t]
			if p == nil || y == nil {
				return 0, shapeError(fmt.Sprintf("target[%d][t=%d]", i, t), nil, nil)
			}
			if p.Len() != y.Len() {
				return 0, shapeError(fmt.Sprintf("target[%d][t=%d]", i, t), []int{p.Len(), 1}, []int{y.Len(), 1})
			}
			for k := 0; k < p.Len(); k++ {
				d := p.AtVec(k) - y.AtVec(k)
				sum += d * d
			}
			count += p.Len()
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}
