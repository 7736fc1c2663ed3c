package nn

import (
	"github.com/samber/lo"
)

// Blueprint contains the structural information of a cell
type Blueprint struct {
	Variant      string            `json:"variant"`
	Architecture Architecture      `json:"architecture"`
	TotalParams  int               `json:"total_parameters"`
	Tensors      []TensorTelemetry `json:"tensors"`
}

// TensorTelemetry describes one parameter tensor
type TensorTelemetry struct {
	Name       string `json:"name"`
	Shape      []int  `json:"shape"`
	Parameters int    `json:"parameters"`
}

// ExtractBlueprint lists the tensors a cell's Params must carry
func ExtractBlueprint(cell Cell) Blueprint {
	p := NewParams(cell.Architecture(), cell.Variant())
	tensors := lo.Map(p.Tensors(), func(nt NamedTensor, _ int) TensorTelemetry {
		r, c := nt.Value.Dims()
		return TensorTelemetry{Name: nt.Name, Shape: []int{r, c}, Parameters: r * c}
	})
	return Blueprint{
		Variant:      string(cell.Variant()),
		Architecture: cell.Architecture(),
		TotalParams:  lo.SumBy(tensors, func(t TensorTelemetry) int { return t.Parameters }),
		Tensors:      tensors,
	}
}
