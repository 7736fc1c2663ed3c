package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Scan folds cell.Step over seq starting from the zero state and returns
// out_t for every timestep, in order. The final state is discarded.
// An empty sequence yields an empty output.
func Scan(cell Cell, p *Params, seq Sequence) (Sequence, error) {
	arch := cell.Architecture()
	if err := p.Validate(arch, cell.Variant()); err != nil {
		return nil, err
	}
	if err := checkSequence("x", seq, arch.InputDim); err != nil {
		return nil, err
	}
	return outputs(scanTrace(cell, p, seq)), nil
}

// scanTrace runs the recurrence and keeps every step for BPTT.
// Inputs must already be validated.
func scanTrace(cell Cell, p *Params, seq Sequence) []*stepTrace {
	traces := make([]*stepTrace, len(seq))
	state := ZeroState(cell.Architecture().HiddenDim)
	for t, x := range seq {
		tr := forwardStep(cell, p, x, state.H, state.C)
		traces[t] = tr
		state = State{H: tr.h, C: tr.c}
	}
	return traces
}

func outputs(traces []*stepTrace) Sequence {
	out := make(Sequence, len(traces))
	for t, tr := range traces {
		out[t] = tr.out
	}
	return out
}

// checkSequence verifies that every vector in seq has length dim.
func checkSequence(name string, seq Sequence, dim int) error {
	for t, v := range seq {
		var got mat.Vector
		if v != nil {
			got = v
		}
		if err := checkVec(fmt.Sprintf("%s[t=%d]", name, t), got, dim); err != nil {
			return err
		}
	}
	return nil
}

// checkBatch verifies every sequence of b, naming the offending index.
func checkBatch(name string, b Batch, dim int) error {
	for i, seq := range b {
		if err := checkSequence(fmt.Sprintf("%s[%d]", name, i), seq, dim); err != nil {
			return err
		}
	}
	return nil
}

// checkTargets verifies that targets line up with batch sequence by sequence
// and timestep by timestep.
func checkTargets(batch, targets Batch, outputDim int) error {
	if len(batch) != len(targets) {
		return shapeError("targets", []int{len(batch)}, []int{len(targets)})
	}
	for i := range batch {
		if len(batch[i]) != len(targets[i]) {
			return shapeError(fmt.Sprintf("targets[%d]", i), []int{len(batch[i]), outputDim}, []int{len(targets[i]), outputDim})
		}
	}
	return checkBatch("targets", targets, outputDim)
}
