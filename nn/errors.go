package nn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrShapeMismatch = errors.New("shape mismatch")
)

// ConfigurationError reports an invalid variant selector or architecture
// dimension. It is raised at construction time, never inside the recurrence.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("nn: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ShapeMismatchError names the tensor (or input) whose dimensions disagree
// with what the architecture requires.
type ShapeMismatchError struct {
	Tensor string
	Want   []int
	Got    []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("nn: shape mismatch for %s: want %v, got %v", e.Tensor, e.Want, e.Got)
}

// Is lets errors.Is(err, ErrShapeMismatch) match.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

func configError(field string, value interface{}, reason string) error {
	return errors.WithStack(&ConfigurationError{Field: field, Value: value, Reason: reason})
}

func shapeError(tensor string, want, got []int) error {
	return errors.WithStack(&ShapeMismatchError{Tensor: tensor, Want: want, Got: got})
}
