package mrnn

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// LogTransformation trains a model in log space: outputs are
// transformed with the natural logarithm and inverted with the
// exponential, keeping predictions of strictly positive quantities
// positive.
type LogTransformation struct{}

var _ Transformation = LogTransformation{}

// Apply takes the elementwise natural logarithm of x.
func (LogTransformation) Apply(x tensor.Tensor) (tensor.Tensor, error) {
	out, err := mapElems(x, math.Log, math32.Log)
	if err != nil {
		return nil, fmt.Errorf("apply: %v", err)
	}
	return out, nil
}

// Invert takes the elementwise exponential of x.
func (LogTransformation) Invert(x tensor.Tensor) (tensor.Tensor, error) {
	out, err := mapElems(x, math.Exp, math32.Exp)
	if err != nil {
		return nil, fmt.Errorf("invert: %v", err)
	}
	return out, nil
}

func (LogTransformation) String() string { return "Log()" }

// mapElems applies f64 or f32 elementwise depending on the dtype,
// returning a fresh tensor.
func mapElems(x tensor.Tensor, f64 func(float64) float64,
	f32 func(float32) float32) (tensor.Tensor, error) {

	if x == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	switch data := x.Data().(type) {
	case []float64:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = f64(v)
		}
		return tensor.New(
			tensor.WithShape(x.Shape().Clone()...),
			tensor.WithBacking(out),
		), nil
	case []float32:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = f32(v)
		}
		return tensor.New(
			tensor.WithShape(x.Shape().Clone()...),
			tensor.WithBacking(out),
		), nil
	default:
		return nil, fmt.Errorf("dtype %v unsupported", x.Dtype())
	}
}
