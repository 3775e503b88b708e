package posterior

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Kernels in this package operate lane-by-lane: a lane is the 1D
// slice of a tensor taken along a fixed axis, and every index
// combination of the remaining axes selects one lane. This is the
// batching behaviour all exported functions share.

// accessors returns element get/set closures for the backing slice of
// t. Only dense Float64 and Float32 tensors are supported.
func accessors(t tensor.Tensor) (func(int) float64, func(int, float64), error) {
	switch data := t.Data().(type) {
	case []float64:
		get := func(i int) float64 { return data[i] }
		set := func(i int, v float64) { data[i] = v }
		return get, set, nil
	case []float32:
		get := func(i int) float64 { return float64(data[i]) }
		set := func(i int, v float64) { data[i] = float32(v) }
		return get, set, nil
	case float64:
		v := data
		get := func(int) float64 { return v }
		return get, nil, nil
	case float32:
		v := float64(data)
		get := func(int) float64 { return v }
		return get, nil, nil
	default:
		return nil, nil, fmt.Errorf("dtype %v unsupported", t.Dtype())
	}
}

// checkAxis validates that axis addresses a dimension of t and that
// the dimension has the wanted size. A negative want skips the size
// check.
func checkAxis(t tensor.Tensor, axis, want int) error {
	if t == nil {
		return fmt.Errorf("nil prediction tensor")
	}
	shape := t.Shape()
	if axis < 0 || axis >= len(shape) {
		return fmt.Errorf("axis [%v] out of range for tensor with shape %v",
			axis, shape)
	}
	if want >= 0 && shape[axis] != want {
		return fmt.Errorf("expected axis %v of shape %v to have size %v",
			axis, shape, want)
	}
	return nil
}

// replaceAxis returns shape with the size of the given axis replaced
// by n. An n of zero removes the axis entirely.
func replaceAxis(shape tensor.Shape, axis, n int) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for d, s := range shape {
		if d != axis {
			out = append(out, s)
			continue
		}
		if n > 0 {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		out = tensor.Shape{1}
	}
	return out
}

// contiguousStrides computes row-major strides for shape.
func contiguousStrides(shape tensor.Shape) []int {
	strides := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= shape[d]
	}
	return strides
}

// expandStrides aligns the strides of a tensor whose shape is the
// input shape with the given axis removed, so that it can be indexed
// with the same multi-index as the input. The inserted stride is
// never used since the multi-index is zero at the axis.
func expandStrides(reduced []int, axis int) []int {
	out := make([]int, 0, len(reduced)+1)
	out = append(out, reduced[:axis]...)
	out = append(out, 0)
	out = append(out, reduced[axis:]...)
	return out
}

// eachLane visits every lane of a tensor with the given shape along
// axis. For each lane it reports one base offset per stride set in
// strides, allowing several tensors (inputs and outputs of differing
// axis sizes) to be walked in lockstep. All stride slices must have
// len(shape) entries; the entry at the axis is ignored.
func eachLane(shape tensor.Shape, axis int, strides [][]int,
	f func(bases []int) error) error {

	idx := make([]int, len(shape))
	bases := make([]int, len(strides))
	for {
		for s, st := range strides {
			base := 0
			for d := range idx {
				if d != axis {
					base += idx[d] * st[d]
				}
			}
			bases[s] = base
		}
		if err := f(bases); err != nil {
			return err
		}

		d := len(shape) - 1
		for d >= 0 {
			if d == axis {
				d--
				continue
			}
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return nil
		}
	}
}

// readLane copies the lane starting at base with the given stride
// into dst.
func readLane(get func(int) float64, base, stride int, dst []float64) {
	for j := range dst {
		dst[j] = get(base + j*stride)
	}
}

// writeLane copies src into the lane starting at base with the given
// stride.
func writeLane(set func(int, float64), base, stride int, src []float64) {
	for j, v := range src {
		set(base+j*stride, v)
	}
}

// newDenseLike allocates a contiguous dense tensor with the dtype of
// t and the given shape.
func newDenseLike(t tensor.Tensor, shape tensor.Shape) tensor.Tensor {
	return tensor.New(
		tensor.Of(t.Dtype()),
		tensor.WithShape(shape...),
	)
}

// strictlyIncreasing reports whether vals increases strictly.
func strictlyIncreasing(vals []float64) bool {
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			return false
		}
	}
	return true
}
