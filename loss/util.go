package loss

import (
	"fmt"
	"hash/fnv"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// simpleHash constructs the 32-bit FNV-1a hash of a Gorgonia Op.
func simpleHash(op G.Op) uint32 {
	h := fnv.New32a()
	op.WriteHash(h)
	return h.Sum32()
}

// checkArity validates the number of inputs given to an op.
func checkArity(op G.Op, inputs int) error {
	if inputs != op.Arity() && op.Arity() >= 0 {
		return fmt.Errorf("%v has an arity of %d. Got %d instead", op,
			op.Arity(), inputs)
	}
	return nil
}

// f64data returns the float64 backing of a dense tensor. The loss
// backend supports tensor.Float64 only.
func f64data(t tensor.Tensor) ([]float64, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	data, ok := t.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("dtype %v unsupported, expected %v", t.Dtype(),
			tensor.Float64)
	}
	return data, nil
}

// dims factors a shape around an axis into the product of the leading
// dimensions, the axis size, and the product of the trailing
// dimensions, so a contiguous flat index decomposes as
// (o*k + j)*inner + i.
func dims(shape tensor.Shape, axis int) (outer, k, inner int, err error) {
	if axis < 0 || axis >= len(shape) {
		return 0, 0, 0, fmt.Errorf("axis [%v] out of range for shape %v",
			axis, shape)
	}
	outer, inner = 1, 1
	for d := 0; d < axis; d++ {
		outer *= shape[d]
	}
	for d := axis + 1; d < len(shape); d++ {
		inner *= shape[d]
	}
	return outer, shape[axis], inner, nil
}

// reducedShape removes the axis dimension from shape.
func reducedShape(shape tensor.Shape, axis int) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape)-1)
	for d, s := range shape {
		if d != axis {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = tensor.Shape{1}
	}
	return out
}

// reducedData validates that yTrue matches the prediction shape with
// the given axis removed or collapsed to size one, and returns its
// float64 backing. Both accepted layouts store elements in the same
// order, so the backing can be indexed as o*inner + i.
func reducedData(yTrue tensor.Tensor, shape tensor.Shape,
	axis int) ([]float64, error) {

	if yTrue == nil {
		return nil, fmt.Errorf("nil ground-truth tensor")
	}
	tShape := yTrue.Shape()
	collapsed := make(tensor.Shape, len(shape))
	copy(collapsed, shape)
	collapsed[axis] = 1
	if !tShape.Eq(reducedShape(shape, axis)) && !tShape.Eq(collapsed) {
		return nil, fmt.Errorf("expected ground truth with shape %v or %v "+
			"but got %v", reducedShape(shape, axis), collapsed, tShape)
	}
	return f64data(yTrue)
}

// digitize locates the bin of v among the given edges, clamping
// values outside the edge range into the first or last bin.
func digitize(v float64, edges []float64) int {
	k := len(edges) - 1
	if v <= edges[0] {
		return 0
	}
	if v >= edges[k] {
		return k - 1
	}
	for j := 0; j < k; j++ {
		if v < edges[j+1] {
			return j
		}
	}
	return k - 1
}

// runScalar evaluates the graph and extracts the scalar value of out.
func runScalar(g *G.ExprGraph, out *G.Node) (float64, error) {
	var val G.Value
	G.Read(out, &val)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return 0, fmt.Errorf("could not evaluate loss graph: %v", err)
	}

	switch v := val.Data().(type) {
	case float64:
		return v, nil
	case []float64:
		if len(v) == 1 {
			return v[0], nil
		}
	}
	return 0, fmt.Errorf("expected a scalar loss but got %v", val)
}

// node wraps a dense tensor as a graph input.
func node(g *G.ExprGraph, name string, t tensor.Tensor) *G.Node {
	return G.NewTensor(
		g,
		t.Dtype(),
		t.Dims(),
		G.WithShape(t.Shape()...),
		G.WithValue(t),
		G.WithName(name),
	)
}

// maskedMean reduces the elementwise losses l to sum(l*mask)/sum(mask)
// when a mask node is given and to the plain mean otherwise.
func maskedMean(l, mask *G.Node) *G.Node {
	if mask == nil {
		return G.Must(G.Mean(l))
	}
	num := G.Must(G.Sum(G.Must(G.HadamardProd(l, mask))))
	den := G.Must(G.Sum(mask))
	return G.Must(G.HadamardDiv(num, den))
}
