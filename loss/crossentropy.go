package loss

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// CrossEntropyLoss scores bin logits against a continuous ground
// truth: the truth is digitized into its bin between the edges, and
// the criterion is the mean negative log-probability the model assigns
// to that bin. Truth values outside the edge range fall into the first
// or last bin.
type CrossEntropyLoss struct {
	edges []float64
	mask  *float64
}

// Eval scores a batch of bin logits against ground truth. yPred
// carries one logit per bin along axis 1; yTrue holds continuous
// values with the same shape with axis 1 removed or collapsed to size
// one.
func (l *CrossEntropyLoss) Eval(yPred, yTrue tensor.Tensor) (float64, error) {
	if yPred == nil {
		return 0, fmt.Errorf("eval: nil prediction tensor")
	}
	shape := yPred.Shape()
	if len(shape) < 2 {
		return 0, fmt.Errorf("eval: expected prediction with at least 2 "+
			"dimensions but got shape %v", shape)
	}

	outer, k, inner, err := dims(shape, lossAxis)
	if err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}
	if k != len(l.edges)-1 {
		return 0, fmt.Errorf("eval: expected %d bin logits along axis [%v] "+
			"but got %d", len(l.edges)-1, lossAxis, k)
	}
	logits, err := f64data(yPred)
	if err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}

	red, err := reducedData(yTrue, shape, lossAxis)
	if err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}

	// The per-lane logit maxima are precomputed and entered as
	// constants so the log-sum-exp in the graph stays numerically
	// stable without a differentiable max.
	size := outer * k * inner
	mFull := make([]float64, size)
	mRed := make([]float64, outer*inner)
	idxBack := make([]int, outer*inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			r := o*inner + i
			max := math.Inf(-1)
			for j := 0; j < k; j++ {
				if v := logits[(o*k+j)*inner+i]; v > max {
					max = v
				}
			}
			mRed[r] = max
			idxBack[r] = digitize(red[r], l.edges)
			for j := 0; j < k; j++ {
				mFull[(o*k+j)*inner+i] = max
			}
		}
	}

	idxShape := shape.Clone()
	idxShape[lossAxis] = 1
	rShape := reducedShape(shape, lossAxis)

	g := G.NewGraph()
	lg := node(g, "logits", yPred)
	mF := node(g, "max", tensor.New(
		tensor.WithShape(shape.Clone()...),
		tensor.WithBacking(mFull),
	))
	mR := node(g, "maxReduced", tensor.New(
		tensor.WithShape(rShape.Clone()...),
		tensor.WithBacking(mRed),
	))
	idx := node(g, "bins", tensor.New(
		tensor.WithShape(idxShape...),
		tensor.WithBacking(idxBack),
	))

	shifted := G.Must(G.Sub(lg, mF))
	expSum := G.Must(G.Sum(G.Must(G.Exp(shifted)), lossAxis))
	lse := G.Must(G.Add(G.Must(G.Log(expSum)), mR))

	gather, err := newGatherOp(lossAxis, len(idxShape))
	if err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}
	picked, err := G.ApplyOp(gather, lg, idx)
	if err != nil {
		return 0, fmt.Errorf("eval: could not gather bin logits: %v", err)
	}
	pickedR := G.Must(G.Reshape(picked, rShape))
	nll := G.Must(G.Sub(lse, pickedR))

	var mk *G.Node
	if l.mask != nil {
		mk = node(g, "mask", maskTensor(red, rShape, *l.mask))
	}
	out := maskedMean(nll, mk)

	loss, err := runScalar(g, out)
	if err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}
	return loss, nil
}

func (l *CrossEntropyLoss) String() string {
	return fmt.Sprintf("CrossEntropyLoss{bins=%v}()", len(l.edges)-1)
}
