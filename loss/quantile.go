package loss

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// QuantileLoss is the pinball loss averaged over the batch and the
// predicted quantile fractions. For a prediction y at fraction q and
// truth t it scores (1-q)*(y-t) when y >= t and q*(t-y) otherwise, so
// that minimizing it drives each output toward its quantile.
type QuantileLoss struct {
	quantiles []float64
	mask      *float64
}

// Eval scores a batch of quantile predictions against ground truth.
// yPred carries one value per quantile fraction along axis 1; yTrue
// has the same shape with axis 1 removed or collapsed to size one.
func (l *QuantileLoss) Eval(yPred, yTrue tensor.Tensor) (float64, error) {
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
	if k != len(l.quantiles) {
		return 0, fmt.Errorf("eval: expected %d predicted quantiles along "+
			"axis [%v] but got %d", len(l.quantiles), lossAxis, k)
	}
	if _, err := f64data(yPred); err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}

	red, err := reducedData(yTrue, shape, lossAxis)
	if err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}

	// The truth and the fractions are materialized at the prediction's
	// full shape so the graph needs no broadcasting.
	size := outer * k * inner
	trueFull := make([]float64, size)
	qFull := make([]float64, size)
	for o := 0; o < outer; o++ {
		for j := 0; j < k; j++ {
			for i := 0; i < inner; i++ {
				f := (o*k+j)*inner + i
				trueFull[f] = red[o*inner+i]
				qFull[f] = l.quantiles[j]
			}
		}
	}

	g := G.NewGraph()
	pred := node(g, "yPred", yPred)
	truth := node(g, "yTrue", tensor.New(
		tensor.WithShape(shape.Clone()...),
		tensor.WithBacking(trueFull),
	))
	qs := node(g, "quantiles", tensor.New(
		tensor.WithShape(shape.Clone()...),
		tensor.WithBacking(qFull),
	))
	zero := G.NewScalar(g, tensor.Float64, G.WithValue(0.0),
		G.WithName("zero"))
	one := G.NewScalar(g, tensor.Float64, G.WithValue(1.0),
		G.WithName("one"))

	dy := G.Must(G.Sub(pred, truth))
	above := G.Must(G.Gte(dy, zero, true))
	below := G.Must(G.Sub(one, above))
	over := G.Must(G.HadamardProd(G.Must(G.Sub(one, qs)), dy))
	under := G.Must(G.HadamardProd(qs, G.Must(G.Neg(dy))))
	pinball := G.Must(G.Add(
		G.Must(G.HadamardProd(above, over)),
		G.Must(G.HadamardProd(below, under)),
	))

	var mk *G.Node
	if l.mask != nil {
		mk = node(g, "mask", maskTensor(trueFull, shape, *l.mask))
	}
	out := maskedMean(pinball, mk)

	loss, err := runScalar(g, out)
	if err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}
	return loss, nil
}

func (l *QuantileLoss) String() string {
	return fmt.Sprintf("QuantileLoss{quantiles=%v}()", l.quantiles)
}

// maskTensor builds the 0/1 validity tensor excluding every truth
// value at or below the mask value.
func maskTensor(truth []float64, shape tensor.Shape,
	mask float64) tensor.Tensor {

	backing := make([]float64, len(truth))
	for i, v := range truth {
		if v > mask {
			backing[i] = 1.0
		}
	}
	return tensor.New(
		tensor.WithShape(shape.Clone()...),
		tensor.WithBacking(backing),
	)
}
