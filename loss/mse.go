package loss

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MSELoss is the mean squared error between a point prediction and
// the ground truth.
type MSELoss struct {
	mask *float64
}

// Eval scores a batch of point predictions against ground truth of
// the same shape.
func (l *MSELoss) Eval(yPred, yTrue tensor.Tensor) (float64, error) {
	if yPred == nil {
		return 0, fmt.Errorf("eval: nil prediction tensor")
	}
	if yTrue == nil {
		return 0, fmt.Errorf("eval: nil ground-truth tensor")
	}
	if !yPred.Shape().Eq(yTrue.Shape()) {
		return 0, fmt.Errorf("eval: prediction shape %v does not match "+
			"ground-truth shape %v", yPred.Shape(), yTrue.Shape())
	}
	if _, err := f64data(yPred); err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}
	truthData, err := f64data(yTrue)
	if err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}

	g := G.NewGraph()
	pred := node(g, "yPred", yPred)
	truth := node(g, "yTrue", yTrue)

	se := G.Must(G.Square(G.Must(G.Sub(pred, truth))))

	var mk *G.Node
	if l.mask != nil {
		mk = node(g, "mask", maskTensor(truthData, yPred.Shape(), *l.mask))
	}
	out := maskedMean(se, mk)

	loss, err := runScalar(g, out)
	if err != nil {
		return 0, fmt.Errorf("eval: %v", err)
	}
	return loss, nil
}

func (l *MSELoss) String() string { return "MSELoss()" }
