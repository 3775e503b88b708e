// Package loss implements Gorgonia-backed training criteria for mixed
// regression neural networks. Each criterion builds an expression
// graph over the batch, evaluates it with a tape machine, and returns
// the scalar loss. Criteria expect the distribution axis of the
// prediction to be axis 1 and support tensor.Float64 predictions only.
package loss

import (
	"fmt"

	"github.com/samuelfneumann/mrnn"
)

// Predictions lay out their distribution parameters along axis 1,
// directly after the batch axis.
const lossAxis int = 1

// Backend constructs Gorgonia-backed training criteria. The zero
// value is ready to use.
type Backend struct{}

var _ mrnn.LossBackend = Backend{}

// NewBackend returns a Gorgonia-backed loss backend.
func NewBackend() Backend { return Backend{} }

// QuantileLoss returns the mean pinball loss criterion for a model
// predicting the given quantile fractions along axis 1. All values of
// yTrue less than or equal to mask are excluded from the criterion; a
// nil mask disables masking.
func (Backend) QuantileLoss(quantiles []float64, mask *float64) (mrnn.Loss,
	error) {

	if err := checkFractions(quantiles); err != nil {
		return nil, fmt.Errorf("quantileLoss: %v", err)
	}

	return &QuantileLoss{
		quantiles: append([]float64(nil), quantiles...),
		mask:      mask,
	}, nil
}

// CrossEntropyLoss returns the masked cross-entropy criterion for a
// model predicting bin logits along axis 1, with bins delimited by the
// given edges. All values of yTrue less than or equal to mask are
// excluded from the criterion; a nil mask disables masking.
func (Backend) CrossEntropyLoss(bins []float64, mask *float64) (mrnn.Loss,
	error) {

	if err := checkEdges(bins); err != nil {
		return nil, fmt.Errorf("crossEntropyLoss: %v", err)
	}

	return &CrossEntropyLoss{
		edges: append([]float64(nil), bins...),
		mask:  mask,
	}, nil
}

// MSELoss returns the mean squared error criterion. All values of
// yTrue less than or equal to mask are excluded from the criterion; a
// nil mask disables masking.
func (Backend) MSELoss(mask *float64) (mrnn.Loss, error) {
	return &MSELoss{mask: mask}, nil
}

// checkFractions validates quantile fractions: strictly increasing in
// the open interval (0, 1).
func checkFractions(quantiles []float64) error {
	if len(quantiles) == 0 {
		return fmt.Errorf("no quantile fractions given")
	}
	for i, q := range quantiles {
		if q <= 0 || q >= 1 {
			return fmt.Errorf("quantile fraction %v at index %d outside (0, 1)",
				q, i)
		}
		if i > 0 && q <= quantiles[i-1] {
			return fmt.Errorf("quantile fractions not strictly increasing "+
				"at index %d", i)
		}
	}
	return nil
}

// checkEdges validates bin edges: at least two, strictly increasing.
func checkEdges(edges []float64) error {
	if len(edges) < 2 {
		return fmt.Errorf("expected at least 2 bin edges but got %d",
			len(edges))
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return fmt.Errorf("bin edges not strictly increasing at index %d",
				i)
		}
	}
	return nil
}
