package mrnn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// MixedLoss combines the per-key training criteria of a multi-output
// model: each output key is scored with the loss matching its
// target's parametrization, so a single model can mix quantile,
// density, and mean regression outputs.
type MixedLoss struct {
	losses map[string]Loss
}

// NewMixedLoss builds the criterion for every target in the mapping
// through the given backend. All values of yTrue less than or equal
// to mask are excluded from every criterion; a nil mask disables
// masking.
func NewMixedLoss(backend LossBackend, targets map[string]Target,
	mask *float64) (*MixedLoss, error) {

	if backend == nil {
		return nil, fmt.Errorf("newMixedLoss: nil backend")
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("newMixedLoss: no targets given")
	}

	losses := make(map[string]Loss, len(targets))
	for key, t := range targets {
		l, err := t.GetLoss(backend, mask)
		if err != nil {
			return nil, fmt.Errorf("newMixedLoss: key %q: %v", key, err)
		}
		losses[key] = l
	}
	return &MixedLoss{losses: losses}, nil
}

// Eval scores the prediction for one output key against its ground
// truth.
func (m *MixedLoss) Eval(key string, yPred, yTrue tensor.Tensor) (float64, error) {
	l, ok := m.losses[key]
	if !ok {
		return 0, fmt.Errorf("eval: %w: %q", ErrUnknownKey, key)
	}
	loss, err := l.Eval(yPred, yTrue)
	if err != nil {
		return 0, fmt.Errorf("eval: key %q: %v", key, err)
	}
	return loss, nil
}

// Total sums the per-key losses over every output of a multi-output
// prediction. Every key of yPred must have both a criterion and an
// entry in yTrue.
func (m *MixedLoss) Total(yPred, yTrue map[string]tensor.Tensor) (float64, error) {
	total := 0.0
	for _, key := range sortedKeys(yPred) {
		truth, ok := yTrue[key]
		if !ok {
			return 0, fmt.Errorf("total: %w: yTrue missing key %q",
				ErrUnknownKey, key)
		}
		loss, err := m.Eval(key, yPred[key], truth)
		if err != nil {
			return 0, fmt.Errorf("total: %v", err)
		}
		total += loss
	}
	return total, nil
}
