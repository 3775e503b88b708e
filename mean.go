package mrnn

import "gorgonia.org/tensor"

// Mean is a regression target for which only the conditional mean is
// predicted. It carries no distributional information: the dispatch
// layer skips Mean-typed outputs when a full distributional query
// fans out over a multi-output prediction.
type Mean struct{}

var _ MeanEstimator = Mean{}

// NewMean returns a new Mean target.
func NewMean() Mean { return Mean{} }

// Predict applies post-processing to a raw prediction. The prediction
// already is the estimate, so it is returned unchanged.
func (Mean) Predict(yPred tensor.Tensor) (tensor.Tensor, error) {
	return yPred, nil
}

// GetLoss returns the mean squared error loss from the given backend.
func (Mean) GetLoss(backend LossBackend, mask *float64) (Loss, error) {
	return backend.MSELoss(mask)
}

// PosteriorMean returns the prediction itself.
func (Mean) PosteriorMean(yPred tensor.Tensor) (tensor.Tensor, error) {
	return yPred, nil
}

func (Mean) String() string { return "Mean()" }
