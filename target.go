// Package mrnn implements mixed regression neural networks: models
// that predict the conditional distribution of a target variable
// using one of several parametrizations per output. A model may mix
// quantile regression, binned density regression, and plain mean
// regression across its named outputs; each output is described by a
// target representation that knows its loss, its post-processing, and
// the distributional queries its parametrization supports.
package mrnn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Target describes how the raw network output for one named quantity
// is to be interpreted. Implementations are immutable after
// construction.
type Target interface {
	fmt.Stringer

	// Predict applies the representation's post-processing to a raw
	// prediction. Quantile and mean targets pass the prediction
	// through unchanged; density targets normalize logits into a PDF
	// estimate.
	Predict(yPred tensor.Tensor) (tensor.Tensor, error)

	// GetLoss returns the training criterion matching this
	// parametrization from the given backend. All values of yTrue
	// less than or equal to mask are excluded from the criterion;
	// a nil mask disables masking.
	GetLoss(backend LossBackend, mask *float64) (Loss, error)
}

// MeanEstimator is a Target that can reduce a prediction to a point
// estimate of the posterior mean. All targets in this package
// implement it.
type MeanEstimator interface {
	Target
	PosteriorMean(yPred tensor.Tensor) (tensor.Tensor, error)
}

// DistributionTarget is a Target whose parametrization describes a
// full posterior distribution and therefore supports the complete set
// of distributional queries. Quantiles and Density implement it; Mean
// does not, which is how the dispatch layer decides to skip a key
// during multi-output fan-out.
type DistributionTarget interface {
	MeanEstimator

	// CDF reconstructs the posterior CDF from the raw prediction.
	CDF(yPred tensor.Tensor) (Curve, error)

	// PDF reconstructs the posterior PDF from the raw prediction.
	PDF(yPred tensor.Tensor) (Curve, error)

	// SamplePosterior draws n samples per batch element by inverting
	// the reconstructed CDF.
	SamplePosterior(yPred tensor.Tensor, n int) (tensor.Tensor, error)

	// SamplePosteriorGaussianFit draws n samples per batch element
	// from a Gaussian fit to the posterior, for callers preferring a
	// smooth parametric posterior.
	SamplePosteriorGaussianFit(yPred tensor.Tensor, n int) (tensor.Tensor, error)

	// CRPS scores the prediction against ground truth with the
	// Continuous Ranked Probability Score.
	CRPS(yPred, yTrue tensor.Tensor) (tensor.Tensor, error)

	// ProbabilityLargerThan evaluates P(Y > y) per batch element.
	ProbabilityLargerThan(yPred tensor.Tensor, y float64) (tensor.Tensor, error)

	// ProbabilityLessThan evaluates P(Y <= y) per batch element.
	ProbabilityLessThan(yPred tensor.Tensor, y float64) (tensor.Tensor, error)

	// PosteriorQuantiles re-estimates quantiles of the posterior at
	// the given fractions.
	PosteriorQuantiles(yPred tensor.Tensor, quantiles []float64) (tensor.Tensor, error)
}

// Curve is a sampled function, the abscissae in X paired with the
// ordinates in Y. CDF queries return the reconstruction's support
// points and cumulative probabilities; PDF queries return segment or
// bin representatives and densities.
type Curve struct {
	X tensor.Tensor
	Y tensor.Tensor
}

// Loss is a training criterion produced by a LossBackend. Evaluation
// reduces a batch of predictions and truths to a single scalar.
type Loss interface {
	Eval(yPred, yTrue tensor.Tensor) (float64, error)
}

// LossBackend constructs training criteria for the three supported
// parametrizations. The loss subpackage provides a Gorgonia-backed
// implementation; any other differentiation backend satisfying this
// interface can be swapped in.
type LossBackend interface {
	QuantileLoss(quantiles []float64, mask *float64) (Loss, error)
	CrossEntropyLoss(bins []float64, mask *float64) (Loss, error)
	MSELoss(mask *float64) (Loss, error)
}

// Forwarder runs the forward pass of the underlying neural network.
// No gradient tracking is required.
type Forwarder interface {
	Forward(x tensor.Tensor) (*Prediction, error)
}

// Transformation is an invertible transform applied to network
// outputs before target post-processing, typically to train in a
// transformed space (for example log space for strictly positive
// quantities).
type Transformation interface {
	Apply(x tensor.Tensor) (tensor.Tensor, error)
	Invert(x tensor.Tensor) (tensor.Tensor, error)
}

// Prediction is the value produced by one forward pass: a single
// tensor for single-output models or a mapping from output key to
// tensor for multi-output models. Predictions are transient; they are
// produced per inference call and consumed by query methods.
type Prediction struct {
	single tensor.Tensor
	keyed  map[string]tensor.Tensor
}

// SinglePrediction wraps the output of a single-output model.
func SinglePrediction(t tensor.Tensor) *Prediction {
	return &Prediction{single: t}
}

// KeyedPrediction wraps the named outputs of a multi-output model.
func KeyedPrediction(m map[string]tensor.Tensor) *Prediction {
	return &Prediction{keyed: m}
}

// Keyed reports whether the prediction maps output keys to tensors.
func (p *Prediction) Keyed() bool { return p.keyed != nil }

// Tensor returns the tensor of a single-output prediction.
func (p *Prediction) Tensor() tensor.Tensor { return p.single }

// At returns the tensor predicted for the given output key.
func (p *Prediction) At(key string) (tensor.Tensor, bool) {
	t, ok := p.keyed[key]
	return t, ok
}

// Outputs returns the named output tensors of a keyed prediction.
func (p *Prediction) Outputs() map[string]tensor.Tensor { return p.keyed }
