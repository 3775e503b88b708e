package mrnn

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/mrnn/posterior"
)

// Quantiles is a regression target for which a fixed selection of
// quantiles of the posterior distribution is predicted. The
// prediction tensor holds one value per quantile fraction along the
// quantile axis; all distributional queries reconstruct a
// piecewise-linear CDF through those values.
type Quantiles struct {
	quantiles []float64
	axis      int
	src       rand.Source
}

var _ DistributionTarget = (*Quantiles)(nil)

// NewQuantiles returns a new Quantiles target predicting the given
// quantile fractions along axis. The fractions must be strictly
// increasing and lie in (0, 1). The seed fixes the random source used
// by the sampling queries.
func NewQuantiles(quantiles []float64, axis int, seed uint64) (*Quantiles, error) {
	if len(quantiles) == 0 {
		return nil, fmt.Errorf("newQuantiles: no quantile fractions given")
	}
	for i, q := range quantiles {
		if q <= 0 || q >= 1 {
			return nil, fmt.Errorf("newQuantiles: fraction %v outside (0, 1)",
				q)
		}
		if i > 0 && q <= quantiles[i-1] {
			return nil, fmt.Errorf("newQuantiles: fractions %v must be "+
				"strictly increasing", quantiles)
		}
	}
	if axis < 0 {
		return nil, fmt.Errorf("newQuantiles: negative quantile axis %v", axis)
	}

	qs := make([]float64, len(quantiles))
	copy(qs, quantiles)
	return &Quantiles{
		quantiles: qs,
		axis:      axis,
		src:       rand.NewSource(seed),
	}, nil
}

// Quantiles returns the predicted quantile fractions.
func (q *Quantiles) Quantiles() []float64 {
	out := make([]float64, len(q.quantiles))
	copy(out, q.quantiles)
	return out
}

// Axis returns the tensor axis holding the quantile values.
func (q *Quantiles) Axis() int { return q.axis }

// Predict applies post-processing to a raw prediction. Predicted
// quantiles need none, so the input is returned unchanged.
func (q *Quantiles) Predict(yPred tensor.Tensor) (tensor.Tensor, error) {
	return yPred, nil
}

// GetLoss returns the quantile (pinball) loss for this target from
// the given backend.
func (q *Quantiles) GetLoss(backend LossBackend, mask *float64) (Loss, error) {
	return backend.QuantileLoss(q.quantiles, mask)
}

// CDF reconstructs the posterior CDF as a piecewise-linear function
// through the predicted quantiles, extended by linearly extrapolated
// endpoints at probability zero and one.
func (q *Quantiles) CDF(yPred tensor.Tensor) (Curve, error) {
	xs, cs, err := posterior.QuantileCdf(yPred, q.quantiles, q.axis)
	if err != nil {
		return Curve{}, fmt.Errorf("cdf: %w", err)
	}
	return Curve{X: xs, Y: cs}, nil
}

// PDF differentiates the reconstructed CDF, yielding a constant
// density on each segment between adjacent quantile values.
func (q *Quantiles) PDF(yPred tensor.Tensor) (Curve, error) {
	xs, ps, err := posterior.QuantilePdf(yPred, q.quantiles, q.axis)
	if err != nil {
		return Curve{}, fmt.Errorf("pdf: %w", err)
	}
	return Curve{X: xs, Y: ps}, nil
}

// SamplePosterior draws n samples per batch element by inverse-CDF
// sampling of the reconstructed CDF.
func (q *Quantiles) SamplePosterior(yPred tensor.Tensor, n int) (tensor.Tensor, error) {
	return posterior.QuantileSamplePosterior(yPred, q.quantiles, n, q.axis,
		q.src)
}

// SamplePosteriorGaussianFit draws n samples per batch element from a
// Gaussian fit to the predicted quantiles.
func (q *Quantiles) SamplePosteriorGaussianFit(yPred tensor.Tensor,
	n int) (tensor.Tensor, error) {

	return posterior.QuantileSamplePosteriorGaussianFit(yPred, q.quantiles,
		n, q.axis, q.src)
}

// PosteriorMean computes the first moment of the reconstructed CDF.
func (q *Quantiles) PosteriorMean(yPred tensor.Tensor) (tensor.Tensor, error) {
	return posterior.QuantilePosteriorMean(yPred, q.quantiles, q.axis)
}

// CRPS scores the prediction against ground truth by integrating the
// squared difference of the reconstructed CDF and the empirical step
// function in closed form.
func (q *Quantiles) CRPS(yPred, yTrue tensor.Tensor) (tensor.Tensor, error) {
	return posterior.QuantileCRPS(yPred, yTrue, q.quantiles, q.axis)
}

// ProbabilityLargerThan evaluates P(Y > y) per batch element.
func (q *Quantiles) ProbabilityLargerThan(yPred tensor.Tensor,
	y float64) (tensor.Tensor, error) {

	return posterior.QuantileProbabilityLargerThan(yPred, q.quantiles, y,
		q.axis)
}

// ProbabilityLessThan evaluates P(Y <= y) per batch element.
func (q *Quantiles) ProbabilityLessThan(yPred tensor.Tensor,
	y float64) (tensor.Tensor, error) {

	return posterior.QuantileProbabilityLessThan(yPred, q.quantiles, y,
		q.axis)
}

// PosteriorQuantiles re-estimates quantiles at the given fractions by
// inverting the reconstructed CDF.
func (q *Quantiles) PosteriorQuantiles(yPred tensor.Tensor,
	quantiles []float64) (tensor.Tensor, error) {

	return posterior.QuantilePosteriorQuantiles(yPred, q.quantiles,
		quantiles, q.axis)
}

func (q *Quantiles) String() string {
	return fmt.Sprintf("Quantiles(%v)", q.quantiles)
}
