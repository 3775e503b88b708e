package mrnn

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/mrnn/posterior"
)

// Density is a regression target for which a binned approximation of
// the posterior density is predicted. The prediction tensor holds one
// logit per bin along the bin axis; post-processing normalizes the
// logits into a PDF estimate over the bin edges, and the
// distributional queries operate on the CDF anchored at those edges.
//
// The bin edges may be shared between several outputs of one model as
// a mapping from output key to edge sequence. A Density constructed
// from such a mapping resolves its own key on every query and reports
// a lookup error when the mapping does not contain it.
type Density struct {
	bins    []float64
	binsFor map[string][]float64
	key     string
	axis    int
	src     rand.Source
}

var _ DistributionTarget = (*Density)(nil)

// NewDensity returns a new Density target over the given bin edges
// along axis. The edges must be strictly increasing; the number of
// bins is one less than the number of edges. The seed fixes the
// random source used by the sampling queries.
func NewDensity(bins []float64, axis int, seed uint64) (*Density, error) {
	if err := checkEdges(bins); err != nil {
		return nil, fmt.Errorf("newDensity: %v", err)
	}
	if axis < 0 {
		return nil, fmt.Errorf("newDensity: negative bin axis %v", axis)
	}

	edges := make([]float64, len(bins))
	copy(edges, bins)
	return &Density{
		bins: edges,
		axis: axis,
		src:  rand.NewSource(seed),
	}, nil
}

// NewSharedDensity returns a Density target resolving its bin edges
// from a mapping shared across outputs, under the given output key.
// The key is not required to be present at construction time; a
// missing key surfaces as a lookup error when the target is queried.
func NewSharedDensity(bins map[string][]float64, key string, axis int,
	seed uint64) (*Density, error) {

	if len(bins) == 0 {
		return nil, fmt.Errorf("newSharedDensity: empty bin mapping")
	}
	if axis < 0 {
		return nil, fmt.Errorf("newSharedDensity: negative bin axis %v", axis)
	}

	binsFor := make(map[string][]float64, len(bins))
	for k, edges := range bins {
		if err := checkEdges(edges); err != nil {
			return nil, fmt.Errorf("newSharedDensity: key %q: %v", k, err)
		}
		cp := make([]float64, len(edges))
		copy(cp, edges)
		binsFor[k] = cp
	}
	return &Density{
		binsFor: binsFor,
		key:     key,
		axis:    axis,
		src:     rand.NewSource(seed),
	}, nil
}

func checkEdges(edges []float64) error {
	if len(edges) < 2 {
		return fmt.Errorf("expected at least two bin edges but got %v",
			len(edges))
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return fmt.Errorf("bin edges %v must be strictly increasing",
				edges)
		}
	}
	return nil
}

// edges resolves the bin edge sequence for this target.
func (d *Density) edges() ([]float64, error) {
	if d.bins != nil {
		return d.bins, nil
	}
	edges, ok := d.binsFor[d.key]
	if !ok {
		return nil, fmt.Errorf("%w: no bin edges for %q", ErrUnknownKey,
			d.key)
	}
	return edges, nil
}

// Axis returns the tensor axis holding the bin logits.
func (d *Density) Axis() int { return d.axis }

// Predict normalizes raw logits into a PDF estimate: a softmax along
// the bin axis followed by division by the bin widths.
func (d *Density) Predict(yPred tensor.Tensor) (tensor.Tensor, error) {
	edges, err := d.edges()
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return posterior.DensityNormalize(yPred, edges, d.axis)
}

// GetLoss returns the cross-entropy loss over the bins for this
// target from the given backend.
func (d *Density) GetLoss(backend LossBackend, mask *float64) (Loss, error) {
	edges, err := d.edges()
	if err != nil {
		return nil, fmt.Errorf("getLoss: %w", err)
	}
	return backend.CrossEntropyLoss(edges, mask)
}

// CDF accumulates the bin probability masses into a step-wise rising
// CDF anchored at the bin edges.
func (d *Density) CDF(yPred tensor.Tensor) (Curve, error) {
	edges, err := d.edges()
	if err != nil {
		return Curve{}, fmt.Errorf("cdf: %w", err)
	}
	xs, cs, err := posterior.DensityCdf(yPred, edges, d.axis)
	if err != nil {
		return Curve{}, fmt.Errorf("cdf: %v", err)
	}
	return Curve{X: xs, Y: cs}, nil
}

// PDF returns the normalized densities at the bin centres.
func (d *Density) PDF(yPred tensor.Tensor) (Curve, error) {
	edges, err := d.edges()
	if err != nil {
		return Curve{}, fmt.Errorf("pdf: %w", err)
	}
	xs, ps, err := posterior.DensityPdf(yPred, edges, d.axis)
	if err != nil {
		return Curve{}, fmt.Errorf("pdf: %v", err)
	}
	return Curve{X: xs, Y: ps}, nil
}

// SamplePosterior draws n samples per batch element by inverting the
// edge-anchored CDF.
func (d *Density) SamplePosterior(yPred tensor.Tensor, n int) (tensor.Tensor, error) {
	edges, err := d.edges()
	if err != nil {
		return nil, fmt.Errorf("samplePosterior: %w", err)
	}
	return posterior.DensitySamplePosterior(yPred, edges, n, d.axis, d.src)
}

// SamplePosteriorGaussianFit draws n samples per batch element from a
// normal distribution moment-matched to the binned posterior.
func (d *Density) SamplePosteriorGaussianFit(yPred tensor.Tensor,
	n int) (tensor.Tensor, error) {

	edges, err := d.edges()
	if err != nil {
		return nil, fmt.Errorf("samplePosteriorGaussianFit: %w", err)
	}
	return posterior.DensitySamplePosteriorGaussianFit(yPred, edges, n,
		d.axis, d.src)
}

// PosteriorMean computes the expected value of the binned posterior.
func (d *Density) PosteriorMean(yPred tensor.Tensor) (tensor.Tensor, error) {
	edges, err := d.edges()
	if err != nil {
		return nil, fmt.Errorf("posteriorMean: %w", err)
	}
	return posterior.DensityPosteriorMean(yPred, edges, d.axis)
}

// CRPS scores the prediction against ground truth over the
// edge-anchored CDF.
func (d *Density) CRPS(yPred, yTrue tensor.Tensor) (tensor.Tensor, error) {
	edges, err := d.edges()
	if err != nil {
		return nil, fmt.Errorf("crps: %w", err)
	}
	return posterior.DensityCRPS(yPred, yTrue, edges, d.axis)
}

// ProbabilityLargerThan evaluates P(Y > y) per batch element.
func (d *Density) ProbabilityLargerThan(yPred tensor.Tensor,
	y float64) (tensor.Tensor, error) {

	edges, err := d.edges()
	if err != nil {
		return nil, fmt.Errorf("probabilityLargerThan: %w", err)
	}
	return posterior.DensityProbabilityLargerThan(yPred, edges, y, d.axis)
}

// ProbabilityLessThan evaluates P(Y <= y) per batch element.
func (d *Density) ProbabilityLessThan(yPred tensor.Tensor,
	y float64) (tensor.Tensor, error) {

	edges, err := d.edges()
	if err != nil {
		return nil, fmt.Errorf("probabilityLessThan: %w", err)
	}
	return posterior.DensityProbabilityLessThan(yPred, edges, y, d.axis)
}

// PosteriorQuantiles estimates quantiles of the binned posterior at
// the given fractions.
func (d *Density) PosteriorQuantiles(yPred tensor.Tensor,
	quantiles []float64) (tensor.Tensor, error) {

	edges, err := d.edges()
	if err != nil {
		return nil, fmt.Errorf("posteriorQuantiles: %w", err)
	}
	return posterior.DensityPosteriorQuantiles(yPred, edges, quantiles,
		d.axis)
}

func (d *Density) String() string {
	if d.bins != nil {
		return fmt.Sprintf("Density(%v)", d.bins)
	}
	return fmt.Sprintf("Density(%v @ %q)", d.binsFor, d.key)
}
