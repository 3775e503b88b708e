package mrnn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// MRNN is a mixed regression neural network: a wrapper composing an
// underlying network with a mapping from output key to target
// representation and an optional output transformation. The target
// mapping is fixed at construction; all methods are stateless beyond
// it, so concurrent queries with different inputs are safe.
//
// Distributional query methods accept either the raw network input x
// or a precomputed raw prediction yPred, exactly one of which must be
// non-nil. Raw means the model output with any transformation already
// inverted but no target post-processing applied; Forward produces
// such predictions. For multi-output predictions a query fans out
// over all keys in sorted order, silently skipping keys whose target
// does not support the query, and returns a map holding the capable
// keys. For single-output predictions the key argument selects the
// target to use and the returned map holds that key alone.
type MRNN struct {
	model          Forwarder
	targets        map[string]Target
	transformation Transformation
}

// New returns an MRNN wrapping the given model. The targets mapping
// assigns a representation to every named output of the model; for a
// single-output model it holds one entry naming the output. The
// transformation may be nil.
func New(model Forwarder, targets map[string]Target,
	transformation Transformation) (*MRNN, error) {

	if model == nil {
		return nil, fmt.Errorf("new: nil model")
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("new: no targets given")
	}
	for key, t := range targets {
		if t == nil {
			return nil, fmt.Errorf("new: nil target for key %q", key)
		}
	}

	ts := make(map[string]Target, len(targets))
	for key, t := range targets {
		ts[key] = t
	}
	return &MRNN{
		model:          model,
		targets:        ts,
		transformation: transformation,
	}, nil
}

// Targets returns the target representation for each output key.
func (m *MRNN) Targets() map[string]Target {
	out := make(map[string]Target, len(m.targets))
	for key, t := range m.targets {
		out[key] = t
	}
	return out
}

// Forward runs the underlying model on x and inverts the output
// transformation, yielding the raw prediction consumed by the
// distributional query methods.
func (m *MRNN) Forward(x tensor.Tensor) (*Prediction, error) {
	if x == nil {
		return nil, fmt.Errorf("forward: %w", ErrNoInput)
	}
	p, err := m.model.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("forward: %v", err)
	}
	if p == nil {
		return nil, fmt.Errorf("forward: model returned no prediction")
	}
	if m.transformation == nil {
		return p, nil
	}

	if !p.Keyed() {
		t, err := m.transformation.Invert(p.Tensor())
		if err != nil {
			return nil, fmt.Errorf("forward: %v", err)
		}
		return SinglePrediction(t), nil
	}
	out := make(map[string]tensor.Tensor, len(p.Outputs()))
	for key, t := range p.Outputs() {
		inv, err := m.transformation.Invert(t)
		if err != nil {
			return nil, fmt.Errorf("forward: key %q: %v", key, err)
		}
		out[key] = inv
	}
	return KeyedPrediction(out), nil
}

// Predict runs the model forward and applies each output's target
// post-processing: the identity for quantile and mean targets, logit
// normalization for density targets. Each target receives only its
// own output slice.
func (m *MRNN) Predict(x tensor.Tensor) (*Prediction, error) {
	p, err := m.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("predict: %v", err)
	}

	if !p.Keyed() {
		t, err := m.singleTarget()
		if err != nil {
			return nil, fmt.Errorf("predict: %v", err)
		}
		post, err := t.Predict(p.Tensor())
		if err != nil {
			return nil, fmt.Errorf("predict: %v", err)
		}
		return SinglePrediction(post), nil
	}

	out := make(map[string]tensor.Tensor, len(p.Outputs()))
	for _, key := range sortedKeys(p.Outputs()) {
		t, ok := m.targets[key]
		if !ok {
			return nil, fmt.Errorf("predict: %w: %q", ErrUnknownKey, key)
		}
		post, err := t.Predict(p.Outputs()[key])
		if err != nil {
			return nil, fmt.Errorf("predict: key %q: %v", key, err)
		}
		out[key] = post
	}
	return KeyedPrediction(out), nil
}

// singleTarget returns the sole target of a single-output model.
func (m *MRNN) singleTarget() (Target, error) {
	if len(m.targets) != 1 {
		return nil, fmt.Errorf("%v targets configured for a single-output "+
			"prediction", len(m.targets))
	}
	for _, t := range m.targets {
		return t, nil
	}
	panic("unreachable")
}

// resolve yields the raw prediction for a query from exactly one of x
// and yPred.
func (m *MRNN) resolve(x tensor.Tensor, yPred *Prediction) (*Prediction, error) {
	if yPred == nil && x == nil {
		return nil, ErrNoInput
	}
	if yPred != nil && x != nil {
		return nil, fmt.Errorf("%w: both x and yPred were given", ErrNoInput)
	}
	if yPred != nil {
		return yPred, nil
	}
	return m.Forward(x)
}

// target resolves the representation for single-output dispatch.
func (m *MRNN) target(key string) (Target, error) {
	t, ok := m.targets[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return t, nil
}

// CDF approximates the posterior CDF for each capable output key. See
// the Quantiles and Density documentation for the shape of the
// returned curves.
func (m *MRNN) CDF(x tensor.Tensor, yPred *Prediction,
	key string) (map[string]Curve, error) {

	p, err := m.resolve(x, yPred)
	if err != nil {
		return nil, fmt.Errorf("cdf: %w", err)
	}

	if !p.Keyed() {
		t, err := m.target(key)
		if err != nil {
			return nil, fmt.Errorf("cdf: %w", err)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			return nil, fmt.Errorf("cdf: %w: %v", ErrUnsupported, t)
		}
		c, err := dt.CDF(p.Tensor())
		if err != nil {
			return nil, fmt.Errorf("cdf: %v", err)
		}
		return map[string]Curve{key: c}, nil
	}

	out := make(map[string]Curve)
	for _, k := range sortedKeys(p.Outputs()) {
		t, ok := m.targets[k]
		if !ok {
			return nil, fmt.Errorf("cdf: %w: %q", ErrUnknownKey, k)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			continue
		}
		c, err := dt.CDF(p.Outputs()[k])
		if err != nil {
			return nil, fmt.Errorf("cdf: key %q: %v", k, err)
		}
		out[k] = c
	}
	return out, nil
}

// PDF approximates the posterior PDF for each capable output key.
func (m *MRNN) PDF(x tensor.Tensor, yPred *Prediction,
	key string) (map[string]Curve, error) {

	p, err := m.resolve(x, yPred)
	if err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}

	if !p.Keyed() {
		t, err := m.target(key)
		if err != nil {
			return nil, fmt.Errorf("pdf: %w", err)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			return nil, fmt.Errorf("pdf: %w: %v", ErrUnsupported, t)
		}
		c, err := dt.PDF(p.Tensor())
		if err != nil {
			return nil, fmt.Errorf("pdf: %v", err)
		}
		return map[string]Curve{key: c}, nil
	}

	out := make(map[string]Curve)
	for _, k := range sortedKeys(p.Outputs()) {
		t, ok := m.targets[k]
		if !ok {
			return nil, fmt.Errorf("pdf: %w: %q", ErrUnknownKey, k)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			continue
		}
		c, err := dt.PDF(p.Outputs()[k])
		if err != nil {
			return nil, fmt.Errorf("pdf: key %q: %v", k, err)
		}
		out[k] = c
	}
	return out, nil
}

// SamplePosterior draws n samples per batch element from the
// posterior of each capable output key by inverse-CDF sampling.
func (m *MRNN) SamplePosterior(x tensor.Tensor, yPred *Prediction, n int,
	key string) (map[string]tensor.Tensor, error) {

	return m.sample(x, yPred, n, key, false)
}

// SamplePosteriorGaussianFit draws n samples per batch element from a
// Gaussian fit to the posterior of each capable output key.
func (m *MRNN) SamplePosteriorGaussianFit(x tensor.Tensor, yPred *Prediction,
	n int, key string) (map[string]tensor.Tensor, error) {

	return m.sample(x, yPred, n, key, true)
}

func (m *MRNN) sample(x tensor.Tensor, yPred *Prediction, n int, key string,
	gaussian bool) (map[string]tensor.Tensor, error) {

	name := "samplePosterior"
	if gaussian {
		name = "samplePosteriorGaussianFit"
	}
	draw := func(dt DistributionTarget, t tensor.Tensor) (tensor.Tensor, error) {
		if gaussian {
			return dt.SamplePosteriorGaussianFit(t, n)
		}
		return dt.SamplePosterior(t, n)
	}

	p, err := m.resolve(x, yPred)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", name, err)
	}

	if !p.Keyed() {
		t, err := m.target(key)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", name, err)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			return nil, fmt.Errorf("%v: %w: %v", name, ErrUnsupported, t)
		}
		samples, err := draw(dt, p.Tensor())
		if err != nil {
			return nil, fmt.Errorf("%v: %v", name, err)
		}
		return map[string]tensor.Tensor{key: samples}, nil
	}

	out := make(map[string]tensor.Tensor)
	for _, k := range sortedKeys(p.Outputs()) {
		t, ok := m.targets[k]
		if !ok {
			return nil, fmt.Errorf("%v: %w: %q", name, ErrUnknownKey, k)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			continue
		}
		samples, err := draw(dt, p.Outputs()[k])
		if err != nil {
			return nil, fmt.Errorf("%v: key %q: %v", name, k, err)
		}
		out[k] = samples
	}
	return out, nil
}

// PosteriorMean computes the posterior mean for each capable output
// key. Mean-typed outputs report their prediction unchanged.
func (m *MRNN) PosteriorMean(x tensor.Tensor, yPred *Prediction,
	key string) (map[string]tensor.Tensor, error) {

	p, err := m.resolve(x, yPred)
	if err != nil {
		return nil, fmt.Errorf("posteriorMean: %w", err)
	}

	if !p.Keyed() {
		t, err := m.target(key)
		if err != nil {
			return nil, fmt.Errorf("posteriorMean: %w", err)
		}
		me, ok := t.(MeanEstimator)
		if !ok {
			return nil, fmt.Errorf("posteriorMean: %w: %v", ErrUnsupported, t)
		}
		mean, err := me.PosteriorMean(p.Tensor())
		if err != nil {
			return nil, fmt.Errorf("posteriorMean: %v", err)
		}
		return map[string]tensor.Tensor{key: mean}, nil
	}

	out := make(map[string]tensor.Tensor)
	for _, k := range sortedKeys(p.Outputs()) {
		t, ok := m.targets[k]
		if !ok {
			return nil, fmt.Errorf("posteriorMean: %w: %q", ErrUnknownKey, k)
		}
		me, ok := t.(MeanEstimator)
		if !ok {
			continue
		}
		mean, err := me.PosteriorMean(p.Outputs()[k])
		if err != nil {
			return nil, fmt.Errorf("posteriorMean: key %q: %v", k, err)
		}
		out[k] = mean
	}
	return out, nil
}

// CRPS computes the Continuous Ranked Probability Score against
// ground truth for each capable output key. yTrue is required; for a
// multi-output prediction it must map every capable key to its true
// values.
func (m *MRNN) CRPS(x tensor.Tensor, yPred *Prediction, yTrue *Prediction,
	key string) (map[string]tensor.Tensor, error) {

	p, err := m.resolve(x, yPred)
	if err != nil {
		return nil, fmt.Errorf("crps: %w", err)
	}
	if yTrue == nil {
		return nil, fmt.Errorf("crps: %w", ErrNoTruth)
	}

	if !p.Keyed() {
		if yTrue.Keyed() {
			return nil, fmt.Errorf("crps: keyed yTrue for a single-output " +
				"prediction")
		}
		t, err := m.target(key)
		if err != nil {
			return nil, fmt.Errorf("crps: %w", err)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			return nil, fmt.Errorf("crps: %w: %v", ErrUnsupported, t)
		}
		score, err := dt.CRPS(p.Tensor(), yTrue.Tensor())
		if err != nil {
			return nil, fmt.Errorf("crps: %v", err)
		}
		return map[string]tensor.Tensor{key: score}, nil
	}

	if !yTrue.Keyed() {
		return nil, fmt.Errorf("crps: %w: yTrue must be keyed for a "+
			"multi-output prediction", ErrNoTruth)
	}
	out := make(map[string]tensor.Tensor)
	for _, k := range sortedKeys(p.Outputs()) {
		t, ok := m.targets[k]
		if !ok {
			return nil, fmt.Errorf("crps: %w: %q", ErrUnknownKey, k)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			continue
		}
		truth, ok := yTrue.At(k)
		if !ok {
			return nil, fmt.Errorf("crps: %w: yTrue missing key %q",
				ErrUnknownKey, k)
		}
		score, err := dt.CRPS(p.Outputs()[k], truth)
		if err != nil {
			return nil, fmt.Errorf("crps: key %q: %v", k, err)
		}
		out[k] = score
	}
	return out, nil
}

// ProbabilityLargerThan computes P(Y > y) for each capable output
// key.
func (m *MRNN) ProbabilityLargerThan(x tensor.Tensor, yPred *Prediction,
	y float64, key string) (map[string]tensor.Tensor, error) {

	out, err := m.exceedance(x, yPred, y, key, true)
	if err != nil {
		return nil, fmt.Errorf("probabilityLargerThan: %w", err)
	}
	return out, nil
}

// ProbabilityLessThan computes P(Y <= y) for each capable output key.
func (m *MRNN) ProbabilityLessThan(x tensor.Tensor, yPred *Prediction,
	y float64, key string) (map[string]tensor.Tensor, error) {

	out, err := m.exceedance(x, yPred, y, key, false)
	if err != nil {
		return nil, fmt.Errorf("probabilityLessThan: %w", err)
	}
	return out, nil
}

func (m *MRNN) exceedance(x tensor.Tensor, yPred *Prediction, y float64,
	key string, larger bool) (map[string]tensor.Tensor, error) {

	eval := func(dt DistributionTarget, t tensor.Tensor) (tensor.Tensor, error) {
		if larger {
			return dt.ProbabilityLargerThan(t, y)
		}
		return dt.ProbabilityLessThan(t, y)
	}

	p, err := m.resolve(x, yPred)
	if err != nil {
		return nil, err
	}

	if !p.Keyed() {
		t, err := m.target(key)
		if err != nil {
			return nil, err
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, t)
		}
		prob, err := eval(dt, p.Tensor())
		if err != nil {
			return nil, err
		}
		return map[string]tensor.Tensor{key: prob}, nil
	}

	out := make(map[string]tensor.Tensor)
	for _, k := range sortedKeys(p.Outputs()) {
		t, ok := m.targets[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, k)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			continue
		}
		prob, err := eval(dt, p.Outputs()[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %v", k, err)
		}
		out[k] = prob
	}
	return out, nil
}

// PosteriorQuantiles re-estimates quantiles of the posterior at the
// given fractions for each capable output key. The fractions are
// required.
func (m *MRNN) PosteriorQuantiles(x tensor.Tensor, yPred *Prediction,
	quantiles []float64, key string) (map[string]tensor.Tensor, error) {

	if len(quantiles) == 0 {
		return nil, fmt.Errorf("posteriorQuantiles: %w: no quantile "+
			"fractions given", ErrNoInput)
	}

	p, err := m.resolve(x, yPred)
	if err != nil {
		return nil, fmt.Errorf("posteriorQuantiles: %w", err)
	}

	if !p.Keyed() {
		t, err := m.target(key)
		if err != nil {
			return nil, fmt.Errorf("posteriorQuantiles: %w", err)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			return nil, fmt.Errorf("posteriorQuantiles: %w: %v",
				ErrUnsupported, t)
		}
		qs, err := dt.PosteriorQuantiles(p.Tensor(), quantiles)
		if err != nil {
			return nil, fmt.Errorf("posteriorQuantiles: %v", err)
		}
		return map[string]tensor.Tensor{key: qs}, nil
	}

	out := make(map[string]tensor.Tensor)
	for _, k := range sortedKeys(p.Outputs()) {
		t, ok := m.targets[k]
		if !ok {
			return nil, fmt.Errorf("posteriorQuantiles: %w: %q",
				ErrUnknownKey, k)
		}
		dt, ok := t.(DistributionTarget)
		if !ok {
			continue
		}
		qs, err := dt.PosteriorQuantiles(p.Outputs()[k], quantiles)
		if err != nil {
			return nil, fmt.Errorf("posteriorQuantiles: key %q: %v", k, err)
		}
		out[k] = qs
	}
	return out, nil
}
