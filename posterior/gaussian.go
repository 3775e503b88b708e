package posterior

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// minSigma floors fitted standard deviations. Crossing quantile
// predictions can yield a non-positive slope, which would leave the
// normal undefined.
const minSigma = 1e-6

// GaussianFit estimates the mean and standard deviation of a normal
// distribution from predicted quantile values by ordinary least
// squares of the values against the standard normal quantile function
// at the corresponding fractions: the intercept of the regression is
// the mean and the slope the standard deviation. Slopes below a small
// positive floor are clamped to it.
func GaussianFit(values, quantiles []float64) (float64, float64) {
	z := make([]float64, len(quantiles))
	for i, q := range quantiles {
		z[i] = distuv.UnitNormal.Quantile(q)
	}
	mu, sigma := stat.LinearRegression(z, values, nil, false)
	if sigma < minSigma {
		sigma = minSigma
	}
	return mu, sigma
}

// QuantileSamplePosteriorGaussianFit draws n samples per lane from a
// normal distribution fit to the predicted quantiles with
// GaussianFit, instead of from the piecewise-linear CDF. The quantile
// axis of the result has size n.
func QuantileSamplePosteriorGaussianFit(yPred tensor.Tensor,
	quantiles []float64, n, axis int, src rand.Source) (tensor.Tensor, error) {

	if err := checkQuantiles(quantiles); err != nil {
		return nil, fmt.Errorf("quantileSamplePosteriorGaussianFit: %w", err)
	}
	k := len(quantiles)
	if err := checkAxis(yPred, axis, k); err != nil {
		return nil, fmt.Errorf("quantileSamplePosteriorGaussianFit: %v", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("quantileSamplePosteriorGaussianFit: "+
			"expected a positive sample count but got %v", n)
	}
	if src == nil {
		return nil, fmt.Errorf("quantileSamplePosteriorGaussianFit: " +
			"nil random source")
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("quantileSamplePosteriorGaussianFit: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, n)
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("quantileSamplePosteriorGaussianFit: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(outShape)
	outStride := outStrides[axis]

	normal := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: src}
	yp := make([]float64, k)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, yp)
			normal.Mu, normal.Sigma = GaussianFit(yp, quantiles)
			for s := 0; s < n; s++ {
				setOut(bases[1]+s*outStride, normal.Rand())
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("quantileSamplePosteriorGaussianFit: %v", err)
	}
	return out, nil
}

// DensitySamplePosteriorGaussianFit draws n samples per lane from a
// normal distribution moment-matched to the binned posterior: the
// mean and variance of the normal are the mean and variance of the
// probability masses placed at the bin centres. The bin axis of the
// result has size n.
func DensitySamplePosteriorGaussianFit(yPred tensor.Tensor, bins []float64,
	n, axis int, src rand.Source) (tensor.Tensor, error) {

	k, err := checkBins(yPred, bins, axis)
	if err != nil {
		return nil, fmt.Errorf("densitySamplePosteriorGaussianFit: %v", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("densitySamplePosteriorGaussianFit: "+
			"expected a positive sample count but got %v", n)
	}
	if src == nil {
		return nil, fmt.Errorf("densitySamplePosteriorGaussianFit: " +
			"nil random source")
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("densitySamplePosteriorGaussianFit: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, n)
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("densitySamplePosteriorGaussianFit: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(outShape)
	outStride := outStrides[axis]

	normal := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: src}
	logits := make([]float64, k)
	pmf := make([]float64, k)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, logits)
			softmax(logits, pmf)

			mean, variance := 0.0, 0.0
			for j := 0; j < k; j++ {
				mean += pmf[j] * 0.5 * (bins[j] + bins[j+1])
			}
			for j := 0; j < k; j++ {
				d := 0.5*(bins[j]+bins[j+1]) - mean
				variance += pmf[j] * d * d
			}
			normal.Mu = mean
			normal.Sigma = sqrtFloor(variance)
			for s := 0; s < n; s++ {
				setOut(bases[1]+s*outStride, normal.Rand())
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("densitySamplePosteriorGaussianFit: %v", err)
	}
	return out, nil
}
