// Package posterior derives distributional quantities from the raw
// output of probabilistic regression networks. Predictions are dense
// tensors holding either quantile values or bin logits along one
// axis; every function is batched over all remaining axes.
package posterior

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// ErrTooFewQuantiles indicates that fewer than two quantile fractions
// were supplied. Extending a quantile prediction to a full CDF
// requires linear extrapolation past the outermost quantiles, which
// is undefined with a single point.
var ErrTooFewQuantiles = errors.New(
	"at least two quantile fractions are required")

// checkQuantiles validates a quantile fraction sequence.
func checkQuantiles(quantiles []float64) error {
	if len(quantiles) < 2 {
		return ErrTooFewQuantiles
	}
	if !strictlyIncreasing(quantiles) {
		return fmt.Errorf("quantile fractions %v must be strictly increasing",
			quantiles)
	}
	if quantiles[0] <= 0 || quantiles[len(quantiles)-1] >= 1 {
		return fmt.Errorf("quantile fractions %v must lie in (0, 1)",
			quantiles)
	}
	return nil
}

// cdfLane extends one lane of predicted quantile values to the full
// piecewise-linear CDF. The synthetic endpoints continue the slope of
// the outermost segments:
//
//	y(τ=0) = 2*y(τ_1) - y(τ_2)
//	y(τ=1) = 2*y(τ_k) - y(τ_{k-1})
//
// xs and cs must have room for k+2 values.
func cdfLane(yp, quantiles, xs, cs []float64) {
	k := len(quantiles)
	xs[0] = 2.0*yp[0] - yp[1]
	copy(xs[1:], yp)
	xs[k+1] = 2.0*yp[k-1] - yp[k-2]

	cs[0] = 0.0
	copy(cs[1:], quantiles)
	cs[k+1] = 1.0
}

// QuantileCdf computes the piecewise-linear CDF implied by predicted
// quantile values. yPred holds the k predicted quantiles along axis;
// the returned abscissa and ordinate tensors have size k+2 along that
// axis, with the ordinates spanning exactly [0, 1].
func QuantileCdf(yPred tensor.Tensor, quantiles []float64,
	axis int) (tensor.Tensor, tensor.Tensor, error) {

	if err := checkQuantiles(quantiles); err != nil {
		return nil, nil, fmt.Errorf("quantileCdf: %w", err)
	}
	k := len(quantiles)
	if err := checkAxis(yPred, axis, k); err != nil {
		return nil, nil, fmt.Errorf("quantileCdf: %v", err)
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, nil, fmt.Errorf("quantileCdf: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, k+2)
	xOut := newDenseLike(yPred, outShape)
	cOut := newDenseLike(yPred, outShape)
	_, setX, err := accessors(xOut)
	if err != nil {
		return nil, nil, fmt.Errorf("quantileCdf: %v", err)
	}
	_, setC, err := accessors(cOut)
	if err != nil {
		return nil, nil, fmt.Errorf("quantileCdf: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(outShape)
	outStride := outStrides[axis]

	yp := make([]float64, k)
	xs := make([]float64, k+2)
	cs := make([]float64, k+2)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, yp)
			cdfLane(yp, quantiles, xs, cs)
			writeLane(setX, bases[1], outStride, xs)
			writeLane(setC, bases[1], outStride, cs)
			return nil
		})
	if err != nil {
		return nil, nil, fmt.Errorf("quantileCdf: %v", err)
	}
	return xOut, cOut, nil
}

// QuantilePdf differentiates the piecewise-linear CDF. Each of the
// k+1 segments carries the constant density Δτ/Δy; the returned
// abscissae are the segment midpoints. Segments of non-positive width
// (crossing quantile predictions) report zero density.
func QuantilePdf(yPred tensor.Tensor, quantiles []float64,
	axis int) (tensor.Tensor, tensor.Tensor, error) {

	if err := checkQuantiles(quantiles); err != nil {
		return nil, nil, fmt.Errorf("quantilePdf: %w", err)
	}
	k := len(quantiles)
	if err := checkAxis(yPred, axis, k); err != nil {
		return nil, nil, fmt.Errorf("quantilePdf: %v", err)
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, nil, fmt.Errorf("quantilePdf: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, k+1)
	xOut := newDenseLike(yPred, outShape)
	pOut := newDenseLike(yPred, outShape)
	_, setX, err := accessors(xOut)
	if err != nil {
		return nil, nil, fmt.Errorf("quantilePdf: %v", err)
	}
	_, setP, err := accessors(pOut)
	if err != nil {
		return nil, nil, fmt.Errorf("quantilePdf: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(outShape)
	outStride := outStrides[axis]

	yp := make([]float64, k)
	xs := make([]float64, k+2)
	cs := make([]float64, k+2)
	mids := make([]float64, k+1)
	dens := make([]float64, k+1)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, yp)
			cdfLane(yp, quantiles, xs, cs)
			for j := 0; j <= k; j++ {
				mids[j] = 0.5 * (xs[j] + xs[j+1])
				dx := xs[j+1] - xs[j]
				if dx > 0 {
					dens[j] = (cs[j+1] - cs[j]) / dx
				} else {
					dens[j] = 0.0
				}
			}
			writeLane(setX, bases[1], outStride, mids)
			writeLane(setP, bases[1], outStride, dens)
			return nil
		})
	if err != nil {
		return nil, nil, fmt.Errorf("quantilePdf: %v", err)
	}
	return xOut, pOut, nil
}

// QuantileSamplePosterior draws n independent samples per lane by
// inverse-CDF sampling of the piecewise-linear CDF. The quantile axis
// of the result has size n. Draws come from src, so a fixed seed
// reproduces the sample set.
func QuantileSamplePosterior(yPred tensor.Tensor, quantiles []float64,
	n, axis int, src rand.Source) (tensor.Tensor, error) {

	if err := checkQuantiles(quantiles); err != nil {
		return nil, fmt.Errorf("quantileSamplePosterior: %w", err)
	}
	k := len(quantiles)
	if err := checkAxis(yPred, axis, k); err != nil {
		return nil, fmt.Errorf("quantileSamplePosterior: %v", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("quantileSamplePosterior: expected a "+
			"positive sample count but got %v", n)
	}
	if src == nil {
		return nil, fmt.Errorf("quantileSamplePosterior: nil random source")
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("quantileSamplePosterior: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, n)
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("quantileSamplePosterior: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(outShape)
	outStride := outStrides[axis]

	uniform := distuv.Uniform{Min: 0.0, Max: 1.0, Src: src}
	yp := make([]float64, k)
	xs := make([]float64, k+2)
	cs := make([]float64, k+2)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, yp)
			cdfLane(yp, quantiles, xs, cs)
			for s := 0; s < n; s++ {
				setOut(bases[1]+s*outStride, plInvCdf(xs, cs, uniform.Rand()))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("quantileSamplePosterior: %v", err)
	}
	return out, nil
}

// QuantilePosteriorMean integrates y dF over the piecewise-linear
// CDF. The quantile axis is reduced away.
func QuantilePosteriorMean(yPred tensor.Tensor, quantiles []float64,
	axis int) (tensor.Tensor, error) {

	if err := checkQuantiles(quantiles); err != nil {
		return nil, fmt.Errorf("quantilePosteriorMean: %w", err)
	}
	k := len(quantiles)
	if err := checkAxis(yPred, axis, k); err != nil {
		return nil, fmt.Errorf("quantilePosteriorMean: %v", err)
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("quantilePosteriorMean: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, 0)
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("quantilePosteriorMean: %v", err)
	}
	outStrides := expandStrides(contiguousStrides(outShape), axis)

	inStride := yPred.Strides()[axis]
	yp := make([]float64, k)
	xs := make([]float64, k+2)
	cs := make([]float64, k+2)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, yp)
			cdfLane(yp, quantiles, xs, cs)
			setOut(bases[1], plMean(xs, cs))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("quantilePosteriorMean: %v", err)
	}
	return out, nil
}

// QuantileCRPS computes the Continuous Ranked Probability Score of
// each lane against the corresponding true value, integrating
// (F(y) - 1[y >= yTrue])^2 in closed form segment by segment. yTrue
// must either have the prediction's shape with the quantile axis
// collapsed to size one, or that shape with the axis removed. The
// quantile axis is reduced away.
func QuantileCRPS(yPred, yTrue tensor.Tensor, quantiles []float64,
	axis int) (tensor.Tensor, error) {

	if err := checkQuantiles(quantiles); err != nil {
		return nil, fmt.Errorf("quantileCRPS: %w", err)
	}
	k := len(quantiles)
	if err := checkAxis(yPred, axis, k); err != nil {
		return nil, fmt.Errorf("quantileCRPS: %v", err)
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("quantileCRPS: %v", err)
	}
	trueStrides, getTrue, err := reducedStrides(yPred, yTrue, axis)
	if err != nil {
		return nil, fmt.Errorf("quantileCRPS: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, 0)
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("quantileCRPS: %v", err)
	}
	outStrides := expandStrides(contiguousStrides(outShape), axis)

	inStride := yPred.Strides()[axis]
	yp := make([]float64, k)
	xs := make([]float64, k+2)
	cs := make([]float64, k+2)
	err = eachLane(shape, axis,
		[][]int{yPred.Strides(), outStrides, trueStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, yp)
			cdfLane(yp, quantiles, xs, cs)
			setOut(bases[1], plCRPS(xs, cs, getTrue(bases[2])))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("quantileCRPS: %v", err)
	}
	return out, nil
}

// QuantileProbabilityLessThan evaluates F(y) per lane, extrapolating
// flat beyond the CDF endpoints. The quantile axis is reduced away.
func QuantileProbabilityLessThan(yPred tensor.Tensor, quantiles []float64,
	y float64, axis int) (tensor.Tensor, error) {

	out, err := quantileCdfAt(yPred, quantiles, y, axis, false)
	if err != nil {
		return nil, fmt.Errorf("quantileProbabilityLessThan: %w", err)
	}
	return out, nil
}

// QuantileProbabilityLargerThan evaluates 1 - F(y) per lane. The
// quantile axis is reduced away.
func QuantileProbabilityLargerThan(yPred tensor.Tensor, quantiles []float64,
	y float64, axis int) (tensor.Tensor, error) {

	out, err := quantileCdfAt(yPred, quantiles, y, axis, true)
	if err != nil {
		return nil, fmt.Errorf("quantileProbabilityLargerThan: %w", err)
	}
	return out, nil
}

func quantileCdfAt(yPred tensor.Tensor, quantiles []float64, y float64,
	axis int, complement bool) (tensor.Tensor, error) {

	if err := checkQuantiles(quantiles); err != nil {
		return nil, err
	}
	k := len(quantiles)
	if err := checkAxis(yPred, axis, k); err != nil {
		return nil, err
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, err
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, 0)
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, err
	}
	outStrides := expandStrides(contiguousStrides(outShape), axis)

	inStride := yPred.Strides()[axis]
	yp := make([]float64, k)
	xs := make([]float64, k+2)
	cs := make([]float64, k+2)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, yp)
			cdfLane(yp, quantiles, xs, cs)
			p := plCdfAt(xs, cs, y)
			if complement {
				p = 1.0 - p
			}
			setOut(bases[1], p)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QuantilePosteriorQuantiles re-estimates quantiles at the caller's
// fractions by inverting the piecewise-linear CDF. At the fractions
// used to build the CDF this recovers the predicted values exactly.
// The quantile axis of the result has size len(newQuantiles).
func QuantilePosteriorQuantiles(yPred tensor.Tensor, quantiles,
	newQuantiles []float64, axis int) (tensor.Tensor, error) {

	if err := checkQuantiles(quantiles); err != nil {
		return nil, fmt.Errorf("quantilePosteriorQuantiles: %w", err)
	}
	if len(newQuantiles) == 0 {
		return nil, fmt.Errorf("quantilePosteriorQuantiles: no target " +
			"quantile fractions given")
	}
	for _, q := range newQuantiles {
		if q < 0 || q > 1 {
			return nil, fmt.Errorf("quantilePosteriorQuantiles: fraction "+
				"%v outside [0, 1]", q)
		}
	}
	k := len(quantiles)
	if err := checkAxis(yPred, axis, k); err != nil {
		return nil, fmt.Errorf("quantilePosteriorQuantiles: %v", err)
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("quantilePosteriorQuantiles: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, len(newQuantiles))
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("quantilePosteriorQuantiles: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(outShape)
	outStride := outStrides[axis]

	yp := make([]float64, k)
	xs := make([]float64, k+2)
	cs := make([]float64, k+2)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, yp)
			cdfLane(yp, quantiles, xs, cs)
			for i, q := range newQuantiles {
				setOut(bases[1]+i*outStride, plInvCdf(xs, cs, q))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("quantilePosteriorQuantiles: %v", err)
	}
	return out, nil
}

// reducedStrides resolves a tensor whose shape matches yPred with the
// given axis either removed or collapsed to size one, returning
// stride offsets aligned to yPred's dimensions and a get accessor.
func reducedStrides(yPred, t tensor.Tensor,
	axis int) ([]int, func(int) float64, error) {

	if t == nil {
		return nil, nil, fmt.Errorf("nil ground-truth tensor")
	}
	get, _, err := accessors(t)
	if err != nil {
		return nil, nil, err
	}

	shape := yPred.Shape()
	reduced := replaceAxis(shape, axis, 0)
	tShape := t.Shape()

	switch {
	case tShape.Eq(reduced):
		if len(tShape) == len(shape) {
			// Rank was preserved because yPred is rank one; the lane
			// index never moves, so a zero stride set suffices.
			return make([]int, len(shape)), get, nil
		}
		return expandStrides(t.Strides(), axis), get, nil
	case len(tShape) == len(shape) && tShape[axis] == 1 &&
		tShape.Eq(replaceAxis(shape, axis, 1)):
		return t.Strides(), get, nil
	case t.Shape().IsScalarEquiv():
		return make([]int, len(shape)), get, nil
	}
	return nil, nil, fmt.Errorf("expected shape %v or %v but got %v",
		reduced, replaceAxis(shape, axis, 1), tShape)
}
