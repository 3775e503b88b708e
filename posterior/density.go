package posterior

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// checkBins validates a bin edge sequence against the prediction and
// returns the number of bins.
func checkBins(yPred tensor.Tensor, bins []float64, axis int) (int, error) {
	if len(bins) < 2 {
		return 0, fmt.Errorf("expected at least two bin edges but got %v",
			len(bins))
	}
	if !strictlyIncreasing(bins) {
		return 0, fmt.Errorf("bin edges %v must be strictly increasing", bins)
	}
	k := len(bins) - 1
	if err := checkAxis(yPred, axis, k); err != nil {
		return 0, err
	}
	return k, nil
}

// softmax normalizes one lane of logits into a probability mass
// function, shifting by the maximum for numerical stability.
func softmax(logits, pmf []float64) {
	max := logits[0]
	for _, l := range logits[1:] {
		if l > max {
			max = l
		}
	}
	sum := 0.0
	for j, l := range logits {
		pmf[j] = math.Exp(l - max)
		sum += pmf[j]
	}
	for j := range pmf {
		pmf[j] /= sum
	}
}

// densityCdfLane accumulates bin masses into CDF ordinates at the
// k+1 bin edges. The ordinates are renormalized against their total
// so that the last edge is exactly one regardless of rounding.
func densityCdfLane(pmf, cs []float64) {
	cs[0] = 0.0
	for j, p := range pmf {
		cs[j+1] = cs[j] + p
	}
	total := cs[len(cs)-1]
	if total > 0 {
		for j := range cs {
			cs[j] /= total
		}
	}
}

func sqrtFloor(variance float64) float64 {
	sigma := math.Sqrt(variance)
	if sigma < minSigma {
		sigma = minSigma
	}
	return sigma
}

// DensityNormalize converts raw bin logits into a PDF estimate over
// the bin edges: a softmax along the bin axis followed by division by
// the bin widths, so the result integrates to one.
func DensityNormalize(yPred tensor.Tensor, bins []float64,
	axis int) (tensor.Tensor, error) {

	k, err := checkBins(yPred, bins, axis)
	if err != nil {
		return nil, fmt.Errorf("densityNormalize: %v", err)
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("densityNormalize: %v", err)
	}

	shape := yPred.Shape()
	out := newDenseLike(yPred, shape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("densityNormalize: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(shape)
	outStride := outStrides[axis]

	logits := make([]float64, k)
	pmf := make([]float64, k)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, logits)
			softmax(logits, pmf)
			for j := 0; j < k; j++ {
				setOut(bases[1]+j*outStride, pmf[j]/(bins[j+1]-bins[j]))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("densityNormalize: %v", err)
	}
	return out, nil
}

// DensityCdf accumulates the bin probability masses into a CDF
// anchored at the k+1 bin edges, rising from zero at the first edge
// to one at the last. Both returned tensors have size k+1 along the
// bin axis; the abscissae repeat the bin edges per lane.
func DensityCdf(yPred tensor.Tensor, bins []float64,
	axis int) (tensor.Tensor, tensor.Tensor, error) {

	k, err := checkBins(yPred, bins, axis)
	if err != nil {
		return nil, nil, fmt.Errorf("densityCdf: %v", err)
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, nil, fmt.Errorf("densityCdf: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, k+1)
	xOut := newDenseLike(yPred, outShape)
	cOut := newDenseLike(yPred, outShape)
	_, setX, err := accessors(xOut)
	if err != nil {
		return nil, nil, fmt.Errorf("densityCdf: %v", err)
	}
	_, setC, err := accessors(cOut)
	if err != nil {
		return nil, nil, fmt.Errorf("densityCdf: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(outShape)
	outStride := outStrides[axis]

	logits := make([]float64, k)
	pmf := make([]float64, k)
	cs := make([]float64, k+1)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, logits)
			softmax(logits, pmf)
			densityCdfLane(pmf, cs)
			writeLane(setX, bases[1], outStride, bins)
			writeLane(setC, bases[1], outStride, cs)
			return nil
		})
	if err != nil {
		return nil, nil, fmt.Errorf("densityCdf: %v", err)
	}
	return xOut, cOut, nil
}

// DensityPdf returns the bin centres and the normalized densities of
// each bin, both of size k along the bin axis.
func DensityPdf(yPred tensor.Tensor, bins []float64,
	axis int) (tensor.Tensor, tensor.Tensor, error) {

	k, err := checkBins(yPred, bins, axis)
	if err != nil {
		return nil, nil, fmt.Errorf("densityPdf: %v", err)
	}

	pdf, err := DensityNormalize(yPred, bins, axis)
	if err != nil {
		return nil, nil, fmt.Errorf("densityPdf: %v", err)
	}

	centres := make([]float64, k)
	for j := 0; j < k; j++ {
		centres[j] = 0.5 * (bins[j] + bins[j+1])
	}

	shape := yPred.Shape()
	xOut := newDenseLike(yPred, shape)
	_, setX, err := accessors(xOut)
	if err != nil {
		return nil, nil, fmt.Errorf("densityPdf: %v", err)
	}
	outStrides := contiguousStrides(shape)
	outStride := outStrides[axis]
	err = eachLane(shape, axis, [][]int{outStrides},
		func(bases []int) error {
			writeLane(setX, bases[0], outStride, centres)
			return nil
		})
	if err != nil {
		return nil, nil, fmt.Errorf("densityPdf: %v", err)
	}
	return xOut, pdf, nil
}

// DensitySamplePosterior draws n independent samples per lane by
// inverting the edge-anchored CDF: a uniform draw picks the bin whose
// cumulative mass brackets it, interpolating linearly within the
// bin's width. The bin axis of the result has size n.
func DensitySamplePosterior(yPred tensor.Tensor, bins []float64,
	n, axis int, src rand.Source) (tensor.Tensor, error) {

	k, err := checkBins(yPred, bins, axis)
	if err != nil {
		return nil, fmt.Errorf("densitySamplePosterior: %v", err)
	}
	if n < 1 {
		return nil, fmt.Errorf("densitySamplePosterior: expected a "+
			"positive sample count but got %v", n)
	}
	if src == nil {
		return nil, fmt.Errorf("densitySamplePosterior: nil random source")
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("densitySamplePosterior: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, n)
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("densitySamplePosterior: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(outShape)
	outStride := outStrides[axis]

	uniform := distuv.Uniform{Min: 0.0, Max: 1.0, Src: src}
	logits := make([]float64, k)
	pmf := make([]float64, k)
	cs := make([]float64, k+1)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, logits)
			softmax(logits, pmf)
			densityCdfLane(pmf, cs)
			for s := 0; s < n; s++ {
				setOut(bases[1]+s*outStride, plInvCdf(bins, cs, uniform.Rand()))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("densitySamplePosterior: %v", err)
	}
	return out, nil
}

// DensityPosteriorMean computes the expected value of the binned
// posterior, the sum of bin centres weighted by bin mass. The bin
// axis is reduced away.
func DensityPosteriorMean(yPred tensor.Tensor, bins []float64,
	axis int) (tensor.Tensor, error) {

	k, err := checkBins(yPred, bins, axis)
	if err != nil {
		return nil, fmt.Errorf("densityPosteriorMean: %v", err)
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("densityPosteriorMean: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, 0)
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("densityPosteriorMean: %v", err)
	}
	outStrides := expandStrides(contiguousStrides(outShape), axis)

	inStride := yPred.Strides()[axis]
	logits := make([]float64, k)
	pmf := make([]float64, k)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, logits)
			softmax(logits, pmf)
			mean := 0.0
			for j := 0; j < k; j++ {
				mean += pmf[j] * 0.5 * (bins[j] + bins[j+1])
			}
			setOut(bases[1], mean)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("densityPosteriorMean: %v", err)
	}
	return out, nil
}

// DensityCRPS computes the Continuous Ranked Probability Score of
// each lane against the corresponding true value over the
// edge-anchored CDF. yTrue follows the same shape contract as
// QuantileCRPS. The bin axis is reduced away.
func DensityCRPS(yPred, yTrue tensor.Tensor, bins []float64,
	axis int) (tensor.Tensor, error) {

	k, err := checkBins(yPred, bins, axis)
	if err != nil {
		return nil, fmt.Errorf("densityCRPS: %v", err)
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("densityCRPS: %v", err)
	}
	trueStrides, getTrue, err := reducedStrides(yPred, yTrue, axis)
	if err != nil {
		return nil, fmt.Errorf("densityCRPS: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, 0)
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("densityCRPS: %v", err)
	}
	outStrides := expandStrides(contiguousStrides(outShape), axis)

	inStride := yPred.Strides()[axis]
	logits := make([]float64, k)
	pmf := make([]float64, k)
	cs := make([]float64, k+1)
	err = eachLane(shape, axis,
		[][]int{yPred.Strides(), outStrides, trueStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, logits)
			softmax(logits, pmf)
			densityCdfLane(pmf, cs)
			setOut(bases[1], plCRPS(bins, cs, getTrue(bases[2])))
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("densityCRPS: %v", err)
	}
	return out, nil
}

// DensityProbabilityLessThan evaluates the edge-anchored CDF at y per
// lane. The bin axis is reduced away.
func DensityProbabilityLessThan(yPred tensor.Tensor, bins []float64,
	y float64, axis int) (tensor.Tensor, error) {

	out, err := densityCdfAt(yPred, bins, y, axis, false)
	if err != nil {
		return nil, fmt.Errorf("densityProbabilityLessThan: %v", err)
	}
	return out, nil
}

// DensityProbabilityLargerThan evaluates one minus the edge-anchored
// CDF at y per lane. The bin axis is reduced away.
func DensityProbabilityLargerThan(yPred tensor.Tensor, bins []float64,
	y float64, axis int) (tensor.Tensor, error) {

	out, err := densityCdfAt(yPred, bins, y, axis, true)
	if err != nil {
		return nil, fmt.Errorf("densityProbabilityLargerThan: %v", err)
	}
	return out, nil
}

func densityCdfAt(yPred tensor.Tensor, bins []float64, y float64,
	axis int, complement bool) (tensor.Tensor, error) {

	k, err := checkBins(yPred, bins, axis)
	if err != nil {
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
	logits := make([]float64, k)
	pmf := make([]float64, k)
	cs := make([]float64, k+1)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, logits)
			softmax(logits, pmf)
			densityCdfLane(pmf, cs)
			p := plCdfAt(bins, cs, y)
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

// DensityPosteriorQuantiles estimates quantiles of the binned
// posterior at the caller's fractions by inverting the edge-anchored
// CDF. The bin axis of the result has size len(newQuantiles).
func DensityPosteriorQuantiles(yPred tensor.Tensor, bins,
	newQuantiles []float64, axis int) (tensor.Tensor, error) {

	k, err := checkBins(yPred, bins, axis)
	if err != nil {
		return nil, fmt.Errorf("densityPosteriorQuantiles: %v", err)
	}
	if len(newQuantiles) == 0 {
		return nil, fmt.Errorf("densityPosteriorQuantiles: no target " +
			"quantile fractions given")
	}
	for _, q := range newQuantiles {
		if q < 0 || q > 1 {
			return nil, fmt.Errorf("densityPosteriorQuantiles: fraction "+
				"%v outside [0, 1]", q)
		}
	}
	get, _, err := accessors(yPred)
	if err != nil {
		return nil, fmt.Errorf("densityPosteriorQuantiles: %v", err)
	}

	shape := yPred.Shape()
	outShape := replaceAxis(shape, axis, len(newQuantiles))
	out := newDenseLike(yPred, outShape)
	_, setOut, err := accessors(out)
	if err != nil {
		return nil, fmt.Errorf("densityPosteriorQuantiles: %v", err)
	}

	inStride := yPred.Strides()[axis]
	outStrides := contiguousStrides(outShape)
	outStride := outStrides[axis]

	logits := make([]float64, k)
	pmf := make([]float64, k)
	cs := make([]float64, k+1)
	err = eachLane(shape, axis, [][]int{yPred.Strides(), outStrides},
		func(bases []int) error {
			readLane(get, bases[0], inStride, logits)
			softmax(logits, pmf)
			densityCdfLane(pmf, cs)
			for i, q := range newQuantiles {
				setOut(bases[1]+i*outStride, plInvCdf(bins, cs, q))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("densityPosteriorQuantiles: %v", err)
	}
	return out, nil
}
