package posterior

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

func f64s(t *testing.T, tt tensor.Tensor) []float64 {
	t.Helper()
	data, ok := tt.Data().([]float64)
	if !ok {
		t.Fatalf("expected a float64 tensor but got %v", tt.Dtype())
	}
	return data
}

func checkClose(t *testing.T, expected, received []float64, tol float64) {
	t.Helper()
	if len(expected) != len(received) {
		t.Fatalf("expected %v values \nreceived %v", len(expected),
			len(received))
	}
	for i := range expected {
		if math.Abs(expected[i]-received[i]) > tol {
			t.Errorf("expected: \n%v \nreceived: \n%v", expected, received)
			return
		}
	}
}

func TestQuantileCdf(t *testing.T) {
	quantiles := []float64{0.1, 0.5, 0.9}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{2, 3},
		tensor.WithBacking([]float64{
			2, 5, 9,
			0, 1, 2,
		}),
	)

	xs, cs, err := QuantileCdf(yPred, quantiles, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !xs.Shape().Eq(tensor.Shape{2, 5}) {
		t.Fatalf("expected shape (2, 5) \nreceived %v", xs.Shape())
	}

	// Endpoints continue the slope of the outermost segments.
	checkClose(t, []float64{
		-1, 2, 5, 9, 13,
		-1, 0, 1, 2, 3,
	}, f64s(t, xs), threshold)
	checkClose(t, []float64{
		0, 0.1, 0.5, 0.9, 1,
		0, 0.1, 0.5, 0.9, 1,
	}, f64s(t, cs), threshold)
}

func TestQuantileCdfAxis(t *testing.T) {
	// The same lanes along axis 0 instead of the trailing axis.
	quantiles := []float64{0.1, 0.5, 0.9}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{3, 2},
		tensor.WithBacking([]float64{
			2, 0,
			5, 1,
			9, 2,
		}),
	)

	xs, cs, err := QuantileCdf(yPred, quantiles, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !xs.Shape().Eq(tensor.Shape{5, 2}) {
		t.Fatalf("expected shape (5, 2) \nreceived %v", xs.Shape())
	}

	checkClose(t, []float64{
		-1, -1,
		2, 0,
		5, 1,
		9, 2,
		13, 3,
	}, f64s(t, xs), threshold)
	checkClose(t, []float64{
		0, 0,
		0.1, 0.1,
		0.5, 0.5,
		0.9, 0.9,
		1, 1,
	}, f64s(t, cs), threshold)
}

func TestQuantileCdfErrors(t *testing.T) {
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 1},
		tensor.WithBacking([]float64{2}),
	)
	_, _, err := QuantileCdf(yPred, []float64{0.5}, 1)
	if !errors.Is(err, ErrTooFewQuantiles) {
		t.Errorf("expected: %v \nreceived: %v", ErrTooFewQuantiles, err)
	}

	yPred = tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{2, 5}),
	)
	if _, _, err := QuantileCdf(yPred, []float64{0.1, 0.5, 0.9}, 1); err == nil {
		t.Error("expected an error for a mismatched quantile axis")
	}
	if _, _, err := QuantileCdf(yPred, []float64{0.5, 0.1}, 1); err == nil {
		t.Error("expected an error for decreasing quantile fractions")
	}
}

func TestQuantilePdfIntegratesToOne(t *testing.T) {
	quantiles := []float64{0.1, 0.25, 0.5, 0.75, 0.9}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 5},
		tensor.WithBacking([]float64{-3, -1, 0.5, 2, 4}),
	)

	xs, ps, err := QuantilePdf(yPred, quantiles, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !xs.Shape().Eq(tensor.Shape{1, 6}) {
		t.Fatalf("expected shape (1, 6) \nreceived %v", xs.Shape())
	}

	// Segment widths from the extrapolated support points.
	support := []float64{-5, -3, -1, 0.5, 2, 4, 6}
	dens := f64s(t, ps)
	total := 0.0
	for j := range dens {
		total += dens[j] * (support[j+1] - support[j])
	}
	if math.Abs(total-1.0) > threshold {
		t.Errorf("expected the density to integrate to 1 \nreceived: %v",
			total)
	}
}

func TestQuantilePdfCrossingQuantiles(t *testing.T) {
	// Crossing predictions produce a zero-width segment, which must
	// report zero density rather than dividing by zero.
	quantiles := []float64{0.1, 0.5, 0.9}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 3},
		tensor.WithBacking([]float64{2, 2, 1}),
	)

	_, ps, err := QuantilePdf(yPred, quantiles, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range f64s(t, ps) {
		if math.IsInf(p, 0) || math.IsNaN(p) {
			t.Fatalf("expected finite densities \nreceived: %v", f64s(t, ps))
		}
	}
}

func TestQuantilePosteriorQuantilesRoundTrip(t *testing.T) {
	quantiles := []float64{0.1, 0.5, 0.9}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{2, 3},
		tensor.WithBacking([]float64{
			2, 5, 9,
			-4, 0, 4,
		}),
	)

	out, err := QuantilePosteriorQuantiles(yPred, quantiles, quantiles, 1)
	if err != nil {
		t.Fatal(err)
	}

	// Inverting the CDF at the fractions used to build it recovers the
	// predicted values.
	checkClose(t, []float64{2, 5, 9, -4, 0, 4}, f64s(t, out), threshold)
}

func TestQuantilePosteriorMean(t *testing.T) {
	quantiles := []float64{0.1, 0.5, 0.9}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 3},
		tensor.WithBacking([]float64{2, 5, 9}),
	)

	mean, err := QuantilePosteriorMean(yPred, quantiles, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !mean.Shape().Eq(tensor.Shape{1}) {
		t.Fatalf("expected shape (1) \nreceived %v", mean.Shape())
	}
	checkClose(t, []float64{5.35}, f64s(t, mean), threshold)
}

func TestQuantileCRPS(t *testing.T) {
	quantiles := []float64{0.1, 0.5, 0.9}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{2, 3},
		tensor.WithBacking([]float64{
			2, 5, 9,
			2, 5, 9,
		}),
	)
	expected := 0.01 + 0.31 + 4.0*0.31/3.0 + 4.0*0.01/3.0

	// The quantile axis removed and the axis collapsed to size one are
	// both accepted truth layouts and must agree.
	reduced := tensor.NewDense(
		tensor.Float64,
		[]int{2},
		tensor.WithBacking([]float64{5, 5}),
	)
	collapsed := tensor.NewDense(
		tensor.Float64,
		[]int{2, 1},
		tensor.WithBacking([]float64{5, 5}),
	)

	for _, yTrue := range []tensor.Tensor{reduced, collapsed} {
		crps, err := QuantileCRPS(yPred, yTrue, quantiles, 1)
		if err != nil {
			t.Fatal(err)
		}
		checkClose(t, []float64{expected, expected}, f64s(t, crps), threshold)
	}

	bad := tensor.NewDense(
		tensor.Float64,
		[]int{3},
		tensor.WithBacking([]float64{5, 5, 5}),
	)
	if _, err := QuantileCRPS(yPred, bad, quantiles, 1); err == nil {
		t.Error("expected an error for a mismatched truth shape")
	}
}

func TestQuantileExceedanceComplement(t *testing.T) {
	quantiles := []float64{0.1, 0.5, 0.9}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{2, 3},
		tensor.WithBacking([]float64{
			2, 5, 9,
			-4, 0, 4,
		}),
	)

	for _, y := range []float64{-10, 0, 3, 5, 9, 20} {
		less, err := QuantileProbabilityLessThan(yPred, quantiles, y, 1)
		if err != nil {
			t.Fatal(err)
		}
		larger, err := QuantileProbabilityLargerThan(yPred, quantiles, y, 1)
		if err != nil {
			t.Fatal(err)
		}

		l := f64s(t, less)
		g := f64s(t, larger)
		for i := range l {
			if math.Abs(l[i]+g[i]-1.0) > threshold {
				t.Errorf("expected P(Y <= %v) + P(Y > %v) = 1 \nreceived: "+
					"%v + %v", y, y, l[i], g[i])
			}
			if l[i] < 0 || l[i] > 1 {
				t.Errorf("expected a probability \nreceived: %v", l[i])
			}
		}
	}
}

func TestQuantileSamplePosterior(t *testing.T) {
	quantiles := []float64{0.1, 0.5, 0.9}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 3},
		tensor.WithBacking([]float64{2, 5, 9}),
	)

	const n = 100000
	samples, err := QuantileSamplePosterior(yPred, quantiles, n, 1,
		rand.NewSource(42))
	if err != nil {
		t.Fatal(err)
	}
	if !samples.Shape().Eq(tensor.Shape{1, n}) {
		t.Fatalf("expected shape (1, %v) \nreceived %v", n, samples.Shape())
	}

	data := f64s(t, samples)
	for _, s := range data {
		if s < -1 || s > 13 {
			t.Fatalf("expected samples within the CDF support [-1, 13] "+
				"\nreceived: %v", s)
		}
	}

	mean := stat.Mean(data, nil)
	if math.Abs(mean-5.35) > 0.1 {
		t.Errorf("expected an empirical mean near %v \nreceived: %v", 5.35,
			mean)
	}
}
