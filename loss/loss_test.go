package loss

import (
	"math"
	"testing"

	"gorgonia.org/tensor"
)

const threshold float64 = 0.0000000001

func evalLoss(t *testing.T, quantiles []float64, mask *float64,
	yPred, yTrue tensor.Tensor) float64 {

	t.Helper()
	l, err := Backend{}.QuantileLoss(quantiles, mask)
	if err != nil {
		t.Fatal(err)
	}
	out, err := l.Eval(yPred, yTrue)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestQuantileLoss(t *testing.T) {
	quantiles := []float64{0.25, 0.75}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{1, 3}),
	)
	yTrue := tensor.NewDense(
		tensor.Float64,
		[]int{1},
		tensor.WithBacking([]float64{2}),
	)

	// Under-prediction at the 0.25 quantile and over-prediction at the
	// 0.75 quantile each cost 0.25 here.
	out := evalLoss(t, quantiles, nil, yPred, yTrue)
	if math.Abs(out-0.25) > threshold {
		t.Errorf("expected: %v \nreceived: %v", 0.25, out)
	}

	// A perfect prediction costs nothing only at dy = 0 for every
	// fraction.
	exact := tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{2, 2}),
	)
	out = evalLoss(t, quantiles, nil, exact, yTrue)
	if math.Abs(out) > threshold {
		t.Errorf("expected: %v \nreceived: %v", 0.0, out)
	}
}

func TestQuantileLossMasked(t *testing.T) {
	quantiles := []float64{0.25, 0.75}
	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{2, 2},
		tensor.WithBacking([]float64{
			1, 3,
			1, 3,
		}),
	)
	yTrue := tensor.NewDense(
		tensor.Float64,
		[]int{2},
		tensor.WithBacking([]float64{2, -5}),
	)

	// The second batch element is below the mask value, so only the
	// first contributes.
	mask := 0.0
	out := evalLoss(t, quantiles, &mask, yPred, yTrue)
	if math.Abs(out-0.25) > threshold {
		t.Errorf("expected: %v \nreceived: %v", 0.25, out)
	}
}

func TestQuantileLossShapes(t *testing.T) {
	quantiles := []float64{0.25, 0.75}
	l, err := Backend{}.QuantileLoss(quantiles, nil)
	if err != nil {
		t.Fatal(err)
	}

	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{1, 3}),
	)

	// The collapsed truth layout must agree with the reduced one.
	collapsed := tensor.NewDense(
		tensor.Float64,
		[]int{1, 1},
		tensor.WithBacking([]float64{2}),
	)
	out, err := l.Eval(yPred, collapsed)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(out-0.25) > threshold {
		t.Errorf("expected: %v \nreceived: %v", 0.25, out)
	}

	bad := tensor.NewDense(
		tensor.Float64,
		[]int{2},
		tensor.WithBacking([]float64{2, 2}),
	)
	if _, err := l.Eval(yPred, bad); err == nil {
		t.Error("expected an error for a mismatched truth shape")
	}

	wide := tensor.NewDense(
		tensor.Float64,
		[]int{1, 3},
		tensor.WithBacking([]float64{1, 2, 3}),
	)
	if _, err := l.Eval(wide, collapsed); err == nil {
		t.Error("expected an error for a mismatched quantile axis")
	}
}

func TestCrossEntropyLoss(t *testing.T) {
	l, err := Backend{}.CrossEntropyLoss([]float64{0, 1, 2}, nil)
	if err != nil {
		t.Fatal(err)
	}

	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{0, math.Log(3)}),
	)

	// The model assigns probability 3/4 to the second bin.
	yTrue := tensor.NewDense(
		tensor.Float64,
		[]int{1},
		tensor.WithBacking([]float64{1.5}),
	)
	out, err := l.Eval(yPred, yTrue)
	if err != nil {
		t.Fatal(err)
	}
	expected := math.Log(4.0 / 3.0)
	if math.Abs(out-expected) > threshold {
		t.Errorf("expected: %v \nreceived: %v", expected, out)
	}

	// Truth values beyond the edges clamp into the outermost bins.
	above := tensor.NewDense(
		tensor.Float64,
		[]int{1},
		tensor.WithBacking([]float64{10}),
	)
	out, err = l.Eval(yPred, above)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(out-expected) > threshold {
		t.Errorf("expected: %v \nreceived: %v", expected, out)
	}

	below := tensor.NewDense(
		tensor.Float64,
		[]int{1},
		tensor.WithBacking([]float64{-10}),
	)
	out, err = l.Eval(yPred, below)
	if err != nil {
		t.Fatal(err)
	}
	expected = math.Log(4.0)
	if math.Abs(out-expected) > threshold {
		t.Errorf("expected: %v \nreceived: %v", expected, out)
	}
}

func TestCrossEntropyLossMasked(t *testing.T) {
	mask := 0.0
	l, err := Backend{}.CrossEntropyLoss([]float64{0, 1, 2}, &mask)
	if err != nil {
		t.Fatal(err)
	}

	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{2, 2},
		tensor.WithBacking([]float64{
			0, math.Log(3),
			0, 0,
		}),
	)
	yTrue := tensor.NewDense(
		tensor.Float64,
		[]int{2},
		tensor.WithBacking([]float64{1.5, -1}),
	)

	out, err := l.Eval(yPred, yTrue)
	if err != nil {
		t.Fatal(err)
	}
	expected := math.Log(4.0 / 3.0)
	if math.Abs(out-expected) > threshold {
		t.Errorf("expected: %v \nreceived: %v", expected, out)
	}
}

func TestMSELoss(t *testing.T) {
	l, err := Backend{}.MSELoss(nil)
	if err != nil {
		t.Fatal(err)
	}

	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{1, 2}),
	)
	yTrue := tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{3, 5}),
	)

	out, err := l.Eval(yPred, yTrue)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(out-6.5) > threshold {
		t.Errorf("expected: %v \nreceived: %v", 6.5, out)
	}

	bad := tensor.NewDense(
		tensor.Float64,
		[]int{2},
		tensor.WithBacking([]float64{3, 5}),
	)
	if _, err := l.Eval(yPred, bad); err == nil {
		t.Error("expected an error for a mismatched truth shape")
	}
}

func TestMSELossMasked(t *testing.T) {
	mask := 0.0
	l, err := Backend{}.MSELoss(&mask)
	if err != nil {
		t.Fatal(err)
	}

	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{1, 2}),
	)
	yTrue := tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{3, -1}),
	)

	out, err := l.Eval(yPred, yTrue)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(out-4.0) > threshold {
		t.Errorf("expected: %v \nreceived: %v", 4.0, out)
	}
}

func TestBackendValidation(t *testing.T) {
	b := Backend{}
	if _, err := b.QuantileLoss(nil, nil); err == nil {
		t.Error("expected an error for empty quantile fractions")
	}
	if _, err := b.QuantileLoss([]float64{0.5, 0.1}, nil); err == nil {
		t.Error("expected an error for decreasing quantile fractions")
	}
	if _, err := b.QuantileLoss([]float64{0, 0.5}, nil); err == nil {
		t.Error("expected an error for a fraction outside (0, 1)")
	}
	if _, err := b.CrossEntropyLoss([]float64{1}, nil); err == nil {
		t.Error("expected an error for a single bin edge")
	}
	if _, err := b.CrossEntropyLoss([]float64{1, 1}, nil); err == nil {
		t.Error("expected an error for non-increasing bin edges")
	}
}
