package mrnn

import (
	"errors"
	"testing"

	"gorgonia.org/tensor"
)

// recordingBackend tracks which criterion each target requested.
type recordingBackend struct {
	kind map[string]bool
}

type constLoss struct {
	value float64
}

func (c constLoss) Eval(yPred, yTrue tensor.Tensor) (float64, error) {
	return c.value, nil
}

func (b *recordingBackend) QuantileLoss(quantiles []float64,
	mask *float64) (Loss, error) {

	b.kind["quantile"] = true
	return constLoss{1}, nil
}

func (b *recordingBackend) CrossEntropyLoss(bins []float64,
	mask *float64) (Loss, error) {

	b.kind["crossEntropy"] = true
	return constLoss{2}, nil
}

func (b *recordingBackend) MSELoss(mask *float64) (Loss, error) {
	b.kind["mse"] = true
	return constLoss{4}, nil
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{kind: make(map[string]bool)}
}

func TestTargetLossDispatch(t *testing.T) {
	quantiles, err := NewQuantiles([]float64{0.1, 0.5, 0.9}, 1, 13)
	if err != nil {
		t.Fatal(err)
	}
	density, err := NewDensity([]float64{0, 1, 2}, 1, 13)
	if err != nil {
		t.Fatal(err)
	}

	backend := newRecordingBackend()
	if _, err := quantiles.GetLoss(backend, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := density.GetLoss(backend, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMean().GetLoss(backend, nil); err != nil {
		t.Fatal(err)
	}

	for _, kind := range []string{"quantile", "crossEntropy", "mse"} {
		if !backend.kind[kind] {
			t.Errorf("expected the %v criterion to be requested", kind)
		}
	}
}

func TestMixedLoss(t *testing.T) {
	quantiles, err := NewQuantiles([]float64{0.1, 0.5, 0.9}, 1, 13)
	if err != nil {
		t.Fatal(err)
	}
	targets := map[string]Target{"a": quantiles, "b": NewMean()}

	mixed, err := NewMixedLoss(newRecordingBackend(), targets, nil)
	if err != nil {
		t.Fatal(err)
	}

	yPred := map[string]tensor.Tensor{
		"a": tensor.NewDense(
			tensor.Float64,
			[]int{1, 3},
			tensor.WithBacking([]float64{2, 5, 9}),
		),
		"b": tensor.NewDense(
			tensor.Float64,
			[]int{1, 1},
			tensor.WithBacking([]float64{4}),
		),
	}
	yTrue := map[string]tensor.Tensor{
		"a": tensor.NewDense(
			tensor.Float64,
			[]int{1},
			tensor.WithBacking([]float64{5}),
		),
		"b": tensor.NewDense(
			tensor.Float64,
			[]int{1, 1},
			tensor.WithBacking([]float64{3}),
		),
	}

	total, err := mixed.Total(yPred, yTrue)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("expected: %v \nreceived: %v", 5, total)
	}

	if _, err := mixed.Eval("c", yPred["a"], yTrue["a"]); !errors.Is(err,
		ErrUnknownKey) {
		t.Errorf("expected: %v \nreceived: %v", ErrUnknownKey, err)
	}

	delete(yTrue, "b")
	if _, err := mixed.Total(yPred, yTrue); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected: %v \nreceived: %v", ErrUnknownKey, err)
	}
}

func TestSharedDensityMissingKey(t *testing.T) {
	bins := map[string][]float64{"a": {0, 1, 2}}
	density, err := NewSharedDensity(bins, "b", 1, 13)
	if err != nil {
		t.Fatal(err)
	}

	yPred := tensor.NewDense(
		tensor.Float64,
		[]int{1, 2},
		tensor.WithBacking([]float64{0, 0}),
	)
	if _, err := density.Predict(yPred); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected: %v \nreceived: %v", ErrUnknownKey, err)
	}
	if _, err := density.CDF(yPred); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected: %v \nreceived: %v", ErrUnknownKey, err)
	}
}

func TestLogTransformationRoundTrip(t *testing.T) {
	x := tensor.NewDense(
		tensor.Float64,
		[]int{1, 3},
		tensor.WithBacking([]float64{1, 2, 4}),
	)

	applied, err := LogTransformation{}.Apply(x)
	if err != nil {
		t.Fatal(err)
	}
	inverted, err := LogTransformation{}.Invert(applied)
	if err != nil {
		t.Fatal(err)
	}
	checkFloats(t, []float64{1, 2, 4}, inverted)
}
