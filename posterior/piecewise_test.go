package posterior

import (
	"math"
	"testing"
)

const threshold float64 = 0.0000000001

func TestPlCdfAt(t *testing.T) {
	xs := []float64{0, 1, 2}
	cs := []float64{0, 0.5, 1}

	in := []float64{-1, 0, 0.5, 1, 1.5, 2, 3}
	out := []float64{0, 0, 0.25, 0.5, 0.75, 1, 1}

	for i := range in {
		p := plCdfAt(xs, cs, in[i])
		if math.Abs(p-out[i]) > threshold {
			t.Errorf("expected: %v \nreceived: %v", out[i], p)
		}
	}
}

func TestPlInvCdf(t *testing.T) {
	xs := []float64{0, 1, 2}
	cs := []float64{0, 0.5, 1}

	in := []float64{-0.5, 0, 0.25, 0.5, 0.75, 1, 1.5}
	out := []float64{0, 0, 0.5, 1, 1.5, 2, 2}

	for i := range in {
		y := plInvCdf(xs, cs, in[i])
		if math.Abs(y-out[i]) > threshold {
			t.Errorf("expected: %v \nreceived: %v", out[i], y)
		}
	}
}

func TestPlInvCdfSkipsEmptySegments(t *testing.T) {
	// The first segment carries no probability mass, so inversion must
	// land in the second one.
	xs := []float64{0, 1, 2}
	cs := []float64{0, 0, 1}

	y := plInvCdf(xs, cs, 0.5)
	if math.Abs(y-1.5) > threshold {
		t.Errorf("expected: %v \nreceived: %v", 1.5, y)
	}

	p := plCdfAt(xs, cs, 0.5)
	if math.Abs(p) > threshold {
		t.Errorf("expected: %v \nreceived: %v", 0.0, p)
	}
}

func TestPlMean(t *testing.T) {
	xs := [][]float64{
		{0, 1, 2},
		{-1, 2, 5, 9, 13},
	}
	cs := [][]float64{
		{0, 0.5, 1},
		{0, 0.1, 0.5, 0.9, 1},
	}
	out := []float64{1.0, 5.35}

	for i := range xs {
		mean := plMean(xs[i], cs[i])
		if math.Abs(mean-out[i]) > threshold {
			t.Errorf("expected: %v \nreceived: %v", out[i], mean)
		}
	}
}

func TestPlCRPS(t *testing.T) {
	xs := []float64{-1, 2, 5, 9, 13}
	cs := []float64{0, 0.1, 0.5, 0.9, 1}

	// Integrated by hand segment by segment with yTrue at the median.
	yTrue := 5.0
	expected := 0.01 + 0.31 + 4.0*0.31/3.0 + 4.0*0.01/3.0

	crps := plCRPS(xs, cs, yTrue)
	if math.Abs(crps-expected) > threshold {
		t.Errorf("expected: %v \nreceived: %v", expected, crps)
	}
}

func TestPlCRPSTails(t *testing.T) {
	xs := []float64{0, 1, 2}
	cs := []float64{0, 0.5, 1}

	inside := plCRPS(xs, cs, 1.0)

	// A true value d past the support adds exactly d to the score.
	above := plCRPS(xs, cs, 5.0)
	expected := plCRPS(xs, cs, 2.0) + 3.0
	if math.Abs(above-expected) > threshold {
		t.Errorf("expected: %v \nreceived: %v", expected, above)
	}

	below := plCRPS(xs, cs, -4.0)
	expected = plCRPS(xs, cs, 0.0) + 4.0
	if math.Abs(below-expected) > threshold {
		t.Errorf("expected: %v \nreceived: %v", expected, below)
	}

	if inside >= above || inside >= below {
		t.Errorf("expected the CRPS at the median (%v) to be lower than at "+
			"the tails (%v, %v)", inside, above, below)
	}
}
