package posterior

// Primitives over a single lane of a piecewise-linear CDF given by
// abscissae xs and ordinates cs. Both engines lower onto these: the
// quantile engine with the extrapolated quantile points, the density
// engine with the bin edges and accumulated bin masses. The ordinates
// must be non-decreasing with cs[0] == 0 and cs[len(cs)-1] == 1.

// plCdfAt evaluates the CDF at y, extrapolating flat beyond the
// endpoints.
func plCdfAt(xs, cs []float64, y float64) float64 {
	if y <= xs[0] {
		return 0.0
	}
	last := len(xs) - 1
	if y >= xs[last] {
		return 1.0
	}
	for j := 0; j < last; j++ {
		if y <= xs[j+1] {
			dx := xs[j+1] - xs[j]
			if dx <= 0 {
				return cs[j+1]
			}
			return cs[j] + (cs[j+1]-cs[j])*(y-xs[j])/dx
		}
	}
	return 1.0
}

// plInvCdf inverts the CDF at probability p by locating the
// bracketing segment and interpolating linearly within it. Segments
// carrying no probability mass are skipped. p is clamped to [0, 1].
func plInvCdf(xs, cs []float64, p float64) float64 {
	last := len(xs) - 1
	if p <= cs[0] {
		return xs[0]
	}
	if p >= cs[last] {
		return xs[last]
	}
	for j := 0; j < last; j++ {
		dc := cs[j+1] - cs[j]
		if dc <= 0 {
			continue
		}
		if p <= cs[j+1] {
			return xs[j] + (xs[j+1]-xs[j])*(p-cs[j])/dc
		}
	}
	return xs[last]
}

// plMean computes the first moment of the CDF as the sum of segment
// midpoints weighted by the probability mass of each segment.
func plMean(xs, cs []float64) float64 {
	mean := 0.0
	for j := 0; j < len(xs)-1; j++ {
		mean += 0.5 * (xs[j] + xs[j+1]) * (cs[j+1] - cs[j])
	}
	return mean
}

// plSegmentSquare integrates f(y)^2 over a segment of length dx on
// which f rises linearly from a to b.
func plSegmentSquare(a, b, dx float64) float64 {
	return dx * (a*a + a*b + b*b) / 3.0
}

// plCRPS integrates (F(y) - 1[y >= yTrue])^2 in closed form over the
// piecewise-linear CDF. Outside the support the CDF is flat, so the
// only non-zero tail contribution arises when yTrue itself lies
// outside, where the integrand is one between yTrue and the nearest
// endpoint.
func plCRPS(xs, cs []float64, yTrue float64) float64 {
	last := len(xs) - 1
	crps := 0.0
	if yTrue < xs[0] {
		crps += xs[0] - yTrue
	}
	if yTrue > xs[last] {
		crps += yTrue - xs[last]
	}

	for j := 0; j < last; j++ {
		x0, x1 := xs[j], xs[j+1]
		c0, c1 := cs[j], cs[j+1]
		dx := x1 - x0
		if dx <= 0 {
			continue
		}

		switch {
		case x1 <= yTrue:
			// Indicator is zero on the whole segment.
			crps += plSegmentSquare(c0, c1, dx)
		case x0 >= yTrue:
			// Indicator is one on the whole segment.
			crps += plSegmentSquare(c0-1.0, c1-1.0, dx)
		default:
			// yTrue splits the segment.
			ct := c0 + (c1-c0)*(yTrue-x0)/dx
			crps += plSegmentSquare(c0, ct, yTrue-x0)
			crps += plSegmentSquare(ct-1.0, c1-1.0, x1-yTrue)
		}
	}
	return crps
}
