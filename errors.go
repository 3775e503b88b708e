package mrnn

import (
	"errors"

	"github.com/samuelfneumann/mrnn/posterior"
)

// Errors returned by the dispatch layer and target representations.
// All are deterministic caller-contract or configuration failures;
// none indicate a transient condition worth retrying.
var (
	// ErrNoInput indicates that a query method could not resolve a
	// prediction from its arguments: it received neither raw network
	// input nor a precomputed prediction, or ambiguously both.
	ErrNoInput = errors.New("exactly one of x or yPred must be provided")

	// ErrNoTruth indicates that CRPS was requested without ground
	// truth.
	ErrNoTruth = errors.New("yTrue must be provided")

	// ErrUnknownKey indicates an output key with no target
	// representation, or a shared bin mapping missing the target's
	// key.
	ErrUnknownKey = errors.New("unknown output key")

	// ErrUnsupported indicates that a target representation does not
	// implement the requested distributional query.
	ErrUnsupported = errors.New("query unsupported by target")

	// ErrTooFewQuantiles reports the domain error of the quantile
	// engine: its CDF extrapolation needs at least two quantile
	// points.
	ErrTooFewQuantiles = posterior.ErrTooFewQuantiles
)
