package solver

// BoundTighteningType selects how the RowBoundTightener obtains the
// inverted basis rows.
type BoundTighteningType byte

const (
	// ComputeInvertedBasisMatrix asks the tableau for the explicit inverse
	// of the basis matrix and computes every row from it.
	ComputeInvertedBasisMatrix = BoundTighteningType(iota)
	// UseImplicitInvertedBasisMatrix computes the same rows through m+1
	// forward transformations, without ever forming the inverse.
	UseImplicitInvertedBasisMatrix
)

// BranchingHeuristic selects how the engine picks the next constraint to
// split on.
type BranchingHeuristic byte

const (
	// ReLUViolation branches on the constraint that accumulated the most
	// violations. This is the native heuristic; the engine abstains and the
	// SmtCore earmarks the reported constraint itself.
	ReLUViolation = BranchingHeuristic(iota)
	// PseudoImpact branches on the unfixed constraint with the highest
	// learned pseudo-impact score.
	PseudoImpact
	// LargestInterval branches on the constraint whose watched variable has
	// the widest bound interval.
	LargestInterval
)

func (h BranchingHeuristic) String() string {
	switch h {
	case ReLUViolation:
		return "relu-violation"
	case PseudoImpact:
		return "pseudo-impact"
	case LargestInterval:
		return "largest-interval"
	default:
		panic("invalid branching heuristic")
	}
}

// Config carries the recognized global options, as one immutable value
// threaded through construction.
type Config struct {
	// BoundTighteningType selects the inverted-basis strategy.
	BoundTighteningType BoundTighteningType
	// BoundTighteningRoundingConstant is the additive slack applied when
	// registering a tightening deduced from a basis row.
	BoundTighteningRoundingConstant float64
	// MinimalCoefficientForTightening is the magnitude below which a row
	// coefficient is ignored for tightening.
	MinimalCoefficientForTightening float64
	// SaturationIterations caps repeated tightening passes when working
	// until saturation.
	SaturationIterations int
	// ConstraintViolationThreshold is the number of violations after which
	// a constraint triggers a split.
	ConstraintViolationThreshold int
	// DeepSoIRejectionThreshold is the number of rejected phase pattern
	// proposals after which the deep-SoI search triggers a split.
	DeepSoIRejectionThreshold int
	// UseLeastFix selects the violated constraint with the fewest recorded
	// violations when choosing a constraint to fix.
	UseLeastFix bool
	// UseDeepSoILocalSearch enables the pseudo-impact score tracker.
	UseDeepSoILocalSearch bool
	// BranchingHeuristic is forwarded to the engine's picker.
	BranchingHeuristic BranchingHeuristic
	// ProduceProofs enables UNSAT certificate bookkeeping.
	ProduceProofs bool
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		BoundTighteningType:             ComputeInvertedBasisMatrix,
		BoundTighteningRoundingConstant: 1e-7,
		MinimalCoefficientForTightening: 0.01,
		SaturationIterations:            20,
		ConstraintViolationThreshold:    20,
		DeepSoIRejectionThreshold:       3,
		UseLeastFix:                     false,
		UseDeepSoILocalSearch:           false,
		BranchingHeuristic:              ReLUViolation,
	}
}
