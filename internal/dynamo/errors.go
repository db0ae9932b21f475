package dynamo

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the module matches exactly one of
// these through errors.Is.
var (
	// ErrDataReduction indicates a malformed or empty measurement sweep.
	ErrDataReduction = errors.New("propsim: data reduction failed")

	// ErrSurrogateFit indicates training data a surrogate cannot be fitted to.
	ErrSurrogateFit = errors.New("propsim: surrogate fit failed")

	// ErrSurrogateDomain indicates a surrogate query too far outside its training data.
	ErrSurrogateDomain = errors.New("propsim: surrogate query outside training domain")

	// ErrComponentDomain indicates component inputs outside the solvable domain.
	ErrComponentDomain = errors.New("propsim: component input outside valid domain")

	// ErrGraphAssembly indicates unresolved or conflicting port bindings.
	ErrGraphAssembly = errors.New("propsim: graph assembly failed")

	// ErrSolverDivergence indicates the nonlinear solve did not converge.
	ErrSolverDivergence = errors.New("propsim: solver did not converge")
)

var (
	ErrEmptySweep     = fmt.Errorf("%w: empty sweep", ErrDataReduction)
	ErrMalformedSweep = fmt.Errorf("%w: malformed sweep", ErrDataReduction)

	ErrSingularTrainingData = fmt.Errorf("%w: singular training data", ErrSurrogateFit)

	ErrOutOfDomain = fmt.Errorf("%w: out of domain", ErrSurrogateDomain)

	ErrZeroThrottle = fmt.Errorf("%w: throttle must be positive", ErrComponentDomain)

	ErrUnresolvedInput  = fmt.Errorf("%w: unresolved input", ErrGraphAssembly)
	ErrDuplicateBinding = fmt.Errorf("%w: duplicate binding", ErrGraphAssembly)
	ErrUnknownPort      = fmt.Errorf("%w: unknown port", ErrGraphAssembly)
	ErrAlgebraicLoop    = fmt.Errorf("%w: explicit components form a loop", ErrGraphAssembly)
	ErrUnitMismatch     = fmt.Errorf("%w: incompatible units", ErrGraphAssembly)

	ErrSingularJacobian = fmt.Errorf("%w: singular jacobian", ErrSolverDivergence)
	ErrIterationLimit   = fmt.Errorf("%w: iteration limit reached", ErrSolverDivergence)
	ErrDiverged         = fmt.Errorf("%w: residual diverged", ErrSolverDivergence)
)

// SolveError wraps an error with the solver context at the point of failure.
type SolveError struct {
	Status    string
	Iteration int
	Residual  float64
	Wrapped   error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("%s after %d iterations (residual %.6g): %v", e.Status, e.Iteration, e.Residual, e.Wrapped)
}

func (e *SolveError) Unwrap() error {
	return e.Wrapped
}
