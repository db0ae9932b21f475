// Package surrogate provides Kriging regression models that stand in for
// measured thrust and power maps.
//
// A [Model] is fitted once from a reduced training set and is read-only
// afterwards, so a single model may be queried from many goroutines.
// Fitting is O(n^3) in the number of samples.
package surrogate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/propsim/internal/dynamo"
)

const (
	DefaultNugget       = 1e-10
	DefaultDomainMargin = 0.5
	DefaultEvaluations  = 400

	// correlation matrices worse conditioned than this are rejected
	maxCondition = 1e13
)

// Options control fitting and the extrapolation guard.
type Options struct {
	Nugget float64
	// LogThetaBounds bounds log10 of every correlation parameter.
	LogThetaBounds [2]float64
	// DomainMargin widens the training bounding box, per feature, by this
	// fraction of the feature's span before a query is rejected.
	DomainMargin   float64
	MaxEvaluations int
}

func DefaultOptions() Options {
	return Options{
		Nugget:         DefaultNugget,
		LogThetaBounds: [2]float64{-3, 2},
		DomainMargin:   DefaultDomainMargin,
		MaxEvaluations: DefaultEvaluations,
	}
}

// DomainError reports a query outside the widened training bounds.
type DomainError struct {
	Feature   int
	Value     float64
	Low, High float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%v: feature %d = %.6g outside [%.6g, %.6g]", dynamo.ErrOutOfDomain, e.Feature, e.Value, e.Low, e.High)
}

func (e *DomainError) Unwrap() error { return dynamo.ErrOutOfDomain }

// Model is a fitted Kriging interpolator over one scalar target.
type Model struct {
	opts Options

	x [][]float64
	y []float64

	xMean, xStd []float64
	yMean, yStd float64
	xn          *mat.Dense

	thetas []float64
	chol   mat.Cholesky
	alpha  *mat.VecDense
	sigma2 float64

	low, high []float64
}

// Fit trains a model, choosing correlation parameters by maximum likelihood.
// Identical inputs always produce an identical model.
func Fit(x [][]float64, y []float64, opts Options) (*Model, error) {
	m, err := newModel(x, y, opts)
	if err != nil {
		return nil, err
	}
	thetas := m.optimizeThetas()
	if err := m.factor(thetas); err != nil {
		return nil, err
	}
	return m, nil
}

// FitWithThetas trains a model with known correlation parameters, skipping
// the likelihood search. Used to restore cached models.
func FitWithThetas(x [][]float64, y []float64, thetas []float64, opts Options) (*Model, error) {
	m, err := newModel(x, y, opts)
	if err != nil {
		return nil, err
	}
	if len(thetas) != m.Dim() {
		return nil, fmt.Errorf("%w: %d thetas for %d features", dynamo.ErrSurrogateFit, len(thetas), m.Dim())
	}
	if err := m.factor(thetas); err != nil {
		return nil, err
	}
	return m, nil
}

func newModel(x [][]float64, y []float64, opts Options) (*Model, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: no training samples", dynamo.ErrSurrogateFit)
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d samples but %d targets", dynamo.ErrSurrogateFit, len(x), len(y))
	}
	dim := len(x[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero-dimensional features", dynamo.ErrSurrogateFit)
	}
	if opts.Nugget <= 0 {
		opts.Nugget = DefaultNugget
	}
	if opts.LogThetaBounds[0] >= opts.LogThetaBounds[1] {
		opts.LogThetaBounds = DefaultOptions().LogThetaBounds
	}
	if opts.MaxEvaluations <= 0 {
		opts.MaxEvaluations = DefaultEvaluations
	}

	xs, ys, err := dedupe(x, y, dim)
	if err != nil {
		return nil, err
	}

	m := &Model{opts: opts, x: xs, y: ys}
	m.normalise()
	return m, nil
}

// dedupe drops repeated samples and rejects repeated features with
// conflicting targets.
func dedupe(x [][]float64, y []float64, dim int) ([][]float64, []float64, error) {
	seen := make(map[string]int, len(x))
	xs := make([][]float64, 0, len(x))
	ys := make([]float64, 0, len(y))
	for i, row := range x {
		if len(row) != dim {
			return nil, nil, fmt.Errorf("%w: sample %d has %d features, want %d", dynamo.ErrSurrogateFit, i, len(row), dim)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("%w: sample %d has non-finite feature", dynamo.ErrSurrogateFit, i)
			}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, nil, fmt.Errorf("%w: sample %d has non-finite target", dynamo.ErrSurrogateFit, i)
		}
		key := fmt.Sprint(row)
		if j, ok := seen[key]; ok {
			if !scalar.EqualWithinAbsOrRel(ys[j], y[i], 1e-12, 1e-12) {
				return nil, nil, fmt.Errorf("%w: samples at %v have targets %g and %g", dynamo.ErrSingularTrainingData, row, ys[j], y[i])
			}
			continue
		}
		seen[key] = len(xs)
		xs = append(xs, append([]float64(nil), row...))
		ys = append(ys, y[i])
	}
	return xs, ys, nil
}

func (m *Model) normalise() {
	n, dim := len(m.x), len(m.x[0])
	m.xMean = make([]float64, dim)
	m.xStd = make([]float64, dim)
	m.low = make([]float64, dim)
	m.high = make([]float64, dim)

	col := make([]float64, n)
	for k := 0; k < dim; k++ {
		for i := range m.x {
			col[i] = m.x[i][k]
		}
		m.xMean[k], m.xStd[k] = meanStd(col)
		m.low[k], m.high[k] = floats.Min(col), floats.Max(col)
	}
	m.yMean, m.yStd = meanStd(m.y)

	m.xn = mat.NewDense(n, dim, nil)
	for i := range m.x {
		for k := 0; k < dim; k++ {
			m.xn.Set(i, k, (m.x[i][k]-m.xMean[k])/m.xStd[k])
		}
	}
}

func meanStd(v []float64) (float64, float64) {
	mean := floats.Sum(v) / float64(len(v))
	ss := 0.0
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	std := math.Sqrt(ss / float64(len(v)))
	if std == 0 {
		std = 1
	}
	return mean, std
}

func (m *Model) correlation(thetas []float64) *mat.SymDense {
	n, dim := m.xn.Dims()
	r := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		r.SetSym(i, i, 1+m.opts.Nugget)
		for j := i + 1; j < n; j++ {
			d := 0.0
			for k := 0; k < dim; k++ {
				diff := m.xn.At(i, k) - m.xn.At(j, k)
				d += thetas[k] * diff * diff
			}
			r.SetSym(i, j, math.Exp(-d))
		}
	}
	return r
}

type likelihood struct {
	chol   mat.Cholesky
	alpha  *mat.VecDense
	sigma2 float64
	cost   float64
}

// reducedLikelihood returns the concentrated negative log-likelihood terms
// for the given correlation parameters.
func (m *Model) reducedLikelihood(thetas []float64) (*likelihood, error) {
	n := len(m.y)
	lk := &likelihood{}
	if ok := lk.chol.Factorize(m.correlation(thetas)); !ok {
		return nil, fmt.Errorf("%w: correlation matrix not positive definite", dynamo.ErrSingularTrainingData)
	}
	if c := lk.chol.Cond(); c > maxCondition || math.IsNaN(c) {
		return nil, fmt.Errorf("%w: correlation matrix condition %.3g", dynamo.ErrSingularTrainingData, c)
	}

	yn := mat.NewVecDense(n, nil)
	for i, v := range m.y {
		yn.SetVec(i, (v-m.yMean)/m.yStd)
	}
	lk.alpha = mat.NewVecDense(n, nil)
	if err := lk.chol.SolveVecTo(lk.alpha, yn); err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrSingularTrainingData, err)
	}

	lk.sigma2 = math.Max(mat.Dot(yn, lk.alpha)/float64(n), 1e-300)
	lk.cost = math.Log(lk.sigma2) + lk.chol.LogDet()/float64(n)
	return lk, nil
}

func (m *Model) optimizeThetas() []float64 {
	dim := m.Dim()
	lo, hi := m.opts.LogThetaBounds[0], m.opts.LogThetaBounds[1]

	clamp := func(x []float64) ([]float64, float64) {
		thetas := make([]float64, len(x))
		penalty := 0.0
		for k, v := range x {
			c := math.Min(math.Max(v, lo), hi)
			penalty += (v - c) * (v - c)
			thetas[k] = math.Pow(10, c)
		}
		return thetas, penalty
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			thetas, penalty := clamp(x)
			lk, err := m.reducedLikelihood(thetas)
			if err != nil {
				return 1e10 + penalty
			}
			return lk.cost + penalty
		},
	}

	init := make([]float64, dim)
	for k := range init {
		init[k] = math.Max(lo, math.Min(hi, -1))
	}
	settings := &optimize.Settings{
		FuncEvaluations: m.opts.MaxEvaluations,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-9, Iterations: 60},
	}
	best := init
	if res, err := optimize.Minimize(problem, init, settings, &optimize.NelderMead{SimplexSize: 0.5}); res != nil && err == nil {
		best = res.X
	}

	thetas, _ := clamp(best)
	if _, err := m.reducedLikelihood(thetas); err != nil {
		// fall back to the least correlated admissible model
		thetas = repeat(math.Pow(10, hi), dim)
	}
	return thetas
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func (m *Model) factor(thetas []float64) error {
	lk, err := m.reducedLikelihood(thetas)
	if err != nil {
		return err
	}
	m.thetas = append([]float64(nil), thetas...)
	m.chol = lk.chol
	m.alpha = lk.alpha
	m.sigma2 = lk.sigma2
	return nil
}

// Dim returns the number of features.
func (m *Model) Dim() int { return len(m.x[0]) }

// Len returns the number of distinct training samples.
func (m *Model) Len() int { return len(m.x) }

// Thetas returns the fitted correlation parameters.
func (m *Model) Thetas() []float64 { return append([]float64(nil), m.thetas...) }

// Bounds returns the per-feature training bounds.
func (m *Model) Bounds() (low, high []float64) {
	return append([]float64(nil), m.low...), append([]float64(nil), m.high...)
}

// CheckDomain rejects queries beyond the widened training box.
func (m *Model) CheckDomain(x []float64) error {
	if len(x) != m.Dim() {
		return fmt.Errorf("%w: query has %d features, want %d", dynamo.ErrSurrogateDomain, len(x), m.Dim())
	}
	for k, v := range x {
		lo, hi := m.widened(k)
		if math.IsNaN(v) || v < lo || v > hi {
			return &DomainError{Feature: k, Value: v, Low: lo, High: hi}
		}
	}
	return nil
}

func (m *Model) widened(k int) (float64, float64) {
	span := m.high[k] - m.low[k]
	if span == 0 {
		span = math.Max(math.Abs(m.low[k]), 1)
	}
	margin := m.opts.DomainMargin * span
	return m.low[k] - margin, m.high[k] + margin
}

// Clamp projects x into the widened training box.
func (m *Model) Clamp(x []float64) []float64 {
	out := make([]float64, len(x))
	for k, v := range x {
		lo, hi := m.widened(k)
		out[k] = math.Min(math.Max(v, lo), hi)
	}
	return out
}

// Predict returns the interpolated value, its root mean squared error
// estimate and the gradient with respect to the features.
func (m *Model) Predict(x []float64) (value, rmse float64, grad []float64, err error) {
	if err := m.CheckDomain(x); err != nil {
		return 0, 0, nil, err
	}

	n, dim := m.xn.Dims()
	xn := make([]float64, dim)
	for k := range xn {
		xn[k] = (x[k] - m.xMean[k]) / m.xStd[k]
	}

	r := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		d := 0.0
		for k := 0; k < dim; k++ {
			diff := xn[k] - m.xn.At(i, k)
			d += m.thetas[k] * diff * diff
		}
		r.SetVec(i, math.Exp(-d))
	}

	value = m.yMean + m.yStd*mat.Dot(r, m.alpha)

	grad = make([]float64, dim)
	for i := 0; i < n; i++ {
		w := m.alpha.AtVec(i) * r.AtVec(i)
		for k := 0; k < dim; k++ {
			grad[k] += w * -2 * m.thetas[k] * (xn[k] - m.xn.At(i, k))
		}
	}
	for k := range grad {
		grad[k] *= m.yStd / m.xStd[k]
	}

	rinv := mat.NewVecDense(n, nil)
	if err := m.chol.SolveVecTo(rinv, r); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %v", dynamo.ErrSurrogateFit, err)
	}
	mse := m.sigma2 * (1 - mat.Dot(r, rinv))
	rmse = math.Sqrt(math.Abs(mse)) * m.yStd

	return value, rmse, grad, nil
}
