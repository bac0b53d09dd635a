// Package search implements the outer hyperparameter search strategies
// driving the hypergradient engine: first-order search on the log-scale
// hyperparameters, geometric grid search, random search and an L-BFGS
// wrapper. Every strategy records its trajectory into a Monitor, honors a
// soft wall-clock budget checked between outer iterations, and never
// retries a non-converged inner solve.
package search

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/svaiter/sparse-ho/criterion"
	"github.com/svaiter/sparse-ho/monitor"
)

// ErrNoGradient is returned by gradient-based strategies when the
// criterion cannot produce a hypergradient (for example when the inner
// path takes the direct-estimator shortcut).
var ErrNoGradient = errors.New("criterion returned no hypergradient")

// ErrNoEvaluation is returned by candidate-based strategies when the
// wall-clock budget expired before the first candidate was evaluated, so
// there is no best point to report.
var ErrNoEvaluation = errors.New("budget expired before the first evaluation")

type config struct {
	nOuter  int
	tol     float64
	tMax    time.Duration
	step    float64
	seed    uint64
	verbose bool
}

// Option configures an outer search run.
type Option func(*config)

// WithNOuter sets the number of outer iterations or candidate evaluations.
func WithNOuter(n int) Option {
	return func(c *config) {
		c.nOuter = n
	}
}

// WithTol sets the outer stopping tolerance on the hypergradient norm.
func WithTol(tol float64) Option {
	return func(c *config) {
		c.tol = tol
	}
}

// WithTMax sets a soft wall-clock budget, checked between outer
// iterations. Zero means no budget.
func WithTMax(d time.Duration) Option {
	return func(c *config) {
		c.tMax = d
	}
}

// WithStep sets the initial step size for first-order search.
func WithStep(step float64) Option {
	return func(c *config) {
		c.step = step
	}
}

// WithSeed seeds the random-search sampler.
func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.seed = seed
	}
}

// WithVerbose enables per-iteration progress logging via slog.
func WithVerbose(verbose bool) Option {
	return func(c *config) {
		c.verbose = verbose
	}
}

func newConfig(opts []Option) config {
	c := config{
		nOuter: 100,
		tol:    1e-5,
		step:   1.0,
		seed:   1,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c config) expired(start time.Time) bool {
	return c.tMax > 0 && time.Since(start) >= c.tMax
}

// GradSearch runs first-order descent on the log-scale hyperparameters
// with a halving step control: a step that increased the validation
// objective is rolled back and retried shorter. It returns the best
// hyperparameter vector found.
func GradSearch(obj criterion.Objective, logAlpha0 []float64, mon *monitor.Monitor, opts ...Option) ([]float64, error) {
	cfg := newConfig(opts)
	start := time.Now()

	logAlpha := append([]float64(nil), logAlpha0...)
	best := append([]float64(nil), logAlpha0...)
	bestGrad := make([]float64, len(logAlpha0))
	bestVal := math.Inf(1)
	prevVal := math.Inf(1)
	step := cfg.step

	for i := 0; i < cfg.nOuter; i++ {
		if cfg.expired(start) {
			break
		}
		val, grad, err := obj.ValGrad(logAlpha, mon)
		if err != nil {
			return nil, err
		}
		if grad == nil {
			return nil, ErrNoGradient
		}
		if cfg.verbose {
			slog.Info("grad search", "iter", i, "objective", val, "step", step)
		}
		if val < bestVal {
			bestVal = val
			copy(best, logAlpha)
			copy(bestGrad, grad)
		}
		if floats.Norm(grad, 2) <= cfg.tol {
			break
		}
		if val > prevVal {
			// The last step overshot: retry a shorter step from the best
			// point, using the gradient evaluated there.
			step /= 2
			copy(logAlpha, best)
			floats.AddScaled(logAlpha, -step, bestGrad)
			prevVal = bestVal
		} else {
			step *= 1.05
			prevVal = val
			floats.AddScaled(logAlpha, -step, grad)
		}
	}
	return best, nil
}

// GridSearch evaluates nGrid log-spaced candidates between logAlphaMin and
// logAlphaMax, the same value shared across all hyperparameter groups, and
// returns the best candidate and its objective.
func GridSearch(obj criterion.Objective, logAlphaMin, logAlphaMax float64, nGrid int, mon *monitor.Monitor, opts ...Option) ([]float64, float64, error) {
	if nGrid < 1 {
		return nil, 0, fmt.Errorf("grid search needs at least 1 candidate, got %d", nGrid)
	}
	cfg := newConfig(opts)
	start := time.Now()
	k := obj.NGroups()

	var best []float64
	bestVal := math.Inf(1)
	for i := 0; i < nGrid; i++ {
		if cfg.expired(start) {
			break
		}
		la := logAlphaMax
		if nGrid > 1 {
			la = logAlphaMax + float64(i)*(logAlphaMin-logAlphaMax)/float64(nGrid-1)
		}
		logAlpha := make([]float64, k)
		for g := range logAlpha {
			logAlpha[g] = la
		}
		val, _, err := obj.ValGrad(logAlpha, mon)
		if err != nil {
			return nil, 0, err
		}
		if cfg.verbose {
			slog.Info("grid search", "candidate", i, "logAlpha", la, "objective", val)
		}
		if val < bestVal {
			bestVal = val
			best = logAlpha
		}
	}
	if best == nil {
		return nil, 0, ErrNoEvaluation
	}
	return best, bestVal, nil
}

// RandomSearch samples hyperparameter vectors uniformly in
// [logAlphaMin, logAlphaMax] per group and returns the best candidate and
// its objective.
func RandomSearch(obj criterion.Objective, logAlphaMin, logAlphaMax float64, mon *monitor.Monitor, opts ...Option) ([]float64, float64, error) {
	cfg := newConfig(opts)
	start := time.Now()
	k := obj.NGroups()

	dist := distuv.Uniform{
		Min: logAlphaMin,
		Max: logAlphaMax,
		Src: rand.NewPCG(cfg.seed, cfg.seed),
	}

	var best []float64
	bestVal := math.Inf(1)
	for i := 0; i < cfg.nOuter; i++ {
		if cfg.expired(start) {
			break
		}
		logAlpha := make([]float64, k)
		for g := range logAlpha {
			logAlpha[g] = dist.Rand()
		}
		val, _, err := obj.ValGrad(logAlpha, mon)
		if err != nil {
			return nil, 0, err
		}
		if cfg.verbose {
			slog.Info("random search", "candidate", i, "objective", val)
		}
		if val < bestVal {
			bestVal = val
			best = logAlpha
		}
	}
	if best == nil {
		return nil, 0, ErrNoEvaluation
	}
	return best, bestVal, nil
}

// LBFGSSearch minimizes the validation objective with gonum's L-BFGS,
// feeding it the hypergradients from the criterion. Evaluations are
// memoized so paired Func/Grad calls at the same point trigger a single
// inner solve.
func LBFGSSearch(obj criterion.Objective, logAlpha0 []float64, mon *monitor.Monitor, opts ...Option) ([]float64, error) {
	cfg := newConfig(opts)

	var evalErr error
	var lastX []float64
	var lastVal float64
	var lastGrad []float64

	eval := func(x []float64) (float64, []float64) {
		if lastX != nil && floats.Equal(x, lastX) {
			return lastVal, lastGrad
		}
		val, grad, err := obj.ValGrad(x, mon)
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.Inf(1), nil
		}
		if grad == nil {
			if evalErr == nil {
				evalErr = ErrNoGradient
			}
			return math.Inf(1), nil
		}
		lastX = append(lastX[:0], x...)
		lastVal = val
		lastGrad = append(lastGrad[:0], grad...)
		return val, grad
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			val, _ := eval(x)
			return val
		},
		Grad: func(grad, x []float64) {
			_, g := eval(x)
			if g == nil {
				for i := range grad {
					grad[i] = 0
				}
				return
			}
			copy(grad, g)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: cfg.nOuter,
		Runtime:         cfg.tMax,
	}
	result, err := optimize.Minimize(problem, logAlpha0, settings, &optimize.LBFGS{})
	if evalErr != nil {
		return nil, evalErr
	}
	if err != nil {
		return nil, err
	}
	return result.X, nil
}
