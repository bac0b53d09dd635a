// Package forward implements forward differentiation through a
// block-coordinate-descent solver: it runs the primal coordinate updates of
// a model adapter while simultaneously propagating the Jacobian of the
// solution with respect to the log-scale hyperparameters through the same
// updates. The resulting active-set Jacobian, contracted with the gradient
// of a validation loss, is the hypergradient driving outer-loop
// hyperparameter search.
package forward

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/svaiter/sparse-ho/models"
	"github.com/svaiter/sparse-ho/monitor"
	"github.com/svaiter/sparse-ho/prox"
)

// Forward is the forward-differentiation strategy. A single instance is
// reusable across outer iterations and models.
type Forward struct {
	maxIter    int
	tol        float64
	computeJac bool
	fullJacV   bool
}

// Option configures a Forward solver.
type Option func(*Forward)

// WithMaxIter sets the coordinate-descent sweep budget.
func WithMaxIter(n int) Option {
	return func(f *Forward) {
		f.maxIter = n
	}
}

// WithTol sets the relative objective-decrease stopping tolerance.
func WithTol(tol float64) Option {
	return func(f *Forward) {
		f.tol = tol
	}
}

// WithJacobian enables or disables Jacobian propagation. Disabling it
// skips all sensitivity updates when only the primal solution is needed.
func WithJacobian(compute bool) Option {
	return func(f *Forward) {
		f.computeJac = compute
	}
}

// WithFullJacV expands the contracted hypergradient to a full-length
// feature-space vector by zero-filling inactive coordinates.
func WithFullJacV(full bool) Option {
	return func(f *Forward) {
		f.fullJacV = full
	}
}

// New returns a Forward solver with the given options applied on top of
// the defaults (100 sweeps, tolerance 1e-3, Jacobian enabled).
func New(opts ...Option) *Forward {
	f := &Forward{
		maxIter:    100,
		tol:        1e-3,
		computeJac: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Result is the solver output: the sparse primal solution, the active-set
// Jacobian (nil when skipped or when the estimator shortcut was taken) and
// convergence diagnostics. A false Converged is informational, never an
// error: the iterate at the sweep budget is still returned.
type Result struct {
	Mask      []bool
	Dense     []float64
	Jac       *mat.Dense
	Converged bool
	NIter     int
}

// BetaJac solves the inner problem at exp(logAlpha), warm starting from ws
// when available, and writes the final state back into ws for the next
// outer iteration. Shape errors are reported before any sweep begins.
func (f *Forward) BetaJac(x models.Design, y, logAlpha []float64, model models.Model, ws *monitor.WarmStart) (Result, error) {
	n, p := x.Dims()
	if len(y) != n {
		return Result{}, fmt.Errorf("design has %d rows, target has %d: %w", n, len(y), models.ErrDimensionMismatch)
	}
	nGroups := model.NGroups(p)
	if len(logAlpha) != nGroups {
		return Result{}, fmt.Errorf("got %d hyperparameters, model wants %d: %w", len(logAlpha), nGroups, models.ErrDimensionMismatch)
	}

	var mask0 []bool
	var dense0 []float64
	var jac0 *mat.Dense
	if ws != nil {
		mask0, dense0, jac0 = ws.Mask, ws.Dense, ws.Jac
	}
	if err := models.ValidateWarmStart(p, nGroups, mask0, dense0, jac0); err != nil {
		return Result{}, err
	}

	alpha := make([]float64, len(logAlpha))
	for g, la := range logAlpha {
		alpha[g] = math.Exp(la)
	}

	// Direct-solver shortcut: one call, support and coefficients only. The
	// hypergradient must then come from implicit differentiation or finite
	// differences elsewhere.
	if est := model.Estimator(); est != nil {
		mask, dense, err := est.Fit(x, y, alpha, f.tol, f.maxIter)
		if err != nil {
			return Result{}, err
		}
		if ws != nil {
			ws.Set(mask, dense, nil)
		}
		return Result{Mask: mask, Dense: dense, Converged: true}, nil
	}

	l := model.Lipschitz(x)
	beta, r := model.InitBetaResidual(x, y, mask0, dense0)
	var dbeta, dr *mat.Dense
	if f.computeJac {
		dbeta, dr = model.InitJacResidual(x, mask0, jac0)
	}

	pobj0 := model.InitObjective(y, alpha)
	prev := math.Inf(1)
	res := Result{}
	for it := 0; it < f.maxIter; it++ {
		res.NIter = it + 1
		switch m := x.(type) {
		case *mat.Dense:
			model.UpdateBetaJac(m, y, beta, r, dbeta, dr, alpha, l, f.computeJac)
		case *models.CSC:
			model.UpdateBetaJacCSC(m, y, beta, r, dbeta, dr, alpha, l, f.computeJac)
		default:
			return Result{}, fmt.Errorf("unsupported design matrix type %T: %w", x, models.ErrDimensionMismatch)
		}
		pobj := model.Objective(r, beta, alpha, y)
		if it > 1 && prev-pobj <= math.Abs(pobj0)*f.tol {
			res.Converged = true
			break
		}
		prev = pobj
	}

	res.Mask = prox.Support(beta)
	res.Dense = gather(beta, res.Mask)
	if f.computeJac {
		res.Jac = gatherRows(dbeta, res.Mask, nGroups)
	}
	if ws != nil {
		ws.Set(res.Mask, res.Dense, res.Jac)
	}
	return res, nil
}

// BetaJacV solves the inner problem and contracts the active-set Jacobian
// with the direction vector v (typically the gradient of the validation
// loss with respect to the coefficients), returning the directional
// hypergradient alongside the primal solution. The hypergradient is nil
// when the Jacobian was skipped or unavailable.
func (f *Forward) BetaJacV(x models.Design, y, logAlpha []float64, model models.Model, v []float64, ws *monitor.WarmStart) (Result, []float64, error) {
	res, err := f.BetaJac(x, y, logAlpha, model, ws)
	if err != nil {
		return Result{}, nil, err
	}
	if !f.computeJac || model.Estimator() != nil {
		return res, nil, nil
	}
	_, p := x.Dims()
	if len(v) != p {
		return Result{}, nil, fmt.Errorf("direction vector has %d entries, want %d: %w", len(v), p, models.ErrDimensionMismatch)
	}
	jacV := model.JacV(res.Mask, res.Jac, v)
	if f.fullJacV {
		jacV = model.FullJacV(res.Mask, jacV, p)
	}
	return res, jacV, nil
}

func gather(beta []float64, mask []bool) []float64 {
	dense := make([]float64, 0, len(beta))
	for j, m := range mask {
		if m {
			dense = append(dense, beta[j])
		}
	}
	return dense
}

// gatherRows restricts the full-length Jacobian to the active rows. An
// empty support yields a nil Jacobian; the contraction with any direction
// vector is then identically zero and warm starting treats it as absent.
func gatherRows(dbeta *mat.Dense, mask []bool, nGroups int) *mat.Dense {
	nActive := 0
	for _, m := range mask {
		if m {
			nActive++
		}
	}
	if nActive == 0 {
		return nil
	}
	jac := mat.NewDense(nActive, nGroups, nil)
	row := 0
	for j, m := range mask {
		if !m {
			continue
		}
		for g := 0; g < nGroups; g++ {
			jac.Set(row, g, dbeta.At(j, g))
		}
		row++
	}
	return jac
}
