package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/svaiter/sparse-ho/prox"
)

// SparseLogreg is the model adapter for L1-penalized logistic regression
// with labels y in {-1, +1}:
//
//	(1/n) * sum_i log(1 + exp(-y_i x_i^T beta)) + alpha ||beta||_1
//
// The residual state holds the margins r = X beta and their sensitivity
// dr = X dbeta. When Est is set the model wraps a ready-made warm-started
// solver: the coordinate-descent loop is bypassed and no Jacobian is
// produced, as in the one-vs-rest multiclass decomposition.
type SparseLogreg struct {
	Est Estimator
}

// NGroups returns 1: one shared hyperparameter.
func (SparseLogreg) NGroups(int) int { return 1 }

// Lipschitz returns the per-feature constants ||X_j||^2 / (4n).
func (SparseLogreg) Lipschitz(x Design) []float64 {
	n, _ := x.Dims()
	l := squaredColNorms(x)
	for j := range l {
		l[j] /= 4 * float64(n)
	}
	return l
}

// InitBetaResidual rebuilds beta from the warm start and the margins
// r = X beta.
func (SparseLogreg) InitBetaResidual(x Design, y []float64, mask0 []bool, dense0 []float64) (beta, r []float64) {
	_, p := x.Dims()
	beta = scatterBeta(p, mask0, dense0)
	return beta, matVecActive(x, beta)
}

// InitJacResidual rebuilds dbeta from the warm start and dr = X dbeta.
func (SparseLogreg) InitJacResidual(x Design, mask0 []bool, jac0 *mat.Dense) (dbeta, dr *mat.Dense) {
	_, p := x.Dims()
	dbeta = scatterJac(p, 1, mask0, jac0)
	return dbeta, residualSensitivity(x, dbeta, 1)
}

// UpdateBetaJac runs one coordinate sweep on a dense design. Each feature
// takes a proximal gradient step z_j = beta_j - grad_j / L_j followed by
// soft-thresholding at alpha / L_j; the Jacobian entry differentiates the
// same step, with the logistic curvature entering through dr.
func (SparseLogreg) UpdateBetaJac(x *mat.Dense, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool) {
	n, p := x.Dims()
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		if l[j] == 0 {
			continue
		}
		colTo(col, x, j)
		logregCoordUpdate(col, nil, y, beta, r, dbeta, dr, alpha[0], l, float64(n), j, computeJac)
	}
}

// UpdateBetaJacCSC is the sparse-layout sweep.
func (SparseLogreg) UpdateBetaJacCSC(x *CSC, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool) {
	n := float64(x.NRows)
	for j := 0; j < x.NCols; j++ {
		if l[j] == 0 {
			continue
		}
		start, end := x.Indptr[j], x.Indptr[j+1]
		logregCoordUpdate(x.Data[start:end], x.Indices[start:end], y, beta, r, dbeta, dr, alpha[0], l, n, j, computeJac)
	}
}

func logregCoordUpdate(col []float64, rows []int, y, beta, r []float64, dbeta, dr *mat.Dense, a float64, l []float64, n float64, j int, computeJac bool) {
	rowOf := func(k int) int {
		if rows == nil {
			return k
		}
		return rows[k]
	}

	old := beta[j]
	grad := 0.0
	for k, xk := range col {
		i := rowOf(k)
		grad -= xk * y[i] * prox.Sigmoid(-y[i]*r[i]) / n
	}
	z := old - grad/l[j]
	beta[j] = prox.ST(z, a/l[j])

	if computeJac {
		dOld := dbeta.At(j, 0)
		dgrad := 0.0
		for k, xk := range col {
			i := rowOf(k)
			s := prox.Sigmoid(-y[i] * r[i])
			dgrad += xk * s * (1 - s) * dr.At(i, 0) / n
		}
		dz := dOld - dgrad/l[j]
		dNew := 0.0
		if beta[j] != 0 {
			dNew = dz - a*sign(beta[j])/l[j]
		}
		dbeta.Set(j, 0, dNew)
		if d := dNew - dOld; d != 0 {
			for k, xk := range col {
				i := rowOf(k)
				dr.Set(i, 0, dr.At(i, 0)+xk*d)
			}
		}
	}
	if d := beta[j] - old; d != 0 {
		for k, xk := range col {
			r[rowOf(k)] += xk * d
		}
	}
}

// Objective evaluates the penalized logistic loss at the current margins.
func (SparseLogreg) Objective(r, beta, alpha, y []float64) float64 {
	obj := 0.0
	for i := range r {
		obj += log1pExp(-y[i] * r[i])
	}
	obj /= float64(len(r))
	for _, b := range beta {
		if b > 0 {
			obj += alpha[0] * b
		} else {
			obj -= alpha[0] * b
		}
	}
	return obj
}

// InitObjective is the objective at beta = 0, log(2) regardless of y.
func (SparseLogreg) InitObjective(y, alpha []float64) float64 {
	return math.Ln2
}

// JacV contracts the active-set Jacobian with v.
func (SparseLogreg) JacV(mask []bool, jac *mat.Dense, v []float64) []float64 {
	return jacVGrouped(mask, jac, v, 1)
}

// FullJacV is the identity for a scalar hyperparameter.
func (SparseLogreg) FullJacV(mask []bool, jacV []float64, p int) []float64 {
	out := make([]float64, len(jacV))
	copy(out, jacV)
	return out
}

// Estimator returns the wrapped solver, or nil when the model is solved by
// forward differentiation.
func (l SparseLogreg) Estimator() Estimator { return l.Est }

// log1pExp computes log(1 + exp(u)) without overflow.
func log1pExp(u float64) float64 {
	if u > 33 {
		return u
	}
	return math.Log1p(math.Exp(u))
}

// CDEstimator is a warm-started primal-only coordinate-descent solver for
// the L1 logistic objective. It keeps its last solution between calls, so
// repeated fits at nearby hyperparameters converge in few sweeps. It
// implements Estimator and is the direct-solver shortcut used by the
// one-vs-rest multiclass path.
type CDEstimator struct {
	beta []float64
}

// NewCDEstimator returns an estimator with an empty warm start.
func NewCDEstimator() *CDEstimator {
	return &CDEstimator{}
}

// Fit solves the binary problem at the given hyperparameter, warm starting
// from the previous call when the feature count matches.
func (e *CDEstimator) Fit(x Design, y []float64, alpha []float64, tol float64, maxIter int) (mask []bool, dense []float64, err error) {
	n, p := x.Dims()
	if len(y) != n {
		return nil, nil, fmt.Errorf("design has %d rows, target has %d: %w", n, len(y), ErrDimensionMismatch)
	}
	if len(alpha) != 1 {
		return nil, nil, fmt.Errorf("logistic estimator takes 1 hyperparameter, got %d: %w", len(alpha), ErrDimensionMismatch)
	}

	model := SparseLogreg{}
	if len(e.beta) != p {
		e.beta = make([]float64, p)
	}
	beta := e.beta
	r := matVecActive(x, beta)
	l := model.Lipschitz(x)

	pobj0 := model.InitObjective(y, alpha)
	prev := math.Inf(1)
	for it := 0; it < maxIter; it++ {
		switch m := x.(type) {
		case *mat.Dense:
			model.UpdateBetaJac(m, y, beta, r, nil, nil, alpha, l, false)
		case *CSC:
			model.UpdateBetaJacCSC(m, y, beta, r, nil, nil, alpha, l, false)
		}
		pobj := model.Objective(r, beta, alpha, y)
		if it > 1 && prev-pobj <= math.Abs(pobj0)*tol {
			break
		}
		prev = pobj
	}

	mask = prox.Support(beta)
	dense = make([]float64, 0, p)
	for j, m := range mask {
		if m {
			dense = append(dense, beta[j])
		}
	}
	return mask, dense, nil
}
