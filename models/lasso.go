package models

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/svaiter/sparse-ho/prox"
)

// Lasso is the model adapter for the L1-penalized least-squares objective
//
//	(1/2n) * ||y - X beta||^2 + alpha * ||beta||_1
//
// with a single hyperparameter group. The residual state is r = y - X beta
// and its sensitivity dr = -X dbeta, both updated incrementally per
// coordinate.
type Lasso struct{}

// NGroups returns 1: the Lasso has one shared hyperparameter.
func (Lasso) NGroups(int) int { return 1 }

// Lipschitz returns the per-feature constants ||X_j||^2 / n.
func (Lasso) Lipschitz(x Design) []float64 {
	n, _ := x.Dims()
	l := squaredColNorms(x)
	floats.Scale(1/float64(n), l)
	return l
}

// InitBetaResidual rebuilds beta from the warm start and r = y - X beta.
func (Lasso) InitBetaResidual(x Design, y []float64, mask0 []bool, dense0 []float64) (beta, r []float64) {
	_, p := x.Dims()
	beta = scatterBeta(p, mask0, dense0)
	r = make([]float64, len(y))
	floats.SubTo(r, y, matVecActive(x, beta))
	return beta, r
}

// InitJacResidual rebuilds dbeta from the warm start and dr = -X dbeta.
func (Lasso) InitJacResidual(x Design, mask0 []bool, jac0 *mat.Dense) (dbeta, dr *mat.Dense) {
	_, p := x.Dims()
	dbeta = scatterJac(p, 1, mask0, jac0)
	return dbeta, residualSensitivity(x, dbeta, -1)
}

// UpdateBetaJac runs one coordinate sweep on a dense design. For each
// feature the coefficient moves through the soft-thresholding fixed point
// z_j = beta_j + X_j^T r / (n L_j), beta_j <- ST(z_j, alpha/L_j), and the
// Jacobian entry follows by the chain rule through the same update.
func (Lasso) UpdateBetaJac(x *mat.Dense, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool) {
	n, p := x.Dims()
	a := alpha[0]
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		if l[j] == 0 {
			continue
		}
		colTo(col, x, j)
		lassoCoordUpdate(col, beta, r, dbeta, dr, a, l[j], float64(n), j, computeJac)
	}
}

// UpdateBetaJacCSC is the sparse-layout sweep, identical in semantics to
// UpdateBetaJac but touching only the stored nonzeros of each column.
func (Lasso) UpdateBetaJacCSC(x *CSC, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool) {
	n := float64(x.NRows)
	a := alpha[0]
	for j := 0; j < x.NCols; j++ {
		if l[j] == 0 {
			continue
		}
		start, end := x.Indptr[j], x.Indptr[j+1]
		vals, rows := x.Data[start:end], x.Indices[start:end]

		old := beta[j]
		z := old
		for k, i := range rows {
			z += vals[k] * r[i] / (l[j] * n)
		}
		beta[j] = prox.ST(z, a/l[j])
		if computeJac {
			dOld := dbeta.At(j, 0)
			dz := dOld
			for k, i := range rows {
				dz += vals[k] * dr.At(i, 0) / (l[j] * n)
			}
			dNew := 0.0
			if beta[j] != 0 {
				dNew = dz - a*sign(beta[j])/l[j]
			}
			dbeta.Set(j, 0, dNew)
			if d := dNew - dOld; d != 0 {
				for k, i := range rows {
					dr.Set(i, 0, dr.At(i, 0)-vals[k]*d)
				}
			}
		}
		if d := beta[j] - old; d != 0 {
			for k, i := range rows {
				r[i] -= vals[k] * d
			}
		}
	}
}

// Objective evaluates (1/2n)||r||^2 + alpha ||beta||_1.
func (Lasso) Objective(r, beta, alpha, y []float64) float64 {
	obj := 0.5 * floats.Dot(r, r) / float64(len(r))
	for _, b := range beta {
		if b > 0 {
			obj += alpha[0] * b
		} else {
			obj -= alpha[0] * b
		}
	}
	return obj
}

// InitObjective is the objective at beta = 0.
func (Lasso) InitObjective(y, alpha []float64) float64 {
	return 0.5 * floats.Dot(y, y) / float64(len(y))
}

// JacV contracts the active-set Jacobian with v.
func (Lasso) JacV(mask []bool, jac *mat.Dense, v []float64) []float64 {
	return jacVGrouped(mask, jac, v, 1)
}

// FullJacV is the identity for a scalar hyperparameter.
func (Lasso) FullJacV(mask []bool, jacV []float64, p int) []float64 {
	out := make([]float64, len(jacV))
	copy(out, jacV)
	return out
}

// Estimator returns nil: the Lasso is solved by forward differentiation.
func (Lasso) Estimator() Estimator { return nil }

// lassoCoordUpdate applies one dense-column coordinate step with scalar
// threshold a on feature j.
func lassoCoordUpdate(col, beta, r []float64, dbeta, dr *mat.Dense, a, lj, n float64, j int, computeJac bool) {
	old := beta[j]
	z := old + floats.Dot(col, r)/(lj*n)
	beta[j] = prox.ST(z, a/lj)
	if computeJac {
		dOld := dbeta.At(j, 0)
		dz := dOld
		for i, xi := range col {
			dz += xi * dr.At(i, 0) / (lj * n)
		}
		dNew := 0.0
		if beta[j] != 0 {
			dNew = dz - a*sign(beta[j])/lj
		}
		dbeta.Set(j, 0, dNew)
		if d := dNew - dOld; d != 0 {
			for i, xi := range col {
				dr.Set(i, 0, dr.At(i, 0)-xi*d)
			}
		}
	}
	if d := beta[j] - old; d != 0 {
		for i, xi := range col {
			r[i] -= xi * d
		}
	}
}
