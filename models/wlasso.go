package models

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/svaiter/sparse-ho/prox"
)

// WeightedLasso is the Lasso with one hyperparameter per feature:
//
//	(1/2n) * ||y - X beta||^2 + sum_j alpha_j |beta_j|
//
// Its Jacobian has one column per feature, so dbeta is p x p and the
// residual sensitivity dr is n x p.
type WeightedLasso struct{}

// NGroups returns p: one hyperparameter per feature.
func (WeightedLasso) NGroups(p int) int { return p }

// Lipschitz returns the per-feature constants ||X_j||^2 / n.
func (WeightedLasso) Lipschitz(x Design) []float64 {
	return Lasso{}.Lipschitz(x)
}

// InitBetaResidual rebuilds beta from the warm start and r = y - X beta.
func (WeightedLasso) InitBetaResidual(x Design, y []float64, mask0 []bool, dense0 []float64) (beta, r []float64) {
	return Lasso{}.InitBetaResidual(x, y, mask0, dense0)
}

// InitJacResidual rebuilds dbeta from the warm start and dr = -X dbeta.
func (WeightedLasso) InitJacResidual(x Design, mask0 []bool, jac0 *mat.Dense) (dbeta, dr *mat.Dense) {
	_, p := x.Dims()
	dbeta = scatterJac(p, p, mask0, jac0)
	return dbeta, residualSensitivity(x, dbeta, -1)
}

// UpdateBetaJac runs one coordinate sweep on a dense design. The coordinate
// update matches the Lasso with threshold alpha_j; the Jacobian row of
// feature j picks up the direct derivative only in its own column, all
// other columns propagate through the residual sensitivity.
func (WeightedLasso) UpdateBetaJac(x *mat.Dense, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool) {
	n, p := x.Dims()
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		if l[j] == 0 {
			continue
		}
		colTo(col, x, j)
		wlassoCoordUpdate(col, nil, beta, r, dbeta, dr, alpha, l, float64(n), j, p, computeJac)
	}
}

// UpdateBetaJacCSC is the sparse-layout sweep.
func (WeightedLasso) UpdateBetaJacCSC(x *CSC, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool) {
	n := float64(x.NRows)
	for j := 0; j < x.NCols; j++ {
		if l[j] == 0 {
			continue
		}
		start, end := x.Indptr[j], x.Indptr[j+1]
		wlassoCoordUpdate(x.Data[start:end], x.Indices[start:end], beta, r, dbeta, dr, alpha, l, n, j, x.NCols, computeJac)
	}
}

// wlassoCoordUpdate applies one weighted-Lasso coordinate step on feature
// j. When rows is nil, col holds the full dense column; otherwise col holds
// the nonzeros at the given row positions.
func wlassoCoordUpdate(col []float64, rows []int, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, n float64, j, p int, computeJac bool) {
	rowOf := func(k int) int {
		if rows == nil {
			return k
		}
		return rows[k]
	}

	old := beta[j]
	z := old
	for k, xk := range col {
		z += xk * r[rowOf(k)] / (l[j] * n)
	}
	beta[j] = prox.ST(z, alpha[j]/l[j])

	if computeJac {
		dOld := make([]float64, p)
		mat.Row(dOld, j, dbeta)
		for g := 0; g < p; g++ {
			dz := dOld[g]
			for k, xk := range col {
				dz += xk * dr.At(rowOf(k), g) / (l[j] * n)
			}
			dNew := 0.0
			if beta[j] != 0 {
				dNew = dz
				if g == j {
					dNew -= alpha[j] * sign(beta[j]) / l[j]
				}
			}
			dbeta.Set(j, g, dNew)
			if d := dNew - dOld[g]; d != 0 {
				for k, xk := range col {
					i := rowOf(k)
					dr.Set(i, g, dr.At(i, g)-xk*d)
				}
			}
		}
	}
	if d := beta[j] - old; d != 0 {
		for k, xk := range col {
			r[rowOf(k)] -= xk * d
		}
	}
}

// Objective evaluates (1/2n)||r||^2 + sum_j alpha_j |beta_j|.
func (WeightedLasso) Objective(r, beta, alpha, y []float64) float64 {
	obj := 0.5 * floats.Dot(r, r) / float64(len(r))
	for j, b := range beta {
		if b > 0 {
			obj += alpha[j] * b
		} else {
			obj -= alpha[j] * b
		}
	}
	return obj
}

// InitObjective is the objective at beta = 0.
func (WeightedLasso) InitObjective(y, alpha []float64) float64 {
	return 0.5 * floats.Dot(y, y) / float64(len(y))
}

// JacV contracts the active-set Jacobian with v, one value per feature.
func (WeightedLasso) JacV(mask []bool, jac *mat.Dense, v []float64) []float64 {
	return jacVGrouped(mask, jac, v, len(mask))
}

// FullJacV zero-fills the contraction outside the active set.
func (WeightedLasso) FullJacV(mask []bool, jacV []float64, p int) []float64 {
	out := make([]float64, p)
	for j, m := range mask {
		if m {
			out[j] = jacV[j]
		}
	}
	return out
}

// Estimator returns nil: the weighted Lasso is solved by forward
// differentiation.
func (WeightedLasso) Estimator() Estimator { return nil }
