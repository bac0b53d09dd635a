package models

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/svaiter/sparse-ho/prox"
)

// ElasticNet is the model adapter for
//
//	(1/2n) * ||y - X beta||^2 + alpha1 ||beta||_1 + (alpha2/2) ||beta||^2
//
// with two hyperparameter groups (alpha1, alpha2). The Jacobian carries one
// column per group.
type ElasticNet struct{}

// NGroups returns 2: the L1 and L2 hyperparameters.
func (ElasticNet) NGroups(int) int { return 2 }

// Lipschitz returns the per-feature constants ||X_j||^2 / n.
func (ElasticNet) Lipschitz(x Design) []float64 {
	return Lasso{}.Lipschitz(x)
}

// InitBetaResidual rebuilds beta from the warm start and r = y - X beta.
func (ElasticNet) InitBetaResidual(x Design, y []float64, mask0 []bool, dense0 []float64) (beta, r []float64) {
	return Lasso{}.InitBetaResidual(x, y, mask0, dense0)
}

// InitJacResidual rebuilds dbeta from the warm start and dr = -X dbeta.
func (ElasticNet) InitJacResidual(x Design, mask0 []bool, jac0 *mat.Dense) (dbeta, dr *mat.Dense) {
	_, p := x.Dims()
	dbeta = scatterJac(p, 2, mask0, jac0)
	return dbeta, residualSensitivity(x, dbeta, -1)
}

// UpdateBetaJac runs one coordinate sweep on a dense design. The coordinate
// fixed point is beta_j <- ST(L_j z_j, alpha1) / (L_j + alpha2), so both
// hyperparameters enter the chain rule directly on top of the propagation
// through dz_j.
func (ElasticNet) UpdateBetaJac(x *mat.Dense, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool) {
	n, p := x.Dims()
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		if l[j] == 0 {
			continue
		}
		colTo(col, x, j)
		enetCoordUpdate(col, nil, beta, r, dbeta, dr, alpha, l, float64(n), j, computeJac)
	}
}

// UpdateBetaJacCSC is the sparse-layout sweep.
func (ElasticNet) UpdateBetaJacCSC(x *CSC, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool) {
	n := float64(x.NRows)
	for j := 0; j < x.NCols; j++ {
		if l[j] == 0 {
			continue
		}
		start, end := x.Indptr[j], x.Indptr[j+1]
		enetCoordUpdate(x.Data[start:end], x.Indices[start:end], beta, r, dbeta, dr, alpha, l, n, j, computeJac)
	}
}

func enetCoordUpdate(col []float64, rows []int, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, n float64, j int, computeJac bool) {
	rowOf := func(k int) int {
		if rows == nil {
			return k
		}
		return rows[k]
	}
	a1, a2 := alpha[0], alpha[1]

	old := beta[j]
	z := old
	for k, xk := range col {
		z += xk * r[rowOf(k)] / (l[j] * n)
	}
	beta[j] = prox.ST(l[j]*z, a1) / (l[j] + a2)

	if computeJac {
		dOld0, dOld1 := dbeta.At(j, 0), dbeta.At(j, 1)
		dz0, dz1 := dOld0, dOld1
		for k, xk := range col {
			i := rowOf(k)
			dz0 += xk * dr.At(i, 0) / (l[j] * n)
			dz1 += xk * dr.At(i, 1) / (l[j] * n)
		}
		dNew0, dNew1 := 0.0, 0.0
		if beta[j] != 0 {
			c := l[j] / (l[j] + a2)
			dNew0 = c*dz0 - a1*sign(beta[j])/(l[j]+a2)
			dNew1 = c*dz1 - beta[j]*a2/(l[j]+a2)
		}
		dbeta.Set(j, 0, dNew0)
		dbeta.Set(j, 1, dNew1)
		if d0, d1 := dNew0-dOld0, dNew1-dOld1; d0 != 0 || d1 != 0 {
			for k, xk := range col {
				i := rowOf(k)
				dr.Set(i, 0, dr.At(i, 0)-xk*d0)
				dr.Set(i, 1, dr.At(i, 1)-xk*d1)
			}
		}
	}
	if d := beta[j] - old; d != 0 {
		for k, xk := range col {
			r[rowOf(k)] -= xk * d
		}
	}
}

// Objective evaluates (1/2n)||r||^2 + alpha1||beta||_1 + (alpha2/2)||beta||^2.
func (ElasticNet) Objective(r, beta, alpha, y []float64) float64 {
	obj := 0.5 * floats.Dot(r, r) / float64(len(r))
	for _, b := range beta {
		if b > 0 {
			obj += alpha[0] * b
		} else {
			obj -= alpha[0] * b
		}
		obj += 0.5 * alpha[1] * b * b
	}
	return obj
}

// InitObjective is the objective at beta = 0.
func (ElasticNet) InitObjective(y, alpha []float64) float64 {
	return 0.5 * floats.Dot(y, y) / float64(len(y))
}

// JacV contracts the active-set Jacobian with v.
func (ElasticNet) JacV(mask []bool, jac *mat.Dense, v []float64) []float64 {
	return jacVGrouped(mask, jac, v, 2)
}

// FullJacV is the identity for group-valued hyperparameters.
func (ElasticNet) FullJacV(mask []bool, jacV []float64, p int) []float64 {
	out := make([]float64, len(jacV))
	copy(out, jacV)
	return out
}

// Estimator returns nil: the elastic net is solved by forward
// differentiation.
func (ElasticNet) Estimator() Estimator { return nil }
