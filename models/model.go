// Package models implements the per-model adapters used by the forward
// differentiation solver. Each adapter supplies the coordinate update rule
// of one loss/penalty pair together with the propagation of the Jacobian of
// the coefficients with respect to the log-scale hyperparameters, the
// primal objective, per-feature Lipschitz constants and the contraction of
// an active-set Jacobian with a direction vector.
package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/svaiter/sparse-ho/prox"
)

// Model is the adapter surface implemented once per loss/penalty pair. The
// solver owns the outer loop; the model owns one in-place coordinate sweep
// over all features for each design-matrix layout, plus the numeric
// quantities the loop needs. Hyperparameters are always passed on their
// natural scale (alpha = exp(logAlpha)); derivatives are with respect to
// the log-scale parameters.
type Model interface {
	// NGroups returns the number of hyperparameter groups for p features.
	NGroups(p int) int

	// Lipschitz returns per-feature step-size constants computed from X.
	Lipschitz(x Design) []float64

	// InitBetaResidual reconstructs the full-length coefficient vector and
	// the residual state from an optional warm start.
	InitBetaResidual(x Design, y []float64, mask0 []bool, dense0 []float64) (beta, r []float64)

	// InitJacResidual reconstructs the full-length Jacobian and its residual
	// sensitivity from an optional warm-started active-set Jacobian.
	InitJacResidual(x Design, mask0 []bool, jac0 *mat.Dense) (dbeta, dr *mat.Dense)

	// UpdateBetaJac runs one coordinate sweep on a dense design, updating
	// beta, r and, when computeJac is set, dbeta and dr in place.
	UpdateBetaJac(x *mat.Dense, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool)

	// UpdateBetaJacCSC is the sparse-layout sweep, semantically identical to
	// UpdateBetaJac.
	UpdateBetaJacCSC(x *CSC, y, beta, r []float64, dbeta, dr *mat.Dense, alpha, l []float64, computeJac bool)

	// Objective evaluates the primal objective at the current state.
	Objective(r, beta, alpha, y []float64) float64

	// InitObjective is the objective at beta = 0, used by the relative
	// decrease stopping rule.
	InitObjective(y, alpha []float64) float64

	// JacV contracts the active-set Jacobian with a full-length direction
	// vector v, producing one value per hyperparameter group.
	JacV(mask []bool, jac *mat.Dense, v []float64) []float64

	// FullJacV expands a contracted Jacobian back to a full-length
	// feature-space vector.
	FullJacV(mask []bool, jacV []float64, p int) []float64

	// Estimator returns a ready-made warm-started solver when the model
	// wraps one, bypassing the coordinate-descent loop entirely. Models
	// solved by forward differentiation return nil.
	Estimator() Estimator
}

// Estimator is a ready-made convex solver with warm-start capability. When
// a model exposes one, the forward solver calls it once instead of running
// coordinate descent, and no Jacobian is produced.
type Estimator interface {
	Fit(x Design, y []float64, alpha []float64, tol float64, maxIter int) (mask []bool, dense []float64, err error)
}

// ValidateWarmStart fails fast when a prior state cannot be aligned with
// the current problem shape.
func ValidateWarmStart(p, nGroups int, mask0 []bool, dense0 []float64, jac0 *mat.Dense) error {
	if mask0 == nil {
		return nil
	}
	if len(mask0) != p {
		return fmt.Errorf("warm start mask has %d features, want %d: %w", len(mask0), p, ErrWarmStartShape)
	}
	nActive := 0
	for _, m := range mask0 {
		if m {
			nActive++
		}
	}
	if len(dense0) != nActive {
		return fmt.Errorf("warm start has %d coefficients for %d active features: %w", len(dense0), nActive, ErrWarmStartShape)
	}
	if jac0 != nil {
		r, c := jac0.Dims()
		if r != nActive || c != nGroups {
			return fmt.Errorf("warm start jacobian is %dx%d, want %dx%d: %w", r, c, nActive, nGroups, ErrWarmStartShape)
		}
	}
	return nil
}

// scatterBeta rebuilds a full-length coefficient vector from an active-set
// representation, reusing the realignment remap with an all-true target.
func scatterBeta(p int, mask0 []bool, dense0 []float64) []float64 {
	if mask0 == nil {
		return make([]float64, p)
	}
	full := make([]bool, p)
	for j := range full {
		full[j] = true
	}
	return prox.Realign(dense0, mask0, full)
}

// scatterJac rebuilds a full-length Jacobian from an active-set one.
func scatterJac(p, nGroups int, mask0 []bool, jac0 *mat.Dense) *mat.Dense {
	if mask0 == nil || jac0 == nil {
		return mat.NewDense(p, nGroups, nil)
	}
	full := make([]bool, p)
	for j := range full {
		full[j] = true
	}
	r, c := jac0.Dims()
	rows := prox.RealignRows(jac0.RawMatrix().Data[:r*c], nGroups, mask0, full)
	return mat.NewDense(p, nGroups, rows)
}

// residualSensitivity computes s * X @ dbeta column by column, the
// sensitivity of the residual state to each hyperparameter group.
func residualSensitivity(x Design, dbeta *mat.Dense, s float64) *mat.Dense {
	n, p := x.Dims()
	_, k := dbeta.Dims()
	dr := mat.NewDense(n, k, nil)
	col := make([]float64, p)
	for g := 0; g < k; g++ {
		mat.Col(col, g, dbeta)
		xd := matVecActive(x, col)
		for i := 0; i < n; i++ {
			dr.Set(i, g, s*xd[i])
		}
	}
	return dr
}

// jacVGrouped is the generic active-set contraction used by models whose
// Jacobian has a fixed number of groups.
func jacVGrouped(mask []bool, jac *mat.Dense, v []float64, nGroups int) []float64 {
	out := make([]float64, nGroups)
	row := 0
	for j, m := range mask {
		if !m {
			continue
		}
		for g := 0; g < nGroups; g++ {
			out[g] += jac.At(row, g) * v[j]
		}
		row++
	}
	return out
}

// LassoAlphaMax returns the smallest hyperparameter for which the Lasso
// solution is identically zero: max_j |X_j^T y| / n.
func LassoAlphaMax(x Design, y []float64) float64 {
	n, p := x.Dims()
	best := 0.0
	switch m := x.(type) {
	case *mat.Dense:
		col := make([]float64, n)
		for j := 0; j < p; j++ {
			colTo(col, m, j)
			if v := math.Abs(floats.Dot(col, y)); v > best {
				best = v
			}
		}
	case *CSC:
		for j := 0; j < p; j++ {
			dot := 0.0
			for k := m.Indptr[j]; k < m.Indptr[j+1]; k++ {
				dot += m.Data[k] * y[m.Indices[k]]
			}
			if v := math.Abs(dot); v > best {
				best = v
			}
		}
	}
	return best / float64(n)
}

// LogregAlphaMax is the all-zero threshold for the L1 logistic objective:
// max_j |X_j^T y| / (2n).
func LogregAlphaMax(x Design, y []float64) float64 {
	return LassoAlphaMax(x, y) / 2
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
