// Package prox provides the elementwise proximal operators used by the
// coordinate-descent solvers, their derivatives with respect to the
// regularization hyperparameters, and the active-set bookkeeping utilities
// shared by all warm-started solvers.
//
// All functions are pure and stateless so they can be reused by any model
// variant without going through the adapter interface.
package prox

import "math"

// ST is the soft-thresholding operator, the proximal operator of the L1
// penalty: sign(x) * max(|x| - alpha, 0).
func ST(x, alpha float64) float64 {
	if x > alpha {
		return x - alpha
	}
	if x < -alpha {
		return x + alpha
	}
	return 0
}

// STLogDeriv returns the partial derivative of ST(x, alpha) with respect to
// log(alpha) at a point where the thresholded value is nonzero. The chain
// rule through alpha = exp(logAlpha) contributes the extra alpha factor.
func STLogDeriv(x, alpha float64) float64 {
	if x > alpha {
		return -alpha
	}
	if x < -alpha {
		return alpha
	}
	return 0
}

// ElasticNet is the proximal operator of the elastic-net penalty
// alpha1*|x| + alpha2/2*x^2, i.e. ST(x, alpha1) / (1 + alpha2).
func ElasticNet(x, alpha1, alpha2 float64) float64 {
	return ST(x, alpha1) / (1 + alpha2)
}

// MCP is the proximal operator of the minimax concave penalty with
// threshold alpha and concavity gamma (gamma > 1).
func MCP(x, alpha, gamma float64) float64 {
	if math.Abs(x) > gamma*alpha {
		return x
	}
	return ST(x, alpha) / (1 - 1/gamma)
}

// MCPDAlpha is the partial derivative of MCP(x, alpha, gamma) with respect
// to alpha.
func MCPDAlpha(x, alpha, gamma float64) float64 {
	if math.Abs(x) >= alpha*gamma {
		return 0
	}
	return -sign(x) / (1 - 1/gamma)
}

// MCPDGamma is the partial derivative of MCP(x, alpha, gamma) with respect
// to gamma.
func MCPDGamma(x, alpha, gamma float64) float64 {
	if math.Abs(x) >= alpha*gamma {
		return 0
	}
	return -ST(x, alpha) / ((gamma - 1) * (gamma - 1))
}

// MCPDX is the partial derivative of MCP(x, alpha, gamma) with respect to
// its input x.
func MCPDX(x, alpha, gamma float64) float64 {
	if math.Abs(x) >= alpha*gamma {
		return 1
	}
	if x == 0 {
		return 0
	}
	return 1 / (1 - 1/gamma)
}

// MCPValue is the penalty value of the minimax concave penalty at x.
func MCPValue(x, alpha, gamma float64) float64 {
	if math.Abs(x) < gamma*alpha {
		return alpha*math.Abs(x) - x*x/(2*gamma)
	}
	return 0.5 * alpha * alpha * gamma
}

// Sigmoid is the logistic function 1 / (1 + exp(-z)).
func Sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
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

// Realign remaps a dense vector aligned with maskOld onto the layout of
// mask. Entries active under both masks keep their exact old value, entries
// newly active under mask start at zero, and entries no longer active are
// discarded. len(maskOld) must equal len(mask); old must have one entry per
// true position of maskOld.
func Realign(old []float64, maskOld, mask []bool) []float64 {
	out := make([]float64, countTrue(mask))
	i, iOld := 0, 0
	for j := range mask {
		if mask[j] && maskOld[j] {
			out[i] = old[iOld]
		}
		if maskOld[j] {
			iOld++
		}
		if mask[j] {
			i++
		}
	}
	return out
}

// RealignRows remaps the rows of a row-major Jacobian with nCols columns
// from the layout of maskOld onto the layout of mask, with the same
// keep/zero/drop semantics as Realign applied row-wise.
func RealignRows(old []float64, nCols int, maskOld, mask []bool) []float64 {
	out := make([]float64, countTrue(mask)*nCols)
	i, iOld := 0, 0
	for j := range mask {
		if mask[j] && maskOld[j] {
			copy(out[i*nCols:(i+1)*nCols], old[iOld*nCols:(iOld+1)*nCols])
		}
		if maskOld[j] {
			iOld++
		}
		if mask[j] {
			i++
		}
	}
	return out
}

// IoU is the intersection-over-union similarity of two supports. It is
// defined as 0 when the union is empty, so comparing two empty supports
// never divides by zero.
func IoU(s1, s2 []bool) float64 {
	inter, union := 0, 0
	for j := range s1 {
		if s1[j] && s2[j] {
			inter++
		}
		if s1[j] || s2[j] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Support returns the active-set mask of a full-length coefficient vector.
func Support(beta []float64) []bool {
	mask := make([]bool, len(beta))
	for j, b := range beta {
		mask[j] = b != 0
	}
	return mask
}

func countTrue(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}
