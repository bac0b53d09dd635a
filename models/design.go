package models

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDimensionMismatch reports incompatible design/target/hyperparameter
	// shapes detected before any sweep is run.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrWarmStartShape reports a warm-start state whose shapes are
	// inconsistent with the current problem.
	ErrWarmStartShape = errors.New("warm start shape mismatch")
)

// Design is a design matrix in one of the two supported layouts: a dense
// gonum *mat.Dense or a compressed sparse column *CSC. The coordinate
// sweeps have one implementation per layout with identical semantics.
type Design interface {
	Dims() (r, c int)
}

// CSC is a compressed sparse column matrix. Column j holds the nonzero
// values Data[Indptr[j]:Indptr[j+1]] at row positions
// Indices[Indptr[j]:Indptr[j+1]].
type CSC struct {
	NRows, NCols int
	Data         []float64
	Indices      []int
	Indptr       []int
}

// Dims returns the matrix dimensions.
func (c *CSC) Dims() (r, cols int) {
	return c.NRows, c.NCols
}

// NewCSC builds a CSC matrix after validating the index structure.
func NewCSC(nRows, nCols int, data []float64, indices, indptr []int) (*CSC, error) {
	if len(indptr) != nCols+1 {
		return nil, fmt.Errorf("indptr has length %d, want %d: %w", len(indptr), nCols+1, ErrDimensionMismatch)
	}
	if len(data) != len(indices) || indptr[nCols] != len(data) {
		return nil, fmt.Errorf("data/indices lengths inconsistent with indptr: %w", ErrDimensionMismatch)
	}
	for _, i := range indices {
		if i < 0 || i >= nRows {
			return nil, fmt.Errorf("row index %d out of range [0, %d): %w", i, nRows, ErrDimensionMismatch)
		}
	}
	return &CSC{NRows: nRows, NCols: nCols, Data: data, Indices: indices, Indptr: indptr}, nil
}

// CSCFromDense converts a dense matrix to compressed sparse column layout,
// dropping exact zeros.
func CSCFromDense(x *mat.Dense) *CSC {
	n, p := x.Dims()
	c := &CSC{NRows: n, NCols: p, Indptr: make([]int, p+1)}
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			if v := x.At(i, j); v != 0 {
				c.Data = append(c.Data, v)
				c.Indices = append(c.Indices, i)
			}
		}
		c.Indptr[j+1] = len(c.Data)
	}
	return c
}

// ToDense materializes the sparse matrix as a dense one.
func (c *CSC) ToDense() *mat.Dense {
	d := mat.NewDense(c.NRows, c.NCols, nil)
	for j := 0; j < c.NCols; j++ {
		for k := c.Indptr[j]; k < c.Indptr[j+1]; k++ {
			d.Set(c.Indices[k], j, c.Data[k])
		}
	}
	return d
}

// colTo copies column j of a dense design into dst.
func colTo(dst []float64, x *mat.Dense, j int) {
	mat.Col(dst, j, x)
}

// matVecActive computes X @ beta using only the active columns of X, for
// either layout. beta is full length; out has one entry per row of X.
func matVecActive(x Design, beta []float64) []float64 {
	n, p := x.Dims()
	out := make([]float64, n)
	switch m := x.(type) {
	case *mat.Dense:
		for j := 0; j < p; j++ {
			if beta[j] == 0 {
				continue
			}
			for i := 0; i < n; i++ {
				out[i] += m.At(i, j) * beta[j]
			}
		}
	case *CSC:
		for j := 0; j < p; j++ {
			if beta[j] == 0 {
				continue
			}
			for k := m.Indptr[j]; k < m.Indptr[j+1]; k++ {
				out[m.Indices[k]] += m.Data[k] * beta[j]
			}
		}
	}
	return out
}

// Predict computes X beta from an active-set solution, touching only the
// active columns of X.
func Predict(x Design, mask []bool, dense []float64) []float64 {
	_, p := x.Dims()
	beta := scatterBeta(p, mask, dense)
	return matVecActive(x, beta)
}

// MatTVec computes X^T w for either design layout.
func MatTVec(x Design, w []float64) []float64 {
	n, p := x.Dims()
	out := make([]float64, p)
	switch m := x.(type) {
	case *mat.Dense:
		for j := 0; j < p; j++ {
			for i := 0; i < n; i++ {
				out[j] += m.At(i, j) * w[i]
			}
		}
	case *CSC:
		for j := 0; j < p; j++ {
			for k := m.Indptr[j]; k < m.Indptr[j+1]; k++ {
				out[j] += m.Data[k] * w[m.Indices[k]]
			}
		}
	}
	return out
}

// squaredColNorms returns the per-column squared Euclidean norms of X.
func squaredColNorms(x Design) []float64 {
	n, p := x.Dims()
	norms := make([]float64, p)
	switch m := x.(type) {
	case *mat.Dense:
		for j := 0; j < p; j++ {
			for i := 0; i < n; i++ {
				v := m.At(i, j)
				norms[j] += v * v
			}
		}
	case *CSC:
		for j := 0; j < p; j++ {
			for k := m.Indptr[j]; k < m.Indptr[j+1]; k++ {
				norms[j] += m.Data[k] * m.Data[k]
			}
		}
	}
	return norms
}
