// Package criterion implements the outer objectives evaluated at each
// hyperparameter candidate: a held-out validation loss together with the
// direction vector contracted against the inner solver's Jacobian to form
// the hypergradient. A criterion owns its data split, solver and warm-start
// state for the duration of one experiment run.
package criterion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/svaiter/sparse-ho/forward"
	"github.com/svaiter/sparse-ho/models"
	"github.com/svaiter/sparse-ho/monitor"
)

// Objective is the surface the outer search strategies drive: one
// evaluation of the validation objective and its hypergradient at a
// candidate log-scale hyperparameter vector, recorded into the Monitor.
// The gradient is nil when the inner path cannot produce one.
type Objective interface {
	ValGrad(logAlpha []float64, mon *monitor.Monitor) (val float64, grad []float64, err error)
	NGroups() int
}

// HeldOutMSE is the held-out mean squared error criterion for regression
// models. The direction vector is the gradient of the validation loss with
// respect to the coefficients, (2/n_val) X_val^T (X_val beta - y_val).
type HeldOutMSE struct {
	XTrain models.Design
	YTrain []float64
	XVal   models.Design
	YVal   []float64

	Model  models.Model
	Solver *forward.Forward
	WS     *monitor.WarmStart
}

// NewHeldOutMSE builds the criterion with its own warm-start record.
func NewHeldOutMSE(xTrain models.Design, yTrain []float64, xVal models.Design, yVal []float64, model models.Model, solver *forward.Forward) *HeldOutMSE {
	return &HeldOutMSE{
		XTrain: xTrain,
		YTrain: yTrain,
		XVal:   xVal,
		YVal:   yVal,
		Model:  model,
		Solver: solver,
		WS:     &monitor.WarmStart{},
	}
}

// NGroups returns the hyperparameter dimension of the wrapped model.
func (c *HeldOutMSE) NGroups() int {
	_, p := c.XTrain.Dims()
	return c.Model.NGroups(p)
}

// ValGrad solves the inner problem at exp(logAlpha), evaluates the
// validation MSE and contracts the Jacobian with its gradient.
func (c *HeldOutMSE) ValGrad(logAlpha []float64, mon *monitor.Monitor) (float64, []float64, error) {
	res, err := c.Solver.BetaJac(c.XTrain, c.YTrain, logAlpha, c.Model, c.WS)
	if err != nil {
		return 0, nil, err
	}

	nVal := len(c.YVal)
	diff := models.Predict(c.XVal, res.Mask, res.Dense)
	floats.Sub(diff, c.YVal)
	val := floats.Dot(diff, diff) / float64(nVal)

	var grad []float64
	if res.Jac != nil || emptySupport(res.Mask) {
		floats.Scale(2/float64(nVal), diff)
		v := models.MatTVec(c.XVal, diff)
		grad = c.Model.JacV(res.Mask, res.Jac, v)
	}

	if mon != nil {
		mon.Append(monitor.Record{
			Objective:    val,
			ValObjective: monitor.Absent(),
			LogAlpha:     logAlpha,
			Grad:         grad,
			Aux:          monitor.Absent(),
		})
	}
	return val, grad, nil
}

// MulticlassLogreg is the one-vs-rest multiclass cross-entropy criterion.
// Each class owns one log-scale hyperparameter and one binary L1 logistic
// subproblem; class probabilities come from a softmax over the one-vs-rest
// margins. Validation accuracy is recorded alongside the cross-entropy,
// and test accuracy too when a test split is provided.
type MulticlassLogreg struct {
	XTrain models.Design
	XVal   models.Design
	XTest  models.Design
	YVal   []float64
	YTest  []float64

	Solver   *forward.Forward
	nClasses int
	binY     [][]float64
	wss      []*monitor.WarmStart
}

// NewMulticlassLogreg builds the criterion for labels in {0, ..., K-1}.
func NewMulticlassLogreg(xTrain models.Design, yTrain []float64, xVal models.Design, yVal []float64, nClasses int, solver *forward.Forward) (*MulticlassLogreg, error) {
	n, _ := xTrain.Dims()
	if len(yTrain) != n {
		return nil, fmt.Errorf("design has %d rows, target has %d: %w", n, len(yTrain), models.ErrDimensionMismatch)
	}
	if nClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d: %w", nClasses, models.ErrDimensionMismatch)
	}
	c := &MulticlassLogreg{
		XTrain:   xTrain,
		XVal:     xVal,
		YVal:     yVal,
		Solver:   solver,
		nClasses: nClasses,
		binY:     make([][]float64, nClasses),
		wss:      make([]*monitor.WarmStart, nClasses),
	}
	for k := 0; k < nClasses; k++ {
		yk := make([]float64, n)
		for i, yi := range yTrain {
			if int(yi) == k {
				yk[i] = 1
			} else {
				yk[i] = -1
			}
		}
		c.binY[k] = yk
		c.wss[k] = &monitor.WarmStart{}
	}
	return c, nil
}

// WithTestSplit attaches a held-out test split whose accuracy is recorded
// as the auxiliary metric.
func (c *MulticlassLogreg) WithTestSplit(xTest models.Design, yTest []float64) *MulticlassLogreg {
	c.XTest = xTest
	c.YTest = yTest
	return c
}

// NGroups returns the number of classes, one hyperparameter per class.
func (c *MulticlassLogreg) NGroups() int { return c.nClasses }

// ValGrad solves one binary subproblem per class, each warm started
// independently, then evaluates the softmax cross-entropy on the
// validation split and the per-class hypergradients.
func (c *MulticlassLogreg) ValGrad(logAlpha []float64, mon *monitor.Monitor) (float64, []float64, error) {
	if len(logAlpha) != c.nClasses {
		return 0, nil, fmt.Errorf("got %d hyperparameters for %d classes: %w", len(logAlpha), c.nClasses, models.ErrDimensionMismatch)
	}

	model := models.SparseLogreg{}
	results := make([]forward.Result, c.nClasses)
	for k := 0; k < c.nClasses; k++ {
		res, err := c.Solver.BetaJac(c.XTrain, c.binY[k], logAlpha[k:k+1], model, c.wss[k])
		if err != nil {
			return 0, nil, fmt.Errorf("class %d: %w", k, err)
		}
		results[k] = res
	}

	nVal := len(c.YVal)
	probs := c.classProbs(c.XVal, results)

	losses := make([]float64, nVal)
	for i := 0; i < nVal; i++ {
		losses[i] = -math.Log(math.Max(probs[i][int(c.YVal[i])], 1e-300))
	}
	val := stat.Mean(losses, nil)

	var grad []float64
	if jacAvailable(results) {
		grad = make([]float64, c.nClasses)
		w := make([]float64, nVal)
		for k := 0; k < c.nClasses; k++ {
			for i := 0; i < nVal; i++ {
				ind := 0.0
				if int(c.YVal[i]) == k {
					ind = 1
				}
				w[i] = (probs[i][k] - ind) / float64(nVal)
			}
			v := models.MatTVec(c.XVal, w)
			grad[k] = model.JacV(results[k].Mask, results[k].Jac, v)[0]
		}
	}

	accVal := c.accuracy(probs, c.YVal)
	accTest := monitor.Absent()
	if c.XTest != nil {
		testProbs := c.classProbs(c.XTest, results)
		accTest = c.accuracy(testProbs, c.YTest)
	}

	if mon != nil {
		mon.Append(monitor.Record{
			Objective:    val,
			ValObjective: accVal,
			LogAlpha:     logAlpha,
			Grad:         grad,
			Aux:          accTest,
		})
	}
	return val, grad, nil
}

// classProbs computes softmax probabilities over one-vs-rest margins.
func (c *MulticlassLogreg) classProbs(x models.Design, results []forward.Result) [][]float64 {
	n, _ := x.Dims()
	margins := make([][]float64, c.nClasses)
	for k, res := range results {
		margins[k] = models.Predict(x, res.Mask, res.Dense)
	}
	probs := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, c.nClasses)
		maxM := math.Inf(-1)
		for k := 0; k < c.nClasses; k++ {
			if margins[k][i] > maxM {
				maxM = margins[k][i]
			}
		}
		sum := 0.0
		for k := 0; k < c.nClasses; k++ {
			row[k] = math.Exp(margins[k][i] - maxM)
			sum += row[k]
		}
		for k := 0; k < c.nClasses; k++ {
			row[k] /= sum
		}
		probs[i] = row
	}
	return probs
}

func (c *MulticlassLogreg) accuracy(probs [][]float64, y []float64) float64 {
	if len(y) == 0 {
		return monitor.Absent()
	}
	correct := 0
	for i, row := range probs {
		best, bestK := math.Inf(-1), 0
		for k, p := range row {
			if p > best {
				best, bestK = p, k
			}
		}
		if bestK == int(y[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(y))
}

// jacAvailable reports whether every class solve produced a Jacobian. A
// nil Jacobian over an empty support is an exact zero contraction and does
// not block the gradient; a nil Jacobian over a nonempty support does.
func jacAvailable(results []forward.Result) bool {
	for _, res := range results {
		if res.Jac == nil && !emptySupport(res.Mask) {
			return false
		}
	}
	return true
}

func emptySupport(mask []bool) bool {
	for _, m := range mask {
		if m {
			return false
		}
	}
	return true
}
