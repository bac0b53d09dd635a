package forward

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/svaiter/sparse-ho/models"
	"github.com/svaiter/sparse-ho/monitor"
	"github.com/svaiter/sparse-ho/prox"
)

// syntheticLasso builds a dense design with a known sparse ground truth.
func syntheticLasso(seed int64, n, p, nNonzero int, noise float64) (*mat.Dense, []float64, []bool) {
	rng := rand.New(rand.NewSource(seed))
	betaTrue := make([]float64, p)
	maskTrue := make([]bool, p)
	for j := 0; j < nNonzero; j++ {
		betaTrue[j] = 1
		maskTrue[j] = true
	}
	x := mat.NewDense(n, p, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		dot := 0.0
		for j := 0; j < p; j++ {
			v := rng.NormFloat64()
			x.Set(i, j, v)
			dot += v * betaTrue[j]
		}
		y[i] = dot + noise*rng.NormFloat64()
	}
	return x, y, maskTrue
}

func scatter(mask []bool, dense []float64) []float64 {
	out := make([]float64, len(mask))
	i := 0
	for j, m := range mask {
		if m {
			out[j] = dense[i]
			i++
		}
	}
	return out
}

func TestBetaJacEndToEnd(t *testing.T) {
	const (
		n, p     = 50, 20
		nNonzero = 4
		noise    = 0.1
	)
	x, y, maskTrue := syntheticLasso(1, n, p, nNonzero, noise)
	model := models.Lasso{}

	// Hyperparameter near the noise level.
	alpha := noise * math.Sqrt(2*math.Log(float64(p))/float64(n))
	logAlpha := []float64{math.Log(alpha)}

	f := New(WithMaxIter(2000), WithTol(1e-10))
	res, err := f.BetaJac(x, y, logAlpha, model, nil)
	if err != nil {
		t.Fatalf("BetaJac() error = %v", err)
	}
	if !res.Converged {
		t.Fatalf("solver did not converge in %d sweeps", res.NIter)
	}

	if iou := prox.IoU(res.Mask, maskTrue); iou <= 0.5 {
		t.Errorf("support IoU with ground truth = %v, want > 0.5", iou)
	}

	// The solution must satisfy the soft-thresholding fixed point.
	beta := scatter(res.Mask, res.Dense)
	r := make([]float64, n)
	floats.SubTo(r, y, models.Predict(x, res.Mask, res.Dense))
	l := model.Lipschitz(x)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		z := beta[j] + floats.Dot(col, r)/(l[j]*float64(n))
		fixed := prox.ST(z, alpha/l[j])
		if math.Abs(fixed-beta[j]) > 1e-6 {
			t.Errorf("fixed point violated at feature %d: beta %v vs ST %v", j, beta[j], fixed)
		}
	}
}

func TestBetaJacWarmStart(t *testing.T) {
	x, y, _ := syntheticLasso(2, 60, 25, 5, 0.1)
	model := models.Lasso{}
	alphaMax := models.LassoAlphaMax(x, y)
	f := New(WithMaxIter(5000), WithTol(1e-12))

	ws := &monitor.WarmStart{}
	res1, err := f.BetaJac(x, y, []float64{math.Log(alphaMax / 5)}, model, ws)
	if err != nil {
		t.Fatalf("cold solve error = %v", err)
	}
	if ws.Mask == nil {
		t.Fatal("warm-start record not populated after solve")
	}

	// Re-solving at the same hyperparameter from the warm start must
	// reproduce the same solution in fewer sweeps.
	res2, err := f.BetaJac(x, y, []float64{math.Log(alphaMax / 5)}, model, ws)
	if err != nil {
		t.Fatalf("warm solve error = %v", err)
	}
	if res2.NIter >= res1.NIter {
		t.Errorf("warm start took %d sweeps, cold %d", res2.NIter, res1.NIter)
	}
	if iou := prox.IoU(res1.Mask, res2.Mask); iou != 1 {
		t.Errorf("support changed on warm re-solve, IoU = %v", iou)
	}
	for i := range res1.Dense {
		if math.Abs(res1.Dense[i]-res2.Dense[i]) > 1e-8 {
			t.Errorf("coefficient %d moved on warm re-solve: %v vs %v", i, res1.Dense[i], res2.Dense[i])
		}
	}
	if res1.Jac != nil && res2.Jac != nil {
		for i := range res1.Dense {
			if d := math.Abs(res1.Jac.At(i, 0) - res2.Jac.At(i, 0)); d > 1e-6 {
				t.Errorf("jacobian entry %d moved on warm re-solve by %v", i, d)
			}
		}
	}
}

func TestBetaJacJacobianFiniteDifference(t *testing.T) {
	x, y, _ := syntheticLasso(3, 80, 15, 3, 0.05)
	model := models.Lasso{}
	alphaMax := models.LassoAlphaMax(x, y)
	la := math.Log(alphaMax / 4)
	f := New(WithMaxIter(10000), WithTol(1e-13))

	res, err := f.BetaJac(x, y, []float64{la}, model, nil)
	if err != nil {
		t.Fatalf("BetaJac() error = %v", err)
	}
	if res.Jac == nil {
		t.Fatal("no jacobian returned")
	}

	const eps = 1e-5
	resPlus, err := f.BetaJac(x, y, []float64{la + eps}, model, nil)
	if err != nil {
		t.Fatalf("BetaJac(+eps) error = %v", err)
	}
	resMinus, err := f.BetaJac(x, y, []float64{la - eps}, model, nil)
	if err != nil {
		t.Fatalf("BetaJac(-eps) error = %v", err)
	}
	bPlus := scatter(resPlus.Mask, resPlus.Dense)
	bMinus := scatter(resMinus.Mask, resMinus.Dense)

	row := 0
	for j, m := range res.Mask {
		if !m {
			continue
		}
		fd := (bPlus[j] - bMinus[j]) / (2 * eps)
		got := res.Jac.At(row, 0)
		if math.Abs(got-fd) > 1e-3*(1+math.Abs(fd)) {
			t.Errorf("jacobian[%d] = %v, finite difference %v", j, got, fd)
		}
		row++
	}
}

func TestBetaJacSkipJacobian(t *testing.T) {
	x, y, _ := syntheticLasso(4, 40, 10, 3, 0.1)
	alphaMax := models.LassoAlphaMax(x, y)
	logAlpha := []float64{math.Log(alphaMax / 5)}

	withJac := New(WithMaxIter(2000), WithTol(1e-10))
	without := New(WithMaxIter(2000), WithTol(1e-10), WithJacobian(false))

	res1, err := withJac.BetaJac(x, y, logAlpha, models.Lasso{}, nil)
	if err != nil {
		t.Fatalf("BetaJac() error = %v", err)
	}
	res2, err := without.BetaJac(x, y, logAlpha, models.Lasso{}, nil)
	if err != nil {
		t.Fatalf("BetaJac() error = %v", err)
	}
	if res2.Jac != nil {
		t.Error("jacobian computed despite WithJacobian(false)")
	}
	if res1.Jac == nil {
		t.Error("jacobian missing on the default path")
	}
	// The primal path is unaffected by skipping the jacobian.
	if iou := prox.IoU(res1.Mask, res2.Mask); iou != 1 {
		t.Errorf("supports differ, IoU = %v", iou)
	}
	for i := range res1.Dense {
		if res1.Dense[i] != res2.Dense[i] {
			t.Errorf("coefficient %d differs: %v vs %v", i, res1.Dense[i], res2.Dense[i])
		}
	}
}

func TestBetaJacDenseSparseAgree(t *testing.T) {
	x, y, _ := syntheticLasso(5, 50, 20, 4, 0.1)
	csc := models.CSCFromDense(x)
	alphaMax := models.LassoAlphaMax(x, y)
	logAlpha := []float64{math.Log(alphaMax / 5)}
	f := New(WithMaxIter(2000), WithTol(1e-10))

	resD, err := f.BetaJac(x, y, logAlpha, models.Lasso{}, nil)
	if err != nil {
		t.Fatalf("dense BetaJac() error = %v", err)
	}
	resS, err := f.BetaJac(csc, y, logAlpha, models.Lasso{}, nil)
	if err != nil {
		t.Fatalf("sparse BetaJac() error = %v", err)
	}
	if iou := prox.IoU(resD.Mask, resS.Mask); iou != 1 {
		t.Fatalf("layouts disagree on the support, IoU = %v", iou)
	}
	for i := range resD.Dense {
		if math.Abs(resD.Dense[i]-resS.Dense[i]) > 1e-12 {
			t.Errorf("coefficient %d: dense %v vs sparse %v", i, resD.Dense[i], resS.Dense[i])
		}
	}
}

func TestBetaJacShapeErrors(t *testing.T) {
	x, y, _ := syntheticLasso(6, 30, 8, 2, 0.1)
	f := New()

	tests := []struct {
		name     string
		y        []float64
		logAlpha []float64
		ws       *monitor.WarmStart
		wantErr  error
	}{
		{"short target", y[:10], []float64{-1}, nil, models.ErrDimensionMismatch},
		{"hyperparameter count", y, []float64{-1, -2}, nil, models.ErrDimensionMismatch},
		{
			"warm start mask length",
			y,
			[]float64{-1},
			&monitor.WarmStart{Mask: make([]bool, 3), Dense: nil},
			models.ErrWarmStartShape,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.BetaJac(x, tt.y, tt.logAlpha, models.Lasso{}, tt.ws)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BetaJac() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBetaJacEmptySupport(t *testing.T) {
	x, y, _ := syntheticLasso(7, 40, 10, 3, 0.1)
	alphaMax := models.LassoAlphaMax(x, y)
	f := New(WithMaxIter(100), WithTol(1e-8))

	res, jacV, err := f.BetaJacV(x, y, []float64{math.Log(alphaMax * 2)}, models.Lasso{}, make([]float64, 10), nil)
	if err != nil {
		t.Fatalf("BetaJacV() error = %v", err)
	}
	for j, m := range res.Mask {
		if m {
			t.Errorf("feature %d active above alphaMax", j)
		}
	}
	if res.Jac != nil {
		t.Error("non-nil jacobian for an empty support")
	}
	if len(jacV) != 1 || jacV[0] != 0 {
		t.Errorf("hypergradient = %v, want [0]", jacV)
	}
}

func TestBetaJacVContraction(t *testing.T) {
	x, y, _ := syntheticLasso(8, 50, 12, 3, 0.1)
	alphaMax := models.LassoAlphaMax(x, y)
	logAlpha := []float64{math.Log(alphaMax / 5)}
	v := make([]float64, 12)
	for j := range v {
		v[j] = float64(j + 1)
	}

	f := New(WithMaxIter(2000), WithTol(1e-10))
	res, jacV, err := f.BetaJacV(x, y, logAlpha, models.Lasso{}, v, nil)
	if err != nil {
		t.Fatalf("BetaJacV() error = %v", err)
	}
	if len(jacV) != 1 {
		t.Fatalf("hypergradient has %d entries, want 1", len(jacV))
	}
	// Manual contraction against the returned jacobian.
	want := 0.0
	row := 0
	for j, m := range res.Mask {
		if !m {
			continue
		}
		want += res.Jac.At(row, 0) * v[j]
		row++
	}
	if math.Abs(jacV[0]-want) > 1e-12 {
		t.Errorf("jacV = %v, manual contraction %v", jacV[0], want)
	}

	// Full-length expansion has one entry per feature behind the scalar
	// hyperparameter contraction.
	full := New(WithMaxIter(2000), WithTol(1e-10), WithFullJacV(true))
	if _, fullV, err := full.BetaJacV(x, y, logAlpha, models.Lasso{}, v, nil); err != nil {
		t.Fatalf("full BetaJacV() error = %v", err)
	} else if len(fullV) != 1 {
		t.Errorf("full hypergradient has %d entries, want 1 for the scalar Lasso", len(fullV))
	}

	// Wrong direction-vector length fails fast.
	if _, _, err := f.BetaJacV(x, y, logAlpha, models.Lasso{}, v[:5], nil); !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("short v: error = %v, want ErrDimensionMismatch", err)
	}
}

func TestBetaJacEstimatorShortcut(t *testing.T) {
	x, y, _ := syntheticLasso(9, 60, 10, 3, 0.1)
	yb := make([]float64, len(y))
	for i, v := range y {
		if v >= 0 {
			yb[i] = 1
		} else {
			yb[i] = -1
		}
	}
	model := models.SparseLogreg{Est: models.NewCDEstimator()}
	f := New(WithMaxIter(500), WithTol(1e-8))

	ws := &monitor.WarmStart{}
	res, jacV, err := f.BetaJacV(x, yb, []float64{math.Log(0.01)}, model, make([]float64, 10), ws)
	if err != nil {
		t.Fatalf("BetaJacV() error = %v", err)
	}
	if res.Jac != nil {
		t.Error("estimator shortcut produced a jacobian")
	}
	if jacV != nil {
		t.Error("estimator shortcut produced a hypergradient")
	}
	if ws.Mask == nil {
		t.Error("estimator shortcut did not populate the warm start")
	}
}

func TestBetaJacNonConvergedFlag(t *testing.T) {
	x, y, _ := syntheticLasso(10, 50, 20, 4, 0.1)
	alphaMax := models.LassoAlphaMax(x, y)
	// One sweep cannot reach a 1e-12 relative decrease.
	f := New(WithMaxIter(3), WithTol(1e-12))
	res, err := f.BetaJac(x, y, []float64{math.Log(alphaMax / 10)}, models.Lasso{}, nil)
	if err != nil {
		t.Fatalf("BetaJac() error = %v, non-convergence must not be an error", err)
	}
	if res.Converged {
		t.Error("Converged = true with a 3-sweep budget and 1e-12 tolerance")
	}
	if res.NIter != 3 {
		t.Errorf("NIter = %d, want 3", res.NIter)
	}
	if len(res.Dense) == 0 {
		t.Error("best-available iterate missing on non-convergence")
	}
}
