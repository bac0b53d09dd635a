package forward

import (
	"math"
	"testing"

	"github.com/svaiter/sparse-ho/models"
	"github.com/svaiter/sparse-ho/monitor"
)

func BenchmarkBetaJac(b *testing.B) {
	x, y, _ := syntheticLasso(1, 200, 100, 10, 0.1)
	alphaMax := models.LassoAlphaMax(x, y)
	logAlpha := []float64{math.Log(alphaMax / 10)}
	f := New(WithMaxIter(500), WithTol(1e-8))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.BetaJac(x, y, logAlpha, models.Lasso{}, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBetaJacWarmStarted(b *testing.B) {
	x, y, _ := syntheticLasso(1, 200, 100, 10, 0.1)
	alphaMax := models.LassoAlphaMax(x, y)
	logAlpha := []float64{math.Log(alphaMax / 10)}
	f := New(WithMaxIter(500), WithTol(1e-8))

	ws := &monitor.WarmStart{}
	if _, err := f.BetaJac(x, y, logAlpha, models.Lasso{}, ws); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.BetaJac(x, y, logAlpha, models.Lasso{}, ws); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBetaJacPrimalOnly(b *testing.B) {
	x, y, _ := syntheticLasso(1, 200, 100, 10, 0.1)
	alphaMax := models.LassoAlphaMax(x, y)
	logAlpha := []float64{math.Log(alphaMax / 10)}
	f := New(WithMaxIter(500), WithTol(1e-8), WithJacobian(false))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.BetaJac(x, y, logAlpha, models.Lasso{}, nil); err != nil {
			b.Fatal(err)
		}
	}
}
