package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLnGamma_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		z    float64
		want float64
	}{
		{"gamma(1)=1", 1, 0},
		{"gamma(2)=1", 2, 0},
		{"gamma(3)=2", 3, math.Log(2)},
		{"gamma(4)=6", 4, math.Log(6)},
		{"gamma(5)=24", 5, math.Log(24)},
		{"gamma(0.5)=sqrt(pi)", 0.5, 0.5 * math.Log(math.Pi)},
		{"gamma(10.5)", 10.5, 14.751405621695275},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, LnGamma(tt.z), 1e-9)
		})
	}
}

func TestLnGamma_ReflectionBranch(t *testing.T) {
	// Γ(0.25) ≈ 3.625609908, computed through the reflection formula.
	assert.InDelta(t, math.Log(3.6256099082219083), LnGamma(0.25), 1e-9)
}

func TestIncompleteBetaRegularized_Bounds(t *testing.T) {
	assert.Equal(t, 0.0, IncompleteBetaRegularized(0, 2, 3))
	assert.Equal(t, 1.0, IncompleteBetaRegularized(1, 2, 3))
	assert.Equal(t, 0.0, IncompleteBetaRegularized(0.5, 0, 3))
}

func TestIncompleteBetaRegularized_Symmetry(t *testing.T) {
	// I_x(a,b) + I_{1-x}(b,a) = 1.
	for _, x := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		sum := IncompleteBetaRegularized(x, 2.5, 4) + IncompleteBetaRegularized(1-x, 4, 2.5)
		assert.InDelta(t, 1.0, sum, 1e-9, "x=%v", x)
	}
}

func TestIncompleteBetaRegularized_Uniform(t *testing.T) {
	// I_x(1,1) is the uniform CDF.
	for _, x := range []float64{0.2, 0.5, 0.8} {
		assert.InDelta(t, x, IncompleteBetaRegularized(x, 1, 1), 1e-9)
	}
}

func TestNormalCDF(t *testing.T) {
	tests := []struct {
		z    float64
		want float64
	}{
		{0, 0.5},
		{1, 0.8413447},
		{-1, 0.1586553},
		{1.96, 0.9750021},
		{-1.96, 0.0249979},
		{3, 0.9986501},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalCDF(tt.z), 1e-6, "z=%v", tt.z)
	}
	assert.Equal(t, 0.0, NormalCDF(-10))
	assert.Equal(t, 1.0, NormalCDF(10))
}

func TestPValue_KnownValues(t *testing.T) {
	// Two-tailed p for t=2.086, df=20 is 0.05 by construction of the table.
	assert.InDelta(t, 0.05, PValue(2.086, 20), 0.002)

	// Large df uses the normal path: t=1.96 → p≈0.05.
	assert.InDelta(t, 0.05, PValue(1.96, 100), 0.002)

	// t=0 is never significant.
	assert.InDelta(t, 1.0, PValue(0, 10), 1e-9)
}

func TestPValue_MonotonicInT(t *testing.T) {
	for _, df := range []float64{5, 15, 30, 60} {
		prev := 1.1
		for tStat := 0.0; tStat <= 6.0; tStat += 0.25 {
			p := PValue(tStat, df)
			require.LessOrEqual(t, p, prev, "p-value must not increase with |t| (df=%v, t=%v)", df, tStat)
			require.True(t, p >= 0 && p <= 1)
			prev = p
		}
	}
}

func TestPValue_Degenerate(t *testing.T) {
	assert.Equal(t, 1.0, PValue(math.NaN(), 10))
	assert.Equal(t, 1.0, PValue(2.0, 0))
	assert.Equal(t, 0.0, PValue(math.Inf(1), 10))
}

func TestTCritical(t *testing.T) {
	assert.Equal(t, 12.706, TCritical(1, 0.05))
	assert.Equal(t, 2.042, TCritical(30, 0.05))
	assert.Equal(t, 1.96, TCritical(120, 0.05))
	assert.Equal(t, 1.96, TCritical(500, 0.05))

	// Nearest-df fallback: 34 resolves to the df=30 entry, 37 to df=40.
	assert.Equal(t, 2.042, TCritical(34, 0.05))
	assert.Equal(t, 2.021, TCritical(37, 0.05))

	// Degenerate df falls back to the most conservative row.
	assert.Equal(t, 12.706, TCritical(0, 0.05))
}

func TestPearsonCorrelation(t *testing.T) {
	t.Run("perfect positive", func(t *testing.T) {
		x := []float64{1, 2, 3, 4, 5}
		y := []float64{10, 20, 30, 40, 50}
		assert.InDelta(t, 1.0, PearsonCorrelation(x, y), 1e-9)
	})

	t.Run("perfect negative", func(t *testing.T) {
		x := []float64{1, 2, 3, 4, 5}
		y := []float64{9, 7, 5, 3, 1}
		assert.InDelta(t, -1.0, PearsonCorrelation(x, y), 1e-9)
	})

	t.Run("constant series yields zero", func(t *testing.T) {
		x := []float64{1, 2, 3, 4}
		y := []float64{7, 7, 7, 7}
		assert.Equal(t, 0.0, PearsonCorrelation(x, y))
		assert.Equal(t, 0.0, PearsonCorrelation(y, x))
	})

	t.Run("mismatched lengths yield zero", func(t *testing.T) {
		assert.Equal(t, 0.0, PearsonCorrelation([]float64{1, 2}, []float64{1}))
	})

	t.Run("empty yields zero", func(t *testing.T) {
		assert.Equal(t, 0.0, PearsonCorrelation(nil, nil))
	})
}

func TestDescriptives(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(values), 1e-9)
	assert.InDelta(t, 32.0/7.0, SampleVariance(values), 1e-9)
	assert.InDelta(t, math.Sqrt(32.0/7.0), SampleStdDev(values), 1e-9)

	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 0.0, SampleVariance([]float64{3}))
}
