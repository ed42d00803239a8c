package servo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerPeriod(t *testing.T) {
	tests := []struct {
		name            string
		prev, now, tick int64
		want            int64
	}{
		{"no drift", 5_000, 5_000, 61, NominalSecondNs},
		{"reference 1 ms/s faster", 0, 61_000_000, 61, 1_001_000_000},
		{"reference slower", 61_000_000, 0, 61, 999_000_000},
		{"reference twice as fast", 0, 61_000_000_000, 61, 2_000_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ServerPeriod(tt.prev, tt.now, tt.tick)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ServerPeriod(0, 1, 0)
	assert.True(t, errors.Is(err, ErrInvalidPeriod))
	_, err = ServerPeriod(0, 1, -3)
	assert.True(t, errors.Is(err, ErrInvalidPeriod))
}

func TestEffectiveSecond(t *testing.T) {
	t.Run("twice as fast", func(t *testing.T) {
		sec, err := EffectiveSecond(0, 61_000_000_000, 61)
		require.NoError(t, err)
		assert.Equal(t, int64(500_000_000), sec)
	})

	t.Run("nominal", func(t *testing.T) {
		sec, err := EffectiveSecond(42, 42, 61)
		require.NoError(t, err)
		assert.Equal(t, NominalSecondNs, sec)
	})

	t.Run("positive whenever period positive", func(t *testing.T) {
		for _, delta := range []int64{-60_999_999_939, -1_000_000, -1, 0, 1, 1_000_000, 1_000_000_000_000} {
			for _, period := range []int64{1, 7, 61, 301} {
				p, err := ServerPeriod(0, delta, period)
				require.NoError(t, err)
				sec, err := EffectiveSecond(0, delta, period)
				if p > 0 && p <= nominalSquared {
					require.NoError(t, err, "delta=%d period=%d", delta, period)
					assert.Positive(t, sec)
				}
			}
		}
	})

	t.Run("non-positive period rejected", func(t *testing.T) {
		_, err := EffectiveSecond(61_000_000_000, 0, 61)
		assert.True(t, errors.Is(err, ErrInvalidPeriod), "got %v", err)
		_, err = EffectiveSecond(200_000_000_000, 0, 61)
		assert.True(t, errors.Is(err, ErrInvalidPeriod), "got %v", err)
	})
}

func TestBounds_Check(t *testing.T) {
	b := Bounds{MaxDeviation: 0.02}
	assert.NoError(t, b.Check(NominalSecondNs))
	assert.NoError(t, b.Check(980_000_000))
	assert.NoError(t, b.Check(1_020_000_000))
	assert.ErrorIs(t, b.Check(979_999_999), ErrOutOfBounds)
	assert.ErrorIs(t, b.Check(500_000_000), ErrOutOfBounds)
	assert.ErrorIs(t, b.Check(0), ErrOutOfBounds)
	assert.ErrorIs(t, b.Check(-1), ErrOutOfBounds)

	wide := Bounds{MaxDeviation: 0.6}
	assert.NoError(t, wide.Check(500_000_000))
}

func TestFirstOrder(t *testing.T) {
	f := NewFirstOrder()
	_, err := f.Estimate(61)
	assert.ErrorIs(t, err, ErrNotEnoughSamples)

	f.Observe(Sample{LocalNs: 1, SkewNs: 1_000})
	_, err = f.Estimate(61)
	assert.ErrorIs(t, err, ErrNotEnoughSamples)

	f.Observe(Sample{LocalNs: 2, SkewNs: 1_000 + 61_000})
	sec, err := f.Estimate(61)
	require.NoError(t, err)
	assert.Equal(t, int64(999_999_000), sec) // 1e18 / 1_000_001_000

	// skew_prev — последний замер, а не самый первый
	f.Observe(Sample{LocalNs: 3, SkewNs: 1_000 + 61_000})
	sec, err = f.Estimate(61)
	require.NoError(t, err)
	assert.Equal(t, NominalSecondNs, sec)

	f.Reset()
	_, err = f.Estimate(61)
	assert.ErrorIs(t, err, ErrNotEnoughSamples)
}

func TestNew(t *testing.T) {
	e, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &FirstOrder{}, e)
	e, err = New("linreg")
	require.NoError(t, err)
	assert.IsType(t, &LinReg{}, e)
	_, err = New("pid")
	assert.Error(t, err)
}
