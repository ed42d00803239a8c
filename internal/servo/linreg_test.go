package servo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinReg_Estimate(t *testing.T) {
	t.Run("constant rate matches first order", func(t *testing.T) {
		l := NewLinReg()
		// опорные часы уходят на 1000 нс за локальную секунду
		for i := int64(0); i < 10; i++ {
			l.Observe(Sample{LocalNs: 5_000_000_000 + i*61*NominalSecondNs, SkewNs: 1_700_000_000_000_000_000 + i*61_000})
		}
		sec, err := l.Estimate(61)
		require.NoError(t, err)
		want, err := EffectiveSecond(0, 61_000, 61)
		require.NoError(t, err)
		assert.InDelta(t, want, sec, 1)
	})

	t.Run("not enough samples", func(t *testing.T) {
		l := NewLinReg()
		_, err := l.Estimate(61)
		assert.ErrorIs(t, err, ErrNotEnoughSamples)
		l.Observe(Sample{LocalNs: 1, SkewNs: 1})
		_, err = l.Estimate(61)
		assert.ErrorIs(t, err, ErrNotEnoughSamples)
		_, err = l.Estimate(0)
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	})

	t.Run("jump resets window", func(t *testing.T) {
		l := NewLinReg()
		for i := int64(0); i < 5; i++ {
			l.Observe(Sample{LocalNs: i * NominalSecondNs, SkewNs: 0})
		}
		require.Equal(t, 5, l.n)
		l.Observe(Sample{LocalNs: 5 * NominalSecondNs, SkewNs: 50_000_000})
		assert.Equal(t, 1, l.n)
		assert.Equal(t, int64(50_000_000), l.base.SkewNs)
	})

	t.Run("window wraps", func(t *testing.T) {
		l := NewLinReg()
		for i := int64(0); i < LinRegWindow+10; i++ {
			l.Observe(Sample{LocalNs: i * NominalSecondNs, SkewNs: 0})
		}
		assert.Equal(t, LinRegWindow, l.n)
		sec, err := l.Estimate(61)
		require.NoError(t, err)
		assert.Equal(t, NominalSecondNs, sec)
	})
}
