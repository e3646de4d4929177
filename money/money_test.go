package money_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/ledger-engine/money"
)

func TestRound_HalfUp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2.345", "2.35"},
		{"2.344", "2.34"},
		{"-2.345", "-2.35"},
		{"13.5", "13.5"},
		{"0.005", "0.01"},
		{"0.0049", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := money.Round(money.MustParse(tt.in))
			assert.True(t, got.Equal(money.MustParse(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestPercent_NoFloatDrift(t *testing.T) {
	// 0.1 + 0.2 style drift must not appear in chained operations
	v := money.Percent(money.MustParse("0.3"), money.MustParse("10"))
	assert.True(t, v.Equal(money.MustParse("0.03")))

	chained := money.Zero
	for i := 0; i < 10; i++ {
		chained = chained.Add(money.MustParse("0.1"))
	}
	assert.True(t, chained.Equal(money.FromInt(1)))
}

func TestIsValidRate(t *testing.T) {
	assert.True(t, money.IsValidRate(money.Zero))
	assert.True(t, money.IsValidRate(money.FromInt(100)))
	assert.False(t, money.IsValidRate(money.MustParse("100.01")))
	assert.False(t, money.IsValidRate(money.MustParse("-1")))
}

func TestSumMinMax(t *testing.T) {
	s := money.Sum(money.FromInt(1), money.MustParse("2.50"), money.MustParse("-0.5"))
	assert.True(t, s.Equal(money.FromInt(3)))
	assert.True(t, money.Min(money.FromInt(1), money.FromInt(2)).Equal(money.FromInt(1)))
	assert.True(t, money.Max(money.FromInt(1), money.FromInt(2)).Equal(money.FromInt(2)))
	assert.True(t, money.Neg(money.FromInt(5)).Equal(money.FromInt(-5)))
}
