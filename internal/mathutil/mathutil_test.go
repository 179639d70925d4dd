package mathutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 0.25, Clamp01(0.25))
	assert.Equal(t, 1.0, Clamp01(3.0))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.67, Round(0.666666, 2))
	assert.Equal(t, 0.1235, Round(0.123456, 4))
	assert.Equal(t, 12.0, Round(12.4, 0))
	assert.Equal(t, 0.123456, Round(0.123456, -1))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.5, Ratio(15, 30))
	assert.Equal(t, 1.0, Ratio(45, 30))
	assert.Equal(t, 1.0, Ratio(5, 0))
	assert.Equal(t, 0.0, Ratio(0, 0))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 2, 3}))
}
